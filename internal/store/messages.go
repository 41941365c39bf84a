package store

import (
	"context"
	"fmt"

	"calpal/internal/models"
)

// ListMessages returns the messages feed in insertion order.
func (db *DB) ListMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT timestamp, fromUser, content FROM messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.Timestamp, &m.FromUser, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

// InsertMessage appends a message to the feed.
func (db *DB) InsertMessage(ctx context.Context, m models.Message) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (timestamp, fromUser, content) VALUES (?, ?, ?)`,
		m.Timestamp, m.FromUser, m.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}
