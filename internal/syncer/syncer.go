package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"calpal/internal/models"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrGateway wraps failures talking to the external calendar.
	ErrGateway = errors.New("calendar gateway error")
	// ErrStore wraps failures of the local event store.
	ErrStore = errors.New("event store error")
)

// Gateway is the external calendar as seen by the syncer.
type Gateway interface {
	ListUpcoming(ctx context.Context) ([]*models.CalendarEvent, error)
	Get(ctx context.Context, id string) (*models.CalendarEvent, error)
	Insert(ctx context.Context, w models.EventWrite) (*models.CalendarEvent, error)
	Update(ctx context.Context, id string, w models.EventWrite) (*models.CalendarEvent, error)
	Delete(ctx context.Context, id string) error
}

// Store is the local mirror. FindByID and Update report absence with
// models.ErrEventNotFound. Insert must be safe against a concurrent insert of
// the same id and must not overwrite the colour of an existing row.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.EventRef, error)
	Insert(ctx context.Context, ev *models.MirroredEvent) error
	Update(ctx context.Context, ev *models.MirroredEvent) error
	Delete(ctx context.Context, id string) error
}

// Options tunes a Syncer.
type Options struct {
	// Timeout bounds a whole Sync pass. Zero means 30s.
	Timeout time.Duration
	// DryRun classifies events without writing to the store.
	DryRun bool
	// PickColour chooses the colour of a newly inserted row. Defaults to a
	// uniform choice from models.Palette.
	PickColour func() string
}

// Syncer mirrors the external calendar into the store.
type Syncer struct {
	logger  *slog.Logger
	gateway Gateway
	store   Store
	opts    Options
	flight  singleflight.Group
}

// NewSyncer creates a new Syncer.
func NewSyncer(logger *slog.Logger, gateway Gateway, store Store, opts Options) *Syncer {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PickColour == nil {
		opts.PickColour = randomColour
	}
	return &Syncer{
		logger:  logger,
		gateway: gateway,
		store:   store,
		opts:    opts,
	}
}

func randomColour() string {
	return models.Palette[rand.IntN(len(models.Palette))]
}

const flightKey = "sync"

// Sync fetches the upcoming window from the gateway and reconciles it.
// Concurrent callers share a single in-flight pass.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	return s.run(ctx)
}

// Refresh is Sync for callers that just wrote to the calendar. It never joins
// a pass already in flight, so the result reflects a listing taken after the
// call. Later Sync callers may join the fresh pass.
func (s *Syncer) Refresh(ctx context.Context) (*Result, error) {
	s.flight.Forget(flightKey)
	return s.run(ctx)
}

func (s *Syncer) run(ctx context.Context) (*Result, error) {
	ch := s.flight.DoChan(flightKey, func() (any, error) {
		// Detached so one caller going away does not cancel the shared pass.
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()
		return s.syncOnce(passCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (s *Syncer) syncOnce(ctx context.Context) (*Result, error) {
	s.logger.Info("Starting sync cycle.")
	started := time.Now()

	events, err := s.gateway.ListUpcoming(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch events: %w", ErrGateway, err)
	}
	s.logger.Info("Fetched external events.", "count", len(events))

	res := s.Reconcile(ctx, events)
	s.logger.Info("Sync cycle finished.",
		"inserted", res.Count(ActionInserted),
		"updated", res.Count(ActionUpdated),
		"failed", res.Count(ActionFailed),
		"duration", time.Since(started),
	)
	return res, nil
}

// Reconcile converges the store onto events. Each event is handled on its own:
// a failure is recorded in the result and the rest of the batch still runs.
// Rows whose ids are absent from events are left alone.
func (s *Syncer) Reconcile(ctx context.Context, events []*models.CalendarEvent) *Result {
	res := &Result{Outcomes: make([]Outcome, 0, len(events))}
	for _, ev := range events {
		out := s.reconcileEvent(ctx, ev)
		if out.Err != nil {
			s.logger.Error("Failed to sync event", "id", out.ID, "summary", ev.Summary, "error", out.Err)
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	return res
}

// reconcileEvent handles the logic for syncing a single event.
func (s *Syncer) reconcileEvent(ctx context.Context, ev *models.CalendarEvent) Outcome {
	if ev == nil || ev.ID == "" {
		return Outcome{Action: ActionFailed, Err: fmt.Errorf("%w: event has no id", models.ErrInvalidInput)}
	}
	if err := ctx.Err(); err != nil {
		return Outcome{ID: ev.ID, Action: ActionFailed, Err: err}
	}

	row := ev.ToRow()

	_, err := s.store.FindByID(ctx, ev.ID)
	switch {
	case errors.Is(err, models.ErrEventNotFound):
		if s.opts.DryRun {
			s.logger.Info("[DRY RUN] Would insert event", "id", ev.ID, "summary", ev.Summary)
			return Outcome{ID: ev.ID, Action: ActionWouldInsert}
		}
		return s.insert(ctx, row)
	case err != nil:
		return Outcome{ID: ev.ID, Action: ActionFailed, Err: fmt.Errorf("%w: %w", ErrStore, err)}
	}

	if s.opts.DryRun {
		s.logger.Info("[DRY RUN] Would update event", "id", ev.ID, "summary", ev.Summary)
		return Outcome{ID: ev.ID, Action: ActionWouldUpdate}
	}

	s.logger.Debug("Updating existing event.", "id", ev.ID)
	err = s.store.Update(ctx, row)
	if errors.Is(err, models.ErrEventNotFound) {
		// Deleted between lookup and update.
		return s.insert(ctx, row)
	}
	if err != nil {
		return Outcome{ID: ev.ID, Action: ActionFailed, Err: fmt.Errorf("%w: %w", ErrStore, err)}
	}
	return Outcome{ID: ev.ID, Action: ActionUpdated}
}

func (s *Syncer) insert(ctx context.Context, row *models.MirroredEvent) Outcome {
	row.Colour = s.opts.PickColour()
	s.logger.Debug("Inserting new event.", "id", row.ID, "colour", row.Colour)
	if err := s.store.Insert(ctx, row); err != nil {
		return Outcome{ID: row.ID, Action: ActionFailed, Err: fmt.Errorf("%w: %w", ErrStore, err)}
	}
	return Outcome{ID: row.ID, Action: ActionInserted}
}
