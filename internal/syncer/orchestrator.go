package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"calpal/internal/models"

	"github.com/google/uuid"
)

// WriteOptions configures how user writes are pushed to the calendar.
type WriteOptions struct {
	// UTCOffset is appended to the offset-free times of an EventInput.
	UTCOffset string
	// TimeZone is the IANA zone recorded on created and updated events.
	TimeZone string
	// SettleInterval is the wait between visibility checks after a write.
	SettleInterval time.Duration
	// SettleAttempts bounds the number of visibility checks.
	SettleAttempts int
}

// Mutation reports the result of a write followed by a refresh of the mirror.
type Mutation struct {
	ID string
	// Stale is set when the write never became visible within the settle
	// budget; the mirror may lag until the next sync.
	Stale  bool
	Result *Result
}

// Orchestrator pushes user writes to the gateway and then refreshes the mirror.
type Orchestrator struct {
	logger  *slog.Logger
	gateway Gateway
	store   Store
	syncer  *Syncer
	opts    WriteOptions
	newID   func() string
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an Orchestrator that refreshes through s.
func NewOrchestrator(logger *slog.Logger, gateway Gateway, store Store, s *Syncer, opts WriteOptions) *Orchestrator {
	if opts.UTCOffset == "" {
		opts.UTCOffset = "-07:00"
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "America/Edmonton"
	}
	if opts.SettleInterval <= 0 {
		opts.SettleInterval = time.Second
	}
	if opts.SettleAttempts <= 0 {
		opts.SettleAttempts = 5
	}
	return &Orchestrator{
		logger:  logger,
		gateway: gateway,
		store:   store,
		syncer:  s,
		opts:    opts,
		newID:   NewEventID,
		sleep:   sleepCtx,
	}
}

// NewEventID returns a random id in the base32hex alphabet Google accepts for
// client-assigned event ids.
func NewEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateAndSync creates the event externally, waits for it to become
// readable, and refreshes the mirror.
func (o *Orchestrator) CreateAndSync(ctx context.Context, in models.EventInput) (*Mutation, error) {
	w, err := o.toWrite(in)
	if err != nil {
		return nil, err
	}
	w.ID = o.newID()

	created, err := o.gateway.Insert(ctx, w)
	if err != nil {
		return nil, gatewayErr(err)
	}
	id := created.ID
	if id == "" {
		id = w.ID
	}

	visible := o.settle(ctx, id, func(ev *models.CalendarEvent, err error) bool {
		return err == nil && ev.Status != "cancelled"
	})
	return o.refresh(ctx, id, visible)
}

// UpdateAndSync updates the event externally, waits for the new revision to
// become readable, and refreshes the mirror.
func (o *Orchestrator) UpdateAndSync(ctx context.Context, id string, in models.EventInput) (*Mutation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: event id is required", models.ErrInvalidInput)
	}
	w, err := o.toWrite(in)
	if err != nil {
		return nil, err
	}

	updated, err := o.gateway.Update(ctx, id, w)
	if err != nil {
		return nil, gatewayErr(err)
	}

	visible := o.settle(ctx, id, func(ev *models.CalendarEvent, err error) bool {
		if err != nil {
			return false
		}
		if updated.Etag != "" {
			return ev.Etag == updated.Etag
		}
		return ev.Summary == w.Summary && ev.Start.DateTime == w.Start && ev.End.DateTime == w.End
	})
	return o.refresh(ctx, id, visible)
}

// DeleteAndSync deletes the event externally, waits until reads stop
// returning it, refreshes the mirror, and then removes the local row. This is
// the only path that removes rows.
func (o *Orchestrator) DeleteAndSync(ctx context.Context, id string) (*Mutation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: event id is required", models.ErrInvalidInput)
	}

	err := o.gateway.Delete(ctx, id)
	switch {
	case errors.Is(err, models.ErrEventNotFound):
		o.logger.Info("Event already gone from calendar", "id", id)
	case err != nil:
		return nil, gatewayErr(err)
	}

	visible := o.settle(ctx, id, func(ev *models.CalendarEvent, err error) bool {
		if errors.Is(err, models.ErrEventNotFound) {
			return true
		}
		return err == nil && ev.Status == "cancelled"
	})
	// The row goes even if the refresh fails; reconciliation never removes rows.
	m, refreshErr := o.refresh(ctx, id, visible)
	if err := o.store.Delete(ctx, id); err != nil {
		return nil, errors.Join(refreshErr, fmt.Errorf("%w: %w", ErrStore, err))
	}
	o.logger.Info("Deleted event from mirror", "id", id)
	if refreshErr != nil {
		return nil, refreshErr
	}
	return m, nil
}

func (o *Orchestrator) toWrite(in models.EventInput) (models.EventWrite, error) {
	if err := in.Validate(); err != nil {
		return models.EventWrite{}, err
	}
	start, err := models.AppendOffset(strings.TrimSpace(in.Start), o.opts.UTCOffset)
	if err != nil {
		return models.EventWrite{}, err
	}
	end, err := models.AppendOffset(strings.TrimSpace(in.End), o.opts.UTCOffset)
	if err != nil {
		return models.EventWrite{}, err
	}
	return models.EventWrite{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       start,
		End:         end,
		TimeZone:    o.opts.TimeZone,
	}, nil
}

// settle polls the gateway until done reports the write as visible or the
// attempt budget runs out. It returns whether the write was observed.
func (o *Orchestrator) settle(ctx context.Context, id string, done func(*models.CalendarEvent, error) bool) bool {
	for attempt := 1; attempt <= o.opts.SettleAttempts; attempt++ {
		ev, err := o.gateway.Get(ctx, id)
		if done(ev, err) {
			o.logger.Debug("Write visible", "id", id, "attempt", attempt)
			return true
		}
		if err != nil && !errors.Is(err, models.ErrEventNotFound) {
			o.logger.Debug("Visibility check failed", "id", id, "attempt", attempt, "error", err)
		}
		if attempt == o.opts.SettleAttempts {
			break
		}
		if err := o.sleep(ctx, o.opts.SettleInterval); err != nil {
			break
		}
	}
	o.logger.Warn("Write not visible after settle budget; mirror may be stale", "id", id, "attempts", o.opts.SettleAttempts)
	return false
}

func (o *Orchestrator) refresh(ctx context.Context, id string, visible bool) (*Mutation, error) {
	res, err := o.syncer.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return &Mutation{ID: id, Stale: !visible, Result: res}, nil
}

// gatewayErr tags an error as a gateway failure unless it is a not-found,
// which callers map separately.
func gatewayErr(err error) error {
	if errors.Is(err, models.ErrEventNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrGateway, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
