// Package syncertest provides an in-memory calendar gateway for tests.
package syncertest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"calpal/internal/models"
)

// Gateway is an in-memory external calendar. Writes become visible to Get
// and ListUpcoming only after Lag further Get calls, which models the
// eventual consistency of the real service.
type Gateway struct {
	mu     sync.Mutex
	events map[string]*models.CalendarEvent
	order  []string

	// Lag is the number of Get calls a write stays invisible for.
	Lag     int
	pending map[string]pendingWrite

	// ListErr, WriteErr and DeleteErr, when set, are returned by the
	// corresponding calls.
	ListErr   error
	WriteErr  error
	DeleteErr error

	Lists    int
	Gets     int
	revision int
}

type pendingWrite struct {
	ev        *models.CalendarEvent // nil for a delete
	remaining int
}

// NewGateway returns a gateway pre-loaded with events.
func NewGateway(events ...*models.CalendarEvent) *Gateway {
	g := &Gateway{
		events:  map[string]*models.CalendarEvent{},
		pending: map[string]pendingWrite{},
	}
	for _, ev := range events {
		g.Put(ev)
	}
	return g
}

// Put stores or replaces an event immediately.
func (g *Gateway) Put(ev *models.CalendarEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.put(ev)
}

// Remove drops an event immediately, bypassing Delete.
func (g *Gateway) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remove(id)
}

func (g *Gateway) put(ev *models.CalendarEvent) {
	cp := *ev
	if _, ok := g.events[ev.ID]; !ok {
		g.order = append(g.order, ev.ID)
	}
	g.events[ev.ID] = &cp
}

func (g *Gateway) remove(id string) {
	delete(g.events, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// ListUpcoming returns the visible events in insertion order.
func (g *Gateway) ListUpcoming(ctx context.Context) ([]*models.CalendarEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Lists++
	if g.ListErr != nil {
		return nil, g.ListErr
	}
	out := make([]*models.CalendarEvent, 0, len(g.order))
	for _, id := range g.order {
		cp := *g.events[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Get returns a visible event or models.ErrEventNotFound, and advances any
// pending write for that id.
func (g *Gateway) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Gets++

	if p, ok := g.pending[id]; ok {
		if p.remaining > 0 {
			p.remaining--
			g.pending[id] = p
		} else {
			delete(g.pending, id)
			if p.ev == nil {
				g.remove(id)
			} else {
				g.put(p.ev)
			}
		}
	}

	ev, ok := g.events[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, models.ErrEventNotFound)
	}
	cp := *ev
	return &cp, nil
}

// Insert records a new event.
func (g *Gateway) Insert(ctx context.Context, w models.EventWrite) (*models.CalendarEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	ev := g.fromWrite(w.ID, w)
	g.apply(ev.ID, ev)
	cp := *ev
	return &cp, nil
}

// Update replaces an existing event.
func (g *Gateway) Update(ctx context.Context, id string, w models.EventWrite) (*models.CalendarEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.WriteErr != nil {
		return nil, g.WriteErr
	}
	old, ok := g.events[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, models.ErrEventNotFound)
	}
	ev := g.fromWrite(id, w)
	ev.Created = old.Created
	ev.Sequence = old.Sequence + 1
	g.apply(id, ev)
	cp := *ev
	return &cp, nil
}

// Delete removes an event.
func (g *Gateway) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.DeleteErr != nil {
		return g.DeleteErr
	}
	if _, ok := g.events[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, models.ErrEventNotFound)
	}
	g.apply(id, nil)
	return nil
}

// IDs returns the visible event ids, sorted.
func (g *Gateway) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := append([]string(nil), g.order...)
	sort.Strings(ids)
	return ids
}

func (g *Gateway) apply(id string, ev *models.CalendarEvent) {
	if g.Lag <= 0 {
		if ev == nil {
			g.remove(id)
		} else {
			g.put(ev)
		}
		return
	}
	g.pending[id] = pendingWrite{ev: ev, remaining: g.Lag}
}

func (g *Gateway) fromWrite(id string, w models.EventWrite) *models.CalendarEvent {
	g.revision++
	return &models.CalendarEvent{
		ID:             id,
		Kind:           "calendar#event",
		Etag:           `"` + strconv.Itoa(g.revision) + `"`,
		Status:         "confirmed",
		Summary:        w.Summary,
		Description:    w.Description,
		CreatorEmail:   "me@example.com",
		CreatorSelf:    true,
		OrganizerEmail: "me@example.com",
		OrganizerSelf:  true,
		Start:          models.EventTime{DateTime: w.Start, TimeZone: w.TimeZone},
		End:            models.EventTime{DateTime: w.End, TimeZone: w.TimeZone},
	}
}
