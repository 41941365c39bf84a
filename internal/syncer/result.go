package syncer

import "errors"

// Action is what a reconciliation pass did with one event.
type Action string

const (
	ActionInserted    Action = "inserted"
	ActionUpdated     Action = "updated"
	ActionFailed      Action = "failed"
	ActionWouldInsert Action = "would-insert"
	ActionWouldUpdate Action = "would-update"
)

// Outcome is the per-event record of a pass.
type Outcome struct {
	ID     string
	Action Action
	Err    error
}

// Result aggregates the outcomes of one pass, in source order.
type Result struct {
	Outcomes []Outcome
}

// Count returns how many outcomes have the given action.
func (r *Result) Count(a Action) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Err joins the per-event errors, or returns nil if every event succeeded.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}
