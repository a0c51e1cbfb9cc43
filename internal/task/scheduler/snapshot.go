package scheduler

import (
	"context"
	"time"
)

// Snapshot is a point-in-time view of the service for status output.
type Snapshot struct {
	Running      bool      `json:"running"`
	Current      *Entry    `json:"-"`
	CurrentDue   time.Time `json:"current_due,omitempty"`
	ShortPending int64     `json:"short_pending"`
	Callbacks    int       `json:"callbacks"`
	Dispatched   uint64    `json:"dispatched"`
	Failed       uint64    `json:"failed"`
	LastError    string    `json:"last_error,omitempty"`
	Halted       string    `json:"halted,omitempty"`
	LoopRestarts uint64    `json:"loop_restarts"`
}

// Snapshot returns counters and the entry the loop is currently waiting on.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.running}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
		snap.CurrentDue = cur.Due
	}
	if s.haltErr != nil {
		snap.Halted = s.haltErr.Error()
	}
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		if st, ok := sup.Stat(loopName); ok {
			snap.LoopRestarts = st.Restarts
		}
	}

	snap.ShortPending = s.shortPending.Load()
	snap.Callbacks = s.callbacks.len()
	snap.Dispatched = s.dispatched.Load()
	snap.Failed = s.failed.Load()
	if v, ok := s.lastErr.Load().(string); ok {
		snap.LastError = v
	}
	return snap
}

// Pending lists stored entries when the backend supports listing.
// ok is false for backends that do not implement Lister.
func (s *Service) Pending(ctx context.Context, f Filter) (entries []Entry, ok bool, err error) {
	l, isLister := s.backend.(Lister)
	if !isLister {
		return nil, false, nil
	}
	entries, err = l.List(ctx, f)
	return entries, true, err
}
