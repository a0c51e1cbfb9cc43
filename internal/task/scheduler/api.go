package scheduler

import (
	"context"
	"fmt"
	"time"

	logx "remindbot/pkg/logx"
)

// AddAbs schedules ev at the absolute time due.
//
// Short entries (due within Config.ShortTask) run on a detached timer and are
// never persisted; the returned Entry then has no ID and cannot be removed.
// Otherwise the entry is inserted into the backend and, if it is due no later
// than the entry the loop is waiting on, the loop is woken to pick it up.
func (s *Service) AddAbs(ctx context.Context, due time.Time, ev Event) (Entry, error) {
	if err := ValidateEvent(ev); err != nil {
		return Entry{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Entry{}, ErrClosed
	}

	e := Entry{
		Due:       due,
		Event:     ev,
		Created:   s.clock.Now(),
		seq:       s.seq.Add(1),
		shortTask: s.cfg.ShortTask,
	}
	if e.Short() {
		s.log.Debug("short entry scheduled", logx.String("entry", e.String()), logx.Duration("in", e.Span()))
		s.startShort(e)
		return e, nil
	}

	stored, err := s.backend.Insert(ctx, e)
	if err != nil {
		return Entry{}, fmt.Errorf("scheduler: insert %s: %w", e, err)
	}
	stored.shortTask = s.cfg.ShortTask

	s.mu.Lock()
	if s.current == nil || !stored.Due.After(s.current.Due) {
		s.signalWake()
	}
	s.mu.Unlock()

	s.log.Debug("entry scheduled", logx.String("entry", stored.String()))
	return stored, nil
}

// Add schedules ev after delay.
func (s *Service) Add(ctx context.Context, delay time.Duration, ev Event) (Entry, error) {
	return s.AddAbs(ctx, s.clock.Now().Add(delay), ev)
}

// Remove cancels a pending entry. Removing an entry that already fired or was
// already removed is a no-op, as is removing a short entry.
//
// If the backend fails to delete, the error is returned; in safe mode the
// service also stops itself.
func (s *Service) Remove(ctx context.Context, e Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.ID == 0 && e.seq == 0 {
		return nil
	}
	if e.ID == 0 && e.Short() && e.shortTask != 0 {
		s.log.Debug("short entry cannot be removed", logx.String("entry", e.String()))
		return nil
	}

	// Drop it as the loop's target first so a sleeping loop cannot claim it
	// while the delete is in flight, then wake the loop once it is gone.
	s.forget(e)
	err := s.backend.Delete(ctx, e)
	s.forget(e)
	if err != nil {
		err = fmt.Errorf("scheduler: remove %s: %w", e, err)
		if s.cfg.SafeMode {
			s.halt(err)
		}
		return err
	}
	s.log.Debug("entry removed", logx.String("entry", e.String()))
	return nil
}

// forget clears e as the loop's current target and wakes the loop.
func (s *Service) forget(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !same(*s.current, e) {
		return
	}
	if s.current != nil && !s.dispatching {
		s.current = nil
	}
	s.signalWake()
}
