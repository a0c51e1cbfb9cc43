package scheduler

import (
	"context"
	"sync"
)

// Backend stores pending entries.
//
// Implementations must be safe for concurrent use. The scheduler only ever
// deletes an entry after it was returned by Earliest or handed to Insert, so a
// backend never has two owners for the same deletion.
type Backend interface {
	// Earliest returns the pending entry with the smallest due time without
	// removing it. ok is false when nothing is pending.
	Earliest(ctx context.Context) (e Entry, ok bool, err error)

	// Insert stores e and returns it with any backend-assigned id.
	// A successful insert sets the data-available signal.
	Insert(ctx context.Context, e Entry) (Entry, error)

	// Delete removes e. Deleting an entry that is not stored is not an error.
	Delete(ctx context.Context, e Entry) error

	// Available is closed while the backend may hold data. Earliest re-arms it
	// when it finds nothing.
	Available() <-chan struct{}

	Close() error
}

// Filter selects entries for Lister.
type Filter struct {
	Kind   Kind
	UserID int64 // matches events carrying a user id; 0 = any
	Limit  int   // 0 = no limit
	Offset int
}

// Lister is implemented by backends that can enumerate pending entries in due order.
type Lister interface {
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Maintainer is implemented by backends with periodic housekeeping.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

// Signal is a resettable broadcast flag: Wait returns a channel that is closed
// while the flag is set.
//
// Backends call Clear before looking for data and Set after storing data, so a
// concurrent insert can never be missed by a waiter.
type Signal struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func (s *Signal) init() {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
}

// Set raises the flag and releases all waiters.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if !s.set {
		close(s.ch)
		s.set = true
	}
}

// Clear lowers the flag. Channels returned by earlier Wait calls stay closed.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	if s.set {
		s.ch = make(chan struct{})
		s.set = false
	}
}

// Wait returns a channel that is closed once the flag is set.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	return s.ch
}

// IsSet reports the current flag state.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// UserIDOf returns the user id carried by ev, if any.
func UserIDOf(ev Event) (int64, bool) {
	switch e := ev.(type) {
	case Reminder:
		return e.UserID, true
	case Unmute:
		return e.UserID, true
	case Unban:
		return e.UserID, true
	default:
		return 0, false
	}
}

// Match reports whether e passes the kind and user filters of f.
func (f Filter) Match(e Entry) bool {
	if f.Kind != "" && e.Kind() != f.Kind {
		return false
	}
	if f.UserID != 0 {
		uid, ok := UserIDOf(e.Event)
		if !ok || uid != f.UserID {
			return false
		}
	}
	return true
}
