package scheduler

import (
	"fmt"
	"time"
)

// Entry is one scheduled occurrence. Entries are values and are never mutated
// once built; cancelling one means removing it.
type Entry struct {
	Due     time.Time
	Event   Event
	Created time.Time

	// ID is assigned by a durable backend at insert. 0 means the entry was not
	// persisted (short entries and memory-backend entries).
	ID int64

	seq       uint64
	shortTask time.Duration
}

// NewEntry builds an Entry that is not yet attached to any scheduler.
// Backends use it to rebuild entries from storage.
func NewEntry(id int64, due, created time.Time, ev Event) Entry {
	return Entry{ID: id, Due: due, Created: created, Event: ev}
}

// Kind returns the kind of the entry's event, or "" when it has none.
func (e Entry) Kind() Kind {
	if e.Event == nil {
		return ""
	}
	return e.Event.Kind()
}

// Span is the time between scheduling and the due time.
func (e Entry) Span() time.Duration { return e.Due.Sub(e.Created) }

// Short reports whether the entry was eligible for the in-process fast path.
func (e Entry) Short() bool {
	threshold := e.shortTask
	if threshold == 0 {
		threshold = DefaultShortTask
	}
	if threshold < 0 {
		return false
	}
	return e.Span() <= threshold
}

// Seq is the process-local insertion sequence. 0 for entries loaded from storage.
func (e Entry) Seq() uint64 { return e.seq }

// WithSeq returns a copy of e carrying seq. Backends use it to order ties.
func (e Entry) WithSeq(seq uint64) Entry {
	e.seq = seq
	return e
}

// WithID returns a copy of e carrying the backend-assigned id.
func (e Entry) WithID(id int64) Entry {
	e.ID = id
	return e
}

// same reports whether a and b address the same pending entry.
func same(a, b Entry) bool {
	if a.ID != 0 || b.ID != 0 {
		return a.ID == b.ID
	}
	return a.seq != 0 && a.seq == b.seq
}

// before orders entries by due time, then id, then sequence.
func before(a, b Entry) bool {
	if !a.Due.Equal(b.Due) {
		return a.Due.Before(b.Due)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.seq < b.seq
}

func (e Entry) String() string {
	if e.ID != 0 {
		return fmt.Sprintf("entry(id=%d kind=%s due=%s)", e.ID, e.Kind(), e.Due.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("entry(seq=%d kind=%s due=%s)", e.seq, e.Kind(), e.Due.UTC().Format(time.RFC3339))
}
