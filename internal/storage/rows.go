package storage

import (
	"fmt"
	"time"

	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

// row is the stored shape of one entry, shared by every driver.
type row struct {
	ID         int64
	Expires    time.Time
	Created    time.Time
	Event      string
	ArgsKwargs []byte
}

// dueResolution is the coarsest time unit any driver stores.
const dueResolution = time.Millisecond

// storedDue rounds due up to dueResolution so an entry read back is never due
// earlier than requested.
func storedDue(due time.Time) time.Time {
	return due.Add(dueResolution - 1).Truncate(dueResolution)
}

func toRow(e scheduler.Entry) (row, error) {
	kind, blob, err := scheduler.EncodeEvent(e.Event)
	if err != nil {
		return row{}, err
	}
	return row{ID: e.ID, Expires: storedDue(e.Due), Created: e.Created, Event: string(kind), ArgsKwargs: blob}, nil
}

// entry rebuilds the scheduler entry. A payload that does not decode still
// yields a usable Custom entry carrying the raw blob, so one bad row cannot
// wedge the queue; the decode error is returned alongside for logging.
func (r row) entry() (scheduler.Entry, error) {
	ev, err := scheduler.DecodeEvent(scheduler.Kind(r.Event), r.ArgsKwargs)
	if err != nil {
		raw := scheduler.Custom{Name: r.Event, Args: []any{}, Kwargs: map[string]any{"raw": string(r.ArgsKwargs)}}
		return scheduler.NewEntry(r.ID, r.Expires, r.Created, raw), fmt.Errorf("row %d: %w", r.ID, err)
	}
	return scheduler.NewEntry(r.ID, r.Expires, r.Created, ev), nil
}

func (r row) entryLogged(log logx.Logger) scheduler.Entry {
	e, err := r.entry()
	if err != nil {
		log.Warn("stored payload does not decode; delivering raw", logx.Int64("id", r.ID), logx.Err(err))
	}
	return e
}

func unixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// page applies the user filter and offset/limit that a driver could not push
// down into its query. rows must already be in due order.
func page(entries []scheduler.Entry, f scheduler.Filter) []scheduler.Entry {
	out := make([]scheduler.Entry, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		if !f.Match(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}
