package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies what a fired entry should do. It is stored in the "event" column.
type Kind string

const (
	KindReminder Kind = "reminder_complete"
	KindUnmute   Kind = "mute_complete"
	KindUnban    Kind = "tempban_complete"
)

// Event is the typed payload of an Entry.
//
// The concrete types are Reminder, Unmute, Unban and Custom. Handlers switch on
// the concrete type; Custom carries free-form positional and keyword arguments.
type Event interface {
	Kind() Kind
}

// Reminder asks for a message to be delivered back to a user.
// ChatID 0 means a direct message to UserID.
type Reminder struct {
	UserID   int64  `json:"user_id"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	Message  string `json:"message"`
}

func (Reminder) Kind() Kind { return KindReminder }

// Unmute lifts a timed mute.
type Unmute struct {
	ChatID      int64  `json:"chat_id"`
	UserID      int64  `json:"user_id"`
	ModeratorID int64  `json:"moderator_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (Unmute) Kind() Kind { return KindUnmute }

// Unban lifts a temporary ban.
type Unban struct {
	ChatID      int64  `json:"chat_id"`
	UserID      int64  `json:"user_id"`
	ModeratorID int64  `json:"moderator_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (Unban) Kind() Kind { return KindUnban }

// Custom is an event the scheduler knows nothing about. Args and Kwargs are
// forwarded verbatim. After a round trip through a durable backend numbers
// decode as json.Number.
type Custom struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

func (c Custom) Kind() Kind { return Kind(c.Name) }

// argsKwargs is the persisted shape of the args_kwargs column.
type argsKwargs struct {
	Args   []any           `json:"args"`
	Kwargs json.RawMessage `json:"kwargs"`
}

// ValidateEvent reports whether ev can be scheduled: it must have a non-empty
// kind, and a Custom event must not reuse the kind of a typed event.
func ValidateEvent(ev Event) error {
	if ev == nil {
		return ErrNoEvent
	}
	kind := ev.Kind()
	if strings.TrimSpace(string(kind)) == "" {
		return fmt.Errorf("%w: kind is empty", ErrInvalidEvent)
	}
	switch ev.(type) {
	case Custom, *Custom:
		switch kind {
		case KindReminder, KindUnmute, KindUnban:
			return fmt.Errorf("%w: custom event uses reserved kind %q", ErrInvalidEvent, kind)
		}
	}
	return nil
}

func customKwargs(kw map[string]any) any {
	if kw == nil {
		return map[string]any{}
	}
	return kw
}

// EncodeEvent renders ev as its stored kind and args_kwargs JSON blob.
func EncodeEvent(ev Event) (Kind, []byte, error) {
	if err := ValidateEvent(ev); err != nil {
		return "", nil, err
	}
	kind := ev.Kind()

	var (
		args   []any
		kwargs any = ev
	)
	switch e := ev.(type) {
	case Custom:
		args, kwargs = e.Args, customKwargs(e.Kwargs)
	case *Custom:
		args, kwargs = e.Args, customKwargs(e.Kwargs)
	}
	if args == nil {
		args = []any{}
	}
	kb, err := json.Marshal(kwargs)
	if err != nil {
		return "", nil, fmt.Errorf("scheduler: encode %s kwargs: %w", kind, err)
	}
	b, err := json.Marshal(argsKwargs{Args: args, Kwargs: kb})
	if err != nil {
		return "", nil, fmt.Errorf("scheduler: encode %s args: %w", kind, err)
	}
	return kind, b, nil
}

// DecodeEvent rebuilds an Event from its stored kind and args_kwargs blob.
// Unknown kinds decode as Custom so that no stored row is dropped.
func DecodeEvent(kind Kind, blob []byte) (Event, error) {
	var ak argsKwargs
	if len(bytes.TrimSpace(blob)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(blob))
		dec.UseNumber()
		if err := dec.Decode(&ak); err != nil {
			return nil, fmt.Errorf("scheduler: decode %s payload: %w", kind, err)
		}
	}
	kw := []byte(ak.Kwargs)
	if len(bytes.TrimSpace(kw)) == 0 || bytes.Equal(bytes.TrimSpace(kw), []byte("null")) {
		kw = []byte("{}")
	}

	switch kind {
	case KindReminder:
		var e Reminder
		if err := json.Unmarshal(kw, &e); err != nil {
			return nil, fmt.Errorf("scheduler: decode %s: %w", kind, err)
		}
		return e, nil
	case KindUnmute:
		var e Unmute
		if err := json.Unmarshal(kw, &e); err != nil {
			return nil, fmt.Errorf("scheduler: decode %s: %w", kind, err)
		}
		return e, nil
	case KindUnban:
		var e Unban
		if err := json.Unmarshal(kw, &e); err != nil {
			return nil, fmt.Errorf("scheduler: decode %s: %w", kind, err)
		}
		return e, nil
	default:
		c := Custom{Name: string(kind), Args: ak.Args}
		dec := json.NewDecoder(bytes.NewReader(kw))
		dec.UseNumber()
		if err := dec.Decode(&c.Kwargs); err != nil {
			return nil, fmt.Errorf("scheduler: decode %s kwargs: %w", kind, err)
		}
		if c.Args == nil {
			c.Args = []any{}
		}
		return c, nil
	}
}
