package scheduler

import "time"

const (
	// DefaultShortTask is the threshold under which entries bypass the backend.
	DefaultShortTask = 30 * time.Second

	// DefaultMaxSleep bounds a single timer wait in the loop.
	DefaultMaxSleep = 24 * time.Hour

	// DefaultCallbackTimeout bounds one dispatch of one entry.
	DefaultCallbackTimeout = 2 * time.Minute
)

// Config controls the scheduler service.
//
// The app layer maps config.scheduler into this struct.
type Config struct {
	// ShortTask is the created-to-due threshold for the in-process fast path.
	// 0 applies DefaultShortTask; a negative value disables the fast path.
	ShortTask time.Duration

	// MaxSleep bounds each timer wait. 0 applies DefaultMaxSleep.
	MaxSleep time.Duration

	// SafeMode stops the service when the backend refuses to delete an entry,
	// instead of risking dispatching the same entry forever.
	SafeMode bool

	// CallbackTimeout bounds one dispatch. 0 applies DefaultCallbackTimeout.
	CallbackTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShortTask == 0 {
		c.ShortTask = DefaultShortTask
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = DefaultMaxSleep
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = DefaultCallbackTimeout
	}
	return c
}

// Bus event types published by the service.
const (
	EventDispatched = "schedule.dispatched"
	EventFailed     = "schedule.failed"
	EventStopped    = "schedule.stopped"
)

// DispatchEvent is the payload of EventDispatched and EventFailed bus events.
type DispatchEvent struct {
	ID       int64         `json:"id,omitempty"`
	Kind     Kind          `json:"kind"`
	Due      time.Time     `json:"due"`
	Late     time.Duration `json:"late"`
	Short    bool          `json:"short"`
	Callback string        `json:"callback,omitempty"`
	Error    string        `json:"error,omitempty"`
}
