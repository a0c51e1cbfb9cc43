package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "remindbot/pkg/logx"
)

// Callback handles one fired entry. A non-nil error stops the remaining
// callbacks for that entry.
type Callback func(ctx context.Context, e Entry) error

// CallbackID addresses a registered callback for removal.
type CallbackID uint64

type callbackReg struct {
	id   CallbackID
	name string
	fn   Callback
}

// registry is an ordered, copy-on-write list of callbacks.
type registry struct {
	mu   sync.Mutex
	list atomic.Pointer[[]callbackReg]
	seq  atomic.Uint64
}

func (r *registry) snapshot() []callbackReg {
	p := r.list.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *registry) add(name string, fn Callback) CallbackID {
	id := CallbackID(r.seq.Add(1))
	if name == "" {
		name = fmt.Sprintf("callback#%d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make([]callbackReg, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, callbackReg{id: id, name: name, fn: fn})
	r.list.Store(&next)
	return id
}

func (r *registry) remove(id CallbackID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.snapshot()
	next := make([]callbackReg, 0, len(cur))
	removed := false
	for _, c := range cur {
		if c.id == id {
			removed = true
			continue
		}
		next = append(next, c)
	}
	if removed {
		r.list.Store(&next)
	}
	return removed
}

func (r *registry) clear() {
	r.mu.Lock()
	empty := []callbackReg{}
	r.list.Store(&empty)
	r.mu.Unlock()
}

func (r *registry) len() int { return len(r.snapshot()) }

// run invokes every callback in registration order. The first failure (error
// or panic) is logged, wrapped in a CallbackError and returned; later
// callbacks for the same entry are skipped.
func (r *registry) run(ctx context.Context, log logx.Logger, e Entry) error {
	for _, c := range r.snapshot() {
		if err := invoke(ctx, c, e); err != nil {
			log.Error("callback failed",
				logx.String("callback", c.name),
				logx.String("entry", e.String()),
				logx.Err(err),
			)
			return &CallbackError{Callback: c.name, Entry: e, Err: err}
		}
	}
	if log.Enabled(logx.LevelTrace) {
		log.Trace("all callbacks completed", logx.String("entry", e.String()))
	}
	return nil
}

func invoke(ctx context.Context, c callbackReg, e Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return c.fn(ctx, e)
}

// dispatchContext derives the context one dispatch runs under. It is detached
// from the loop so that Stop never tears down a dispatch half way.
func dispatchContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
