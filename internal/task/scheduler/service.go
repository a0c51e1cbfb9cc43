package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"
)

const loopName = "scheduler.loop"

// Service is the scheduler engine. See the package doc for the algorithm.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	backend Backend

	callbacks registry
	seq       atomic.Uint64

	// wake interrupts the loop's sleep or empty-wait so it re-reads the backend.
	wake chan struct{}

	mu          sync.Mutex
	current     *Entry
	dispatching bool
	sup         *rtsup.Supervisor
	running     bool
	closed      bool
	haltErr     error

	shortCtx     context.Context
	shortCancel  context.CancelFunc
	shortWG      sync.WaitGroup
	shortPending atomic.Int64

	dispatched atomic.Uint64
	failed     atomic.Uint64
	lastErr    atomic.Value // string
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates a stopped service over backend. A nil backend falls back to an
// in-memory queue.
func New(cfg Config, backend Backend, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		clock:   SystemClock{},
		backend: backend,
		wake:    make(chan struct{}, 1),
	}
	s.shortCtx, s.shortCancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(s)
	}
	return s
}

// Backend returns the backend the service schedules into.
func (s *Service) Backend() Backend { return s.backend }

// Run starts the wait loop under a supervisor derived from ctx.
// If the loop is already running this does nothing.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// a broken loop is restarted, it must not cancel its siblings.
		rtsup.WithCancelOnError(false),
	)
	s.sup = sup
	s.running = true
	s.haltErr = nil
	s.mu.Unlock()

	sup.GoRestart(loopName, s.loop,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(true),
	)
	s.log.Info("scheduler started",
		logx.Duration("short_task", s.cfg.ShortTask),
		logx.Duration("max_sleep", s.cfg.MaxSleep),
		logx.Bool("safe_mode", s.cfg.SafeMode),
	)
	return nil
}

// Err returns why the service stopped itself, or nil. It wraps ErrStopped.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltErr
}

// Running reports whether the wait loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop cancels the wait loop without touching stored entries. A dispatch that
// already started runs to completion; Stop waits for it until ctx is done.
// Stop on a stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.running = false
	s.current = nil
	s.mu.Unlock()

	if sup == nil {
		return nil
	}
	sup.Cancel()
	if err := sup.Wait(ctx); errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Close stops the service, cancels pending short timers, drops all callbacks
// and closes the backend. A closed service cannot be restarted.
func (s *Service) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	stopErr := s.Stop(ctx)

	s.shortCancel()
	done := make(chan struct{})
	go func() {
		s.shortWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if stopErr == nil {
			stopErr = ctx.Err()
		}
	}

	s.callbacks.clear()
	if err := s.backend.Close(); err != nil {
		return errors.Join(stopErr, fmt.Errorf("scheduler: close backend: %w", err))
	}
	return stopErr
}

// AddCallback registers fn to run for every fired entry. Callbacks run in
// registration order. name identifies the callback in logs.
func (s *Service) AddCallback(name string, fn Callback) CallbackID {
	if fn == nil {
		return 0
	}
	return s.callbacks.add(name, fn)
}

// RemoveCallback unregisters a callback. It reports whether one was removed.
func (s *Service) RemoveCallback(id CallbackID) bool {
	return s.callbacks.remove(id)
}

func (s *Service) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) setCurrent(e *Entry) {
	s.mu.Lock()
	s.current = e
	s.dispatching = false
	s.mu.Unlock()
}

// claim marks e as being dispatched if it is still the current entry.
func (s *Service) claim(e Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || !same(*s.current, e) {
		return false
	}
	s.dispatching = true
	return true
}

// halt stops the service from inside the loop (safe mode).
func (s *Service) halt(err error) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.running = false
	s.current = nil
	s.haltErr = fmt.Errorf("%w: %w", ErrStopped, err)
	s.mu.Unlock()

	s.log.Error("scheduler halted (safe mode)", logx.Err(err))
	s.publish(EventStopped, DispatchEvent{Error: err.Error()})
	if sup != nil {
		sup.Cancel()
	}
}

func (s *Service) loop(ctx context.Context) error {
	defer s.setCurrent(nil)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, ok, err := s.backend.Earliest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch earliest: %w", err)
		}
		if !ok {
			s.setCurrent(nil)
			s.log.Debug("no pending entries; waiting for data")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			case <-s.backend.Available():
			}
			continue
		}

		s.setCurrent(&e)
		if !s.sleepUntil(ctx, e.Due) {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if !s.claim(e) {
			continue
		}

		s.log.Debug("entry due; dispatching", logx.String("entry", e.String()))
		s.dispatch(ctx, e)

		dctx, cancel := dispatchContext(ctx, s.cfg.CallbackTimeout)
		err = s.backend.Delete(dctx, e)
		cancel()
		s.setCurrent(nil)
		if err != nil {
			s.log.Error("removing dispatched entry failed", logx.String("entry", e.String()), logx.Err(err))
			if s.cfg.SafeMode {
				s.halt(fmt.Errorf("delete %s: %w", e, err))
				return nil
			}
			return fmt.Errorf("delete %s: %w", e, err)
		}
	}
}

// sleepUntil waits until due in chunks of at most MaxSleep. It returns false
// when woken or cancelled before due.
func (s *Service) sleepUntil(ctx context.Context, due time.Time) bool {
	for {
		remaining := due.Sub(s.clock.Now())
		if remaining <= 0 {
			return true
		}
		chunk := remaining
		if chunk > s.cfg.MaxSleep {
			chunk = s.cfg.MaxSleep
		}
		s.log.Debug("sleeping", logx.Duration("for", chunk), logx.Duration("remaining", remaining))

		t := s.clock.NewTimer(chunk)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-s.wake:
			t.Stop()
			return false
		case <-t.C():
		}
	}
}

// dispatch runs the callbacks for e inside a per-entry error boundary: a
// failing callback is logged and reported, never propagated into the loop.
func (s *Service) dispatch(parent context.Context, e Entry) {
	ctx, cancel := dispatchContext(parent, s.cfg.CallbackTimeout)
	defer cancel()

	late := s.clock.Now().Sub(e.Due)
	ev := DispatchEvent{ID: e.ID, Kind: e.Kind(), Due: e.Due, Late: late, Short: e.Short()}

	err := s.callbacks.run(ctx, s.log, e)
	if err != nil {
		s.failed.Add(1)
		s.lastErr.Store(err.Error())
		var ce *CallbackError
		if errors.As(err, &ce) {
			ev.Callback = ce.Callback
		}
		ev.Error = err.Error()
		s.publish(EventFailed, ev)
		return
	}
	s.dispatched.Add(1)
	s.publish(EventDispatched, ev)
}

func (s *Service) publish(typ string, data DispatchEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}

// startShort runs e on a detached timer. Nothing is persisted, so a crash
// before it fires loses it.
func (s *Service) startShort(e Entry) {
	var t Timer
	if delay := e.Due.Sub(s.clock.Now()); delay > 0 {
		t = s.clock.NewTimer(delay)
	}
	s.shortWG.Add(1)
	s.shortPending.Add(1)
	go func() {
		defer s.shortWG.Done()
		defer s.shortPending.Add(-1)
		if t != nil {
			select {
			case <-t.C():
			case <-s.shortCtx.Done():
				t.Stop()
				return
			}
		}
		s.dispatch(s.shortCtx, e)
	}()
}
