package positioning

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
	"github.com/okian/fieldpresence/pkg/logger"
)

// Acquisition timeout bounds.
const (
	DefaultTimeout    = 15 * time.Second
	MinTimeout        = 10 * time.Second
	MaxTimeout        = 30 * time.Second
	DefaultRetryDelay = time.Second
)

// ClampTimeout bounds an acquisition timeout to [MinTimeout, MaxTimeout].
// A non-positive value selects DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	default:
		return d
	}
}

// Supervisor keeps a positioning subscription alive. If no fix arrives
// within the acquisition timeout, or the device reports a timeout, the
// subscription is dropped and reopened.
type Supervisor struct {
	source     Source
	onFix      func(model.Fix)
	onError    func(error)
	timeout    time.Duration
	retryDelay time.Duration
	logger     logger.Logger

	acquired      atomic.Bool
	subscriptions atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithTimeout sets the acquisition timeout, clamped by ClampTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.timeout = ClampTimeout(d)
	}
}

// WithRetryDelay sets the pause after a failed Subscribe.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSupervisor creates a supervisor that forwards fixes to onFix and
// positioning errors to onError. Callbacks run on the supervisor goroutine.
func NewSupervisor(source Source, onFix func(model.Fix), onError func(error), opts ...Option) *Supervisor {
	s := &Supervisor{
		source:     source,
		onFix:      onFix,
		onError:    onError,
		timeout:    DefaultTimeout,
		retryDelay: DefaultRetryDelay,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the supervision goroutine. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the subscription and waits for the goroutine to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Acquired reports whether fixes are currently arriving.
func (s *Supervisor) Acquired() bool { return s.acquired.Load() }

// Subscriptions returns how many times a subscription was opened.
func (s *Supervisor) Subscriptions() uint64 { return s.subscriptions.Load() }

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.acquired.Store(false)

	for ctx.Err() == nil {
		sub, err := s.source.Subscribe(ctx)
		if err != nil {
			s.report(ctx, err)
			if !sleep(ctx, s.retryDelay) {
				return
			}
			continue
		}
		n := s.subscriptions.Add(1)
		s.logger.Debug(ctx, "positioning subscribed", logger.Int("subscription", int(n)))

		again := s.consume(ctx, sub)
		sub.Close()
		if !again {
			return
		}
	}
}

// consume drains one subscription. It returns true when the caller should
// resubscribe.
func (s *Supervisor) consume(ctx context.Context, sub Subscription) bool {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	fixes, errs := sub.Fixes(), sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return false

		case fix, ok := <-fixes:
			if !ok {
				return true
			}
			if !s.acquired.Swap(true) {
				s.logger.Info(ctx, "positioning acquired")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.timeout)
			s.onFix(fix)

		case err, ok := <-errs:
			if !ok {
				return true
			}
			s.report(ctx, err)
			if errors.Is(err, ErrTimeout) {
				s.acquired.Store(false)
				return true
			}

		case <-timer.C:
			s.acquired.Store(false)
			s.report(ctx, ErrTimeout)
			return true
		}
	}
}

func (s *Supervisor) report(ctx context.Context, err error) {
	s.logger.Warn(ctx, "positioning error, continuing on dead reckoning",
		logger.String("kind", Kind(err)),
		logger.Error(err),
	)
	if s.onError != nil {
		s.onError(err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
