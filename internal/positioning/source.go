// Package positioning delivers device fixes to the engine and supervises
// acquisition.
package positioning

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/fieldpresence/internal/domain/model"
)

// Subscription is one live positioning stream.
type Subscription interface {
	Fixes() <-chan model.Fix
	Errors() <-chan error
	Close()
}

// Source opens positioning subscriptions.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// PushSource is a Source fed by an external adapter (the device pushing
// fixes over HTTP). Each subscription is a single-slot mailbox: an
// unconsumed fix is overwritten by the next one. Subscribing again closes
// the previous subscription.
type PushSource struct {
	mu      sync.Mutex
	current *pushSub
	dropped atomic.Uint64
}

// NewPushSource creates an idle push source.
func NewPushSource() *PushSource {
	return &PushSource{}
}

// Subscribe implements Source.
func (p *PushSource) Subscribe(_ context.Context) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.closeLocked()
	}
	p.current = &pushSub{
		src:   p,
		fixes: make(chan model.Fix, 1),
		errs:  make(chan error, 1),
	}
	return p.current, nil
}

// PublishFix hands a fix to the active subscriber.
func (p *PushSource) PublishFix(fix model.Fix) error {
	if !fix.Valid() {
		return ErrInvalidFix
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ErrNoSubscriber
	}
	select {
	case p.current.fixes <- fix:
	default:
		// Latest fix wins.
		select {
		case <-p.current.fixes:
			p.dropped.Add(1)
		default:
		}
		p.current.fixes <- fix
	}
	return nil
}

// PublishError forwards a device positioning error to the active
// subscriber. Errors overwrite each other like fixes do.
func (p *PushSource) PublishError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ErrNoSubscriber
	}
	select {
	case p.current.errs <- err:
	default:
		select {
		case <-p.current.errs:
		default:
		}
		p.current.errs <- err
	}
	return nil
}

// Dropped returns how many fixes were overwritten before being consumed.
func (p *PushSource) Dropped() uint64 { return p.dropped.Load() }

type pushSub struct {
	src    *PushSource
	fixes  chan model.Fix
	errs   chan error
	closed bool
}

func (s *pushSub) Fixes() <-chan model.Fix { return s.fixes }
func (s *pushSub) Errors() <-chan error     { return s.errs }

func (s *pushSub) Close() {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	s.closeLocked()
}

func (s *pushSub) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	if s.src.current == s {
		s.src.current = nil
	}
	close(s.fixes)
	close(s.errs)
}
