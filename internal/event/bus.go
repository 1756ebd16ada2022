package event

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bus delivers events synchronously to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscription

	logger *zap.Logger
	closed atomic.Bool

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *zap.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "event_bus"))
	return b
}

// Subscribe registers handler for events whose topic matches pattern.
// This method is safe to call concurrently.
func (b *Bus) Subscribe(pattern Topic, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if pattern == "" {
		return nil, ErrInvalidTopic
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   pattern,
		handler: handler,
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

// SubscribeFunc is a convenience method for subscribing with a function handler.
func (b *Bus) SubscribeFunc(pattern Topic, fn func(ctx context.Context, ev Event) error) (*Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	return b.Subscribe(pattern, HandlerFunc(fn))
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrInvalidSubscription
	}
	sub.Cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return nil
		}
	}
	return ErrSubscriptionNotFound
}

// Publish delivers ev to every matching subscription, in the order the
// subscriptions were made, before returning. Handler errors and panics do
// not stop delivery to later handlers; they are joined into the returned
// error.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if ev.Topic == "" {
		return ErrInvalidTopic
	}

	// Copy subscriptions under lock so handlers may publish or subscribe.
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.topic.Matches(ev.Topic) {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)

	var errs []error
	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		if err := b.dispatch(ctx, sub, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch runs a single handler with panic recovery.
func (b *Bus) dispatch(ctx context.Context, sub *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			err = &PanicError{
				SubscriptionID: sub.id,
				Topic:          ev.Topic,
				Value:          r,
				Stack:          string(debug.Stack()),
			}
			b.logger.Error("event handler panicked",
				zap.String("topic", string(ev.Topic)),
				zap.String("plugin", ev.Plugin),
				zap.Any("panic", r))
		}
	}()

	if herr := sub.handler.Handle(ctx, ev); herr != nil {
		b.failed.Add(1)
		b.logger.Warn("event handler failed",
			zap.String("topic", string(ev.Topic)),
			zap.String("plugin", ev.Plugin),
			zap.Error(herr))
		return &HandlerError{SubscriptionID: sub.id, Topic: ev.Topic, Err: herr}
	}
	b.delivered.Add(1)
	return nil
}

// Close stops the bus. Subsequent Publish and Subscribe calls fail with
// ErrBusClosed.
func (b *Bus) Close() {
	b.closed.Store(true)
}

// IsRunning returns true until Close is called.
func (b *Bus) IsRunning() bool {
	return !b.closed.Load()
}

// Stats contains bus counters.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Failed      uint64
	Panicked    uint64
	Subscribers int
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Failed:      b.failed.Load(),
		Panicked:    b.panicked.Load(),
		Subscribers: n,
	}
}
