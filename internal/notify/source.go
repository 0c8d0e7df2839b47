package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qms/dispatch-service/internal/models"
)

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultResubscribeDelay = 5 * time.Second
	DefaultSubscribeTimeout = 10 * time.Second
)

var ErrSubscriptionClosed = errors.New("subscription closed")

// Trigger asks the observer to re-fetch. No tables means everything.
type Trigger func(ctx context.Context, tables ...models.Table)

// ChangeSource decides when an observer re-fetches. Watch blocks until
// ctx is cancelled.
type ChangeSource interface {
	Watch(ctx context.Context, trigger Trigger) error
}

// PollSource triggers a full refresh immediately and then on every tick.
type PollSource struct {
	Interval time.Duration
}

func (p PollSource) Watch(ctx context.Context, trigger Trigger) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	trigger(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			trigger(ctx)
		}
	}
}

// Subscription is one live push subscription. Events is closed when the
// subscription fails; Err then reports why.
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Err() error
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// PushSource re-fetches on change events. Every (re)subscribe triggers a
// full refresh to cover events missed while disconnected.
type PushSource struct {
	Subscriber       Subscriber
	ResubscribeDelay time.Duration
	SubscribeTimeout time.Duration
	Logger           *slog.Logger
}

func (p PushSource) Watch(ctx context.Context, trigger Trigger) error {
	if p.Subscriber == nil {
		return errors.New("push source requires a subscriber")
	}
	delay := p.ResubscribeDelay
	if delay <= 0 {
		delay = DefaultResubscribeDelay
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for {
		err := p.session(ctx, trigger)
		if ctx.Err() != nil {
			return nil
		}
		resubscribes.Inc()
		logger.Warn("push subscription lost", "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p PushSource) session(ctx context.Context, trigger Trigger) error {
	timeout := p.SubscribeTimeout
	if timeout <= 0 {
		timeout = DefaultSubscribeTimeout
	}
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	sub, err := p.Subscriber.Subscribe(subCtx)
	cancel()
	if err != nil {
		return err
	}
	defer sub.Close()

	trigger(ctx)
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return ErrSubscriptionClosed
			}
			trigger(ctx, event.Table)
		}
	}
}
