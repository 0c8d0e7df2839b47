// Package redisbus carries change events over Redis pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
)

const DefaultChannel = "dispatch:changes"

// DefaultHealthInterval is how long a subscription may stay silent before
// it is pinged. A ping left unanswered for another interval ends it.
const DefaultHealthInterval = 15 * time.Second

var errStale = errors.New("redis subscription stopped answering pings")

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	const op = "redisbus.New"

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctxPing).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// Bus publishes and subscribes to one channel.
type Bus struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

func NewBus(rdb *redis.Client, channel string, logger *slog.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{rdb: rdb, channel: channel, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Table, err)
	}
	return nil
}

// Subscribe returns once Redis confirms the subscription.
func (b *Bus) Subscribe(ctx context.Context) (notify.Subscription, error) {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	return startSubscription(ctx, ps, DefaultHealthInterval, b.logger), nil
}

// receiver is the part of *redis.PubSub a subscription reads from.
type receiver interface {
	ReceiveTimeout(ctx context.Context, timeout time.Duration) (interface{}, error)
	Ping(ctx context.Context, payload ...string) error
	Close() error
}

func startSubscription(ctx context.Context, ps receiver, health time.Duration, logger *slog.Logger) *subscription {
	if health <= 0 {
		health = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		ps:     ps,
		health: health,
		events: make(chan models.ChangeEvent, 256),
		cancel: cancel,
		logger: logger,
	}
	go sub.run(runCtx)
	return sub
}

// Decode parses a published payload.
func Decode(payload string) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.ChangeEvent{}, err
	}
	if event.Table == "" {
		return models.ChangeEvent{}, fmt.Errorf("change event without table")
	}
	return event, nil
}

type subscription struct {
	ps     receiver
	health time.Duration
	events chan models.ChangeEvent
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	err    error
	closed bool
}

// run reads until the connection fails or goes quiet. Any reply counts as
// a sign of life; a read timeout sends a ping, and a second timeout with
// the ping still unanswered fails the session.
func (s *subscription) run(ctx context.Context) {
	defer close(s.events)
	pinged := false
	for {
		msg, err := s.ps.ReceiveTimeout(ctx, s.health)
		if err != nil {
			if !isTimeout(err) {
				s.fail(err)
				return
			}
			if pinged {
				s.fail(errStale)
				return
			}
			if err := s.ps.Ping(ctx); err != nil {
				s.fail(err)
				return
			}
			pinged = true
			continue
		}
		pinged = false

		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		event, err := Decode(m.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed change event", "channel", m.Channel, "error", err)
			continue
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.err = err
	}
}

func (s *subscription) Events() <-chan models.ChangeEvent { return s.events }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.ps.Close()
}
