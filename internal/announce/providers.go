package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider delivers a rendered announcement, e.g. to a speaker system.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	Kind         string    `json:"kind"`
	Text         string    `json:"text"`
	TicketNumber string    `json:"ticket_number"`
	CounterID    string    `json:"counter_id"`
	CounterName  string    `json:"counter_name"`
	At           time.Time `json:"at"`
}

// NewProvider picks a provider by kind: "log" (default), "noop", or an
// http(s) URL for a webhook.
func NewProvider(kind, token string, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case kind == "" || kind == "log" || kind == "stub":
		return logProvider{logger: logger}
	case kind == "noop":
		return noopProvider{}
	case strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://"):
		return webhookProvider{url: kind, token: token, client: &http.Client{Timeout: 5 * time.Second}}
	default:
		logger.Warn("unknown announce provider, logging instead", "provider", kind)
		return logProvider{logger: logger}
	}
}

type logProvider struct {
	logger *slog.Logger
}

func (p logProvider) Send(ctx context.Context, msg Message) error {
	p.logger.Info("announce", "kind", msg.Kind, "ticket", msg.TicketNumber, "counter", msg.CounterName, "text", msg.Text)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, msg Message) error {
	return nil
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

var errRejected = errors.New("provider rejected request")

func (p webhookProvider) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}
	return nil
}
