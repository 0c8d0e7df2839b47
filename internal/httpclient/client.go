// Package httpclient reads the dispatch service's collections over HTTP
// for observers running in another process.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"qms/dispatch-service/internal/models"
)

type Config struct {
	BaseURL     string
	CallerToken string
	RecentLimit int
	Timeout     time.Duration
}

type Client struct {
	base   *url.URL
	token  string
	limit  int
	client *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("dispatch api: status %d", e.Status)
	}
	return fmt.Sprintf("dispatch api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http or https, got %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  base,
		token: cfg.CallerToken,
		limit: cfg.RecentLimit,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// FetchTickets reads the most recent tickets.
func (c *Client) FetchTickets(ctx context.Context) ([]models.Ticket, error) {
	query := url.Values{}
	if c.limit > 0 {
		query.Set("limit", strconv.Itoa(c.limit))
	}
	var tickets []models.Ticket
	err := c.get(ctx, "/api/tickets/recent", query, &tickets)
	return tickets, err
}

// FetchTodayTickets reads today's tickets by creation time.
func (c *Client) FetchTodayTickets(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := c.get(ctx, "/api/tickets/today", nil, &tickets)
	return tickets, err
}

func (c *Client) FetchCounters(ctx context.Context) ([]models.Counter, error) {
	var counters []models.Counter
	err := c.get(ctx, "/api/counters", nil, &counters)
	return counters, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, target interface{}) error {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	statusErr := &StatusError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return statusErr
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		statusErr.Code = payload.Error.Code
		statusErr.Message = payload.Error.Message
	}
	return statusErr
}
