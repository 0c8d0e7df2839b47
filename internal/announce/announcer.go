// Package announce turns observer announcements into spoken or displayed
// messages and hands them to a delivery provider.
package announce

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"qms/dispatch-service/internal/notify"
)

const (
	KindCalled   = "ticket_called"
	KindRecalled = "ticket_recalled"
)

var sent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "announcements_total",
	Help: "Announcements handed to the provider, by kind and outcome.",
}, []string{"kind", "outcome"})

type Config struct {
	Provider Provider
	Lang     string
	Logger   *slog.Logger
}

type Announcer struct {
	provider Provider
	lang     string
	logger   *slog.Logger
}

func New(cfg Config) *Announcer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	provider := cfg.Provider
	if provider == nil {
		provider = logProvider{logger: logger}
	}
	lang := cfg.Lang
	if lang == "" {
		lang = "en"
	}
	return &Announcer{provider: provider, lang: lang, logger: logger}
}

// Announce renders a and sends it. Failures are logged and returned.
func (a *Announcer) Announce(ctx context.Context, ann notify.Announcement) error {
	kind := KindCalled
	if ann.Recall {
		kind = KindRecalled
	}
	counterName := ann.CounterName
	if counterName == "" {
		counterName = ann.CounterID
	}
	msg := Message{
		Kind:         kind,
		Text:         render(defaultTemplate(kind, a.lang), ann.Ticket.TicketNumber, counterName),
		TicketNumber: ann.Ticket.TicketNumber,
		CounterID:    ann.CounterID,
		CounterName:  counterName,
		At:           ann.Ticket.UpdatedAt,
	}
	if err := a.provider.Send(ctx, msg); err != nil {
		sent.WithLabelValues(kind, "error").Inc()
		a.logger.Error("announce failed", "ticket", msg.TicketNumber, "counter", counterName, "error", err)
		return err
	}
	sent.WithLabelValues(kind, "ok").Inc()
	return nil
}

func defaultTemplate(kind, lang string) string {
	if lang == "id" {
		switch kind {
		case KindRecalled:
			return "Tiket {ticket_number} dipanggil ulang ke {counter}."
		default:
			return "Tiket {ticket_number} silakan ke {counter}."
		}
	}
	switch kind {
	case KindRecalled:
		return "Ticket {ticket_number}, once again, please proceed to {counter}."
	default:
		return "Ticket {ticket_number}, please proceed to {counter}."
	}
}

func render(template, ticketNumber, counter string) string {
	result := strings.ReplaceAll(template, "{ticket_number}", ticketNumber)
	return strings.ReplaceAll(result, "{counter}", counter)
}
