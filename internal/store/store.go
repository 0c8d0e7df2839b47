package store

import (
	"context"
	"time"

	"qms/dispatch-service/internal/models"
)

// Tx is the set of primitives the dispatch engine composes inside one
// atomic unit. Lock* methods hold the row until the unit ends.
type Tx interface {
	ServiceByCode(ctx context.Context, code string) (models.Service, error)
	ServiceByID(ctx context.Context, serviceID string) (models.Service, error)
	LockCounter(ctx context.Context, counterID string) (models.Counter, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	LockTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CalledAtCounter(ctx context.Context, counterID string) ([]models.Ticket, error)
	NextSequence(ctx context.Context, serviceCode string, day models.Day) (int, error)
	InsertTicket(ctx context.Context, ticket models.Ticket) error
	UpdateTicket(ctx context.Context, ticket models.Ticket) error
	SetCurrentTicket(ctx context.Context, counterID string, ticketNumber *string) error
}

type Store interface {
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListRecentTickets(ctx context.Context, limit int) ([]models.Ticket, error)
	ListTicketsCreatedSince(ctx context.Context, since time.Time) ([]models.Ticket, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	SetCounterActive(ctx context.Context, counterID string, active bool) (models.Counter, error)
	ResetTickets(ctx context.Context) error
}
