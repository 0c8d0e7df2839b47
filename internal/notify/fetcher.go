package notify

import (
	"context"

	"qms/dispatch-service/internal/models"
)

// Fetcher reads the collections an observer mirrors. FetchTodayTickets is
// the alternate read path consulted when FetchTickets comes back empty.
type Fetcher interface {
	FetchTickets(ctx context.Context) ([]models.Ticket, error)
	FetchTodayTickets(ctx context.Context) ([]models.Ticket, error)
	FetchCounters(ctx context.Context) ([]models.Counter, error)
}

// FetchFuncs adapts plain functions to Fetcher. A nil TodayTickets falls
// back to Tickets.
type FetchFuncs struct {
	Tickets      func(ctx context.Context) ([]models.Ticket, error)
	TodayTickets func(ctx context.Context) ([]models.Ticket, error)
	Counters     func(ctx context.Context) ([]models.Counter, error)
}

func (f FetchFuncs) FetchTickets(ctx context.Context) ([]models.Ticket, error) {
	if f.Tickets == nil {
		return nil, nil
	}
	return f.Tickets(ctx)
}

func (f FetchFuncs) FetchTodayTickets(ctx context.Context) ([]models.Ticket, error) {
	if f.TodayTickets == nil {
		return f.FetchTickets(ctx)
	}
	return f.TodayTickets(ctx)
}

func (f FetchFuncs) FetchCounters(ctx context.Context) ([]models.Counter, error) {
	if f.Counters == nil {
		return nil, nil
	}
	return f.Counters(ctx)
}
