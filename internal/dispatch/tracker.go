package dispatch

import (
	"context"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"
)

// syncCounter points the counter at whichever ticket is called there, or
// at nothing. It reads ticket state from the same unit of work, so it must
// run after the ticket mutation it follows.
func syncCounter(ctx context.Context, tx store.Tx, counter models.Counter) (models.Counter, bool, error) {
	called, err := tx.CalledAtCounter(ctx, counter.CounterID)
	if err != nil {
		return counter, false, err
	}
	var want *string
	if len(called) > 0 {
		number := called[0].TicketNumber
		want = &number
	}
	if sameNumber(counter.CurrentTicket, want) {
		return counter, false, nil
	}
	if err := tx.SetCurrentTicket(ctx, counter.CounterID, want); err != nil {
		return counter, false, err
	}
	counter.CurrentTicket = want
	return counter, true, nil
}

// CounterMismatch describes a counter whose pointer disagrees with the
// tickets called at it.
type CounterMismatch struct {
	CounterID     string   `json:"counter_id"`
	CounterName   string   `json:"counter_name"`
	CurrentTicket *string  `json:"current_ticket"`
	CalledTickets []string `json:"called_tickets"`
}

func checkCounter(ctx context.Context, tx store.Tx, counter models.Counter) (CounterMismatch, bool, error) {
	called, err := tx.CalledAtCounter(ctx, counter.CounterID)
	if err != nil {
		return CounterMismatch{}, false, err
	}
	numbers := make([]string, 0, len(called))
	for _, ticket := range called {
		numbers = append(numbers, ticket.TicketNumber)
	}
	consistent := false
	switch len(called) {
	case 0:
		consistent = counter.CurrentTicket == nil
	case 1:
		consistent = counter.CurrentTicket != nil && *counter.CurrentTicket == numbers[0]
	}
	if consistent {
		return CounterMismatch{}, false, nil
	}
	return CounterMismatch{
		CounterID:     counter.CounterID,
		CounterName:   counter.Name,
		CurrentTicket: counter.CurrentTicket,
		CalledTickets: numbers,
	}, true, nil
}

func sameNumber(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
