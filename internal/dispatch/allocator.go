package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"
)

const defaultAllocationAttempts = 5

// allocator issues per-service, per-day sequence numbers. The increment
// happens inside the caller's unit of work, so an aborted creation never
// consumes a number.
type allocator struct {
	loc      *time.Location
	attempts int
	newID    func() string
}

// issue inserts a waiting ticket under the next free number, moving on to
// the next candidate whenever the uniqueness constraint rejects one.
func (a allocator) issue(ctx context.Context, tx store.Tx, serviceCode string, now time.Time) (models.Ticket, error) {
	day := models.DayOf(now, a.loc)
	for attempt := 1; attempt <= a.attempts; attempt++ {
		seq, err := tx.NextSequence(ctx, serviceCode, day)
		if err != nil {
			return models.Ticket{}, err
		}
		ticket := models.Ticket{
			TicketID:          a.newID(),
			ServiceCode:       serviceCode,
			IssuedServiceCode: serviceCode,
			ServiceDay:        day.Date,
			SequenceNumber:    seq,
			TicketNumber:      models.FormatTicketNumber(serviceCode, seq),
			Status:            models.StatusWaiting,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err = tx.InsertTicket(ctx, ticket)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return models.Ticket{}, err
		}
		sequenceConflicts.WithLabelValues(serviceCode).Inc()
	}
	return models.Ticket{}, store.Transient(fmt.Errorf("allocate %s for %s: %d candidates collided", serviceCode, day, a.attempts))
}
