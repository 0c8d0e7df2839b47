package postgres

import (
	"context"
	"errors"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"github.com/jackc/pgx/v5"
)

type tx struct {
	tx pgx.Tx
}

func (t *tx) ServiceByCode(ctx context.Context, code string) (models.Service, error) {
	var svc models.Service
	row := t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_active
		FROM services
		WHERE code = $1
	`, code)
	if err := row.Scan(&svc.ServiceID, &svc.Code, &svc.Name, &svc.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, translateErr(err)
	}
	return svc, nil
}

func (t *tx) ServiceByID(ctx context.Context, serviceID string) (models.Service, error) {
	if !isUUID(serviceID) {
		return models.Service{}, store.ErrServiceNotFound
	}
	var svc models.Service
	row := t.tx.QueryRow(ctx, `
		SELECT id, code, name, is_active
		FROM services
		WHERE id = $1
	`, serviceID)
	if err := row.Scan(&svc.ServiceID, &svc.Code, &svc.Name, &svc.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, translateErr(err)
	}
	return svc, nil
}

func (t *tx) LockCounter(ctx context.Context, counterID string) (models.Counter, error) {
	if !isUUID(counterID) {
		return models.Counter{}, store.ErrCounterNotFound
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		WHERE id = $1
		FOR UPDATE
	`, counterID)
	counter, err := scanCounter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, translateErr(err)
	}
	return counter, nil
}

func (t *tx) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return t.ticket(ctx, ticketID, "")
}

func (t *tx) LockTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return t.ticket(ctx, ticketID, "FOR UPDATE")
}

func (t *tx) ticket(ctx context.Context, ticketID, lock string) (models.Ticket, error) {
	if !isUUID(ticketID) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
		`+lock, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, translateErr(err)
	}
	return ticket, nil
}

func (t *tx) CalledAtCounter(ctx context.Context, counterID string) ([]models.Ticket, error) {
	if !isUUID(counterID) {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE counter_id = $1 AND status = 'called'
		ORDER BY created_at DESC, sequence_number DESC
		FOR UPDATE
	`, counterID)
	if err != nil {
		return nil, translateErr(err)
	}
	return collectTickets(rows)
}

// NextSequence bumps the (service, day) counter. The counter never falls
// behind tickets already issued, so a lost or reset row heals itself.
func (t *tx) NextSequence(ctx context.Context, serviceCode string, day models.Day) (int, error) {
	var next int
	row := t.tx.QueryRow(ctx, `
		WITH issued AS (
			SELECT COALESCE(MAX(sequence_number), 0) AS max_number
			FROM tickets
			WHERE issued_service_code = $1 AND service_day = $2::date
		)
		INSERT INTO ticket_sequences (service_code, service_day, next_number)
		SELECT $1, $2::date, issued.max_number + 1 FROM issued
		ON CONFLICT (service_code, service_day)
		DO UPDATE SET next_number = GREATEST(ticket_sequences.next_number, EXCLUDED.next_number - 1) + 1
		RETURNING next_number
	`, serviceCode, day.Date)
	if err := row.Scan(&next); err != nil {
		return 0, translateErr(err)
	}
	return next, nil
}

// InsertTicket runs under a savepoint so a uniqueness violation leaves the
// surrounding transaction usable for the next candidate.
func (t *tx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	_, err = sp.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		ticket.TicketID,
		ticket.ServiceCode,
		ticket.IssuedServiceCode,
		ticket.ServiceDay,
		ticket.SequenceNumber,
		ticket.TicketNumber,
		ticket.Status,
		ticket.CounterID,
		ticket.CreatedAt,
		ticket.CalledAt,
		ticket.ServedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		_ = sp.Rollback(ctx)
		err = translateErr(err)
		if errors.Is(err, store.ErrConflict) {
			return store.ErrSequenceConflict
		}
		return err
	}
	return translateErr(sp.Commit(ctx))
}

func (t *tx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET service_code = $2, status = $3, counter_id = $4, called_at = $5, served_at = $6, updated_at = $7
		WHERE id = $1
	`, ticket.TicketID, ticket.ServiceCode, ticket.Status, ticket.CounterID, ticket.CalledAt, ticket.ServedAt, ticket.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (t *tx) SetCurrentTicket(ctx context.Context, counterID string, ticketNumber *string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE counters
		SET current_ticket = $2
		WHERE id = $1
	`, counterID, ticketNumber)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}
