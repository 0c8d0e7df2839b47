package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `id, service_code, issued_service_code, service_day, sequence_number, ticket_number, status, counter_id, created_at, called_at, served_at, updated_at`

const counterColumns = `id, name, service_id, is_active, current_ticket`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies the server answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	const op = "postgres.Connect"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pool, nil
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return translateErr(err)
	}
	defer func() {
		if err != nil {
			_ = pgTx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, &tx{tx: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return translateErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) ListRecentTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		ORDER BY created_at DESC, sequence_number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	return collectTickets(rows)
}

func (s *Store) ListTicketsCreatedSince(ctx context.Context, since time.Time) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE created_at >= $1
		ORDER BY created_at DESC, sequence_number DESC
	`, since)
	if err != nil {
		return nil, translateErr(err)
	}
	return collectTickets(rows)
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+counterColumns+`
		FROM counters
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		counter, err := scanCounter(rows)
		if err != nil {
			return nil, translateErr(err)
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return counters, nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_active
		FROM services
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Code, &svc.Name, &svc.IsActive); err != nil {
			return nil, translateErr(err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return services, nil
}

func (s *Store) SetCounterActive(ctx context.Context, counterID string, active bool) (models.Counter, error) {
	if !isUUID(counterID) {
		return models.Counter{}, store.ErrCounterNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE counters
		SET is_active = $2
		WHERE id = $1
		RETURNING `+counterColumns, counterID, active)
	counter, err := scanCounter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, translateErr(err)
	}
	return counter, nil
}

func (s *Store) ResetTickets(ctx context.Context) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return translateErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, stmt := range []string{
		`UPDATE counters SET current_ticket = NULL WHERE current_ticket IS NOT NULL`,
		`DELETE FROM tickets`,
		`DELETE FROM ticket_sequences`,
	} {
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return translateErr(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return translateErr(err)
	}
	return nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, translateErr(err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}
	return tickets, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var serviceDay time.Time
	var counterIDNull sql.NullString
	var calledAtNull sql.NullTime
	var servedAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID,
		&ticket.ServiceCode,
		&ticket.IssuedServiceCode,
		&serviceDay,
		&ticket.SequenceNumber,
		&ticket.TicketNumber,
		&ticket.Status,
		&counterIDNull,
		&ticket.CreatedAt,
		&calledAtNull,
		&servedAtNull,
		&ticket.UpdatedAt,
	); err != nil {
		return models.Ticket{}, err
	}
	ticket.ServiceDay = serviceDay.Format("2006-01-02")
	ticket.CounterID = nullStringPtr(counterIDNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ServedAt = nullTimePtr(servedAtNull)
	return ticket, nil
}

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	var currentNull sql.NullString
	if err := row.Scan(&counter.CounterID, &counter.Name, &counter.ServiceID, &counter.IsActive, &currentNull); err != nil {
		return models.Counter{}, err
	}
	counter.CurrentTicket = nullStringPtr(currentNull)
	return counter, nil
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
