// Package dispatch owns the ticket lifecycle: numbering, status
// transitions and the counter pointers that mirror them. Every operation
// runs as one unit of work against the store and publishes its changes
// only after the unit commits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 500
)

var tracer = otel.Tracer("qms/dispatch-service/dispatch")

type Options struct {
	// Location decides which calendar day a ticket belongs to.
	Location           *time.Location
	Now                func() time.Time
	Publisher          notify.Publisher
	Logger             *slog.Logger
	RecentLimit        int
	AllocationAttempts int
	NewID              func() string
}

type Engine struct {
	store       store.Store
	loc         *time.Location
	now         func() time.Time
	publisher   notify.Publisher
	logger      *slog.Logger
	recentLimit int
	alloc       allocator
}

func New(st store.Store, options Options) *Engine {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := options.RecentLimit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	attempts := options.AllocationAttempts
	if attempts <= 0 {
		attempts = defaultAllocationAttempts
	}
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Engine{
		store:       st,
		loc:         loc,
		now:         now,
		publisher:   options.Publisher,
		logger:      logger,
		recentLimit: limit,
		alloc:       allocator{loc: loc, attempts: attempts, newID: newID},
	}
}

// Location is the reference zone used for "today".
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Today returns the current calendar day in the reference zone.
func (e *Engine) Today() models.Day {
	return models.DayOf(e.now(), e.loc)
}

type emitFunc func(models.ChangeEvent)

func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, emit emitFunc) error) error {
	ctx, span := tracer.Start(ctx, "dispatch."+op)
	defer span.End()
	if caller := CallerFromContext(ctx); caller != "" {
		span.SetAttributes(attribute.String("qms.caller", caller))
	}

	start := time.Now()
	var events []models.ChangeEvent
	err := e.store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		return fn(ctx, tx, func(event models.ChangeEvent) {
			events = append(events, event)
		})
	})
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, store.KindOf(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, store.KindOf(err))
		return err
	}
	e.publish(ctx, events)
	return nil
}

func (e *Engine) publish(ctx context.Context, events []models.ChangeEvent) {
	if e.publisher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		if err := e.publisher.Publish(ctx, event); err != nil {
			publishFailures.Inc()
			e.logger.Warn("publish change event", "table", event.Table, "op", event.Op, "id", event.ID, "error", err)
		}
	}
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

func (e *Engine) CreateTicket(ctx context.Context, serviceCode string) (models.Ticket, error) {
	code := strings.TrimSpace(serviceCode)
	if code == "" {
		return models.Ticket{}, store.Invalid("service_code", "is required")
	}

	var created models.Ticket
	err := e.run(ctx, "create", func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		svc, err := tx.ServiceByCode(ctx, code)
		if err != nil {
			return err
		}
		if !svc.IsActive {
			return fmt.Errorf("%w: %s is not accepting tickets", store.ErrServiceUnavailable, svc.Code)
		}
		ticket, err := e.alloc.issue(ctx, tx, svc.Code, e.clock())
		if err != nil {
			return err
		}
		created = ticket
		emit(ticketEvent(models.OpInsert, ticket))
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	ticketsIssued.WithLabelValues(created.ServiceCode).Inc()
	e.logger.Info("ticket created", "ticket", created.TicketNumber, "id", created.TicketID, "caller", CallerFromContext(ctx))
	return created, nil
}

// CallTicket calls a waiting ticket to a counter. Whatever was still called
// at that counter is closed out as served in the same unit of work.
func (e *Engine) CallTicket(ctx context.Context, ticketID, counterID string) (models.Ticket, error) {
	if err := requireIDs("ticket_id", ticketID, "counter_id", counterID); err != nil {
		return models.Ticket{}, err
	}

	var called models.Ticket
	err := e.run(ctx, ActionCall, func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		counter, err := tx.LockCounter(ctx, counterID)
		if err != nil {
			return err
		}
		if !counter.IsActive {
			return fmt.Errorf("%w: %s is not staffed", store.ErrCounterUnavailable, counter.Name)
		}
		ticket, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := checkTransition(ActionCall, ticket); err != nil {
			return err
		}
		if err := checkCounterService(ctx, tx, counter, ticket); err != nil {
			return err
		}

		now := e.clock()
		previous, err := tx.CalledAtCounter(ctx, counter.CounterID)
		if err != nil {
			return err
		}
		for _, prev := range previous {
			servedAt := notBefore(now, prev.CalledAt)
			prev.Status = models.StatusServed
			prev.ServedAt = &servedAt
			prev.UpdatedAt = touch(prev.UpdatedAt, now)
			if err := tx.UpdateTicket(ctx, prev); err != nil {
				return err
			}
			emit(ticketEvent(models.OpUpdate, prev))
			e.logger.Info("ticket closed out", "ticket", prev.TicketNumber, "counter", counter.Name)
		}

		ticket.Status = models.StatusCalled
		ticket.CounterID = &counter.CounterID
		calledAt := now
		ticket.CalledAt = &calledAt
		ticket.UpdatedAt = touch(ticket.UpdatedAt, now)
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		emit(ticketEvent(models.OpUpdate, ticket))

		synced, changed, err := syncCounter(ctx, tx, counter)
		if err != nil {
			return err
		}
		if changed {
			emit(counterEvent(synced, now))
		}
		called = ticket
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.logger.Info("ticket called", "ticket", called.TicketNumber, "counter_id", counterID, "caller", CallerFromContext(ctx))
	return called, nil
}

func (e *Engine) ServeTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.close(ctx, ActionServe, ticketID)
}

func (e *Engine) SkipTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return e.close(ctx, ActionSkip, ticketID)
}

func (e *Engine) close(ctx context.Context, action, ticketID string) (models.Ticket, error) {
	if err := requireIDs("ticket_id", ticketID); err != nil {
		return models.Ticket{}, err
	}

	var closed models.Ticket
	err := e.run(ctx, action, func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		ticket, counters, err := lockTicketWithCounters(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		if err := checkTransition(action, ticket); err != nil {
			return err
		}

		now := e.clock()
		if action == ActionServe {
			servedAt := notBefore(now, ticket.CalledAt)
			ticket.Status = models.StatusServed
			ticket.ServedAt = &servedAt
		} else {
			ticket.Status = models.StatusSkipped
		}
		ticket.UpdatedAt = touch(ticket.UpdatedAt, now)
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		emit(ticketEvent(models.OpUpdate, ticket))

		if err := releaseCounters(ctx, tx, counters, now, emit); err != nil {
			return err
		}
		closed = ticket
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.logger.Info("ticket "+closed.Status, "ticket", closed.TicketNumber, "caller", CallerFromContext(ctx))
	return closed, nil
}

// RecallTicket only bumps updated_at so observers announce the ticket again.
func (e *Engine) RecallTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if err := requireIDs("ticket_id", ticketID); err != nil {
		return models.Ticket{}, err
	}

	var recalled models.Ticket
	err := e.run(ctx, ActionRecall, func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		ticket, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := checkTransition(ActionRecall, ticket); err != nil {
			return err
		}
		ticket.UpdatedAt = touch(ticket.UpdatedAt, e.clock())
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		emit(ticketEvent(models.OpUpdate, ticket))
		recalled = ticket
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return recalled, nil
}

// TransferTicket sends a ticket back to waiting under the target counter's
// service. The ticket keeps the number it was issued with.
func (e *Engine) TransferTicket(ctx context.Context, ticketID, newCounterID string) (models.Ticket, error) {
	if err := requireIDs("ticket_id", ticketID, "counter_id", newCounterID); err != nil {
		return models.Ticket{}, err
	}

	var moved models.Ticket
	err := e.run(ctx, ActionTransfer, func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		ticket, counters, err := lockTicketWithCounters(ctx, tx, ticketID, newCounterID)
		if err != nil {
			return err
		}
		target := counters[newCounterID]
		svc, err := tx.ServiceByID(ctx, target.ServiceID)
		if err != nil {
			return err
		}
		if err := checkTransition(ActionTransfer, ticket); err != nil {
			return err
		}

		now := e.clock()
		ticket.Status = models.StatusWaiting
		ticket.CounterID = &target.CounterID
		ticket.ServiceCode = svc.Code
		ticket.CalledAt = nil
		ticket.UpdatedAt = touch(ticket.UpdatedAt, now)
		if err := tx.UpdateTicket(ctx, ticket); err != nil {
			return err
		}
		emit(ticketEvent(models.OpUpdate, ticket))

		if err := releaseCounters(ctx, tx, counters, now, emit); err != nil {
			return err
		}
		moved = ticket
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	e.logger.Info("ticket transferred", "ticket", moved.TicketNumber, "service_code", moved.ServiceCode, "counter_id", newCounterID, "caller", CallerFromContext(ctx))
	return moved, nil
}

// lockTicketWithCounters locks the counter rows a ticket touches before the
// ticket row, the same order CallTicket uses. If the ticket moved between
// the unlocked peek and the lock, the set is recomputed.
func lockTicketWithCounters(ctx context.Context, tx store.Tx, ticketID string, extra ...string) (models.Ticket, map[string]models.Counter, error) {
	const maxPasses = 3
	for pass := 0; pass < maxPasses; pass++ {
		peek, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return models.Ticket{}, nil, err
		}
		ids := append([]string(nil), extra...)
		if peek.CounterID != nil {
			ids = append(ids, *peek.CounterID)
		}
		ids = sortedUnique(ids)

		counters := make(map[string]models.Counter, len(ids))
		for _, id := range ids {
			counter, err := tx.LockCounter(ctx, id)
			if err != nil {
				return models.Ticket{}, nil, err
			}
			counters[id] = counter
		}

		ticket, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return models.Ticket{}, nil, err
		}
		if sameNumber(peek.CounterID, ticket.CounterID) {
			return ticket, counters, nil
		}
	}
	return models.Ticket{}, nil, store.Transient(fmt.Errorf("ticket %s kept moving between counters", ticketID))
}

func releaseCounters(ctx context.Context, tx store.Tx, counters map[string]models.Counter, at time.Time, emit emitFunc) error {
	ids := make([]string, 0, len(counters))
	for id := range counters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		counter, changed, err := syncCounter(ctx, tx, counters[id])
		if err != nil {
			return err
		}
		if changed {
			emit(counterEvent(counter, at))
		}
	}
	return nil
}

func (e *Engine) ListRecentTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = e.recentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	return e.store.ListRecentTickets(ctx, limit)
}

// ListTodayTickets reads by creation time instead of recency.
func (e *Engine) ListTodayTickets(ctx context.Context) ([]models.Ticket, error) {
	return e.store.ListTicketsCreatedSince(ctx, e.Today().Start())
}

func (e *Engine) ListCounters(ctx context.Context) ([]models.Counter, error) {
	return e.store.ListCounters(ctx)
}

func (e *Engine) ListServices(ctx context.Context) ([]models.Service, error) {
	return e.store.ListServices(ctx)
}

func (e *Engine) SetCounterActive(ctx context.Context, counterID string, active bool) (models.Counter, error) {
	if err := requireIDs("counter_id", counterID); err != nil {
		return models.Counter{}, err
	}
	counter, err := e.store.SetCounterActive(ctx, counterID, active)
	operationsTotal.WithLabelValues("counter_status", store.KindOf(err)).Inc()
	if err != nil {
		return models.Counter{}, err
	}
	e.publish(ctx, []models.ChangeEvent{counterEvent(counter, e.clock())})
	e.logger.Info("counter status changed", "counter", counter.Name, "is_active", active, "caller", CallerFromContext(ctx))
	return counter, nil
}

// ResetTickets removes every ticket and clears all counter pointers.
func (e *Engine) ResetTickets(ctx context.Context) error {
	err := e.store.ResetTickets(ctx)
	operationsTotal.WithLabelValues("reset", store.KindOf(err)).Inc()
	if err != nil {
		return err
	}
	at := e.clock()
	e.publish(ctx, []models.ChangeEvent{
		{Table: models.TableTickets, Op: models.OpDelete, At: at},
		{Table: models.TableCounters, Op: models.OpUpdate, At: at},
	})
	e.logger.Warn("tickets reset", "caller", CallerFromContext(ctx))
	return nil
}

// VerifyCounters lists counters whose pointer disagrees with ticket state.
// With repair set, each of them is re-pointed in the same unit of work.
func (e *Engine) VerifyCounters(ctx context.Context, repair bool) ([]CounterMismatch, error) {
	counters, err := e.store.ListCounters(ctx)
	if err != nil {
		return nil, err
	}
	var mismatches []CounterMismatch
	err = e.run(ctx, "verify_counters", func(ctx context.Context, tx store.Tx, emit emitFunc) error {
		mismatches = mismatches[:0]
		for _, counter := range counters {
			if repair {
				locked, err := tx.LockCounter(ctx, counter.CounterID)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				counter = locked
			}
			mismatch, found, err := checkCounter(ctx, tx, counter)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			mismatches = append(mismatches, mismatch)
			if !repair {
				continue
			}
			synced, changed, err := syncCounter(ctx, tx, counter)
			if err != nil {
				return err
			}
			if changed {
				emit(counterEvent(synced, e.clock()))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mismatches, nil
}

func ticketEvent(op string, ticket models.Ticket) models.ChangeEvent {
	return models.ChangeEvent{
		Table:       models.TableTickets,
		Op:          op,
		ID:          ticket.TicketID,
		ServiceCode: ticket.ServiceCode,
		At:          ticket.UpdatedAt,
	}
}

func counterEvent(counter models.Counter, at time.Time) models.ChangeEvent {
	return models.ChangeEvent{
		Table: models.TableCounters,
		Op:    models.OpUpdate,
		ID:    counter.CounterID,
		At:    at,
	}
}

// touch returns a timestamp strictly after prev so that every mutation is
// visible to observers comparing updated_at.
func touch(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

func notBefore(now time.Time, floor *time.Time) time.Time {
	if floor != nil && now.Before(*floor) {
		return *floor
	}
	return now
}

func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return store.Invalid(pairs[i], "is required")
		}
	}
	return nil
}

func sortedUnique(values []string) []string {
	sort.Strings(values)
	out := values[:0]
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			continue
		}
		out = append(out, v)
	}
	return out
}
