package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"
	"qms/dispatch-service/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	serviceA   = "svc-a"
	serviceB   = "svc-b"
	serviceOff = "svc-off"
	counterC1  = "counter-1"
	counterC2  = "counter-2"
	counterOff = "counter-off"
)

func testSeed() memory.Seed {
	return memory.Seed{
		Services: []models.Service{
			{ServiceID: serviceA, Code: "A", Name: "General", IsActive: true},
			{ServiceID: serviceB, Code: "B", Name: "Payments", IsActive: true},
			{ServiceID: serviceOff, Code: "X", Name: "Closed", IsActive: false},
		},
		Counters: []models.Counter{
			{CounterID: counterC1, Name: "C1", ServiceID: serviceA, IsActive: true},
			{CounterID: counterC2, Name: "C2", ServiceID: serviceB, IsActive: true},
			{CounterID: counterOff, Name: "C9", ServiceID: serviceA, IsActive: false},
		},
	}
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Tables() []models.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	tables := make([]models.Table, 0, len(p.events))
	for _, event := range p.events {
		tables = append(tables, event.Table)
	}
	return tables
}

type harness struct {
	engine    *Engine
	store     store.Store
	clock     *fixedClock
	published *recordingPublisher
}

func newHarness(t *testing.T, wrap ...func(store.Store) store.Store) harness {
	t.Helper()
	var st store.Store = memory.New(testSeed())
	for _, w := range wrap {
		st = w(st)
	}
	clock := &fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	published := &recordingPublisher{}
	engine := New(st, Options{
		Location:  time.UTC,
		Now:       clock.Now,
		Publisher: published,
	})
	return harness{engine: engine, store: st, clock: clock, published: published}
}

func (h harness) counter(t *testing.T, id string) models.Counter {
	t.Helper()
	counters, err := h.engine.ListCounters(context.Background())
	require.NoError(t, err)
	for _, counter := range counters {
		if counter.CounterID == id {
			return counter
		}
	}
	t.Fatalf("counter %s not listed", id)
	return models.Counter{}
}

func (h harness) ticket(t *testing.T, id string) models.Ticket {
	t.Helper()
	tickets, err := h.engine.ListRecentTickets(context.Background(), MaxRecentLimit)
	require.NoError(t, err)
	for _, ticket := range tickets {
		if ticket.TicketID == id {
			return ticket
		}
	}
	t.Fatalf("ticket %s not listed", id)
	return models.Ticket{}
}

func (h harness) assertCountersConsistent(t *testing.T) {
	t.Helper()
	mismatches, err := h.engine.VerifyCounters(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestCallAutoServesPreviousTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A-001", first.TicketNumber)
	assert.Equal(t, models.StatusWaiting, first.Status)

	first, err = h.engine.CallTicket(ctx, first.TicketID, counterC1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, first.Status)
	require.NotNil(t, first.CalledAt)
	require.NotNil(t, h.counter(t, counterC1).CurrentTicket)
	assert.Equal(t, "A-001", *h.counter(t, counterC1).CurrentTicket)

	second, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A-002", second.TicketNumber)

	h.clock.Advance(4 * time.Minute)
	second, err = h.engine.CallTicket(ctx, second.TicketID, counterC1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, second.Status)

	closed := h.ticket(t, first.TicketID)
	assert.Equal(t, models.StatusServed, closed.Status)
	require.NotNil(t, closed.ServedAt)
	assert.True(t, closed.ServedAt.Equal(h.clock.Now()))
	assert.Equal(t, "A-002", *h.counter(t, counterC1).CurrentTicket)
	h.assertCountersConsistent(t)
}

func TestTransferKeepsTicketNumber(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = h.engine.CallTicket(ctx, ticket.TicketID, counterC1)
	require.NoError(t, err)

	moved, err := h.engine.TransferTicket(ctx, ticket.TicketID, counterC2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, moved.Status)
	assert.Equal(t, "B", moved.ServiceCode)
	assert.Equal(t, "A-002", moved.TicketNumber)
	assert.Nil(t, moved.CalledAt)
	require.NotNil(t, moved.CounterID)
	assert.Equal(t, counterC2, *moved.CounterID)
	assert.Nil(t, h.counter(t, counterC1).CurrentTicket)
	assert.Nil(t, h.counter(t, counterC2).CurrentTicket)
	h.assertCountersConsistent(t)

	// B numbering is unaffected by the transferred A ticket.
	own, err := h.engine.CreateTicket(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B-001", own.TicketNumber)
	second, err := h.engine.CreateTicket(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B-002", second.TicketNumber)
}

func TestTransferWaitingTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	moved, err := h.engine.TransferTicket(ctx, ticket.TicketID, counterC2)
	require.NoError(t, err)
	assert.Equal(t, "B", moved.ServiceCode)

	// It can now be called at its new counter.
	called, err := h.engine.CallTicket(ctx, ticket.TicketID, counterC2)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, called.Status)
	assert.Equal(t, "A-001", *h.counter(t, counterC2).CurrentTicket)
	h.assertCountersConsistent(t)
}

func TestServeAndSkipClearCounter(t *testing.T) {
	ctx := context.Background()
	for _, action := range []string{ActionServe, ActionSkip} {
		t.Run(action, func(t *testing.T) {
			h := newHarness(t)
			ticket, err := h.engine.CreateTicket(ctx, "A")
			require.NoError(t, err)
			ticket, err = h.engine.CallTicket(ctx, ticket.TicketID, counterC1)
			require.NoError(t, err)

			h.clock.Advance(3 * time.Minute)
			var closed models.Ticket
			if action == ActionServe {
				closed, err = h.engine.ServeTicket(ctx, ticket.TicketID)
			} else {
				closed, err = h.engine.SkipTicket(ctx, ticket.TicketID)
			}
			require.NoError(t, err)
			if action == ActionServe {
				assert.Equal(t, models.StatusServed, closed.Status)
				require.NotNil(t, closed.ServedAt)
				assert.False(t, closed.ServedAt.Before(*closed.CalledAt))
			} else {
				assert.Equal(t, models.StatusSkipped, closed.Status)
				assert.Nil(t, closed.ServedAt)
			}
			assert.Nil(t, h.counter(t, counterC1).CurrentTicket)
			h.assertCountersConsistent(t)
		})
	}
}

func TestRecallTouchesUpdatedAtOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	called, err := h.engine.CallTicket(ctx, ticket.TicketID, counterC1)
	require.NoError(t, err)

	// The clock does not move; the touch must still be visible.
	recalled, err := h.engine.RecallTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.True(t, recalled.UpdatedAt.After(called.UpdatedAt))
	assert.Equal(t, called.Status, recalled.Status)
	assert.Equal(t, called.CalledAt, recalled.CalledAt)
	assert.Equal(t, called.CounterID, recalled.CounterID)
}

func TestEngineErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	waiting, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	served, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = h.engine.CallTicket(ctx, served.TicketID, counterC1)
	require.NoError(t, err)
	_, err = h.engine.ServeTicket(ctx, served.TicketID)
	require.NoError(t, err)

	cases := []struct {
		name string
		run  func() error
		kind error
	}{
		{"create blank code", func() error { _, err := h.engine.CreateTicket(ctx, "  "); return err }, store.ErrValidation},
		{"create unknown service", func() error { _, err := h.engine.CreateTicket(ctx, "Z"); return err }, store.ErrNotFound},
		{"create inactive service", func() error { _, err := h.engine.CreateTicket(ctx, "X"); return err }, store.ErrUnavailable},
		{"call missing ticket", func() error { _, err := h.engine.CallTicket(ctx, "nope", counterC1); return err }, store.ErrNotFound},
		{"call missing counter", func() error { _, err := h.engine.CallTicket(ctx, waiting.TicketID, "nope"); return err }, store.ErrNotFound},
		{"call inactive counter", func() error { _, err := h.engine.CallTicket(ctx, waiting.TicketID, counterOff); return err }, store.ErrUnavailable},
		{"call served ticket", func() error { _, err := h.engine.CallTicket(ctx, served.TicketID, counterC1); return err }, store.ErrInvalidTransition},
		{"call without counter", func() error { _, err := h.engine.CallTicket(ctx, waiting.TicketID, ""); return err }, store.ErrValidation},
		{"serve waiting", func() error { _, err := h.engine.ServeTicket(ctx, waiting.TicketID); return err }, store.ErrInvalidTransition},
		{"serve missing", func() error { _, err := h.engine.ServeTicket(ctx, "nope"); return err }, store.ErrNotFound},
		{"skip served", func() error { _, err := h.engine.SkipTicket(ctx, served.TicketID); return err }, store.ErrInvalidTransition},
		{"recall waiting", func() error { _, err := h.engine.RecallTicket(ctx, waiting.TicketID); return err }, store.ErrInvalidTransition},
		{"recall missing", func() error { _, err := h.engine.RecallTicket(ctx, "nope"); return err }, store.ErrNotFound},
		{"transfer missing counter", func() error { _, err := h.engine.TransferTicket(ctx, waiting.TicketID, "nope"); return err }, store.ErrNotFound},
		{"transfer served", func() error { _, err := h.engine.TransferTicket(ctx, served.TicketID, counterC2); return err }, store.ErrInvalidTransition},
		{"counter status missing", func() error { _, err := h.engine.SetCounterActive(ctx, "nope", true); return err }, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.run()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.False(t, store.IsRetryable(err))
		})
	}
}

func TestTransferToCounterWithUnknownService(t *testing.T) {
	ctx := context.Background()
	seed := testSeed()
	seed.Counters = append(seed.Counters, models.Counter{CounterID: "orphan", Name: "C0", ServiceID: "gone", IsActive: true})
	engine := New(memory.New(seed), Options{})

	ticket, err := engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = engine.TransferTicket(ctx, ticket.TicketID, "orphan")
	assert.ErrorIs(t, err, store.ErrServiceNotFound)
}

func TestCallRejectsTicketOfAnotherService(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	before := len(h.published.Tables())

	_, err = h.engine.CallTicket(ctx, ticket.TicketID, counterC2)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Contains(t, err.Error(), "A-001")
	assert.Len(t, h.published.Tables(), before)
	assert.Nil(t, h.counter(t, counterC2).CurrentTicket)

	tickets, err := h.engine.ListRecentTickets(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, models.StatusWaiting, tickets[0].Status)
	assert.Nil(t, tickets[0].CounterID)
}

func TestConcurrentCreateIsGapFree(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const k = 64
	var wg sync.WaitGroup
	numbers := make(chan int, k)
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := h.engine.CreateTicket(ctx, "A")
			if err != nil {
				errs <- err
				return
			}
			numbers <- ticket.SequenceNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		t.Fatalf("create: %v", err)
	}

	var got []int
	for n := range numbers {
		got = append(got, n)
	}
	sort.Ints(got)
	require.Len(t, got, k)
	for i, n := range got {
		if n != i+1 {
			t.Fatalf("sequence %d at position %d, want %d", n, i, i+1)
		}
	}
}

func TestConcurrentCallsKeepOneCalledPerCounter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const k = 16
	ids := make([]string, 0, k)
	for i := 0; i < k; i++ {
		ticket, err := h.engine.CreateTicket(ctx, "A")
		require.NoError(t, err)
		ids = append(ids, ticket.TicketID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := h.engine.CallTicket(ctx, id, counterC1); err != nil {
				t.Errorf("call %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	tickets, err := h.engine.ListRecentTickets(ctx, 0)
	require.NoError(t, err)
	called := 0
	var calledNumber string
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusCalled:
			called++
			calledNumber = ticket.TicketNumber
		case models.StatusServed:
		default:
			t.Fatalf("ticket %s left in %s", ticket.TicketNumber, ticket.Status)
		}
	}
	assert.Equal(t, 1, called)
	current := h.counter(t, counterC1).CurrentTicket
	require.NotNil(t, current)
	assert.Equal(t, calledNumber, *current)
	h.assertCountersConsistent(t)
}

func TestSequenceRestartsEachDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	next, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, next.SequenceNumber)
	assert.Equal(t, "2024-03-02", next.ServiceDay)
}

func TestSequenceDayFollowsReferenceZone(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+7", 7*60*60)
	clock := &fixedClock{now: time.Date(2024, 3, 1, 16, 30, 0, 0, time.UTC)}
	engine := New(memory.New(testSeed()), Options{Location: loc, Now: clock.Now})

	before, err := engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", before.ServiceDay)

	// 17:30 UTC is already the next day at UTC+7.
	clock.Advance(time.Hour)
	after, err := engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-02", after.ServiceDay)
	assert.Equal(t, 1, after.SequenceNumber)
}

func TestPublishesAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = h.engine.CallTicket(ctx, ticket.TicketID, counterC1)
	require.NoError(t, err)
	assert.Equal(t, []models.Table{models.TableTickets, models.TableTickets, models.TableCounters}, h.published.Tables())

	_, err = h.engine.RecallTicket(ctx, "missing")
	require.Error(t, err)
	assert.Len(t, h.published.Tables(), 3)
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	engine := New(memory.New(testSeed()), Options{
		Publisher: notify.PublisherFunc(func(context.Context, models.ChangeEvent) error {
			return errors.New("redis down")
		}),
	})
	_, err := engine.CreateTicket(ctx, "A")
	assert.NoError(t, err)
}

func TestResetClearsTicketsAndCounters(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = h.engine.CallTicket(ctx, ticket.TicketID, counterC1)
	require.NoError(t, err)

	require.NoError(t, h.engine.ResetTickets(ctx))
	tickets, err := h.engine.ListRecentTickets(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Nil(t, h.counter(t, counterC1).CurrentTicket)

	again, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A-001", again.TicketNumber)
}

func TestListTodayTickets(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	h.clock.Advance(24 * time.Hour)
	today, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)

	tickets, err := h.engine.ListTodayTickets(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, today.TicketID, tickets[0].TicketID)
}

func TestFormatTicketNumberWidth(t *testing.T) {
	cases := map[int]string{1: "A-001", 42: "A-042", 999: "A-999", 1000: "A-1000", 12345: "A-12345"}
	for seq, want := range cases {
		if got := models.FormatTicketNumber("A", seq); got != want {
			t.Fatalf("FormatTicketNumber(A, %d)=%q, want %q", seq, got, want)
		}
	}
}

// conflictStore rejects the first n inserts as if another writer had
// taken the number.
type conflictStore struct {
	store.Store
	mu        sync.Mutex
	remaining int
}

func (s *conflictStore) RunTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &conflictTx{Tx: tx, parent: s})
	})
}

type conflictTx struct {
	store.Tx
	parent *conflictStore
}

func (t *conflictTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	t.parent.mu.Lock()
	defer t.parent.mu.Unlock()
	if t.parent.remaining > 0 {
		t.parent.remaining--
		return store.ErrSequenceConflict
	}
	return t.Tx.InsertTicket(ctx, ticket)
}

func TestAllocatorRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(st store.Store) store.Store {
		return &conflictStore{Store: st, remaining: 2}
	})

	ticket, err := h.engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, ticket.Status)
	assert.Equal(t, fmt.Sprintf("A-%03d", ticket.SequenceNumber), ticket.TicketNumber)
}

func TestAllocatorGivesUpAsTransient(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(st store.Store) store.Store {
		return &conflictStore{Store: st, remaining: 100}
	})

	_, err := h.engine.CreateTicket(ctx, "A")
	require.Error(t, err)
	assert.True(t, store.IsRetryable(err))
	assert.NotErrorIs(t, err, store.ErrConflict)
}

// failingStore breaks UpdateTicket after the close-out step of a call.
type failingStore struct {
	store.Store
	failOn string
}

func (s *failingStore) RunTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	store.Tx
	failOn string
}

func (t *failingTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if ticket.TicketID == t.failOn {
		return store.Transient(errors.New("connection reset"))
	}
	return t.Tx.UpdateTicket(ctx, ticket)
}

func TestCallIsAtomic(t *testing.T) {
	ctx := context.Background()
	base := memory.New(testSeed())
	engine := New(base, Options{})

	first, err := engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	second, err := engine.CreateTicket(ctx, "A")
	require.NoError(t, err)
	_, err = engine.CallTicket(ctx, first.TicketID, counterC1)
	require.NoError(t, err)

	broken := New(&failingStore{Store: base, failOn: second.TicketID}, Options{})
	_, err = broken.CallTicket(ctx, second.TicketID, counterC1)
	require.Error(t, err)
	assert.True(t, store.IsRetryable(err))

	// The close-out of the first ticket was rolled back with the rest.
	tickets, err := engine.ListRecentTickets(ctx, 0)
	require.NoError(t, err)
	for _, ticket := range tickets {
		switch ticket.TicketID {
		case first.TicketID:
			assert.Equal(t, models.StatusCalled, ticket.Status)
		case second.TicketID:
			assert.Equal(t, models.StatusWaiting, ticket.Status)
		}
	}
	mismatches, err := engine.VerifyCounters(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

// driftStore lets a test corrupt a counter pointer behind the engine.
type driftStore struct {
	store.Store
}

func (s driftStore) point(ctx context.Context, counterID string, number *string) error {
	return s.Store.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetCurrentTicket(ctx, counterID, number)
	})
}

func TestVerifyCountersRepairsDrift(t *testing.T) {
	ctx := context.Background()
	st := driftStore{Store: memory.New(testSeed())}
	engine := New(st, Options{})

	ghost := "A-404"
	require.NoError(t, st.point(ctx, counterC2, &ghost))

	mismatches, err := engine.VerifyCounters(ctx, false)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, counterC2, mismatches[0].CounterID)
	assert.Empty(t, mismatches[0].CalledTickets)

	_, err = engine.VerifyCounters(ctx, true)
	require.NoError(t, err)
	mismatches, err = engine.VerifyCounters(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}
