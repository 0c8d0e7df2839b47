package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"
)

func seeded() *Store {
	return New(Seed{
		Services: []models.Service{{ServiceID: "s1", Code: "A", Name: "General", IsActive: true}},
		Counters: []models.Counter{{CounterID: "c1", Name: "Counter 1", ServiceID: "s1", IsActive: true}},
	})
}

func TestRunTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := seeded()
	day := models.DayOf(time.Now(), time.UTC)

	boom := errors.New("boom")
	err := st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.NextSequence(ctx, "A", day); err != nil {
			return err
		}
		number := "A-001"
		if err := tx.SetCurrentTicket(ctx, "c1", &number); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	counters, _ := st.ListCounters(ctx)
	if counters[0].CurrentTicket != nil {
		t.Fatalf("expected pointer rollback, got %v", *counters[0].CurrentTicket)
	}
	err = st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextSequence(ctx, "A", day)
		if err != nil {
			return err
		}
		if seq != 1 {
			t.Fatalf("expected sequence 1 after rollback, got %d", seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run tx: %v", err)
	}
}

func TestInsertTicketRejectsDuplicateSequence(t *testing.T) {
	ctx := context.Background()
	st := seeded()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	insert := func(id string) error {
		return st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertTicket(ctx, models.Ticket{
				TicketID:          id,
				ServiceCode:       "A",
				IssuedServiceCode: "A",
				ServiceDay:        "2024-03-01",
				SequenceNumber:    7,
				TicketNumber:      "A-007",
				Status:            models.StatusWaiting,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
		})
	}
	if err := insert("t1"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert("t2"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The counter catches up past numbers that are already taken.
	err := st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		seq, err := tx.NextSequence(ctx, "A", models.DayOf(now, time.UTC))
		if err != nil {
			return err
		}
		if seq != 8 {
			t.Fatalf("expected next sequence 8, got %d", seq)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run tx: %v", err)
	}
}

func TestListRecentTicketsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	st := seeded()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	err := st.RunTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 1; i <= 5; i++ {
			created := base.Add(time.Duration(i) * time.Minute)
			if err := tx.InsertTicket(ctx, models.Ticket{
				TicketID:          models.FormatTicketNumber("A", i),
				ServiceCode:       "A",
				IssuedServiceCode: "A",
				ServiceDay:        "2024-03-01",
				SequenceNumber:    i,
				TicketNumber:      models.FormatTicketNumber("A", i),
				Status:            models.StatusWaiting,
				CreatedAt:         created,
				UpdatedAt:         created,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed tickets: %v", err)
	}

	tickets, err := st.ListRecentTickets(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(tickets))
	}
	if tickets[0].TicketNumber != "A-005" || tickets[2].TicketNumber != "A-003" {
		t.Fatalf("unexpected order: %s .. %s", tickets[0].TicketNumber, tickets[2].TicketNumber)
	}

	since, err := st.ListTicketsCreatedSince(ctx, base.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 tickets since cutoff, got %d", len(since))
	}
}

func TestSetCounterActive(t *testing.T) {
	ctx := context.Background()
	st := seeded()
	counter, err := st.SetCounterActive(ctx, "c1", false)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if counter.IsActive {
		t.Fatalf("expected inactive counter")
	}
	if _, err := st.SetCounterActive(ctx, "missing", true); !errors.Is(err, store.ErrCounterNotFound) {
		t.Fatalf("expected counter not found, got %v", err)
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `services:
  - id: s1
    code: A
    name: General
    is_active: true
counters:
  - id: c1
    name: Counter 1
    service_id: s1
    is_active: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if len(seed.Services) != 1 || seed.Services[0].Code != "A" || !seed.Services[0].IsActive {
		t.Fatalf("unexpected services: %+v", seed.Services)
	}
	if len(seed.Counters) != 1 || seed.Counters[0].ServiceID != "s1" {
		t.Fatalf("unexpected counters: %+v", seed.Counters)
	}
}
