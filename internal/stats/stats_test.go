package stats

import (
	"math"
	"testing"
	"time"

	"qms/dispatch-service/internal/models"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func at(minutes float64) *time.Time {
	t := base.Add(time.Duration(minutes * float64(time.Minute)))
	return &t
}

func ptr(s string) *string { return &s }

func ticket(id, code, status string, counter *string, called, served *time.Time) models.Ticket {
	return models.Ticket{
		TicketID:    id,
		ServiceCode: code,
		Status:      status,
		CounterID:   counter,
		CreatedAt:   base,
		CalledAt:    called,
		ServedAt:    served,
		UpdatedAt:   base,
	}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestWaitAndServiceTime(t *testing.T) {
	tests := []struct {
		name    string
		ticket  models.Ticket
		wait    float64
		service float64
	}{
		{"waiting", ticket("t1", "A", models.StatusWaiting, nil, nil, nil), 0, 0},
		{"called", ticket("t2", "A", models.StatusCalled, ptr("c1"), at(3), nil), 3, 0},
		{"served", ticket("t3", "A", models.StatusServed, ptr("c1"), at(2), at(6.5)), 2, 4.5},
		{"clock skew", ticket("t4", "A", models.StatusServed, ptr("c1"), at(-1), at(-2)), 0, 0},
	}
	for _, tt := range tests {
		if got := WaitTime(tt.ticket); !almost(got, tt.wait) {
			t.Fatalf("%s: WaitTime = %v, want %v", tt.name, got, tt.wait)
		}
		if got := ServiceTime(tt.ticket); !almost(got, tt.service) {
			t.Fatalf("%s: ServiceTime = %v, want %v", tt.name, got, tt.service)
		}
	}
}

func TestForCounter(t *testing.T) {
	day := models.DayOf(base, time.UTC)
	yesterday := ticket("old", "A", models.StatusServed, ptr("c1"), at(1), at(2))
	yesterday.CreatedAt = base.Add(-24 * time.Hour)

	tickets := []models.Ticket{
		ticket("s1", "A", models.StatusServed, ptr("c1"), at(2), at(6)),
		ticket("s2", "A", models.StatusServed, ptr("c1"), at(4), at(6)),
		ticket("k1", "A", models.StatusSkipped, ptr("c1"), at(5), nil),
		ticket("w1", "A", models.StatusWaiting, nil, nil, nil),
		ticket("w2", "B", models.StatusWaiting, nil, nil, nil),
		ticket("w3", "B", models.StatusWaiting, ptr("c1"), nil, nil),
		ticket("x1", "A", models.StatusServed, ptr("c2"), at(1), at(30)),
		yesterday,
	}
	before := make([]models.Ticket, len(tickets))
	for i, tk := range tickets {
		before[i] = tk.Clone()
	}

	got := ForCounter("c1", "A", tickets, day)
	if got.TicketsServed != 2 || got.TicketsSkipped != 1 {
		t.Fatalf("served/skipped = %d/%d", got.TicketsServed, got.TicketsSkipped)
	}
	if !almost(got.AvgServiceTime, 3) || !almost(got.AvgWaitTime, 3) {
		t.Fatalf("averages = %v/%v", got.AvgServiceTime, got.AvgWaitTime)
	}
	if !almost(got.CompletionRate, 200.0/3) {
		t.Fatalf("completion = %v", got.CompletionRate)
	}
	if got.WaitingCount != 2 {
		t.Fatalf("waiting = %d, want 2", got.WaitingCount)
	}
	if !almost(got.CurrentWaitTime, 6) {
		t.Fatalf("current wait = %v, want 6", got.CurrentWaitTime)
	}

	all := ForCounter("c1", "", tickets, day)
	if all.WaitingCount != 3 {
		t.Fatalf("unscoped waiting = %d, want 3", all.WaitingCount)
	}

	for i := range tickets {
		if tickets[i].Status != before[i].Status || tickets[i].TicketID != before[i].TicketID {
			t.Fatalf("input mutated at %d", i)
		}
	}
}

func TestForCounterIdle(t *testing.T) {
	day := models.DayOf(base, time.UTC)
	tickets := []models.Ticket{
		ticket("w1", "A", models.StatusWaiting, nil, nil, nil),
		ticket("w2", "A", models.StatusWaiting, nil, nil, nil),
	}
	got := ForCounter("c9", "A", tickets, day)
	if got.CompletionRate != 0 || got.AvgServiceTime != 0 || got.AvgWaitTime != 0 {
		t.Fatalf("expected zero rates, got %+v", got)
	}
	if !almost(got.CurrentWaitTime, 2*DefaultServiceMinutes) {
		t.Fatalf("current wait = %v", got.CurrentWaitTime)
	}
}

func TestForCounters(t *testing.T) {
	day := models.DayOf(base, time.UTC)
	counters := []models.Counter{
		{CounterID: "c1", ServiceID: "svc-a"},
		{CounterID: "c2", ServiceID: "svc-b"},
	}
	codes := map[string]string{"svc-a": "A", "svc-b": "B"}
	tickets := []models.Ticket{
		ticket("s1", "A", models.StatusServed, ptr("c1"), at(1), at(2)),
		ticket("w1", "B", models.StatusWaiting, nil, nil, nil),
	}
	got := ForCounters(counters, codes, tickets, day)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got["c1"].TicketsServed != 1 || got["c1"].WaitingCount != 0 {
		t.Fatalf("c1 = %+v", got["c1"])
	}
	if got["c2"].WaitingCount != 1 {
		t.Fatalf("c2 = %+v", got["c2"])
	}
}

func TestForService(t *testing.T) {
	day := models.DayOf(base, time.UTC)
	services := []models.Service{{ServiceID: "svc-a", Code: "A", Name: "Accounts"}}
	tickets := []models.Ticket{
		ticket("s1", "A", models.StatusServed, ptr("c1"), at(2), at(4)),
		ticket("w1", "A", models.StatusWaiting, nil, nil, nil),
		ticket("b1", "B", models.StatusServed, ptr("c2"), at(1), at(9)),
	}

	got := ForService("A", tickets, services, day)
	if got.ServiceName != "Accounts" || got.TotalTickets != 2 || got.ServedTickets != 1 {
		t.Fatalf("unexpected stats %+v", got)
	}
	if !almost(got.AvgWaitTime, 2) || !almost(got.AvgServiceTime, 2) {
		t.Fatalf("averages = %v/%v", got.AvgWaitTime, got.AvgServiceTime)
	}

	unknown := ForService("Z", tickets, services, day)
	if unknown.ServiceName != "Unknown" || unknown.TotalTickets != 0 || unknown.AvgWaitTime != 0 {
		t.Fatalf("unexpected stats %+v", unknown)
	}
}

func TestToday(t *testing.T) {
	day := models.DayOf(base, time.UTC)
	tickets := []models.Ticket{
		ticket("w1", "A", models.StatusWaiting, nil, nil, nil),
		ticket("c1", "A", models.StatusCalled, ptr("c1"), at(1), nil),
		ticket("s1", "A", models.StatusServed, ptr("c1"), at(2), at(5)),
		ticket("k1", "B", models.StatusSkipped, ptr("c2"), at(3), nil),
	}
	got := Today(tickets, day)
	if got.Total != 4 || got.Waiting != 1 || got.Called != 1 || got.Served != 1 || got.Skipped != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if !almost(got.CompletionRate, 50) || !almost(got.AvgServiceTime, 3) {
		t.Fatalf("unexpected rates %+v", got)
	}
	if Today(nil, day).CompletionRate != 0 {
		t.Fatal("empty day should report zero completion")
	}
}
