package models

import (
	"fmt"
	"time"
)

type Ticket struct {
	TicketID          string     `json:"id"`
	ServiceCode       string     `json:"service_code"`
	IssuedServiceCode string     `json:"issued_service_code"`
	ServiceDay        string     `json:"service_day"`
	SequenceNumber    int        `json:"sequence_number"`
	TicketNumber      string     `json:"ticket_number"`
	Status            string     `json:"status"`
	CounterID         *string    `json:"counter_id"`
	CreatedAt         time.Time  `json:"created_at"`
	CalledAt          *time.Time `json:"called_at"`
	ServedAt          *time.Time `json:"served_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

const (
	StatusWaiting = "waiting"
	StatusCalled  = "called"
	StatusServed  = "served"
	StatusSkipped = "skipped"
)

const ticketNumberPad = 3

// FormatTicketNumber renders the display string for a sequence number.
// Numbers wider than the pad keep their natural width.
func FormatTicketNumber(serviceCode string, sequence int) string {
	return fmt.Sprintf("%s-%0*d", serviceCode, ticketNumberPad, sequence)
}

// AssignedTo reports whether the ticket carries the given counter id.
func (t Ticket) AssignedTo(counterID string) bool {
	return t.CounterID != nil && *t.CounterID == counterID
}

func (t Ticket) Clone() Ticket {
	out := t
	out.CounterID = cloneString(t.CounterID)
	out.CalledAt = cloneTime(t.CalledAt)
	out.ServedAt = cloneTime(t.ServedAt)
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
