package models

import "time"

type Table string

const (
	TableTickets  Table = "tickets"
	TableCounters Table = "counters"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent is an invalidation signal. Observers re-fetch the table
// instead of trusting anything beyond Table.
type ChangeEvent struct {
	Table       Table     `json:"table"`
	Op          string    `json:"op"`
	ID          string    `json:"id,omitempty"`
	ServiceCode string    `json:"service_code,omitempty"`
	At          time.Time `json:"at"`
}
