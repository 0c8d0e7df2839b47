// Package stats derives queue metrics from a ticket collection. Nothing
// here mutates its input or keeps state between calls.
package stats

import (
	"time"

	"qms/dispatch-service/internal/models"
)

// DefaultServiceMinutes stands in for the average service time of a
// counter that has not served anyone yet.
const DefaultServiceMinutes = 5.0

type CounterStats struct {
	CounterID       string  `json:"counter_id"`
	TicketsServed   int     `json:"tickets_served"`
	TicketsSkipped  int     `json:"tickets_skipped"`
	WaitingCount    int     `json:"waiting_count"`
	AvgServiceTime  float64 `json:"avg_service_time"`
	AvgWaitTime     float64 `json:"avg_wait_time"`
	CompletionRate  float64 `json:"completion_rate"`
	CurrentWaitTime float64 `json:"current_wait_time"`
}

type ServiceStats struct {
	ServiceName    string  `json:"service_name"`
	ServiceCode    string  `json:"service_code"`
	TotalTickets   int     `json:"total_tickets"`
	ServedTickets  int     `json:"served_tickets"`
	AvgWaitTime    float64 `json:"avg_wait_time"`
	AvgServiceTime float64 `json:"avg_service_time"`
}

type Summary struct {
	Day            string  `json:"day"`
	Total          int     `json:"total"`
	Waiting        int     `json:"waiting"`
	Called         int     `json:"called"`
	Served         int     `json:"served"`
	Skipped        int     `json:"skipped"`
	AvgWaitTime    float64 `json:"avg_wait_time"`
	AvgServiceTime float64 `json:"avg_service_time"`
	CompletionRate float64 `json:"completion_rate"`
}

// WaitTime is the time from issue to call, in minutes.
func WaitTime(ticket models.Ticket) float64 {
	if ticket.CalledAt == nil || ticket.CreatedAt.IsZero() {
		return 0
	}
	return minutesBetween(ticket.CreatedAt, *ticket.CalledAt)
}

// ServiceTime is the time from call to served, in minutes.
func ServiceTime(ticket models.Ticket) float64 {
	if ticket.CalledAt == nil || ticket.ServedAt == nil {
		return 0
	}
	return minutesBetween(*ticket.CalledAt, *ticket.ServedAt)
}

// ForCounter summarises today's work at one counter. The queue depth
// counts waiting tickets routed to the counter or, when serviceCode is
// set, unrouted tickets of that service; with an empty serviceCode every
// waiting ticket counts.
func ForCounter(counterID, serviceCode string, tickets []models.Ticket, day models.Day) CounterStats {
	out := CounterStats{CounterID: counterID}
	var served []models.Ticket
	for _, ticket := range tickets {
		if !day.Contains(ticket.CreatedAt) {
			continue
		}
		switch ticket.Status {
		case models.StatusServed:
			if ticket.AssignedTo(counterID) {
				served = append(served, ticket)
			}
		case models.StatusSkipped:
			if ticket.AssignedTo(counterID) {
				out.TicketsSkipped++
			}
		case models.StatusWaiting:
			if inQueue(ticket, counterID, serviceCode) {
				out.WaitingCount++
			}
		}
	}

	out.TicketsServed = len(served)
	out.AvgServiceTime = mean(served, ServiceTime)
	out.AvgWaitTime = mean(served, WaitTime)
	out.CompletionRate = completionRate(out.TicketsServed, out.TicketsSkipped)

	perTicket := out.AvgServiceTime
	if perTicket == 0 {
		perTicket = DefaultServiceMinutes
	}
	out.CurrentWaitTime = float64(out.WaitingCount) * perTicket
	return out
}

// ForCounters computes ForCounter for each counter, keyed by counter id.
// serviceCodes maps a counter's service id to its code.
func ForCounters(counters []models.Counter, serviceCodes map[string]string, tickets []models.Ticket, day models.Day) map[string]CounterStats {
	out := make(map[string]CounterStats, len(counters))
	for _, counter := range counters {
		out[counter.CounterID] = ForCounter(counter.CounterID, serviceCodes[counter.ServiceID], tickets, day)
	}
	return out
}

// ForService summarises today's tickets currently associated with a
// service code.
func ForService(serviceCode string, tickets []models.Ticket, services []models.Service, day models.Day) ServiceStats {
	out := ServiceStats{ServiceName: "Unknown", ServiceCode: serviceCode}
	for _, svc := range services {
		if svc.Code == serviceCode {
			out.ServiceName = svc.Name
			break
		}
	}

	var served []models.Ticket
	for _, ticket := range tickets {
		if ticket.ServiceCode != serviceCode || !day.Contains(ticket.CreatedAt) {
			continue
		}
		out.TotalTickets++
		if ticket.Status == models.StatusServed {
			served = append(served, ticket)
		}
	}
	out.ServedTickets = len(served)
	out.AvgWaitTime = mean(served, WaitTime)
	out.AvgServiceTime = mean(served, ServiceTime)
	return out
}

// Today summarises the whole queue for the day.
func Today(tickets []models.Ticket, day models.Day) Summary {
	out := Summary{Day: day.Date}
	var served []models.Ticket
	for _, ticket := range tickets {
		if !day.Contains(ticket.CreatedAt) {
			continue
		}
		out.Total++
		switch ticket.Status {
		case models.StatusWaiting:
			out.Waiting++
		case models.StatusCalled:
			out.Called++
		case models.StatusServed:
			out.Served++
			served = append(served, ticket)
		case models.StatusSkipped:
			out.Skipped++
		}
	}
	out.AvgWaitTime = mean(served, WaitTime)
	out.AvgServiceTime = mean(served, ServiceTime)
	out.CompletionRate = completionRate(out.Served, out.Skipped)
	return out
}

func inQueue(ticket models.Ticket, counterID, serviceCode string) bool {
	if serviceCode == "" {
		return true
	}
	if ticket.CounterID != nil {
		return *ticket.CounterID == counterID
	}
	return ticket.ServiceCode == serviceCode
}

func completionRate(served, skipped int) float64 {
	if served+skipped == 0 {
		return 0
	}
	return float64(served) / float64(served+skipped) * 100
}

func mean(tickets []models.Ticket, metric func(models.Ticket) float64) float64 {
	if len(tickets) == 0 {
		return 0
	}
	var sum float64
	for _, ticket := range tickets {
		sum += metric(ticket)
	}
	return sum / float64(len(tickets))
}

func minutesBetween(from, to time.Time) float64 {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return d.Minutes()
}
