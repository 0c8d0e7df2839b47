// Package memory is an in-process store.Store. Units of work are
// serialized and staged on a copy of the state, so a failed unit leaves
// nothing behind.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"gopkg.in/yaml.v3"
)

type Seed struct {
	Services []models.Service `yaml:"services"`
	Counters []models.Counter `yaml:"counters"`
}

// LoadSeed reads reference data from a YAML file.
func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}

type sequenceKey struct {
	code string
	day  string
}

type issueKey struct {
	code     string
	day      string
	sequence int
}

type state struct {
	services  map[string]models.Service
	counters  map[string]models.Counter
	tickets   map[string]models.Ticket
	sequences map[sequenceKey]int
	issued    map[issueKey]string
}

func (s *state) clone() *state {
	out := &state{
		services:  make(map[string]models.Service, len(s.services)),
		counters:  make(map[string]models.Counter, len(s.counters)),
		tickets:   make(map[string]models.Ticket, len(s.tickets)),
		sequences: make(map[sequenceKey]int, len(s.sequences)),
		issued:    make(map[issueKey]string, len(s.issued)),
	}
	for k, v := range s.services {
		out.services[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v.Clone()
	}
	for k, v := range s.tickets {
		out.tickets[k] = v.Clone()
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k, v := range s.issued {
		out.issued[k] = v
	}
	return out
}

type Store struct {
	mu    sync.Mutex
	state *state
}

func New(seed Seed) *Store {
	st := &state{
		services:  make(map[string]models.Service),
		counters:  make(map[string]models.Counter),
		tickets:   make(map[string]models.Ticket),
		sequences: make(map[sequenceKey]int),
		issued:    make(map[issueKey]string),
	}
	for _, svc := range seed.Services {
		st.services[svc.ServiceID] = svc
	}
	for _, counter := range seed.Counters {
		st.counters[counter.CounterID] = counter.Clone()
	}
	return &Store{state: st}
}

func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(ctx, &tx{state: staged}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) ListRecentTickets(ctx context.Context, limit int) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tickets := sortedTickets(s.state.tickets, func(models.Ticket) bool { return true })
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (s *Store) ListTicketsCreatedSince(ctx context.Context, since time.Time) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTickets(s.state.tickets, func(t models.Ticket) bool {
		return !t.CreatedAt.Before(since)
	}), nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters := make([]models.Counter, 0, len(s.state.counters))
	for _, counter := range s.state.counters {
		counters = append(counters, counter.Clone())
	}
	sort.Slice(counters, func(i, j int) bool {
		if counters[i].Name != counters[j].Name {
			return counters[i].Name < counters[j].Name
		}
		return counters[i].CounterID < counters[j].CounterID
	})
	return counters, nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	services := make([]models.Service, 0, len(s.state.services))
	for _, svc := range s.state.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Code < services[j].Code })
	return services, nil
}

func (s *Store) SetCounterActive(ctx context.Context, counterID string, active bool) (models.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.state.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	counter.IsActive = active
	s.state.counters[counterID] = counter
	return counter.Clone(), nil
}

func (s *Store) ResetTickets(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	staged.tickets = make(map[string]models.Ticket)
	staged.sequences = make(map[sequenceKey]int)
	staged.issued = make(map[issueKey]string)
	for id, counter := range staged.counters {
		counter.CurrentTicket = nil
		staged.counters[id] = counter
	}
	s.state = staged
	return nil
}

// most recent first; ties broken by sequence so equal timestamps stay stable
func sortedTickets(all map[string]models.Ticket, keep func(models.Ticket) bool) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(all))
	for _, ticket := range all {
		if keep(ticket) {
			tickets = append(tickets, ticket.Clone())
		}
	}
	sort.Slice(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.SequenceNumber != b.SequenceNumber {
			return a.SequenceNumber > b.SequenceNumber
		}
		return a.TicketID > b.TicketID
	})
	return tickets
}

type tx struct {
	state *state
}

func (t *tx) ServiceByCode(ctx context.Context, code string) (models.Service, error) {
	for _, svc := range t.state.services {
		if svc.Code == code {
			return svc, nil
		}
	}
	return models.Service{}, store.ErrServiceNotFound
}

func (t *tx) ServiceByID(ctx context.Context, serviceID string) (models.Service, error) {
	svc, ok := t.state.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return svc, nil
}

func (t *tx) LockCounter(ctx context.Context, counterID string) (models.Counter, error) {
	counter, ok := t.state.counters[counterID]
	if !ok {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return counter.Clone(), nil
}

func (t *tx) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, ok := t.state.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket.Clone(), nil
}

func (t *tx) LockTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	return t.GetTicket(ctx, ticketID)
}

func (t *tx) CalledAtCounter(ctx context.Context, counterID string) ([]models.Ticket, error) {
	return sortedTickets(t.state.tickets, func(ticket models.Ticket) bool {
		return ticket.Status == models.StatusCalled && ticket.AssignedTo(counterID)
	}), nil
}

func (t *tx) NextSequence(ctx context.Context, serviceCode string, day models.Day) (int, error) {
	key := sequenceKey{code: serviceCode, day: day.Date}
	next := t.state.sequences[key]
	for issued := range t.state.issued {
		if issued.code == serviceCode && issued.day == day.Date && issued.sequence > next {
			next = issued.sequence
		}
	}
	next++
	t.state.sequences[key] = next
	return next, nil
}

func (t *tx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	key := issueKey{code: ticket.IssuedServiceCode, day: ticket.ServiceDay, sequence: ticket.SequenceNumber}
	if _, taken := t.state.issued[key]; taken {
		return store.ErrSequenceConflict
	}
	if _, exists := t.state.tickets[ticket.TicketID]; exists {
		return fmt.Errorf("ticket %s: %w", ticket.TicketID, store.ErrConflict)
	}
	t.state.issued[key] = ticket.TicketID
	t.state.tickets[ticket.TicketID] = ticket.Clone()
	return nil
}

func (t *tx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if _, ok := t.state.tickets[ticket.TicketID]; !ok {
		return store.ErrTicketNotFound
	}
	t.state.tickets[ticket.TicketID] = ticket.Clone()
	return nil
}

func (t *tx) SetCurrentTicket(ctx context.Context, counterID string, ticketNumber *string) error {
	counter, ok := t.state.counters[counterID]
	if !ok {
		return store.ErrCounterNotFound
	}
	if ticketNumber == nil {
		counter.CurrentTicket = nil
	} else {
		number := *ticketNumber
		counter.CurrentTicket = &number
	}
	t.state.counters[counterID] = counter
	return nil
}
