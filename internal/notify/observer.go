package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"qms/dispatch-service/internal/models"
)

// View is one reconciled snapshot. Current maps a counter id to the
// ticket it is calling today.
type View struct {
	Tickets   []models.Ticket
	Counters  []models.Counter
	Current   map[string]models.Ticket
	Day       models.Day
	FetchedAt time.Time
}

// Today returns the snapshot tickets created on the view's day.
func (v View) Today() []models.Ticket {
	out := make([]models.Ticket, 0, len(v.Tickets))
	for _, t := range v.Tickets {
		if v.Day.Contains(t.CreatedAt) {
			out = append(out, t)
		}
	}
	return out
}

// Announcement is raised when a counter starts calling a ticket or the
// ticket it is calling gets recalled.
type Announcement struct {
	CounterID   string
	CounterName string
	Ticket      models.Ticket
	Recall      bool
}

type ObserverConfig struct {
	Source   ChangeSource
	Fetcher  Fetcher
	Retry    RetryPolicy
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger

	OnUpdate   func(View)
	OnAnnounce func(Announcement)
	OnError    func(error)
}

// Observer mirrors the ticket and counter collections. Every fetch
// replaces the local snapshot wholesale.
type Observer struct {
	cfg    ObserverConfig
	logger *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	generation  uint64
	refreshing  bool
	dirty       tableSet
	view        View
	loaded      bool
	fingerprint uint64
}

func NewObserver(cfg ObserverConfig) *Observer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Source == nil {
		cfg.Source = PollSource{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{cfg: cfg, logger: logger.With("component", "observer")}
}

// Start begins watching. Starting a running observer does nothing.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	gen := o.generation

	go func(done chan struct{}) {
		defer close(done)
		trigger := func(ctx context.Context, tables ...models.Table) {
			o.schedule(ctx, gen, tables)
		}
		if err := o.cfg.Source.Watch(runCtx, trigger); err != nil {
			o.logger.Error("change source stopped", "error", err)
			o.reportError(err)
		}
	}(o.done)
}

// Stop cancels pending timers and subscriptions. A fetch already in
// flight completes in the background and its result is dropped. Stopping
// twice is safe.
func (o *Observer) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	if cancel != nil {
		o.generation++
		o.refreshing = false
		o.dirty = tableSet{}
	}
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// View returns the latest snapshot.
func (o *Observer) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.view
	v.Tickets = slices.Clone(v.Tickets)
	v.Counters = slices.Clone(v.Counters)
	current := make(map[string]models.Ticket, len(v.Current))
	for k, t := range v.Current {
		current[k] = t
	}
	v.Current = current
	return v
}

// Refresh fetches both collections synchronously.
func (o *Observer) Refresh(ctx context.Context) error {
	o.mu.Lock()
	gen := o.generation
	o.mu.Unlock()
	return o.refresh(ctx, gen, allTables)
}

// schedule coalesces triggers so one refresh runs at a time and events
// arriving mid-fetch cause exactly one more pass.
func (o *Observer) schedule(ctx context.Context, gen uint64, tables []models.Table) {
	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		return
	}
	o.dirty = o.dirty.add(tables)
	if o.refreshing {
		o.mu.Unlock()
		return
	}
	o.refreshing = true
	o.mu.Unlock()

	go o.drain(ctx, gen)
}

func (o *Observer) drain(ctx context.Context, gen uint64) {
	for {
		o.mu.Lock()
		if gen != o.generation {
			o.mu.Unlock()
			return
		}
		want := o.dirty
		o.dirty = tableSet{}
		if want.empty() {
			o.refreshing = false
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()

		if err := o.refresh(ctx, gen, want); err != nil && !o.stale(gen) {
			o.logger.Error("refresh failed", "error", err)
			o.reportError(err)
		}
	}
}

func (o *Observer) refresh(ctx context.Context, gen uint64, want tableSet) error {
	o.mu.Lock()
	tickets, counters := o.view.Tickets, o.view.Counters
	o.mu.Unlock()

	if want.tickets {
		fetched, err := fetchWithFallback(ctx, o, "tickets", o.cfg.Fetcher.FetchTickets, o.cfg.Fetcher.FetchTodayTickets)
		if err != nil {
			return err
		}
		tickets = fetched
	}
	if want.counters {
		fetched, err := fetchWithFallback(ctx, o, "counters", o.cfg.Fetcher.FetchCounters, o.cfg.Fetcher.FetchCounters)
		if err != nil {
			return err
		}
		counters = fetched
	}
	o.apply(gen, tickets, counters)
	return nil
}

// fetchWithFallback retries primary under the policy. An empty result is
// a soft failure answered by one fallback read; if that read fails the
// empty result stands.
func fetchWithFallback[T any](ctx context.Context, o *Observer, collection string, primary, fallback func(context.Context) ([]T, error)) ([]T, error) {
	fetchCtx := context.WithoutCancel(ctx)
	rows, err := retry(ctx, o.cfg.Retry, func() ([]T, error) {
		return primary(fetchCtx)
	}, func(err error, next time.Duration) {
		fetchRetries.WithLabelValues(collection).Inc()
		o.logger.Warn("fetch failed, retrying", "collection", collection, "error", err, "retry_in", next)
	})
	if err != nil {
		fetchTotal.WithLabelValues(collection, "error").Inc()
		return nil, err
	}
	fetchTotal.WithLabelValues(collection, "ok").Inc()
	if len(rows) > 0 {
		return rows, nil
	}

	fallbackRows, err := fallback(fetchCtx)
	if err != nil {
		fallbackReads.WithLabelValues(collection, "error").Inc()
		o.logger.Warn("fallback read failed, accepting empty snapshot", "collection", collection, "error", err)
		return rows, nil
	}
	if len(fallbackRows) == 0 {
		fallbackReads.WithLabelValues(collection, "empty").Inc()
		o.logger.Info("empty snapshot confirmed by fallback read", "collection", collection)
	} else {
		fallbackReads.WithLabelValues(collection, "rows").Inc()
	}
	return fallbackRows, nil
}

func (o *Observer) apply(gen uint64, tickets []models.Ticket, counters []models.Counter) {
	now := o.cfg.Now()
	day := models.DayOf(now, o.cfg.Location)
	sum := fingerprint(day, tickets, counters)

	o.mu.Lock()
	if gen != o.generation {
		o.mu.Unlock()
		o.logger.Debug("discarding snapshot from stopped observer")
		return
	}
	o.view.FetchedAt = now
	if o.loaded && sum == o.fingerprint {
		o.mu.Unlock()
		return
	}

	next := View{
		Tickets:   tickets,
		Counters:  counters,
		Current:   CurrentTickets(tickets, day),
		Day:       day,
		FetchedAt: now,
	}
	var announcements []Announcement
	if o.loaded {
		announcements = diffCurrent(o.view.Current, next.Current, counters)
	}
	o.view = next
	o.loaded = true
	o.fingerprint = sum
	o.mu.Unlock()

	if o.cfg.OnUpdate != nil {
		o.cfg.OnUpdate(o.View())
	}
	if o.cfg.OnAnnounce != nil {
		for _, a := range announcements {
			o.cfg.OnAnnounce(a)
		}
	}
}

func (o *Observer) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.generation
}

func (o *Observer) reportError(err error) {
	if o.cfg.OnError != nil && !errors.Is(err, context.Canceled) {
		o.cfg.OnError(err)
	}
}

// CurrentTickets keeps, per counter, the first called ticket created on
// day. Tickets are expected most recent first.
func CurrentTickets(tickets []models.Ticket, day models.Day) map[string]models.Ticket {
	out := make(map[string]models.Ticket)
	for _, t := range tickets {
		if t.Status != models.StatusCalled || t.CounterID == nil || !day.Contains(t.CreatedAt) {
			continue
		}
		if _, ok := out[*t.CounterID]; ok {
			continue
		}
		out[*t.CounterID] = t
	}
	return out
}

func diffCurrent(prev, next map[string]models.Ticket, counters []models.Counter) []Announcement {
	names := make(map[string]string, len(counters))
	for _, c := range counters {
		names[c.CounterID] = c.Name
	}
	var out []Announcement
	for counterID, ticket := range next {
		before, ok := prev[counterID]
		switch {
		case !ok || before.TicketID != ticket.TicketID:
			out = append(out, Announcement{CounterID: counterID, CounterName: names[counterID], Ticket: ticket})
		case ticket.UpdatedAt.After(before.UpdatedAt):
			out = append(out, Announcement{CounterID: counterID, CounterName: names[counterID], Ticket: ticket, Recall: true})
		}
	}
	slices.SortFunc(out, func(a, b Announcement) int {
		return a.Ticket.UpdatedAt.Compare(b.Ticket.UpdatedAt)
	})
	return out
}

func fingerprint(day models.Day, tickets []models.Ticket, counters []models.Counter) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(day.Date)
	for _, t := range tickets {
		_, _ = d.WriteString("|t:" + t.TicketID + ":" + t.Status + ":" + t.ServiceCode + ":")
		if t.CounterID != nil {
			_, _ = d.WriteString(*t.CounterID)
		}
		_, _ = d.WriteString(":" + strconv.FormatInt(t.UpdatedAt.UnixNano(), 10))
	}
	for _, c := range counters {
		_, _ = d.WriteString("|c:" + c.CounterID + ":" + c.Name + ":" + strconv.FormatBool(c.IsActive) + ":")
		if c.CurrentTicket != nil {
			_, _ = d.WriteString(*c.CurrentTicket)
		}
	}
	return d.Sum64()
}

type tableSet struct {
	tickets  bool
	counters bool
}

var allTables = tableSet{tickets: true, counters: true}

func (s tableSet) empty() bool { return !s.tickets && !s.counters }

func (s tableSet) add(tables []models.Table) tableSet {
	if len(tables) == 0 {
		return allTables
	}
	for _, t := range tables {
		switch t {
		case models.TableTickets:
			s.tickets = true
		case models.TableCounters:
			s.counters = true
		default:
			return allTables
		}
	}
	return s
}
