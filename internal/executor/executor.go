// Package executor runs the searches a turn needs, one after another.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/tripd/internal/fingerprint"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

// DefaultDelay separates consecutive provider calls within a turn.
const DefaultDelay = 1200 * time.Millisecond

// Locator resolves place names to provider codes. A failed lookup falls
// back to the text the traveller typed.
type Locator interface {
	Airport(ctx context.Context, place string) (string, error)
	City(ctx context.Context, place string) (string, error)
}

// Observer is notified after every provider call.
type Observer interface {
	ObserveSearch(c plan.Category, outcome string, d time.Duration)
}

// Task is one category to search for the given plan snapshot.
type Task struct {
	Category plan.Category
	Plan     plan.TripPlan
	OneWay   bool
}

// Executor runs tasks sequentially and never returns provider failures as
// errors; they become placeholder records instead.
type Executor struct {
	providers search.Providers
	locator   Locator
	observer  Observer
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration)
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDelay overrides the pause between provider calls.
func WithDelay(d time.Duration) Option {
	return func(e *Executor) { e.delay = d }
}

// WithLocator sets the place-name resolver.
func WithLocator(l Locator) Option {
	return func(e *Executor) { e.locator = l }
}

// WithObserver registers a call observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for the given providers.
func New(providers search.Providers, opts ...Option) *Executor {
	e := &Executor{
		providers: providers,
		delay:     DefaultDelay,
		sleep:     sleepCtx,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Run executes tasks in order and returns one record per task, in the same
// order, numbered from seq.
func (e *Executor) Run(ctx context.Context, tasks []Task, turn, seq int) []search.ResultRecord {
	records := make([]search.ResultRecord, 0, len(tasks))
	for i, t := range tasks {
		if i > 0 {
			e.sleep(ctx, e.delay)
		}
		fp := fingerprint.Compute(t.Category, t.Plan, t.OneWay)
		start := time.Now()
		offers, outcome := e.call(ctx, t)
		if e.observer != nil {
			e.observer.ObserveSearch(t.Category, outcome, time.Since(start))
		}
		n := seq + i
		records = append(records, search.ResultRecord{
			ID:          search.RecordID(t.Category, fp, n),
			Category:    t.Category,
			Fingerprint: fp,
			Offers:      offers,
			Seq:         n,
			Turn:        turn,
			Source:      search.SourceFresh,
		})
		e.logger.Info("search finished", "category", t.Category, "fingerprint", fp, "outcome", outcome, "offers", len(offers))
	}
	return records
}

func (e *Executor) call(ctx context.Context, t Task) (offers []search.Offer, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			offers = []search.Offer{search.Placeholder(t.Category, "panic", fmt.Errorf("%v", r))}
			outcome = "error"
		}
	}()

	p, ok := e.providers[t.Category]
	if !ok || p == nil {
		return []search.Offer{search.Placeholder(t.Category, "ConfigError", errors.New("no provider configured"))}, "error"
	}

	q := e.query(ctx, t)
	got, err := p.Search(ctx, q)
	if err != nil {
		e.logger.Warn("search failed", "category", t.Category, "error", err)
		return []search.Offer{search.Placeholder(t.Category, "ProviderError", err)}, "error"
	}
	// Offers are persisted with the conversation, so anything that cannot
	// be encoded is treated as a failed call.
	if _, err := json.Marshal(got); err != nil {
		return []search.Offer{search.Placeholder(t.Category, "SerializationError", err)}, "error"
	}
	if got == nil {
		got = []search.Offer{}
	}
	if len(got) == 0 {
		return got, "empty"
	}
	return got, "ok"
}

func (e *Executor) query(ctx context.Context, t Task) search.Query {
	p := t.Plan
	q := search.Query{
		Category:      t.Category,
		Origin:        p.Origin,
		Destination:   p.Destination,
		DepartureDate: p.DepartureDate,
		ReturnDate:    p.ReturnDate,
		PartySize:     p.PartySize,
		CabinClass:    p.CabinClass,
		DepartureTime: p.DepartureTimePref,
		ArrivalTime:   p.ArrivalTimePref,
		OneWay:        t.OneWay,
	}
	if t.OneWay {
		q.ReturnDate = ""
	}
	if e.locator == nil {
		return q
	}
	switch t.Category {
	case plan.CategoryFlights:
		q.Origin = e.resolve(ctx, e.locator.Airport, p.Origin)
		q.Destination = e.resolve(ctx, e.locator.Airport, p.Destination)
	case plan.CategoryHotels:
		q.Destination = e.resolve(ctx, e.locator.City, p.Destination)
	}
	return q
}

func (e *Executor) resolve(ctx context.Context, fn func(context.Context, string) (string, error), place string) string {
	if place == "" {
		return place
	}
	code, err := fn(ctx, place)
	if err != nil || code == "" {
		e.logger.Debug("location not resolved", "place", place, "error", err)
		return place
	}
	return code
}
