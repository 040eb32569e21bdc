package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/executor"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
	"github.com/kalambet/tripd/internal/storage"
)

func str(s string) *string { return &s }
func num(n int) *int       { return &n }

type scriptedExtractor map[string]plan.Patch

func (s scriptedExtractor) Extract(_ context.Context, text string) (plan.TripPlan, error) {
	p, ok := s[text]
	if !ok {
		return plan.TripPlan{}, errors.New("unparseable")
	}
	return plan.TripPlan{}.Apply(p), nil
}

func (s scriptedExtractor) Update(_ context.Context, _ plan.TripPlan, text string) (plan.Patch, error) {
	p, ok := s[text]
	if !ok {
		return plan.Patch{}, errors.New("unparseable")
	}
	return p, nil
}

var extractor = scriptedExtractor{
	"Paris to Tokyo, 2026-04-10 for 4 days": {
		Origin: str("Paris"), Destination: str("Tokyo"), DepartureDate: str("2026-04-10"), DurationDays: num(4),
	},
}

func newController(store conversation.Store) *conversation.Controller {
	providers := search.Providers{
		plan.CategoryFlights: search.ProviderFunc(func(context.Context, search.Query) ([]search.Offer, error) {
			return []search.Offer{{Airline: "JL", FlightNumber: "46", Price: "$900"}}, nil
		}),
		plan.CategoryHotels: search.ProviderFunc(func(context.Context, search.Query) ([]search.Offer, error) {
			return []search.Offer{{Name: "Hotel Gracery", PricePerNight: "$120"}}, nil
		}),
		plan.CategoryActivities: search.ProviderFunc(func(context.Context, search.Query) ([]search.Offer, error) {
			return []search.Offer{{Name: "Tea ceremony", Price: "$50"}}, nil
		}),
	}
	return conversation.NewController(store, extractor, executor.New(providers, executor.WithDelay(0)), nil, conversation.Options{})
}

func TestSQLite_RoundTrip(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	cs := NewSQLite(s)
	ctx := context.Background()

	if _, err := cs.Load(ctx, "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Load(missing) err = %v, want ErrNotFound", err)
	}

	st := conversation.NewState("c1")
	st.Suspension = &conversation.Suspension{Form: conversation.FormCustomerInfo, Step: conversation.StepPlanTurn, Request: "hello"}
	if err := cs.Save(ctx, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	n, err := cs.CountSuspended(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountSuspended = %d, %v; want 1", n, err)
	}

	got, err := cs.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Suspension == nil || got.Suspension.Request != "hello" {
		t.Errorf("loaded suspension = %+v", got.Suspension)
	}

	if err := cs.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := cs.Delete(ctx, "c1"); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

// run suspends a conversation, optionally reopens the database, and resumes.
func run(t *testing.T, restart bool) string {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	const msg = "Paris to Tokyo, 2026-04-10 for 4 days"
	input := conversation.HumanInput{Name: "Ada", Email: "ada@example.com", Budget: "$3,000"}

	s, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctrl := newController(NewSQLite(s))
	res, err := ctrl.HandleTurn(ctx, "conv-1", msg, false)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.PendingFormKind != conversation.FormCustomerInfo {
		t.Fatalf("first turn = %+v, want suspension", res)
	}

	if restart {
		s.Close()
		if s, err = storage.Open(dir); err != nil {
			t.Fatalf("reopen: %v", err)
		}
		ctrl = newController(NewSQLite(s))
	}
	defer s.Close()

	res, err = ctrl.Resume(ctx, "conv-1", input)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Stage != conversation.StageReady {
		t.Fatalf("stage = %q, want ready", res.Stage)
	}
	return res.Reply
}

func TestSuspendResumeSurvivesRestart(t *testing.T) {
	without := run(t, false)
	with := run(t, true)
	if with != without {
		t.Errorf("reply after restart differs:\n%s\n---\n%s", without, with)
	}
}
