package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/tripd/internal/executor"
	"github.com/kalambet/tripd/internal/fingerprint"
	"github.com/kalambet/tripd/internal/notify"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
)

func str(s string) *string { return &s }
func num(n int) *int       { return &n }

// scriptedExtractor maps known messages to plan patches.
type scriptedExtractor struct {
	patches map[string]plan.Patch
}

func (s *scriptedExtractor) Extract(_ context.Context, text string) (plan.TripPlan, error) {
	p, ok := s.patches[text]
	if !ok {
		return plan.TripPlan{}, errors.New("could not parse request")
	}
	return plan.TripPlan{}.Apply(p), nil
}

func (s *scriptedExtractor) Update(_ context.Context, _ plan.TripPlan, text string) (plan.Patch, error) {
	p, ok := s.patches[text]
	if !ok {
		return plan.Patch{}, errors.New("could not parse request")
	}
	return p, nil
}

const (
	msgParisTokyo = "Paris to Tokyo"
	msgDates      = "depart 2026-04-10 for 4 days"
	msgOrigin     = "Change my origin to London"
	msgBudget     = "Make my budget 5000"
	msgOsaka      = "Actually go to Osaka instead"
	msgThings     = "things to do in Tokyo"
	msgOneWay     = "one way from Paris to Tokyo on 2026-04-10"
	msgTokyoTrip  = "Trip to Tokyo from 2026-04-10 to 2026-04-14"
)

func newExtractor() *scriptedExtractor {
	budget := 5000.0
	return &scriptedExtractor{patches: map[string]plan.Patch{
		msgParisTokyo: {Origin: str("Paris"), Destination: str("Tokyo")},
		msgDates:      {DepartureDate: str("2026-04-10"), DurationDays: num(4)},
		msgOrigin:     {Origin: str("London")},
		msgBudget:     {TotalBudget: &budget},
		msgOsaka:      {Destination: str("Osaka")},
		msgThings:     {Destination: str("Tokyo")},
		msgOneWay:     {Origin: str("Paris"), Destination: str("Tokyo"), DepartureDate: str("2026-04-10")},
		msgTokyoTrip:  {Destination: str("Tokyo"), DepartureDate: str("2026-04-10"), ReturnDate: str("2026-04-14")},
	}}
}

var (
	testFlights = []search.Offer{
		{Airline: "JL", FlightNumber: "46", Price: "$900"},
		{Airline: "AF", FlightNumber: "276", Price: "$1,200"},
	}
	testHotels = []search.Offer{
		{Name: "Hotel Gracery", PricePerNight: "$120"},
		{Name: "Keio Plaza", PricePerNight: "$200"},
	}
	testActivities = []search.Offer{
		{Name: "Tea ceremony", Price: "$50"},
	}
	contact = HumanInput{Name: "Ada", Email: "ada@example.com", Budget: "$3,000"}
)

type harness struct {
	ctrl  *Controller
	store Store

	mu      sync.Mutex
	calls   map[plan.Category]int
	queries []search.Query
	fail    map[plan.Category]bool
}

func newHarness(t *testing.T, store Store, opts Options) *harness {
	t.Helper()
	h := &harness{store: store, calls: map[plan.Category]int{}, fail: map[plan.Category]bool{}}
	offers := map[plan.Category][]search.Offer{
		plan.CategoryFlights:    testFlights,
		plan.CategoryHotels:     testHotels,
		plan.CategoryActivities: testActivities,
	}
	providers := search.Providers{}
	for _, c := range plan.Categories {
		providers[c] = search.ProviderFunc(func(_ context.Context, q search.Query) ([]search.Offer, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.calls[c]++
			h.queries = append(h.queries, q)
			if h.fail[c] {
				return nil, errors.New("503 service unavailable")
			}
			return offers[c], nil
		})
	}
	exec := executor.New(providers, executor.WithDelay(0))
	h.ctrl = NewController(store, newExtractor(), exec, nil, opts)
	return h
}

func (h *harness) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, v := range h.calls {
		n += v
	}
	return n
}

// ready drives a conversation through the contact form and the date
// question until the first searches have run.
func (h *harness) ready(t *testing.T, id string) Result {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ctrl.HandleTurn(ctx, id, msgParisTokyo, false); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := h.ctrl.Resume(ctx, id, contact); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	res, err := h.ctrl.HandleTurn(ctx, id, msgDates, true)
	if err != nil {
		t.Fatalf("dates turn: %v", err)
	}
	return res
}

func TestScenario_InfoThenDatesThenSearch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newHarness(t, store, Options{})

	r1, err := h.ctrl.HandleTurn(ctx, "conv-1", msgParisTokyo, false)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if r1.Stage != StageCollectingInfo || r1.PendingFormKind != FormCustomerInfo {
		t.Errorf("turn 1 = %+v, want collecting_info with customer_info form", r1)
	}
	if r1.Reply != CollectingInfoReply {
		t.Errorf("turn 1 reply = %q", r1.Reply)
	}
	st, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.Stage != StagePausedForResume || st.Suspension == nil || st.Suspension.Request != msgParisTokyo {
		t.Errorf("persisted state = stage %q suspension %+v", st.Stage, st.Suspension)
	}

	if _, err := h.ctrl.HandleTurn(ctx, "conv-1", "Something else", false); !errors.Is(err, ErrAwaitingResume) {
		t.Errorf("new request while suspended err = %v, want ErrAwaitingResume", err)
	}

	r2, err := h.ctrl.Resume(ctx, "conv-1", contact)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r2.Stage != StageCollectingDates || r2.Reply != plan.AskTravelDates {
		t.Errorf("resume = %+v, want collecting_dates asking for dates", r2)
	}
	if h.total() != 0 {
		t.Errorf("searches before dates = %d, want 0", h.total())
	}

	r3, err := h.ctrl.HandleTurn(ctx, "conv-1", msgDates, true)
	if err != nil {
		t.Fatalf("dates turn: %v", err)
	}
	for _, c := range plan.Categories {
		if h.calls[c] != 1 {
			t.Errorf("%s executed %d times, want 1", c, h.calls[c])
		}
	}
	if r3.Stage != StageReady {
		t.Errorf("stage = %q, want ready", r3.Stage)
	}
	st, _ = store.Load(ctx, "conv-1")
	if st.Plan == nil || st.Plan.ReturnDate != "2026-04-14" {
		t.Errorf("plan = %+v, want return_date 2026-04-14", st.Plan)
	}
	if !strings.Contains(r3.Reply, "JL 46") || !strings.Contains(r3.Reply, "Hotel Gracery") {
		t.Errorf("reply missing offers: %q", r3.Reply)
	}

	if _, err := h.ctrl.Resume(ctx, "conv-1", contact); !errors.Is(err, ErrNotSuspended) {
		t.Errorf("Resume when not suspended err = %v, want ErrNotSuspended", err)
	}
}

func TestScenario_RepeatTurnReusesEverything(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})
	first := h.ready(t, "conv-1")
	before := h.total()

	again, err := h.ctrl.HandleTurn(ctx, "conv-1", msgDates, true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if h.total() != before {
		t.Errorf("repeat turn ran %d searches, want 0", h.total()-before)
	}
	if len(again.Executed) != 0 || len(again.Reused) != 3 {
		t.Errorf("executed %v reused %v, want none and all", again.Executed, again.Reused)
	}
	if again.Reply != first.Reply {
		t.Errorf("reply changed:\n%s\n---\n%s", first.Reply, again.Reply)
	}
}

func TestScenario_OriginChangeRerunsFlightsOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})
	h.ready(t, "conv-1")

	res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgOrigin, true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if h.calls[plan.CategoryFlights] != 2 || h.calls[plan.CategoryHotels] != 1 || h.calls[plan.CategoryActivities] != 1 {
		t.Errorf("calls = %v, want flights rerun only", h.calls)
	}
	if len(res.Executed) != 1 || res.Executed[0] != plan.CategoryFlights {
		t.Errorf("executed = %v, want [flights]", res.Executed)
	}
	if len(res.Reused) != 2 {
		t.Errorf("reused = %v, want hotels and activities", res.Reused)
	}
}

func TestScenario_BudgetOnlyChangesNeverSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})
	first := h.ready(t, "conv-1")
	before := h.total()

	for i := 0; i < 3; i++ {
		res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgBudget, true)
		if err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
		if len(res.Executed) != 0 {
			t.Errorf("turn %d executed %v", i, res.Executed)
		}
		if res.Mode != first.Mode {
			t.Errorf("mode = %q, want %q", res.Mode, first.Mode)
		}
	}
	if h.total() != before {
		t.Errorf("budget changes ran %d searches", h.total()-before)
	}
}

func TestScenario_DestinationChangeNeverReusesOldResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newHarness(t, store, Options{})
	h.ready(t, "conv-1")

	st, _ := store.Load(ctx, "conv-1")
	oldHotels := fingerprint.Compute(plan.CategoryHotels, *st.Plan, false)

	res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgOsaka, true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(res.Reused) != 0 || len(res.Executed) != 3 {
		t.Errorf("executed %v reused %v, want all executed", res.Executed, res.Reused)
	}

	st, _ = store.Load(ctx, "conv-1")
	for _, e := range st.Entries {
		if e.Kind == EntryToolResult && e.Turn == st.Turn && e.Record.Fingerprint == oldHotels {
			t.Errorf("turn %d used record %s fingerprinted for Tokyo", st.Turn, e.Record.ID)
		}
	}
}

func TestScenario_FlightsOutage(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), Options{})
	h.fail[plan.CategoryFlights] = true

	res := h.ready(t, "conv-1")
	if res.Mode != "provider_outage" {
		t.Errorf("mode = %q, want provider_outage", res.Mode)
	}
	if !strings.Contains(res.Reply, "flight search provider is having issues") {
		t.Errorf("reply does not acknowledge the outage: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "Hotel Gracery") || !strings.Contains(res.Reply, "Tea ceremony") {
		t.Errorf("reply lost the working categories: %q", res.Reply)
	}
	for _, f := range testFlights {
		if strings.Contains(res.Reply, f.Title()) {
			t.Errorf("reply mentions flight %q during an outage", f.Title())
		}
	}
}

func TestScenario_FailedSearchIsRetriedAfterOutage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})
	h.fail[plan.CategoryFlights] = true
	h.ready(t, "conv-1")

	h.fail[plan.CategoryFlights] = false
	res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgOrigin, true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !strings.Contains(res.Reply, "JL 46") {
		t.Errorf("reply = %q, want fresh flights", res.Reply)
	}
}

func TestNewTripKeepsContact(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newHarness(t, store, Options{})
	h.ready(t, "conv-1")

	res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgParisTokyo, false)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Stage != StageCollectingDates {
		t.Errorf("stage = %q, want collecting_dates (contact kept, dates forgotten)", res.Stage)
	}
	st, _ := store.Load(ctx, "conv-1")
	if len(st.Records()) != 0 {
		t.Errorf("records = %d, want history cleared", len(st.Records()))
	}
	if st.Contact != contact {
		t.Errorf("contact = %+v, want %+v", st.Contact, contact)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	h := newHarness(t, store, Options{})
	h.ready(t, "conv-1")

	if err := h.ctrl.Reset(ctx, "conv-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := store.Load(ctx, "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after reset err = %v, want ErrNotFound", err)
	}
	res, err := h.ctrl.HandleTurn(ctx, "conv-1", msgParisTokyo, true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Stage != StageCollectingInfo {
		t.Errorf("stage after reset = %q, want collecting_info", res.Stage)
	}
	if err := h.ctrl.Reset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reset(missing) err = %v, want ErrNotFound", err)
	}
}

func TestLowSignalInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})

	res, err := h.ctrl.HandleTurn(ctx, "conv-1", "ok", false)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Reply != plan.LowSignalReply || res.PendingFormKind != "" {
		t.Errorf("result = %+v, want low-signal reply without a form", res)
	}
}

func TestExtractorFailureAsksToRephrase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})
	h.ready(t, "conv-1")

	res, err := h.ctrl.HandleTurn(ctx, "conv-1", "Something the extractor cannot parse", true)
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Reply != RephraseReply {
		t.Errorf("reply = %q, want %q", res.Reply, RephraseReply)
	}
}

func TestActivitiesOnlyNeedsNoDates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})

	if _, err := h.ctrl.HandleTurn(ctx, "conv-1", msgThings, false); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	res, err := h.ctrl.Resume(ctx, "conv-1", contact)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(res.Executed) != 1 || res.Executed[0] != plan.CategoryActivities {
		t.Errorf("executed = %v, want [activities]", res.Executed)
	}
	if strings.Contains(res.Reply, "## Flights") || strings.Contains(res.Reply, "## Hotels") {
		t.Errorf("reply has sections outside the intent: %q", res.Reply)
	}
}

func TestMissingOriginSkipsFlights(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})

	if _, err := h.ctrl.HandleTurn(ctx, "conv-1", msgTokyoTrip, false); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	res, err := h.ctrl.Resume(ctx, "conv-1", contact)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.calls[plan.CategoryFlights] != 0 {
		t.Errorf("flights searched without an origin")
	}
	if res.Mode != "partial" {
		t.Errorf("mode = %q, want partial", res.Mode)
	}
	if !strings.Contains(res.Reply, plan.AskOrigin) {
		t.Errorf("reply does not ask for the origin: %q", res.Reply)
	}
	if strings.Contains(res.Reply, "couldn't find any flight") {
		t.Errorf("reply reports skipped flights as not found: %q", res.Reply)
	}
}

func TestDefaultOrigin(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{DefaultOrigin: "Shanghai"})

	if _, err := h.ctrl.HandleTurn(ctx, "conv-1", msgTokyoTrip, false); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if _, err := h.ctrl.Resume(ctx, "conv-1", contact); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.calls[plan.CategoryFlights] != 1 {
		t.Fatalf("flights calls = %d, want 1", h.calls[plan.CategoryFlights])
	}
	if q := h.queries[0]; q.Origin != "Shanghai" {
		t.Errorf("origin = %q, want Shanghai", q.Origin)
	}
}

func TestOneWayPolicy(t *testing.T) {
	tests := []struct {
		name       string
		allow      bool
		wantStage  Stage
		wantOneWay bool
	}{
		{"forced round trip asks for dates", false, StageCollectingDates, false},
		{"one way allowed searches", true, StageReady, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, NewMemoryStore(), Options{AllowOneWay: tt.allow})
			if _, err := h.ctrl.HandleTurn(ctx, "conv-1", msgOneWay, false); err != nil {
				t.Fatalf("HandleTurn: %v", err)
			}
			res, err := h.ctrl.Resume(ctx, "conv-1", contact)
			if err != nil {
				t.Fatalf("Resume: %v", err)
			}
			if res.Stage != tt.wantStage {
				t.Errorf("stage = %q, want %q", res.Stage, tt.wantStage)
			}
			if tt.wantOneWay && (len(h.queries) != 1 || !h.queries[0].OneWay) {
				t.Errorf("queries = %+v, want one one-way flight search", h.queries)
			}
		})
	}
}

func TestResumeWithIncompleteContactStaysSuspended(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, NewMemoryStore(), Options{})

	if _, err := h.ctrl.HandleTurn(ctx, "conv-1", msgParisTokyo, false); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	res, err := h.ctrl.Resume(ctx, "conv-1", HumanInput{Name: "Ada"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.PendingFormKind != FormCustomerInfo {
		t.Errorf("result = %+v, want the form again", res)
	}
	res, err = h.ctrl.Resume(ctx, "conv-1", HumanInput{Phone: "+33 1 23 45 67 89", Budget: "EUR 2500"})
	if err != nil {
		t.Fatalf("second Resume: %v", err)
	}
	if res.Stage != StageCollectingDates {
		t.Errorf("stage = %q, want collecting_dates", res.Stage)
	}
}

func TestBusyConversation(t *testing.T) {
	h := newHarness(t, NewMemoryStore(), Options{})
	release, err := h.ctrl.acquire("conv-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := h.ctrl.HandleTurn(context.Background(), "conv-1", msgParisTokyo, false); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if _, err := h.ctrl.HandleTurn(context.Background(), "conv-2", msgParisTokyo, false); err != nil {
		t.Errorf("other conversation blocked: %v", err)
	}
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, *State) error { return errors.New("disk full") }

func TestPersistenceFailureFailsTurn(t *testing.T) {
	h := newHarness(t, failingStore{NewMemoryStore()}, Options{})
	if _, err := h.ctrl.HandleTurn(context.Background(), "conv-1", msgParisTokyo, false); err == nil {
		t.Fatal("expected error when the checkpoint cannot be saved")
	}
}

type recordingNotifier struct {
	msgs []notify.Message
}

func (r *recordingNotifier) Notify(_ context.Context, m notify.Message) bool {
	r.msgs = append(r.msgs, m)
	return true
}

func TestNotifiesAfterSearch(t *testing.T) {
	n := &recordingNotifier{}
	h := newHarness(t, NewMemoryStore(), Options{Notifier: n})
	res := h.ready(t, "conv-1")

	if len(n.msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.msgs))
	}
	if n.msgs[0].To != contact.Email || n.msgs[0].Body != res.Reply {
		t.Errorf("notification = %+v", n.msgs[0])
	}
}
