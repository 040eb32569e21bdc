package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/tripd/internal/cache"
	"github.com/kalambet/tripd/internal/executor"
	"github.com/kalambet/tripd/internal/fingerprint"
	"github.com/kalambet/tripd/internal/notify"
	"github.com/kalambet/tripd/internal/plan"
	"github.com/kalambet/tripd/internal/search"
	"github.com/kalambet/tripd/internal/synthesis"
)

const (
	CollectingInfoReply = "✅ I have noted your travel needs.\n\n" +
		"Please fill in your contact information below (name, email, budget, etc.)," +
		"I will immediately search for suitable flights, hotels, and activities based on this information."
	RephraseReply = "I'm sorry, I had trouble understanding your request. Could you rephrase it?"
	NoSearchReply = "I've understood your request, but there's no specific search I can perform. How else can I help?"
)

// PlanExtractor turns free text into plan changes.
type PlanExtractor interface {
	Extract(ctx context.Context, text string) (plan.TripPlan, error)
	Update(ctx context.Context, prev plan.TripPlan, text string) (plan.Patch, error)
}

// Runner executes searches. *executor.Executor implements it.
type Runner interface {
	Run(ctx context.Context, tasks []executor.Task, turn, seq int) []search.ResultRecord
}

// Notifier receives a summary after each searched turn.
type Notifier interface {
	Notify(ctx context.Context, m notify.Message) bool
}

// Observer is told how turns end and which decision each category got.
type Observer interface {
	ObserveTurn(stage Stage, d time.Duration)
	ObserveDecision(c plan.Category, d plan.Decision)
}

// Options holds the optional collaborators and policies of a Controller.
type Options struct {
	Notifier Notifier
	Observer Observer
	Logger   *slog.Logger
	// DefaultOrigin fills a missing origin when flights are searched.
	DefaultOrigin string
	// AllowOneWay lets "one way" requests search one-way flights. When
	// false every flight search is a round trip.
	AllowOneWay bool
}

// Result is what a turn produced.
type Result struct {
	Reply           string          `json:"reply"`
	Stage           Stage           `json:"stage"`
	PendingFormKind string          `json:"pending_form_kind,omitempty"`
	Mode            synthesis.Mode  `json:"mode,omitempty"`
	Executed        []plan.Category `json:"executed,omitempty"`
	Reused          []plan.Category `json:"reused,omitempty"`
}

// Controller runs conversation turns. At most one turn per conversation is
// in flight; different conversations proceed independently.
type Controller struct {
	store     Store
	extractor PlanExtractor
	runner    Runner
	synth     *synthesis.Synthesizer
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewController wires a Controller. A nil synth uses the template narrator.
func NewController(store Store, extractor PlanExtractor, runner Runner, synth *synthesis.Synthesizer, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if synth == nil {
		synth = synthesis.New(nil, logger)
	}
	return &Controller{
		store:     store,
		extractor: extractor,
		runner:    runner,
		synth:     synth,
		opts:      opts,
		logger:    logger,
		inFlight:  make(map[string]bool),
	}
}

func (c *Controller) acquire(id string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[id] {
		return nil, ErrBusy
	}
	c.inFlight[id] = true
	return func() {
		c.mu.Lock()
		delete(c.inFlight, id)
		c.mu.Unlock()
	}, nil
}

func (c *Controller) load(ctx context.Context, id string) (*State, error) {
	st, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return NewState(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return st, nil
}

// Suspended reports whether the conversation waits for human input.
func (c *Controller) Suspended(ctx context.Context, id string) (bool, error) {
	st, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Suspended(), nil
}

// HandleTurn processes one user message. When continuation is false and the
// conversation already exists, a new trip is started; contact details are
// kept. A suspended conversation rejects the message with ErrAwaitingResume.
func (c *Controller) HandleTurn(ctx context.Context, id, text string, continuation bool) (Result, error) {
	release, err := c.acquire(id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	start := time.Now()
	st, err := c.load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if st.Suspended() {
		return Result{}, ErrAwaitingResume
	}
	if !continuation && len(st.Entries) > 0 {
		c.logger.Info("starting new trip", "conversation", id)
		st.startTrip()
	}

	st.Turn++
	st.add(Entry{Kind: EntryUserTurn, Text: text})

	if plan.IsLowSignal(text) {
		return c.finish(ctx, st, Result{Reply: plan.LowSignalReply, Stage: currentStage(st)}, start)
	}

	if !st.Contact.Complete() {
		st.Suspension = &Suspension{Form: FormCustomerInfo, Step: StepPlanTurn, Request: text}
		return c.finish(ctx, st, Result{
			Reply:           CollectingInfoReply,
			Stage:           StageCollectingInfo,
			PendingFormKind: FormCustomerInfo,
		}, start)
	}
	return c.planTurn(ctx, st, text, start)
}

// Resume merges the human input into a suspended conversation and continues
// the turn it was suspended in.
func (c *Controller) Resume(ctx context.Context, id string, input HumanInput) (Result, error) {
	release, err := c.acquire(id)
	if err != nil {
		return Result{}, err
	}
	defer release()

	start := time.Now()
	st, err := c.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Result{}, ErrNotSuspended
	}
	if err != nil {
		return Result{}, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	if !st.Suspended() {
		return Result{}, ErrNotSuspended
	}

	sus := *st.Suspension
	st.Suspension = nil
	st.Contact = st.Contact.Merge(input)

	if !st.Contact.Complete() {
		st.Suspension = &sus
		return c.finish(ctx, st, Result{
			Reply:           CollectingInfoReply,
			Stage:           StageCollectingInfo,
			PendingFormKind: FormCustomerInfo,
		}, start)
	}

	switch sus.Step {
	case StepPlanTurn:
		return c.planTurn(ctx, st, sus.Request, start)
	}
	return Result{}, fmt.Errorf("unknown resume step %q", sus.Step)
}

// Reset deletes everything stored for the conversation.
func (c *Controller) Reset(ctx context.Context, id string) error {
	release, err := c.acquire(id)
	if err != nil {
		return err
	}
	defer release()
	return c.store.Delete(ctx, id)
}

func currentStage(st *State) Stage {
	if st.Stage == "" || st.Stage == StagePausedForResume {
		return StageReady
	}
	return st.Stage
}

// finish records the reply and persists the state. A failed save fails the
// turn.
func (c *Controller) finish(ctx context.Context, st *State, res Result, start time.Time) (Result, error) {
	st.add(Entry{Kind: EntryAssistantReply, Text: res.Reply, Plan: st.Plan})
	st.Stage = res.Stage
	if st.Suspended() {
		st.Stage = StagePausedForResume
	}
	if err := c.store.Save(ctx, st); err != nil {
		return Result{}, fmt.Errorf("saving conversation %s: %w", st.ID, err)
	}
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveTurn(res.Stage, time.Since(start))
	}
	c.logger.Info("turn finished", "conversation", st.ID, "turn", st.Turn, "stage", res.Stage, "mode", res.Mode)
	return res, nil
}

func (c *Controller) derivePlan(ctx context.Context, prev *plan.TripPlan, text string) (plan.TripPlan, error) {
	if prev == nil {
		p, err := c.extractor.Extract(ctx, text)
		if err != nil {
			return plan.TripPlan{}, err
		}
		p.Normalize()
		return p, nil
	}
	patch, err := c.extractor.Update(ctx, *prev, text)
	if err != nil {
		return plan.TripPlan{}, err
	}
	return prev.Apply(patch), nil
}

func (c *Controller) planTurn(ctx context.Context, st *State, text string, start time.Time) (Result, error) {
	prev := st.Plan
	next, err := c.derivePlan(ctx, prev, text)
	if err != nil {
		c.logger.Warn("plan extraction failed", "conversation", st.ID, "error", err)
		return c.finish(ctx, st, Result{Reply: RephraseReply, Stage: currentStage(st)}, start)
	}

	if inferred, ok := plan.InferIntent(text); ok && inferred != next.Intent {
		c.logger.Info("intent overridden", "conversation", st.ID, "from", next.Intent, "to", inferred)
		next.Intent = inferred
	}
	if prev != nil && next.Intent != prev.Intent {
		plan.CleanupForIntent(&next, next.Intent, plan.ChangedFields(*prev, next), text)
	}
	if c.opts.AllowOneWay && plan.IsOneWay(text) {
		st.OneWay = true
	}
	if next.Origin == "" && plan.Applies(next.Intent, plan.CategoryFlights) {
		next.Origin = c.opts.DefaultOrigin
	}

	if next.Destination == "" {
		return c.finish(ctx, st, Result{Reply: plan.AskDestination, Stage: StageCollectingDates}, start)
	}
	switch {
	case next.Intent == plan.IntentFlightsOnly && st.OneWay:
		if next.DepartureDate == "" {
			st.Plan = &next
			return c.finish(ctx, st, Result{Reply: plan.AskDepartureDate, Stage: StageCollectingDates}, start)
		}
	case next.Intent.NeedsDates():
		if ok, ask := plan.NormalizeDates(&next); !ok {
			st.Plan = &next
			return c.finish(ctx, st, Result{Reply: ask, Stage: StageCollectingDates}, start)
		}
	}
	if next.Intent == plan.IntentFlightsOnly && next.Origin == "" {
		st.Plan = &next
		return c.finish(ctx, st, Result{Reply: plan.AskOrigin, Stage: StageCollectingDates}, start)
	}

	res, outcomes := c.search(ctx, st, prev, next)
	st.Plan = &next

	if len(res.Executed) == 0 && len(res.Reused) == 0 && len(st.Records()) == 0 {
		res.Reply = NoSearchReply
		res.Stage = StageReady
		return c.finish(ctx, st, res, start)
	}

	budget := next.TotalBudget
	if budget == 0 {
		budget, _ = plan.ParseBudget(st.Contact.Budget)
	}
	reply := c.synth.Compose(ctx, synthesis.Input{
		Plan:       next,
		Outcomes:   outcomes,
		Budget:     budget,
		HadHistory: len(st.Records()) > len(res.Executed)+len(res.Reused),
	})
	res.Reply = reply.Text
	res.Mode = reply.Mode
	res.Stage = StageReady

	out, err := c.finish(ctx, st, res, start)
	if err != nil {
		return Result{}, err
	}
	c.notify(ctx, st, next, out)
	return out, nil
}

// search decides, per required category, whether to reuse a logged record,
// execute a fresh search or skip, then runs the searches and logs every
// record used this turn.
func (c *Controller) search(ctx context.Context, st *State, prev *plan.TripPlan, next plan.TripPlan) (Result, map[plan.Category]synthesis.Outcome) {
	rerun := plan.Decide(prev, next)
	history := st.Records()

	var tasks []executor.Task
	var reused []search.ResultRecord
	for _, cat := range plan.Required(next.Intent) {
		decision := plan.DecisionExecute
		if missing := plan.MissingInputs(cat, next, st.OneWay); len(missing) > 0 {
			decision = plan.DecisionSkip
			c.logger.Info("search skipped", "conversation", st.ID, "category", cat, "missing", missing)
		} else if !rerun[cat] {
			fp := fingerprint.Compute(cat, next, st.OneWay)
			if rec, match := cache.Resolve(cat, fp, history); match != cache.MatchNone {
				decision = plan.DecisionReuse
				reused = append(reused, rec)
				c.logger.Info("reusing search result", "conversation", st.ID, "category", cat, "match", match, "record", rec.ID)
			}
		}
		if decision == plan.DecisionExecute {
			tasks = append(tasks, executor.Task{Category: cat, Plan: next, OneWay: st.OneWay})
		}
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveDecision(cat, decision)
		}
	}

	var res Result
	outcomes := make(map[plan.Category]synthesis.Outcome)
	seq := st.nextSeq()
	for _, rec := range reused {
		rec.Seq = seq
		rec.Turn = st.Turn
		rec.ID = search.RecordID(rec.Category, rec.Fingerprint, seq)
		rec.Source = search.SourceReused
		seq++
		st.add(Entry{Kind: EntryToolResult, Plan: &next, Record: &rec})
		outcomes[rec.Category] = synthesis.OutcomeFrom(rec)
		res.Reused = append(res.Reused, rec.Category)
	}
	if len(tasks) > 0 {
		for _, rec := range c.runner.Run(ctx, tasks, st.Turn, seq) {
			st.add(Entry{Kind: EntryToolResult, Plan: &next, Record: &rec})
			outcomes[rec.Category] = synthesis.OutcomeFrom(rec)
			res.Executed = append(res.Executed, rec.Category)
		}
	}
	return res, outcomes
}

func (c *Controller) notify(ctx context.Context, st *State, p plan.TripPlan, res Result) {
	if c.opts.Notifier == nil || st.Contact.Email == "" {
		return
	}
	c.opts.Notifier.Notify(ctx, notify.Message{
		ConversationID: st.ID,
		To:             st.Contact.Email,
		Name:           st.Contact.Name,
		Subject:        "Your trip to " + strings.TrimSpace(p.Destination),
		Body:           res.Reply,
	})
}
