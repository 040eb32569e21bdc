package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/storage"
)

type mockRunner struct {
	handleFn    func(ctx context.Context, id, text string, continuation bool) (conversation.Result, error)
	resumeFn    func(ctx context.Context, id string, input conversation.HumanInput) (conversation.Result, error)
	suspendedFn func(id string) bool
	resets      []string
}

func (m *mockRunner) HandleTurn(ctx context.Context, id, text string, continuation bool) (conversation.Result, error) {
	return m.handleFn(ctx, id, text, continuation)
}

func (m *mockRunner) Resume(ctx context.Context, id string, input conversation.HumanInput) (conversation.Result, error) {
	return m.resumeFn(ctx, id, input)
}

func (m *mockRunner) Reset(_ context.Context, id string) error {
	m.resets = append(m.resets, id)
	return nil
}

func (m *mockRunner) Suspended(_ context.Context, id string) (bool, error) {
	if m.suspendedFn == nil {
		return false, nil
	}
	return m.suspendedFn(id), nil
}

type countingObserver struct {
	mu     sync.Mutex
	states map[string]int
}

func (o *countingObserver) ObserveJob(state string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.states == nil {
		o.states = map[string]int{}
	}
	o.states[state]++
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func echoRunner() *mockRunner {
	return &mockRunner{
		handleFn: func(_ context.Context, id, text string, _ bool) (conversation.Result, error) {
			return conversation.Result{Reply: "echo: " + text, Stage: conversation.StageCollectingInfo, PendingFormKind: conversation.FormCustomerInfo}, nil
		},
		resumeFn: func(_ context.Context, id string, input conversation.HumanInput) (conversation.Result, error) {
			return conversation.Result{Reply: "thanks " + input.Name, Stage: conversation.StageReady}, nil
		},
	}
}

func TestSubmitPollComplete(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	obs := &countingObserver{}
	svc := NewService(store, runner, 0, obs)
	w := NewWorker(store, runner, 0, 1, obs)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "conv-1", "Paris to Tokyo", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.State != StateRunning {
		t.Errorf("state before work = %q, want running", st.State)
	}

	didWork, err := w.RunOnce(ctx)
	if err != nil || !didWork {
		t.Fatalf("RunOnce = %v, %v; want true, nil", didWork, err)
	}

	st, err = svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.State != StateCompleted || st.Reply != "echo: Paris to Tokyo" || st.PendingFormKind != conversation.FormCustomerInfo {
		t.Errorf("status = %+v", st)
	}
	if obs.states[storage.JobCompleted] != 1 {
		t.Errorf("observed %v, want one completed job", obs.states)
	}
}

func TestSubmit_OneJobPerConversation(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, echoRunner(), 0, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "conv-1", "first", false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := svc.Submit(ctx, "conv-1", "second", true); !errors.Is(err, conversation.ErrBusy) {
		t.Errorf("second Submit err = %v, want ErrBusy", err)
	}
	if _, err := svc.Submit(ctx, "conv-2", "other", false); err != nil {
		t.Errorf("other conversation blocked: %v", err)
	}
}

func TestSubmit_WhileSuspended(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	runner.suspendedFn = func(id string) bool { return id == "conv-1" }
	svc := NewService(store, runner, 0, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "conv-1", "new request", false); !errors.Is(err, conversation.ErrAwaitingResume) {
		t.Errorf("Submit err = %v, want ErrAwaitingResume", err)
	}
	if _, err := svc.Resume(ctx, "conv-2", conversation.HumanInput{Name: "Ada"}); !errors.Is(err, conversation.ErrNotSuspended) {
		t.Errorf("Resume(not suspended) err = %v, want ErrNotSuspended", err)
	}

	id, err := svc.Resume(ctx, "conv-1", conversation.HumanInput{Name: "Ada"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := NewWorker(store, runner, 0, 1, nil).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	st, err := svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.Reply != "thanks Ada" {
		t.Errorf("reply = %q, want %q", st.Reply, "thanks Ada")
	}
}

func TestWorker_FailedTurn(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	runner.handleFn = func(context.Context, string, string, bool) (conversation.Result, error) {
		return conversation.Result{}, errors.New("saving conversation conv-1: disk full")
	}
	svc := NewService(store, runner, 0, nil)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "conv-1", "Paris to Tokyo", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := NewWorker(store, runner, 0, 1, nil).RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	st, err := svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.State != StateFailed || st.Error != FailedReply {
		t.Errorf("status = %+v, want failed with generic message", st)
	}

	job, _ := store.GetJob(id)
	if job.LastError == "" {
		t.Error("underlying error was not recorded")
	}
}

func TestPoll_Ceiling(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	svc := NewService(store, runner, time.Minute, nil)
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	ctx := context.Background()

	id, err := svc.Submit(ctx, "conv-1", "Paris to Tokyo", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	st, err := svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.State != StateFailed {
		t.Errorf("state = %q, want failed after the ceiling", st.State)
	}

	didWork, err := NewWorker(store, runner, 0, 1, nil).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if didWork {
		t.Error("worker claimed an abandoned job")
	}
	if _, err := svc.Submit(ctx, "conv-1", "again", true); err != nil {
		t.Errorf("Submit after timeout: %v", err)
	}
}

func TestPoll_Unknown(t *testing.T) {
	svc := NewService(openTestStore(t), echoRunner(), 0, nil)
	if _, err := svc.Poll(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReset(t *testing.T) {
	runner := echoRunner()
	svc := NewService(openTestStore(t), runner, 0, nil)
	if err := svc.Reset(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(runner.resets) != 1 || runner.resets[0] != "conv-1" {
		t.Errorf("resets = %v", runner.resets)
	}
}

func TestReset_CancelsQueuedTurn(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	handled := 0
	runner.handleFn = func(context.Context, string, string, bool) (conversation.Result, error) {
		handled++
		return conversation.Result{Reply: "ok"}, nil
	}
	svc := NewService(store, runner, 0, nil)
	ctx := context.Background()

	id, err := svc.Submit(ctx, "conv-1", "Paris to Tokyo", false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Reset(ctx, "conv-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	didWork, err := NewWorker(store, runner, 0, 1, nil).RunOnce(ctx)
	if err != nil || didWork {
		t.Fatalf("RunOnce = %v, %v; want false, nil", didWork, err)
	}
	if handled != 0 {
		t.Errorf("queued turn ran %d times after reset", handled)
	}
	st, err := svc.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if st.State != StateFailed {
		t.Errorf("state = %q, want failed", st.State)
	}
	if _, err := svc.Submit(ctx, "conv-1", "Rome to Lima", false); err != nil {
		t.Errorf("Submit after reset: %v", err)
	}
}

func TestReset_WhileTurnRunning(t *testing.T) {
	store := openTestStore(t)
	runner := echoRunner()
	svc := NewService(store, runner, 0, nil)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "conv-1", "Paris to Tokyo", false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := store.ClaimNextJob([]string{TypeTurn, TypeResume}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := svc.Reset(ctx, "conv-1"); !errors.Is(err, conversation.ErrBusy) {
		t.Errorf("Reset err = %v, want ErrBusy", err)
	}
	if len(runner.resets) != 0 {
		t.Errorf("state reset under a running turn: %v", runner.resets)
	}
}

func TestWorker_RunsConversationsInParallel(t *testing.T) {
	store := openTestStore(t)
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	runner := echoRunner()
	runner.handleFn = func(_ context.Context, id, text string, _ bool) (conversation.Result, error) {
		started.Done()
		<-release
		return conversation.Result{Reply: id}, nil
	}
	svc := NewService(store, runner, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	a, _ := svc.Submit(ctx, "conv-a", "Paris to Tokyo", false)
	b, _ := svc.Submit(ctx, "conv-b", "Rome to Lima", false)

	done := make(chan error, 1)
	go func() { done <- NewWorker(store, runner, 10*time.Millisecond, 2, nil).Run(ctx) }()

	both := make(chan struct{})
	go func() { started.Wait(); close(both) }()
	select {
	case <-both:
	case <-time.After(5 * time.Second):
		t.Fatal("turns for different conversations did not run concurrently")
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for _, id := range []string{a, b} {
		for {
			st, err := svc.Poll(context.Background(), id)
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if st.State == StateCompleted {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("job %s did not complete", id)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
