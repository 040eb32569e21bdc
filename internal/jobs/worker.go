package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/storage"
)

// Worker claims turn jobs and runs them. Each of its loops handles one job
// at a time; the job queue keeps one unfinished job per conversation, so
// loops never work on the same conversation.
type Worker struct {
	store    JobStore
	runner   TurnRunner
	poll     time.Duration
	loops    int
	observer Observer
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to
// 500ms; loops below one mean one.
func NewWorker(store JobStore, runner TurnRunner, pollInterval time.Duration, loops int, observer Observer) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if loops < 1 {
		loops = 1
	}
	return &Worker{
		store:    store,
		runner:   runner,
		poll:     pollInterval,
		loops:    loops,
		observer: observer,
		logger:   slog.Default(),
	}
}

// Run polls for jobs on all loops until ctx is cancelled. A job already
// claimed runs to completion even after cancellation.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.loops; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{TypeTurn, TypeResume})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	res, err := w.process(context.WithoutCancel(ctx), job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "conversation", job.ConversationID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		w.observe(storage.JobFailed)
		return true, nil
	}

	b, err := json.Marshal(res)
	if err != nil {
		return true, fmt.Errorf("encoding result of job %s: %w", job.ID, err)
	}
	err = w.store.CompleteJob(job.ID, string(b))
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Warn("job finished after it was abandoned", "job_id", job.ID)
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.observe(storage.JobCompleted)
	return true, nil
}

func (w *Worker) observe(state string) {
	if w.observer != nil {
		w.observer.ObserveJob(state)
	}
}

func (w *Worker) process(ctx context.Context, job *storage.Job) (conversation.Result, error) {
	var p payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return conversation.Result{}, fmt.Errorf("parsing payload: %w", err)
	}

	switch job.Type {
	case TypeTurn:
		return w.runner.HandleTurn(ctx, p.ConversationID, p.Text, p.Continuation)
	case TypeResume:
		if p.Input == nil {
			return conversation.Result{}, fmt.Errorf("resume job without input")
		}
		return w.runner.Resume(ctx, p.ConversationID, *p.Input)
	}
	return conversation.Result{}, fmt.Errorf("unknown job type %q", job.Type)
}
