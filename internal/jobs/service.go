// Package jobs runs conversation turns in the background. Callers submit a
// turn, get a job id back at once and poll until the job finishes.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/storage"
)

// Job types.
const (
	TypeTurn   = "turn"
	TypeResume = "resume"
)

// DefaultCeiling is how long a job may stay unfinished before polls report
// it as failed.
const DefaultCeiling = 5 * time.Minute

// FailedReply is shown for jobs that failed or timed out.
const FailedReply = "Sorry, something went wrong while processing your request. Please try again."

// ErrNotFound is returned when polling an unknown job.
var ErrNotFound = errors.New("job not found")

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id string, errMsg string) error
	AbandonJob(id, reason string) (bool, error)
	ActiveJob(conversationID string) (storage.Job, error)
	CancelPendingJobs(conversationID, reason string) (int, error)
}

// TurnRunner executes turns. *conversation.Controller implements it.
type TurnRunner interface {
	HandleTurn(ctx context.Context, id, text string, continuation bool) (conversation.Result, error)
	Resume(ctx context.Context, id string, input conversation.HumanInput) (conversation.Result, error)
	Reset(ctx context.Context, id string) error
	Suspended(ctx context.Context, id string) (bool, error)
}

// Observer counts jobs reaching a terminal state.
type Observer interface {
	ObserveJob(state string)
}

// State is the caller-visible state of a job.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is the answer to a poll.
type Status struct {
	JobID           string `json:"task_id"`
	State           State  `json:"status"`
	Reply           string `json:"reply,omitempty"`
	PendingFormKind string `json:"form_to_display,omitempty"`
	Error           string `json:"error,omitempty"`
}

type payload struct {
	ConversationID string                   `json:"conversation_id"`
	Text           string                   `json:"text,omitempty"`
	Continuation   bool                     `json:"is_continuation,omitempty"`
	Input          *conversation.HumanInput `json:"input,omitempty"`
}

// Service is the caller-facing side of the turn queue.
type Service struct {
	store    JobStore
	runner   TurnRunner
	ceiling  time.Duration
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. A ceiling <= 0 uses DefaultCeiling.
func NewService(store JobStore, runner TurnRunner, ceiling time.Duration, observer Observer) *Service {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Service{
		store:    store,
		runner:   runner,
		ceiling:  ceiling,
		observer: observer,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

func (s *Service) enqueue(jobType string, p payload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = s.store.EnqueueJob(storage.Job{
		ID:             id,
		Type:           jobType,
		ConversationID: p.ConversationID,
		PayloadJSON:    string(b),
	})
	if errors.Is(err, storage.ErrActiveJob) {
		return "", conversation.ErrBusy
	}
	if err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", jobType, err)
	}
	s.logger.Info("job enqueued", "job_id", id, "type", jobType, "conversation", p.ConversationID)
	return id, nil
}

// Submit queues a user message. It fails with conversation.ErrAwaitingResume
// when the conversation waits for human input and with conversation.ErrBusy
// when another job for it is unfinished.
func (s *Service) Submit(ctx context.Context, conversationID, text string, continuation bool) (string, error) {
	suspended, err := s.runner.Suspended(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if suspended {
		return "", conversation.ErrAwaitingResume
	}
	return s.enqueue(TypeTurn, payload{ConversationID: conversationID, Text: text, Continuation: continuation})
}

// Resume queues the human input for a suspended conversation.
func (s *Service) Resume(ctx context.Context, conversationID string, input conversation.HumanInput) (string, error) {
	suspended, err := s.runner.Suspended(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if !suspended {
		return "", conversation.ErrNotSuspended
	}
	return s.enqueue(TypeResume, payload{ConversationID: conversationID, Input: &input})
}

// Reset discards everything stored for the conversation. Jobs still queued
// for it are failed first so they cannot recreate its state. A turn a worker
// already claimed runs to the end, and Reset returns conversation.ErrBusy
// until it has.
func (s *Service) Reset(ctx context.Context, conversationID string) error {
	cancelled, err := s.store.CancelPendingJobs(conversationID, "conversation reset")
	if err != nil {
		return fmt.Errorf("cancelling queued jobs: %w", err)
	}
	if cancelled > 0 {
		s.logger.Info("queued jobs cancelled", "conversation", conversationID, "count", cancelled)
	}

	_, err = s.store.ActiveJob(conversationID)
	switch {
	case err == nil:
		return conversation.ErrBusy
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	err = s.runner.Reset(ctx, conversationID)
	if cancelled > 0 && errors.Is(err, conversation.ErrNotFound) {
		// Only a queued first message existed.
		return nil
	}
	return err
}

// Poll reports the state of a job. Jobs unfinished past the ceiling are
// marked failed.
func (s *Service) Poll(_ context.Context, jobID string) (Status, error) {
	job, err := s.store.GetJob(jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{}, ErrNotFound
	}
	if err != nil {
		return Status{}, err
	}

	switch job.Status {
	case storage.JobCompleted:
		var res conversation.Result
		if err := json.Unmarshal([]byte(job.ResultJSON), &res); err != nil {
			return Status{}, fmt.Errorf("decoding result of job %s: %w", jobID, err)
		}
		return Status{JobID: jobID, State: StateCompleted, Reply: res.Reply, PendingFormKind: res.PendingFormKind}, nil
	case storage.JobFailed:
		return Status{JobID: jobID, State: StateFailed, Error: FailedReply}, nil
	}

	if s.now().Sub(job.CreatedAt) > s.ceiling {
		abandoned, err := s.store.AbandonJob(jobID, fmt.Sprintf("no result after %s", s.ceiling))
		if err != nil {
			return Status{}, err
		}
		if abandoned {
			s.logger.Warn("job timed out", "job_id", jobID, "conversation", job.ConversationID)
			if s.observer != nil {
				s.observer.ObserveJob("timed_out")
			}
			return Status{JobID: jobID, State: StateFailed, Error: FailedReply}, nil
		}
		// Finished in the meantime.
		return s.Poll(context.Background(), jobID)
	}
	return Status{JobID: jobID, State: StateRunning}, nil
}
