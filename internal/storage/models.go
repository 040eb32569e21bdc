package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveJob is returned when a conversation already has a pending or
// running job.
var ErrActiveJob = errors.New("conversation has an active job")

// Job status values.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID             string
	Type           string
	ConversationID string
	PayloadJSON    string
	ResultJSON     string
	Status         string // "pending", "running", "completed", "failed"
	Attempts       int
	RunAfter       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastError      string
}

// Checkpoint is the persisted state of one conversation.
type Checkpoint struct {
	ConversationID string
	StateJSON      string
	Suspended      bool
	UpdatedAt      time.Time
}
