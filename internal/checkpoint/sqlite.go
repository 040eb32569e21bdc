// Package checkpoint provides durable conversation.Store implementations.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/storage"
)

// SuspendedCounter reports how many conversations wait for human input.
type SuspendedCounter interface {
	CountSuspended(ctx context.Context) (int, error)
}

// SQLite stores each conversation as one row of the checkpoints table.
type SQLite struct {
	store *storage.Store
}

// NewSQLite returns a store backed by s.
func NewSQLite(s *storage.Store) *SQLite {
	return &SQLite{store: s}
}

func (s *SQLite) Load(_ context.Context, id string) (*conversation.State, error) {
	cp, err := s.store.GetCheckpoint(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var st conversation.State
	if err := json.Unmarshal([]byte(cp.StateJSON), &st); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", id, err)
	}
	return &st, nil
}

func (s *SQLite) Save(_ context.Context, st *conversation.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", st.ID, err)
	}
	return s.store.SaveCheckpoint(storage.Checkpoint{
		ConversationID: st.ID,
		StateJSON:      string(b),
		Suspended:      st.Suspended(),
	})
}

func (s *SQLite) Delete(_ context.Context, id string) error {
	err := s.store.DeleteCheckpoint(id)
	if errors.Is(err, storage.ErrNotFound) {
		return conversation.ErrNotFound
	}
	return err
}

func (s *SQLite) CountSuspended(context.Context) (int, error) {
	return s.store.CountSuspended()
}

var (
	_ conversation.Store = (*SQLite)(nil)
	_ SuspendedCounter   = (*SQLite)(nil)
)
