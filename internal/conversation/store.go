package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when no state exists for a conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrBusy is returned when a turn for the conversation is in flight.
	ErrBusy = errors.New("conversation has a turn in flight")
	// ErrAwaitingResume is returned for a new request while the
	// conversation waits for human input.
	ErrAwaitingResume = errors.New("conversation is awaiting resume")
	// ErrNotSuspended is returned when resuming a conversation that does
	// not wait for anything.
	ErrNotSuspended = errors.New("conversation is not suspended")
)

// Store persists conversation state keyed by conversation id. Save replaces
// the whole state atomically.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps serialized states in a map.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.Lock()
	b, ok := m.states[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, st *State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[st.ID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return ErrNotFound
	}
	delete(m.states, id)
	return nil
}
