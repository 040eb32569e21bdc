package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveCheckpoint replaces the checkpoint of a conversation in a single
// statement.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (conversation_id, state_json, suspended, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			state_json = excluded.state_json,
			suspended = excluded.suspended,
			updated_at = excluded.updated_at`,
		cp.ConversationID, cp.StateJSON, cp.Suspended, updated.UTC().Format(time.RFC3339),
	)
	return err
}

// GetCheckpoint loads the checkpoint of a conversation.
func (s *Store) GetCheckpoint(conversationID string) (Checkpoint, error) {
	var cp Checkpoint
	var updatedAt string
	err := s.db.QueryRow(`SELECT conversation_id, state_json, suspended, updated_at
		FROM checkpoints WHERE conversation_id = ?`, conversationID,
	).Scan(&cp.ConversationID, &cp.StateJSON, &cp.Suspended, &updatedAt)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	if cp.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Checkpoint{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return cp, nil
}

// DeleteCheckpoint removes a conversation's checkpoint.
func (s *Store) DeleteCheckpoint(conversationID string) error {
	res, err := s.db.Exec(`DELETE FROM checkpoints WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountSuspended returns how many conversations await human input.
func (s *Store) CountSuspended() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE suspended = 1`).Scan(&n)
	return n, err
}
