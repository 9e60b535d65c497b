package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"conductor/pkg/fsmkit"
)

// Store adapts the singleton database connection to fsmkit.Store, backing
// every fsmkit.Machine (workflow.Machine keyed by project id, tdd.Machine
// keyed by cycle id) with a single owner-agnostic table. It generalizes the
// fixed-shape agent_states table (one row per architect/coder agent) into a
// table any Store caller can use, the way schema.go's other tables already
// serve more than one owner kind.
type Store struct {
	db *sql.DB
}

// NewStore wraps the singleton database connection for use as an
// fsmkit.Store. Initialize must already have been called.
func NewStore() *Store {
	return &Store{db: GetDB()}
}

// Save marshals value as JSON and upserts it under id.
func (s *Store) Save(id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", id, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO fsm_snapshots (owner_id, state_data, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(owner_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = excluded.updated_at`,
		id, string(data))
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", id, err)
	}
	return nil
}

// Load unmarshals the stored snapshot for id into dest. It returns
// fsmkit.ErrNotFound if no snapshot has been saved for id.
func (s *Store) Load(id string, dest any) error {
	var data string
	err := s.db.QueryRow(`SELECT state_data FROM fsm_snapshots WHERE owner_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fsmkit.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal snapshot for %s: %w", id, err)
	}
	return nil
}
