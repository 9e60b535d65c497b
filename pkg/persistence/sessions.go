// Package persistence provides SQLite-based storage for process sessions and
// crash-recovery bookkeeping.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session represents a Maestro execution session.
type Session struct {
	SessionID  string     `json:"session_id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Status     string     `json:"status"`      // active, shutdown, completed, crashed
	ConfigJSON string     `json:"config_json"` // Snapshot of config at session start
}

// Session status constants.
const (
	SessionStatusActive    = "active"
	SessionStatusShutdown  = "shutdown"  // Graceful shutdown, resumable
	SessionStatusCompleted = "completed" // All work done, not resumable
	SessionStatusCrashed   = "crashed"   // Unexpected termination, not resumable
)

// CreateSession creates a new session record in the database.
func CreateSession(db *sql.DB, sessionID, configJSON string) error {
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, status, config_json)
		VALUES (?, ?, ?)
	`, sessionID, SessionStatusActive, configJSON)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// UpdateSessionStatus updates the status and ended_at timestamp of a session.
func UpdateSessionStatus(db *sql.DB, sessionID, status string) error {
	var result sql.Result
	var err error
	if status == SessionStatusShutdown || status == SessionStatusCompleted || status == SessionStatusCrashed {
		result, err = db.Exec(`
			UPDATE sessions
			SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
			WHERE session_id = ?
		`, status, sessionID)
	} else {
		result, err = db.Exec(`
			UPDATE sessions SET status = ? WHERE session_id = ?
		`, status, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// scanSession scans a session row into a Session struct.
func scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var endedAt sql.NullString
	err := row.Scan(&session.SessionID, &session.StartedAt, &endedAt, &session.Status, &session.ConfigJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if endedAt.Valid {
		t, parseErr := time.Parse(time.RFC3339Nano, endedAt.String)
		if parseErr == nil {
			session.EndedAt = &t
		}
	}

	return &session, nil
}

// GetResumableSession returns the most recent session with status='shutdown'.
// Returns ErrSessionNotFound if no resumable session exists.
func GetResumableSession(db *sql.DB) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, started_at, ended_at, status, config_json
		FROM sessions
		WHERE status = ?
		ORDER BY ended_at DESC
		LIMIT 1
	`, SessionStatusShutdown)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get resumable session: %w", err)
	}
	return session, nil
}

// GetMostRecentResumableSession returns the most recent session that can be resumed.
// Returns nil, nil if no resumable session exists (this is not an error condition).
//
//nolint:nilnil // Returning nil,nil is intentional - no resumable session is a valid (non-error) outcome
func GetMostRecentResumableSession(db *sql.DB) (*Session, error) {
	session, err := GetResumableSession(db)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

// GetSession returns a session by ID.
// Returns ErrSessionNotFound if the session does not exist.
func GetSession(db *sql.DB, sessionID string) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, started_at, ended_at, status, config_json
		FROM sessions
		WHERE session_id = ?
	`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// MarkStaleSessions marks any 'active' sessions as 'crashed'.
// This should be called at startup to detect sessions that didn't shut down gracefully.
func MarkStaleSessions(db *sql.DB) (int64, error) {
	result, err := db.Exec(`
		UPDATE sessions
		SET status = ?, ended_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE status = ?
	`, SessionStatusCrashed, SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale sessions: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// ResetInFlightStories resets every story in sessionID that was neither new
// nor done back to new, clearing its assigned agent. Called at startup for a
// crashed session so in-flight work gets picked up again rather than stuck
// under an agent that no longer exists.
func ResetInFlightStories(db *sql.DB, sessionID string) (int64, error) {
	result, err := db.Exec(`
		UPDATE stories
		SET status = ?, assigned_agent = ''
		WHERE session_id = ? AND status NOT IN (?, ?)
	`, StatusNew, sessionID, StatusNew, StatusDone)
	if err != nil {
		return 0, fmt.Errorf("failed to reset in-flight stories: %w", err)
	}
	return result.RowsAffected()
}

// GetIncompleteStoriesForSession returns every story in sessionID whose
// status is neither done nor failed.
func GetIncompleteStoriesForSession(db *sql.DB, sessionID string) ([]*Story, error) {
	rows, err := db.Query(`
		SELECT id, spec_id, title, content, status, priority, approved_plan,
		       created_at, started_at, completed_at, assigned_agent,
		       tokens_used, cost_usd, metadata
		FROM stories
		WHERE session_id = ? AND status NOT IN (?, ?)
		ORDER BY priority DESC, created_at ASC
	`, sessionID, StatusDone, "failed")
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete stories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stories []*Story
	for rows.Next() {
		story := &Story{}
		if err := rows.Scan(
			&story.ID, &story.SpecID, &story.Title, &story.Content,
			&story.Status, &story.Priority, &story.ApprovedPlan,
			&story.CreatedAt, &story.StartedAt, &story.CompletedAt,
			&story.AssignedAgent, &story.TokensUsed, &story.CostUSD,
			&story.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		stories = append(stories, story)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stories, nil
}

// ConfigSnapshotToJSON converts a config struct to JSON for storage.
func ConfigSnapshotToJSON(config interface{}) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigSnapshotFromJSON parses a JSON config snapshot.
func ConfigSnapshotFromJSON(jsonStr string, target interface{}) error {
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
