// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	// Drivers registered by import side-effect, selected at runtime by dialect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/go-adk/adk/adk/event"
)

// SQLService is a durable Service backed by database/sql, supporting
// Postgres, MySQL and SQLite, dispatching placeholder syntax ("$1" vs "?")
// by dialect.
type SQLService struct {
	db      *sql.DB
	dialect string // "postgres", "mysql", or "sqlite"
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS adk_sessions (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id)
);
`

const createEventsSQL = `
CREATE TABLE IF NOT EXISTS adk_events (
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    event_id BIGINT NOT NULL,
    invocation_id VARCHAR(255) NOT NULL,
    event_json TEXT NOT NULL,
    PRIMARY KEY (app_name, user_id, session_id, event_id)
);
`

// NewSQLService opens a SQL-backed session store against an already-opened
// *sql.DB. dialect must be one of "postgres", "mysql", "sqlite".
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("session: db connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("session: unsupported dialect %q (want postgres, mysql, or sqlite)", dialect)
	}

	s := &SQLService{db: db, dialect: dialect}
	if _, err := db.Exec(createSessionsSQL); err != nil {
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	if _, err := db.Exec(createEventsSQL); err != nil {
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return s, nil
}

// ph returns the n-th (1-indexed) bind placeholder for the dialect.
func (s *SQLService) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLService) Create(ctx context.Context, key Key, initialState map[string]any) (*Session, error) {
	if key.SessionID == "" {
		key.SessionID = uuid.NewString()
	}
	if initialState == nil {
		initialState = map[string]any{}
	}
	stateJSON, err := json.Marshal(initialState)
	if err != nil {
		return nil, fmt.Errorf("session: marshal initial state: %w", err)
	}

	var exists int
	checkQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM adk_sessions WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	if err := s.db.QueryRowContext(ctx, checkQuery, key.AppName, key.UserID, key.SessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("session: check existing: %w", err)
	}
	if exists > 0 {
		return nil, ErrAlreadyExists
	}

	now := time.Now().UTC()
	insertQuery := fmt.Sprintf(
		"INSERT INTO adk_sessions (app_name, user_id, session_id, state_json, created_at, updated_at) VALUES (%s,%s,%s,%s,%s,%s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := s.db.ExecContext(ctx, insertQuery, key.AppName, key.UserID, key.SessionID, string(stateJSON), now, now); err != nil {
		return nil, fmt.Errorf("session: insert: %w", err)
	}

	return &Session{
		AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID,
		CreatedAt: now, LastUpdateTime: now, state: initialState,
	}, nil
}

func (s *SQLService) Get(ctx context.Context, key Key) (*Session, error) {
	query := fmt.Sprintf(
		"SELECT state_json, created_at, updated_at FROM adk_sessions WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))

	var stateJSON string
	var createdAt, updatedAt time.Time
	row := s.db.QueryRowContext(ctx, query, key.AppName, key.UserID, key.SessionID)
	if err := row.Scan(&stateJSON, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("session: unmarshal state: %w", err)
	}

	evs, err := s.ListEvents(ctx, key, "")
	if err != nil {
		return nil, err
	}

	return &Session{
		AppName: key.AppName, UserID: key.UserID, SessionID: key.SessionID,
		CreatedAt: createdAt, LastUpdateTime: updatedAt, state: state, events: evs,
	}, nil
}

// AppendEvent assigns the next dense EventID inside a transaction that first
// locks the session row (SELECT ... FOR UPDATE on postgres and mysql; sqlite
// serializes writers with its database-level write lock), then folds the
// state delta unless the event is partial.
func (s *SQLService) AppendEvent(ctx context.Context, key Key, ev *event.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	selectStateQuery := fmt.Sprintf(
		"SELECT state_json FROM adk_sessions WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	if s.dialect != "sqlite" {
		selectStateQuery += " FOR UPDATE"
	}
	if err := tx.QueryRowContext(ctx, selectStateQuery, key.AppName, key.UserID, key.SessionID).Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("session: lock session row: %w", err)
	}

	var maxID sql.NullInt64
	maxIDQuery := fmt.Sprintf(
		"SELECT MAX(event_id) FROM adk_events WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	if err := tx.QueryRowContext(ctx, maxIDQuery, key.AppName, key.UserID, key.SessionID).Scan(&maxID); err != nil {
		return fmt.Errorf("session: max event id: %w", err)
	}
	ev.EventID = uint64(maxID.Int64) + 1
	ev.SessionID = key.SessionID

	evJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}
	insertEventQuery := fmt.Sprintf(
		"INSERT INTO adk_events (app_name, user_id, session_id, event_id, invocation_id, event_json) VALUES (%s,%s,%s,%s,%s,%s)",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	if _, err := tx.ExecContext(ctx, insertEventQuery, key.AppName, key.UserID, key.SessionID, ev.EventID, ev.InvocationID, string(evJSON)); err != nil {
		return fmt.Errorf("session: insert event: %w", err)
	}

	if !ev.Partial && len(ev.Actions.StateDelta) > 0 {
		var state map[string]any
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return fmt.Errorf("session: unmarshal state: %w", err)
		}
		if state == nil {
			state = make(map[string]any)
		}
		for k, v := range ev.Actions.StateDelta {
			state[k] = v
		}
		newStateJSON, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("session: marshal state: %w", err)
		}
		updateQuery := fmt.Sprintf(
			"UPDATE adk_sessions SET state_json=%s, updated_at=%s WHERE app_name=%s AND user_id=%s AND session_id=%s",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
		if _, err := tx.ExecContext(ctx, updateQuery, string(newStateJSON), time.Now().UTC(), key.AppName, key.UserID, key.SessionID); err != nil {
			return fmt.Errorf("session: update state: %w", err)
		}
	} else {
		touchQuery := fmt.Sprintf(
			"UPDATE adk_sessions SET updated_at=%s WHERE app_name=%s AND user_id=%s AND session_id=%s",
			s.ph(1), s.ph(2), s.ph(3), s.ph(4))
		if _, err := tx.ExecContext(ctx, touchQuery, time.Now().UTC(), key.AppName, key.UserID, key.SessionID); err != nil {
			return fmt.Errorf("session: touch session: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLService) ListEvents(ctx context.Context, key Key, sinceInvocation string) ([]*event.Event, error) {
	query := fmt.Sprintf(
		"SELECT event_json FROM adk_events WHERE app_name=%s AND user_id=%s AND session_id=%s ORDER BY event_id ASC",
		s.ph(1), s.ph(2), s.ph(3))
	rows, err := s.db.QueryContext(ctx, query, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session: list events: %w", err)
	}
	defer rows.Close()

	var all []*event.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("session: scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("session: unmarshal event: %w", err)
		}
		all = append(all, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if sinceInvocation == "" {
		return all, nil
	}
	for i, e := range all {
		if e.InvocationID == sinceInvocation {
			return all[i:], nil
		}
	}
	return nil, nil
}

func (s *SQLService) ApplyStateDelta(ctx context.Context, key Key, delta map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback()

	var stateJSON string
	selectQuery := fmt.Sprintf(
		"SELECT state_json FROM adk_sessions WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	if s.dialect != "sqlite" {
		selectQuery += " FOR UPDATE"
	}
	if err := tx.QueryRowContext(ctx, selectQuery, key.AppName, key.UserID, key.SessionID).Scan(&stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("session: lock session row: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return fmt.Errorf("session: unmarshal state: %w", err)
	}
	if state == nil {
		state = make(map[string]any)
	}
	for k, v := range delta {
		state[k] = v
	}
	newStateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}

	updateQuery := fmt.Sprintf(
		"UPDATE adk_sessions SET state_json=%s, updated_at=%s WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := tx.ExecContext(ctx, updateQuery, string(newStateJSON), time.Now().UTC(), key.AppName, key.UserID, key.SessionID); err != nil {
		return fmt.Errorf("session: update state: %w", err)
	}
	return tx.Commit()
}

func (s *SQLService) List(ctx context.Context, appName, userID string) ([]*Session, error) {
	var rows *sql.Rows
	var err error
	if userID == "" {
		query := fmt.Sprintf("SELECT user_id, session_id, state_json, created_at, updated_at FROM adk_sessions WHERE app_name=%s", s.ph(1))
		rows, err = s.db.QueryContext(ctx, query, appName)
	} else {
		query := fmt.Sprintf("SELECT user_id, session_id, state_json, created_at, updated_at FROM adk_sessions WHERE app_name=%s AND user_id=%s", s.ph(1), s.ph(2))
		rows, err = s.db.QueryContext(ctx, query, appName, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var uid, sid, stateJSON string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&uid, &sid, &stateJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		var state map[string]any
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("session: unmarshal state: %w", err)
		}
		out = append(out, &Session{
			AppName: appName, UserID: uid, SessionID: sid,
			CreatedAt: createdAt, LastUpdateTime: updatedAt, state: state,
		})
	}
	return out, rows.Err()
}

func (s *SQLService) Delete(ctx context.Context, key Key) error {
	delEventsQuery := fmt.Sprintf(
		"DELETE FROM adk_events WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	if _, err := s.db.ExecContext(ctx, delEventsQuery, key.AppName, key.UserID, key.SessionID); err != nil {
		return fmt.Errorf("session: delete events: %w", err)
	}

	delSessionQuery := fmt.Sprintf(
		"DELETE FROM adk_sessions WHERE app_name=%s AND user_id=%s AND session_id=%s",
		s.ph(1), s.ph(2), s.ph(3))
	res, err := s.db.ExecContext(ctx, delSessionQuery, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Service = (*SQLService)(nil)
