package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SessionEvent is one structured event in a thread's activity feed.
type SessionEvent struct {
	ID        int64           `json:"id" db:"id"`
	ThreadID  string          `json:"threadId" db:"thread_id"`
	Timestamp time.Time       `json:"time" db:"ts"`
	EventType string          `json:"type" db:"event_type"`
	Level     *string         `json:"level,omitempty" db:"level"`
	StepID    *string         `json:"stepId,omitempty" db:"step_id"`
	Data      json.RawMessage `json:"data" db:"data"`
}

// EventData is the common payload shape across event types.
type EventData struct {
	// For "status" events
	Status *string `json:"status,omitempty"`

	// For "log" events
	Message *string `json:"message,omitempty"`

	// For "step" events
	StepStatus *string `json:"stepStatus,omitempty"`

	// For "completion" events
	ResultSummary *string `json:"resultSummary,omitempty"`
}

// EnsureEventSchema creates the session_events table when it is missing.
// Called once at startup by the api command.
func EnsureEventSchema(ctx context.Context, db *sql.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS public.session_events (
			id         BIGSERIAL PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
			event_type TEXT NOT NULL,
			level      TEXT,
			step_id    TEXT,
			data       JSONB NOT NULL DEFAULT '{}'::jsonb
		);
		CREATE INDEX IF NOT EXISTS session_events_thread_ts_idx
			ON public.session_events (thread_id, ts);
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure session_events schema: %w", err)
	}
	return nil
}

// SessionEventsRepo handles database operations for session events.
type SessionEventsRepo struct {
	db *sql.DB
}

// NewSessionEventsRepo creates a new session events repository.
func NewSessionEventsRepo(db *sql.DB) *SessionEventsRepo {
	return &SessionEventsRepo{db: db}
}

// InsertEvent inserts a new session event into the database.
func (r *SessionEventsRepo) InsertEvent(ctx context.Context, event *SessionEvent) error {
	query := `
		INSERT INTO public.session_events (thread_id, ts, event_type, level, step_id, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := r.db.QueryRowContext(
		ctx, query,
		event.ThreadID,
		event.Timestamp,
		event.EventType,
		event.Level,
		event.StepID,
		event.Data,
	).Scan(&event.ID)

	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}

	return nil
}

// ListEventsCursor represents pagination cursor for events. SinceID cursors
// on the serial id and is the one to use for resumable streams: a timestamp
// cursor skips later events that share the last event's timestamp.
type ListEventsCursor struct {
	Since   *time.Time `json:"since,omitempty"`
	SinceID *int64     `json:"sinceId,omitempty"`
	Limit   int        `json:"limit"`
}

// ListEvents retrieves events for a thread with optional cursor-based pagination.
func (r *SessionEventsRepo) ListEvents(ctx context.Context, threadID string, cursor *ListEventsCursor) ([]*SessionEvent, error) {
	var query string
	var args []interface{}

	baseQuery := `
		SELECT id, thread_id, ts, event_type, level, step_id, data
		FROM public.session_events
		WHERE thread_id = $1
	`

	args = append(args, threadID)
	argCount := 1

	if cursor != nil && cursor.Since != nil {
		argCount++
		baseQuery += fmt.Sprintf(" AND ts > $%d", argCount)
		args = append(args, *cursor.Since)
	}

	if cursor != nil && cursor.SinceID != nil {
		argCount++
		baseQuery += fmt.Sprintf(" AND id > $%d", argCount)
		args = append(args, *cursor.SinceID)
	}

	baseQuery += " ORDER BY id ASC"

	limit := 100 // default
	if cursor != nil && cursor.Limit > 0 {
		limit = cursor.Limit
	}
	if limit > 1000 {
		limit = 1000 // max limit
	}

	argCount++
	query = baseQuery + fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	events := make([]*SessionEvent, 0)
	for rows.Next() {
		event := &SessionEvent{}
		err := rows.Scan(
			&event.ID,
			&event.ThreadID,
			&event.Timestamp,
			&event.EventType,
			&event.Level,
			&event.StepID,
			&event.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session events: %w", err)
	}

	return events, nil
}

// GetEventsByType retrieves events of a specific type for a thread.
func (r *SessionEventsRepo) GetEventsByType(ctx context.Context, threadID, eventType string, limit int) ([]*SessionEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100 // default/max limit
	}

	query := `
		SELECT id, thread_id, ts, event_type, level, step_id, data
		FROM public.session_events
		WHERE thread_id = $1 AND event_type = $2
		ORDER BY ts DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, threadID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events by type: %w", err)
	}
	defer rows.Close()

	events := make([]*SessionEvent, 0)
	for rows.Next() {
		event := &SessionEvent{}
		err := rows.Scan(
			&event.ID,
			&event.ThreadID,
			&event.Timestamp,
			&event.EventType,
			&event.Level,
			&event.StepID,
			&event.Data,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session events: %w", err)
	}

	return events, nil
}

// GetLatestStatusEvent gets the most recent status event for a thread.
func (r *SessionEventsRepo) GetLatestStatusEvent(ctx context.Context, threadID string) (*SessionEvent, error) {
	query := `
		SELECT id, thread_id, ts, event_type, level, step_id, data
		FROM public.session_events
		WHERE thread_id = $1 AND event_type = 'status'
		ORDER BY ts DESC
		LIMIT 1
	`

	event := &SessionEvent{}
	err := r.db.QueryRowContext(ctx, query, threadID).Scan(
		&event.ID,
		&event.ThreadID,
		&event.Timestamp,
		&event.EventType,
		&event.Level,
		&event.StepID,
		&event.Data,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No status event found
		}
		return nil, fmt.Errorf("failed to get latest status event: %w", err)
	}

	return event, nil
}

// DeleteEventsForThread deletes all events for a thread.
func (r *SessionEventsRepo) DeleteEventsForThread(ctx context.Context, threadID string) error {
	query := `DELETE FROM public.session_events WHERE thread_id = $1`

	_, err := r.db.ExecContext(ctx, query, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete events for thread: %w", err)
	}

	return nil
}

// CountEventsByThread returns the count of events for a thread by type.
func (r *SessionEventsRepo) CountEventsByThread(ctx context.Context, threadID string) (map[string]int, error) {
	query := `
		SELECT event_type, COUNT(*) as count
		FROM public.session_events
		WHERE thread_id = $1
		GROUP BY event_type
	`

	rows, err := r.db.QueryContext(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by thread: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}

	return counts, nil
}
