package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventSink defines the interface for broadcasting events
type EventSink interface {
	EmitEvent(ctx context.Context, event *SessionEvent) error
}

// SessionEventService provides event storage and retrieval for the polling
// and push-stream endpoints.
type SessionEventService struct {
	repo *SessionEventsRepo
}

// NewSessionEventService creates a new session event service.
func NewSessionEventService(db *sql.DB) *SessionEventService {
	return &SessionEventService{
		repo: NewSessionEventsRepo(db),
	}
}

// EmitEvent stores an event for later retrieval.
func (s *SessionEventService) EmitEvent(ctx context.Context, event *SessionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return s.repo.InsertEvent(ctx, event)
}

// GetRecentEvents retrieves recent events for a thread.
func (s *SessionEventService) GetRecentEvents(ctx context.Context, threadID string, since *time.Time, limit int) ([]*SessionEvent, error) {
	cursor := &ListEventsCursor{
		Since: since,
		Limit: limit,
	}
	return s.repo.ListEvents(ctx, threadID, cursor)
}

// GetEventsAfter retrieves events with an id greater than sinceID. Streams use
// this instead of a timestamp cursor so events sharing a timestamp are not lost.
func (s *SessionEventService) GetEventsAfter(ctx context.Context, threadID string, sinceID int64, limit int) ([]*SessionEvent, error) {
	cursor := &ListEventsCursor{
		SinceID: &sinceID,
		Limit:   limit,
	}
	return s.repo.ListEvents(ctx, threadID, cursor)
}

// GetEventsByType retrieves events of a specific type.
func (s *SessionEventService) GetEventsByType(ctx context.Context, threadID, eventType string, limit int) ([]*SessionEvent, error) {
	return s.repo.GetEventsByType(ctx, threadID, eventType, limit)
}

// GetLatestStatus gets the most recent status for a thread.
func (s *SessionEventService) GetLatestStatus(ctx context.Context, threadID string) (*SessionEvent, error) {
	return s.repo.GetLatestStatusEvent(ctx, threadID)
}

// GetEventCounts returns event counts by type for a thread.
func (s *SessionEventService) GetEventCounts(ctx context.Context, threadID string) (map[string]int, error) {
	return s.repo.CountEventsByThread(ctx, threadID)
}

// CreateStatusEvent creates a lifecycle status change event.
func (s *SessionEventService) CreateStatusEvent(ctx context.Context, threadID, status string) error {
	data := EventData{
		Status: &status,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal status event data: %w", err)
	}

	event := &SessionEvent{
		ThreadID:  threadID,
		EventType: "status",
		Level:     stringPtr("info"),
		Data:      dataJSON,
	}

	return s.EmitEvent(ctx, event)
}

// CreateLogEvent creates a log message event.
func (s *SessionEventService) CreateLogEvent(ctx context.Context, threadID, level, message string, stepID *string) error {
	data := EventData{
		Message: &message,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal log event data: %w", err)
	}

	event := &SessionEvent{
		ThreadID:  threadID,
		EventType: "log",
		Level:     &level,
		StepID:    stepID,
		Data:      dataJSON,
	}

	return s.EmitEvent(ctx, event)
}

// CreateStepEvent creates an onboarding step progress event.
func (s *SessionEventService) CreateStepEvent(ctx context.Context, threadID, stepID, stepStatus string) error {
	data := EventData{
		StepStatus: &stepStatus,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal step event data: %w", err)
	}

	event := &SessionEvent{
		ThreadID:  threadID,
		EventType: "step",
		Level:     stringPtr("info"),
		StepID:    &stepID,
		Data:      dataJSON,
	}

	return s.EmitEvent(ctx, event)
}

// CreateCompletionEvent creates an onboarding completion event.
func (s *SessionEventService) CreateCompletionEvent(ctx context.Context, threadID, resultSummary string) error {
	data := EventData{
		ResultSummary: &resultSummary,
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event data: %w", err)
	}

	event := &SessionEvent{
		ThreadID:  threadID,
		EventType: "completion",
		Level:     stringPtr("info"),
		Data:      dataJSON,
	}

	return s.EmitEvent(ctx, event)
}

func stringPtr(s string) *string {
	return &s
}
