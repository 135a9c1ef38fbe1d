package api

import (
	"context"
	"database/sql"
)

// DatabaseEventSink stores runtime telemetry through the SessionEventService.
// It satisfies the runtime's Sink interface.
type DatabaseEventSink struct {
	service *SessionEventService
}

// NewDatabaseEventSink creates a new database event sink.
func NewDatabaseEventSink(db *sql.DB) *DatabaseEventSink {
	return &DatabaseEventSink{
		service: NewSessionEventService(db),
	}
}

// EmitEvent implements the basic EventSink interface.
func (s *DatabaseEventSink) EmitEvent(ctx context.Context, event *SessionEvent) error {
	return s.service.EmitEvent(ctx, event)
}

// EmitStatusEvent emits a lifecycle status change event.
func (s *DatabaseEventSink) EmitStatusEvent(ctx context.Context, threadID, status string) error {
	return s.service.CreateStatusEvent(ctx, threadID, status)
}

// EmitStepEvent emits an onboarding step progress event.
func (s *DatabaseEventSink) EmitStepEvent(ctx context.Context, threadID, stepID, status string) error {
	return s.service.CreateStepEvent(ctx, threadID, stepID, status)
}

// EmitLogEvent emits a log message event.
func (s *DatabaseEventSink) EmitLogEvent(ctx context.Context, threadID, level, message, stepID string) error {
	var stepIDPtr *string
	if stepID != "" {
		stepIDPtr = &stepID
	}
	return s.service.CreateLogEvent(ctx, threadID, level, message, stepIDPtr)
}

// EmitCompletionEvent emits an onboarding completion event.
func (s *DatabaseEventSink) EmitCompletionEvent(ctx context.Context, threadID, summary string) error {
	return s.service.CreateCompletionEvent(ctx, threadID, summary)
}
