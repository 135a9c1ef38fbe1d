package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EventSink forwards transcript lines as structured log events.
type EventSink interface {
	EmitLogEvent(ctx context.Context, threadID, level, message, stepID string) error
}

// SessionLogger writes a human-readable transcript for one session step
// invocation. Each invocation gets its own file under session_logs/.
type SessionLogger struct {
	threadID  string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
	eventSink EventSink // optional sink for forwarding structured events
}

// StartSessionLogging initializes transcript logging for a step invocation.
func StartSessionLogging(threadID string) (*SessionLogger, error) {
	timestamp := time.Now().Format("20060102_150405")
	logFileName := fmt.Sprintf("session_%s_%s.log", threadID, timestamp)
	logPath := filepath.Join("session_logs", logFileName)

	// Ensure directory exists
	if err := os.MkdirAll("session_logs", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &SessionLogger{
		threadID:  threadID,
		logFile:   logFile,
		startTime: time.Now(),
	}

	logger.writeHeader()

	return logger, nil
}

// SetEventSink sets the event sink for forwarding structured events.
func (s *SessionLogger) SetEventSink(sink EventSink) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.eventSink = sink
}

// Log writes a message to the session transcript.
func (s *SessionLogger) Log(format string, args ...interface{}) {
	if s == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	elapsed := time.Since(s.startTime)
	logMessage := fmt.Sprintf(format, args...)

	message := fmt.Sprintf("[%s] [+%v] %s\n", timestamp, elapsed.Round(time.Millisecond), logMessage)
	s.logFile.WriteString(message)
	s.logFile.Sync()

	if s.eventSink != nil {
		level := determineLogLevel(logMessage)
		_ = s.eventSink.EmitLogEvent(context.Background(), s.threadID, level, logMessage, "")
	}
}

// LogSection writes a section header to the transcript.
func (s *SessionLogger) LogSection(title string) {
	if s == nil {
		return
	}

	separator := strings.Repeat("=", 80)
	s.Log("%s", separator)
	s.Log("= %s", title)
	s.Log("%s", separator)
}

// LogStep logs the outcome of a resolved onboarding step.
func (s *SessionLogger) LogStep(stepID, status string) {
	if s == nil {
		return
	}

	s.Log("STEP %s: %s", stepID, status)

	if s.eventSink != nil {
		_ = s.eventSink.EmitLogEvent(context.Background(), s.threadID, "info",
			fmt.Sprintf("step %s %s", stepID, status), stepID)
	}
}

// LogError logs an error with its context.
func (s *SessionLogger) LogError(context string, err error) {
	if s == nil {
		return
	}

	s.Log("ERROR in %s: %v", context, err)
}

// Close finalizes the transcript and closes the file.
func (s *SessionLogger) Close() {
	if s == nil {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.logFile == nil {
		return
	}

	elapsed := time.Since(s.startTime)
	footer := fmt.Sprintf("\n=== SESSION STEP COMPLETED in %v ===\n", elapsed.Round(time.Millisecond))
	s.logFile.WriteString(footer)
	s.logFile.Close()
	s.logFile = nil
}

func (s *SessionLogger) writeHeader() {
	header := fmt.Sprintf("=== SESSION STEP LOG ===\nThread: %s\nStarted: %s\n\n",
		s.threadID, s.startTime.Format(time.RFC3339))
	s.logFile.WriteString(header)
}

// determineLogLevel picks a level from message content.
func determineLogLevel(message string) string {
	messageLower := strings.ToLower(message)

	errorKeywords := []string{"error", "failed", "fail", "panic"}
	for _, keyword := range errorKeywords {
		if strings.Contains(messageLower, keyword) {
			return "error"
		}
	}

	warningKeywords := []string{"warning", "warn", "timeout", "retry"}
	for _, keyword := range warningKeywords {
		if strings.Contains(messageLower, keyword) {
			return "warn"
		}
	}

	return "info"
}
