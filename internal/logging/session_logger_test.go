package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedLog struct {
	level   string
	message string
	stepID  string
}

type captureSink struct {
	logs []capturedLog
}

func (s *captureSink) EmitLogEvent(_ context.Context, _, level, message, stepID string) error {
	s.logs = append(s.logs, capturedLog{level, message, stepID})
	return nil
}

func TestSessionLoggerWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	logger, err := StartSessionLogging("thread-1")
	require.NoError(t, err)

	logger.Log("step request: %d inbound messages", 2)
	logger.LogStep("collect-funding-token", "in_progress")
	logger.Close()

	entries, err := filepath.Glob(filepath.Join(dir, "session_logs", "session_thread-1_*.log"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	content, err := os.ReadFile(entries[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "Thread: thread-1")
	assert.Contains(t, string(content), "step request: 2 inbound messages")
	assert.Contains(t, string(content), "STEP collect-funding-token: in_progress")
	assert.Contains(t, string(content), "SESSION STEP COMPLETED")
}

func TestSessionLoggerForwardsToSink(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	logger, err := StartSessionLogging("thread-2")
	require.NoError(t, err)
	defer logger.Close()

	sink := &captureSink{}
	logger.SetEventSink(sink)

	logger.Log("poll timeout, will retry")
	logger.LogStep("prepare-operator", "in_progress")

	require.Len(t, sink.logs, 2)
	assert.Equal(t, "warn", sink.logs[0].level)
	assert.Equal(t, "prepare-operator", sink.logs[1].stepID)
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *SessionLogger
	logger.Log("ignored")
	logger.LogStep("x", "y")
	logger.LogError("ctx", nil)
	logger.Close()
}

func TestDetermineLogLevel(t *testing.T) {
	assert.Equal(t, "error", determineLogLevel("step failed hard"))
	assert.Equal(t, "warn", determineLogLevel("request timeout"))
	assert.Equal(t, "info", determineLogLevel("all good"))
}
