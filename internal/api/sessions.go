package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/sessiond/internal/logging"
	"github.com/sessiond/internal/runtime"
	"github.com/sessiond/internal/session"
)

// StepRequest is the body accepted by the message endpoint. Signals drive the
// onboarding resolver; messages fold into the thread's history.
type StepRequest struct {
	Messages      []session.Message         `json:"messages,omitempty"`
	Signals       session.OnboardingSignals `json:"signals"`
	TaskState     session.TaskState         `json:"taskState,omitempty"`
	FireRequested bool                      `json:"fireRequested,omitempty"`
	ExplicitPhase *session.LifecyclePhase   `json:"explicitPhase,omitempty"`
	ResumeValue   string                    `json:"resumeValue,omitempty"`
}

// StepResponse is what the message endpoint hands back after a step.
type StepResponse struct {
	View    session.View     `json:"view"`
	Command *session.Command `json:"command,omitempty"`
}

// sessionRegistry keeps the live view per thread. Views are rebuilt from the
// latest checkpoint on restart; the registry is only the hot cache. It also
// owns the per-thread step locks: exactly one workflow step runs against a
// thread's state at a time, and the server is the component that enforces it.
type sessionRegistry struct {
	mu    sync.Mutex
	views map[string]session.View
	locks map[string]*sync.Mutex
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		views: make(map[string]session.View),
		locks: make(map[string]*sync.Mutex),
	}
}

// lockThread acquires the thread's step lock and returns the release func.
// Holders cover the whole read-step-write span so a concurrent step cannot
// read the same view and overwrite the other's result.
func (r *sessionRegistry) lockThread(threadID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[threadID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[threadID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *sessionRegistry) get(threadID string) session.View {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[threadID]
	if !ok {
		view = session.View{ThreadID: threadID, Lifecycle: session.PhasePrehire}
	}
	return view
}

func (r *sessionRegistry) put(threadID string, view session.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[threadID] = view
}

// getSession handles GET /api/v1/sessions/{id}.
func (s *Server) getSession(c echo.Context) error {
	threadID := c.Param("id")
	return c.JSON(http.StatusOK, s.registry.get(threadID))
}

// postSessionMessage handles POST /api/v1/sessions/{id}/messages. It runs one
// workflow step against the thread's current view and returns the updated
// view plus the guarded command the step produced.
func (s *Server) postSessionMessage(c echo.Context) error {
	threadID := c.Param("id")

	var req StepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	input := runtime.StepInput{
		ThreadID:      threadID,
		Messages:      req.Messages,
		Signals:       req.Signals,
		TaskState:     req.TaskState,
		FireRequested: req.FireRequested,
		ExplicitPhase: req.ExplicitPhase,
	}

	logger, logErr := logging.StartSessionLogging(threadID)
	if logErr != nil {
		log.Debug().Err(logErr).Str("thread_id", threadID).Msg("transcript logging unavailable")
	}
	defer logger.Close()
	logger.Log("step request: %d inbound messages", len(req.Messages))

	unlock := s.registry.lockThread(threadID)
	defer unlock()

	view := s.registry.get(threadID)

	var res *runtime.StepResult
	var err error
	if req.ResumeValue != "" {
		res, err = s.runtime.Resume(c.Request().Context(), view, input, req.ResumeValue)
	} else {
		res, err = s.runtime.Step(c.Request().Context(), view, input)
	}
	if err != nil {
		logger.LogError("session step", err)
		log.Error().Err(err).Str("thread_id", threadID).Msg("session step failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Session step failed")
	}

	if res.View.Flow != nil {
		logger.LogStep(res.View.Flow.ActiveStepID, string(res.View.Flow.Status))
	}
	logger.Log("step complete: lifecycle=%s checkpoint=%s", res.View.Lifecycle, res.Checkpoint.CheckpointID)

	s.registry.put(threadID, res.View)

	return c.JSON(http.StatusOK, StepResponse{View: res.View, Command: res.Command})
}

// getSessionActivity handles GET /api/v1/sessions/{id}/activity (polling
// endpoint for the event feed).
func (s *Server) getSessionActivity(c echo.Context) error {
	threadID := c.Param("id")

	var since *time.Time
	if sinceStr := c.QueryParam("since"); sinceStr != "" {
		if parsedTime, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			since = &parsedTime
		}
	}

	limit := 50 // default
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 1000 {
			limit = parsedLimit
		}
	}

	events, err := s.events.GetRecentEvents(c.Request().Context(), threadID, since, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve events")
	}

	if events == nil {
		events = make([]*SessionEvent, 0)
	}

	response := map[string]interface{}{
		"events": events,
		"meta": map[string]interface{}{
			"threadId": threadID,
			"count":    len(events),
			"limit":    limit,
		},
	}
	if since != nil {
		response["meta"].(map[string]interface{})["since"] = since.Format(time.RFC3339)
	}

	return c.JSON(http.StatusOK, response)
}

// issueSessionToken handles POST /api/v1/sessions/{id}/token.
func (s *Server) issueSessionToken(c echo.Context) error {
	threadID := c.Param("id")

	token, err := s.tokens.IssueSessionToken(threadID)
	if err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Msg("token issue failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to issue token")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"token":      token,
		"token_type": "Bearer",
	})
}
