package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// streamEnvelope is one frame on the push stream. Exactly one of the two
// fields is set; clients drop frames where both are empty.
type streamEnvelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// streamSessionEvents handles GET /api/v1/sessions/{id}/events. It holds the
// connection open and pushes each new session event as a "data:" framed JSON
// envelope, polling the event table between flushes. The connection ends when
// the client goes away.
func (s *Server) streamSessionEvents(c echo.Context) error {
	threadID := c.Param("id")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var sinceID int64
	for {
		events, err := s.events.GetEventsAfter(ctx, threadID, sinceID, 200)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("thread_id", threadID).Msg("event stream query failed")
			writeStreamError(res, "event lookup failed")
			return nil
		}

		for _, event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				log.Warn().Err(err).Int64("event_id", event.ID).Msg("event stream encode failed")
				continue
			}
			writeStreamFrame(res, streamEnvelope{Result: payload})
			sinceID = event.ID
		}
		if len(events) > 0 {
			res.Flush()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func writeStreamFrame(res *echo.Response, env streamEnvelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	fmt.Fprintf(res, "data: %s\n\n", frame)
}

func writeStreamError(res *echo.Response, message string) {
	payload, _ := json.Marshal(map[string]string{"message": message})
	writeStreamFrame(res, streamEnvelope{Error: payload})
	res.Flush()
}
