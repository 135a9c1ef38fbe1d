package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sessiond/internal/retry"
)

// Client consumes a session's push stream. It registers itself as a
// candidate stream owner, acquires ownership (preempting another tab if one
// is live), and feeds the response body through ParseEventStream. Dropped
// connections re-dial with backoff; a preemption by another owner ends the
// run cleanly.
type Client struct {
	// OwnerID identifies this consumer in the ownership registry.
	OwnerID string

	baseURL    string
	token      string
	coord      *Coordinator
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a push-stream client for one consumer (one tab).
func NewClient(baseURL, token string, coord *Coordinator) *Client {
	return &Client{
		OwnerID:    uuid.NewString(),
		baseURL:    baseURL,
		token:      token,
		coord:      coord,
		httpClient: &http.Client{Timeout: 0}, // long-lived stream, no client timeout
	}
}

// Run consumes the session's push stream until the server closes it, the
// context ends, or another owner preempts this one.
func (c *Client) Run(ctx context.Context, sessionID string, onEvent, onError func(json.RawMessage)) error {
	c.coord.Register(c.OwnerID, c.disconnect)
	defer c.coord.Unregister(c.OwnerID)

	if err := c.coord.Acquire(ctx, c.OwnerID); err != nil {
		return fmt.Errorf("acquire stream ownership: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.coord.Release(releaseCtx, c.OwnerID)
	}()

	var permanent error
	result := retry.WithBackoff(ctx, retry.StreamReconnectConfig(), func() error {
		if c.coord.ActiveOwner() != c.OwnerID {
			// Preempted between attempts: nothing left to do.
			return nil
		}
		err := c.streamOnce(ctx, sessionID, onEvent, onError)
		if err != nil && !retry.IsRetryableError(err) {
			// Re-dialing will not fix a rejected request; stop retrying.
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return permanent
	}
	if result.Success {
		return nil
	}
	return result.LastError
}

// streamOnce dials the push endpoint and parses one connection to completion.
// A teardown triggered by preemption (the disconnect callback cancelling the
// request) returns nil: it is an orderly handoff, not a failure.
func (c *Client) streamOnce(ctx context.Context, sessionID string, onEvent, onError func(json.RawMessage)) error {
	reqCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	defer func() {
		close(done)
		c.mu.Lock()
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		cancel()
	}()

	url := fmt.Sprintf("%s/api/v1/sessions/%s/events", c.baseURL, sessionID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build push stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil && ctx.Err() == nil {
			return nil // preempted mid-dial
		}
		return fmt.Errorf("dial push stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push stream status %d: %s", resp.StatusCode, string(body))
	}

	log.Debug().Str("session", sessionID).Str("owner", c.OwnerID).Msg("push stream connected")
	err = ParseEventStream(resp.Body, onEvent, onError)
	if err != nil && reqCtx.Err() != nil && ctx.Err() == nil {
		return nil // preempted mid-stream
	}
	return err
}

// disconnect is this client's teardown callback in the ownership registry.
// It cancels the in-flight request and waits for the stream loop to wind
// down, so the coordinator's await-before-switch holds.
func (c *Client) disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for stream teardown: %w", ctx.Err())
	}
}
