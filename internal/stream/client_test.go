package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRunConsumesStream(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"result\":{\"seq\":1}}\n\n")
		fmt.Fprint(w, "data: {\"result\":{\"seq\":2}}\n\n")
	}))
	defer srv.Close()

	coord := NewCoordinator()
	client := NewClient(srv.URL, "tok-123", coord)

	var events []json.RawMessage
	err := client.Run(context.Background(), "s1", func(raw json.RawMessage) {
		events = append(events, raw)
	}, func(json.RawMessage) {
		t.Error("unexpected error event")
	})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Empty(t, coord.ActiveOwner(), "ownership released after the run")
}

func TestClientRunSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer srv.Close()

	coord := NewCoordinator()
	client := NewClient(srv.URL, "", coord)
	// Trim the backoff so the failing test does not sit in retries.
	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() {
		done <- client.Run(ctx, "missing", func(json.RawMessage) {}, func(json.RawMessage) {})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	case <-time.After(10 * time.Second):
		t.Fatal("client run never returned")
	}
}

func TestClientPreemption(t *testing.T) {
	started := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		started <- struct{}{}
		<-r.Context().Done() // hold the stream open until the client drops it
	}))
	defer srv.Close()

	coord := NewCoordinator()
	first := NewClient(srv.URL, "", coord)
	second := NewClient(srv.URL, "", coord)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- first.Run(context.Background(), "s1", func(json.RawMessage) {}, func(json.RawMessage) {})
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first client never connected")
	}

	secondCtx, cancel := context.WithCancel(context.Background())
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- second.Run(secondCtx, "s1", func(json.RawMessage) {}, func(json.RawMessage) {})
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("second client never connected")
	}

	// The preempted first client winds down cleanly.
	select {
	case err := <-firstDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("preempted client never returned")
	}
	assert.Equal(t, second.OwnerID, coord.ActiveOwner())

	cancel()
	select {
	case <-secondDone:
	case <-time.After(5 * time.Second):
		t.Fatal("second client never returned after cancel")
	}
}
