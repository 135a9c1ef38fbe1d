package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// DisconnectFunc tears down a consumer's live connection. The coordinator
// awaits it to completion before any other consumer is considered active.
type DisconnectFunc func(ctx context.Context) error

// Coordinator arbitrates which of several candidate consumers holds the
// single live push connection for a session. Two browser tabs racing for the
// same session both register here; at most one is ever active, and a handoff
// is never dirty: the preempted owner's teardown observably completes before
// the new owner's stream counts as live.
//
// The registry is an explicit per-session struct, not process-global state;
// a session-scope object owns one Coordinator.
type Coordinator struct {
	// handoff serializes acquire/release end to end, including the await on
	// a preempted owner's disconnect. A second acquirer queues behind an
	// in-flight preemption instead of observing a half-torn-down owner.
	handoff sync.Mutex

	mu     sync.Mutex
	owners map[string]DisconnectFunc
	active string
}

// NewCoordinator creates an empty ownership registry.
func NewCoordinator() *Coordinator {
	return &Coordinator{owners: make(map[string]DisconnectFunc)}
}

// Register adds a candidate owner with its disconnect callback. Called at
// client mount time, before any acquire.
func (c *Coordinator) Register(id string, disconnect DisconnectFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[id] = disconnect
}

// Unregister removes a candidate. Unregistering the active owner clears the
// active slot without invoking the disconnect callback; the owner is already
// gone. Always synchronous.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owners, id)
	if c.active == id {
		c.active = ""
	}
}

// ActiveOwner reports the currently active owner id, or "" when none.
func (c *Coordinator) ActiveOwner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Acquire makes id the active owner. An already-active id is a no-op. When
// another owner is active, its disconnect callback runs and is awaited to
// completion first; only then does ownership switch. Concurrent acquires for
// different ids serialize, so an owner mid-disconnect is never disconnected
// a second time.
//
// A disconnect error does not block the handoff: the teardown has settled,
// just unsuccessfully, and keeping the old owner live on error would break
// the single-owner guarantee. The error is logged and the switch proceeds.
func (c *Coordinator) Acquire(ctx context.Context, id string) error {
	c.handoff.Lock()
	defer c.handoff.Unlock()

	c.mu.Lock()
	if c.active == id {
		c.mu.Unlock()
		return nil
	}
	prev := c.active
	disconnect := c.owners[prev]
	c.mu.Unlock()

	if prev != "" && disconnect != nil {
		if err := disconnect(ctx); err != nil {
			log.Warn().Err(err).Str("owner", prev).Msg("preempted stream owner disconnect failed")
		}
	}

	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
	log.Debug().Str("owner", id).Str("preempted", prev).Msg("stream ownership acquired")
	return nil
}

// Release gives up ownership if id is the active owner, invoking and
// awaiting its disconnect callback before clearing the slot. Releasing a
// non-active owner is a synchronous no-op.
func (c *Coordinator) Release(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.active != id {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.handoff.Lock()
	defer c.handoff.Unlock()

	c.mu.Lock()
	if c.active != id {
		// Lost the slot while waiting for the handoff lock.
		c.mu.Unlock()
		return nil
	}
	disconnect := c.owners[id]
	c.mu.Unlock()

	var err error
	if disconnect != nil {
		err = disconnect(ctx)
	}

	c.mu.Lock()
	if c.active == id {
		c.active = ""
	}
	c.mu.Unlock()
	return err
}
