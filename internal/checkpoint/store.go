package checkpoint

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config mirrors the engine's configurable context. ThreadID and
// CheckpointID are required for pruning to do anything; Namespace
// distinguishes concurrent sub-graphs and may be absent.
type Config struct {
	ThreadID     string  `json:"thread_id,omitempty"`
	CheckpointID string  `json:"checkpoint_id,omitempty"`
	Namespace    *string `json:"checkpoint_ns,omitempty"`
}

// Handle addresses one checkpoint: the outer key every snapshot and
// pending-write record hangs off.
type Handle struct {
	ThreadID     string
	Namespace    *string
	CheckpointID string
}

// HandleFromConfig resolves a write handle from a configurable context.
func HandleFromConfig(cfg Config) Handle {
	return Handle{
		ThreadID:     cfg.ThreadID,
		Namespace:    cfg.Namespace,
		CheckpointID: cfg.CheckpointID,
	}
}

// Write is one pending side-effect record attached to a checkpoint.
type Write struct {
	SubKey string          `json:"subKey"`
	Value  json.RawMessage `json:"value"`
}

// Store persists workflow snapshots and their pending writes. Reads are
// delegated to the host engine's default lookup; the store's own contract is
// write-plus-prune. After every Put or PutWrites, at most one checkpoint (the
// one just written) remains per thread/namespace pairing. The store is a
// resume pointer, not an audit log.
type Store interface {
	Put(ctx context.Context, h Handle, snapshot json.RawMessage) (Handle, error)
	PutWrites(ctx context.Context, h Handle, writes []Write) error
}

// MemoryStore is the default in-process Store. Snapshots live in nested maps
// keyed thread -> namespace -> checkpoint id; pending writes in a flat table
// keyed by the encoded outer key.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]map[string]map[string]json.RawMessage
	writes  map[string]map[string]json.RawMessage
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]map[string]map[string]json.RawMessage),
		writes:  make(map[string]map[string]json.RawMessage),
	}
}

// Put stores a snapshot under the handle, assigning a fresh checkpoint id
// when the handle carries none, then prunes superseded checkpoints for the
// thread. The write itself never fails on prune problems.
func (s *MemoryStore) Put(ctx context.Context, h Handle, snapshot json.RawMessage) (Handle, error) {
	if h.CheckpointID == "" {
		h.CheckpointID = uuid.NewString()
	}

	s.mu.Lock()
	buckets, ok := s.threads[h.ThreadID]
	if !ok {
		buckets = make(map[string]map[string]json.RawMessage)
		s.threads[h.ThreadID] = buckets
	}
	bucket, ok := buckets[bucketKey(h.Namespace)]
	if !ok {
		bucket = make(map[string]json.RawMessage)
		buckets[bucketKey(h.Namespace)] = bucket
	}
	bucket[h.CheckpointID] = snapshot
	s.mu.Unlock()

	s.prune(h)
	return h, nil
}

// PutWrites attaches pending side-effect records to the handle's checkpoint
// and prunes, same as Put.
func (s *MemoryStore) PutWrites(ctx context.Context, h Handle, writes []Write) error {
	key, err := EncodeKey(h.ThreadID, h.Namespace, h.CheckpointID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	table, ok := s.writes[key]
	if !ok {
		table = make(map[string]json.RawMessage)
		s.writes[key] = table
	}
	for _, w := range writes {
		table[w.SubKey] = w.Value
	}
	s.mu.Unlock()

	s.prune(h)
	return nil
}

// Snapshot returns the stored blob for a handle, or false when absent.
// The engine's default lookup uses this on resume.
func (s *MemoryStore) Snapshot(h Handle) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.threads[h.ThreadID][bucketKey(h.Namespace)]
	if !ok {
		return nil, false
	}
	snap, ok := bucket[h.CheckpointID]
	return snap, ok
}

// PendingWrites returns the pending side-effect records for a handle.
func (s *MemoryStore) PendingWrites(h Handle) []Write {
	key, err := EncodeKey(h.ThreadID, h.Namespace, h.CheckpointID)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	table := s.writes[key]
	out := make([]Write, 0, len(table))
	for sub, val := range table {
		out = append(out, Write{SubKey: sub, Value: val})
	}
	return out
}

// prune deletes every checkpoint and pending-write record for the handle's
// thread that the just-written checkpoint supersedes. It is best-effort
// cleanup running synchronously after the write; a skipped key is logged and
// left alone, and nothing here surfaces to the write's caller.
func (s *MemoryStore) prune(keep Handle) {
	if keep.ThreadID == "" || keep.CheckpointID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := s.threads[keep.ThreadID]
	for ns, bucket := range buckets {
		if keep.Namespace != nil && ns != bucketKey(keep.Namespace) {
			continue
		}
		for id := range bucket {
			if id != keep.CheckpointID {
				delete(bucket, id)
			}
		}
		if len(bucket) == 0 {
			delete(buckets, ns)
		}
	}
	if len(buckets) == 0 {
		delete(s.threads, keep.ThreadID)
	}

	for raw := range s.writes {
		threadID, ns, checkpointID, ok := DecodeKey(raw)
		if !ok {
			// Never delete data we cannot positively attribute.
			log.Debug().Str("key", raw).Msg("skipping unparsable checkpoint write key during prune")
			continue
		}
		if threadID != keep.ThreadID || !namespaceMatches(keep.Namespace, ns) {
			continue
		}
		if checkpointID != keep.CheckpointID {
			delete(s.writes, raw)
		}
	}
}

// namespaceMatches applies the handle's namespace filter: an unspecified
// namespace matches every bucket, a specified one only its own.
func namespaceMatches(handleNS, keyNS *string) bool {
	if handleNS == nil {
		return true
	}
	return keyNS != nil && *keyNS == *handleNS
}

// bucketKey collapses an absent namespace into the default bucket.
func bucketKey(ns *string) string {
	if ns == nil {
		return ""
	}
	return *ns
}
