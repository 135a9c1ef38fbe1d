package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore is a Store backed by Postgres, for deployments where the
// runtime process is not the only writer or must survive restarts. It keeps
// the same shallow retention contract as MemoryStore: after every write one
// checkpoint per thread/namespace pairing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a checkpoint store on an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the checkpoint tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_checkpoints (
			thread_id     TEXT NOT NULL,
			ns            TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			snapshot      JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (thread_id, ns, checkpoint_id)
		)`)
	if err != nil {
		return fmt.Errorf("create session_checkpoints: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_checkpoint_writes (
			outer_key  TEXT NOT NULL,
			sub_key    TEXT NOT NULL,
			value      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (outer_key, sub_key)
		)`)
	if err != nil {
		return fmt.Errorf("create session_checkpoint_writes: %w", err)
	}
	return nil
}

// Put upserts a snapshot and prunes superseded checkpoints for the thread.
func (s *PostgresStore) Put(ctx context.Context, h Handle, snapshot json.RawMessage) (Handle, error) {
	if h.CheckpointID == "" {
		h.CheckpointID = uuid.NewString()
	}

	query := `
		INSERT INTO session_checkpoints (thread_id, ns, checkpoint_id, snapshot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, ns, checkpoint_id)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, created_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, h.ThreadID, bucketKey(h.Namespace), h.CheckpointID, snapshot); err != nil {
		return h, fmt.Errorf("put checkpoint: %w", err)
	}

	s.prune(ctx, h)
	return h, nil
}

// PutWrites upserts pending side-effect records and prunes, same as Put.
func (s *PostgresStore) PutWrites(ctx context.Context, h Handle, writes []Write) error {
	key, err := EncodeKey(h.ThreadID, h.Namespace, h.CheckpointID)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO session_checkpoint_writes (outer_key, sub_key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (outer_key, sub_key)
		DO UPDATE SET value = EXCLUDED.value, created_at = NOW()
	`
	for _, w := range writes {
		if _, err := s.pool.Exec(ctx, query, key, w.SubKey, w.Value); err != nil {
			return fmt.Errorf("put checkpoint write %q: %w", w.SubKey, err)
		}
	}

	s.prune(ctx, h)
	return nil
}

// prune runs synchronously after every write; failures are logged and never
// surfaced, since the write itself already committed.
func (s *PostgresStore) prune(ctx context.Context, keep Handle) {
	if keep.ThreadID == "" || keep.CheckpointID == "" {
		return
	}

	query := `DELETE FROM session_checkpoints WHERE thread_id = $1 AND checkpoint_id <> $2`
	args := []any{keep.ThreadID, keep.CheckpointID}
	if keep.Namespace != nil {
		query += ` AND ns = $3`
		args = append(args, bucketKey(keep.Namespace))
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		log.Warn().Err(err).Str("thread_id", keep.ThreadID).Msg("checkpoint prune failed")
	}

	// Write-key pruning decodes in Go so that malformed or foreign-shaped
	// keys are skipped instead of matched by a lossy SQL expression.
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT outer_key FROM session_checkpoint_writes`)
	if err != nil {
		log.Warn().Err(err).Msg("listing checkpoint write keys failed")
		return
	}
	var stale []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		threadID, ns, checkpointID, ok := DecodeKey(raw)
		if !ok {
			log.Debug().Str("key", raw).Msg("skipping unparsable checkpoint write key during prune")
			continue
		}
		if threadID == keep.ThreadID && namespaceMatches(keep.Namespace, ns) && checkpointID != keep.CheckpointID {
			stale = append(stale, raw)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		log.Warn().Err(rows.Err()).Msg("scanning checkpoint write keys failed")
		return
	}

	for _, raw := range stale {
		if _, err := s.pool.Exec(ctx, `DELETE FROM session_checkpoint_writes WHERE outer_key = $1`, raw); err != nil {
			log.Warn().Err(err).Str("key", raw).Msg("deleting stale checkpoint writes failed")
		}
	}
}
