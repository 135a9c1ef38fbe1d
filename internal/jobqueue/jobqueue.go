/*
Package jobqueue provides a River-based job queue for periodic session polls.

A session poll re-runs one workflow step against a thread's latest checkpoint
so held threads keep their status fresh and stale checkpoints stay pruned.
For configuration options, retry policies, and tuning parameters, see
queue_config.go.
*/
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/sessiond/internal/runtime"
	"github.com/sessiond/internal/session"
)

// SessionPollJobArgs represents the arguments for a session poll job
type SessionPollJobArgs struct {
	ThreadID  string  `json:"thread_id"`
	Namespace *string `json:"namespace,omitempty"`
}

// Kind returns the job kind for River
func (SessionPollJobArgs) Kind() string {
	return "session_poll"
}

// PollRunner executes one poll against a thread.
type PollRunner interface {
	PollThread(ctx context.Context, threadID string, namespace *string) error
}

// SessionPollWorker handles session poll jobs
type SessionPollWorker struct {
	river.WorkerDefaults[SessionPollJobArgs]
	queue  *JobQueue
	config *QueueConfig
}

// Work performs one session poll
func (w *SessionPollWorker) Work(ctx context.Context, job *river.Job[SessionPollJobArgs]) error {
	args := job.Args

	runner := w.queue.runner
	if runner == nil {
		log.Warn().Str("thread_id", args.ThreadID).Msg("no poll runner configured, dropping job")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	log.Debug().Str("thread_id", args.ThreadID).Msg("polling session thread")

	if err := runner.PollThread(ctx, args.ThreadID, args.Namespace); err != nil {
		log.Warn().Err(err).Str("thread_id", args.ThreadID).Msg("session poll failed")
		return fmt.Errorf("failed to poll thread %s: %w", args.ThreadID, err)
	}

	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
	runner PollRunner
}

// NewJobQueue creates a new job queue instance. The poll runner usually
// shares the queue's pool; set it with SetRunner before Start.
func NewJobQueue(databaseURL string, runner PollRunner) (*JobQueue, error) {
	config := GetQueueConfig()

	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	jq := &JobQueue{
		pool:   pool,
		config: config,
		runner: runner,
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &SessionPollWorker{queue: jq, config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}
	jq.client = client

	return jq, nil
}

// SetRunner binds the poll runner. Must happen before Start.
func (jq *JobQueue) SetRunner(runner PollRunner) {
	jq.runner = runner
}

// Pool exposes the queue's connection pool for sharing with other components.
func (jq *JobQueue) Pool() *pgxpool.Pool {
	return jq.pool
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	return jq.client.Stop(ctx)
}

// QueueSessionPollJob queues a poll for a single thread
func (jq *JobQueue) QueueSessionPollJob(ctx context.Context, threadID string, namespace *string) error {
	args := SessionPollJobArgs{
		ThreadID:  threadID,
		Namespace: namespace,
	}

	_, err := jq.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: jq.config.MaxRetries})
	if err != nil {
		return fmt.Errorf("failed to queue session poll job: %w", err)
	}

	return nil
}

// EnqueuePollsForAllThreads queues a poll for every thread with a checkpoint.
func (jq *JobQueue) EnqueuePollsForAllThreads(ctx context.Context) error {
	rows, err := jq.pool.Query(ctx, `SELECT DISTINCT thread_id, ns FROM session_checkpoints`)
	if err != nil {
		return fmt.Errorf("failed to list pollable threads: %w", err)
	}
	defer rows.Close()

	type target struct {
		threadID string
		ns       string
	}
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.threadID, &t.ns); err != nil {
			return fmt.Errorf("failed to scan pollable thread: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating pollable threads: %w", err)
	}

	for _, t := range targets {
		var ns *string
		if t.ns != "" {
			v := t.ns
			ns = &v
		}
		if err := jq.QueueSessionPollJob(ctx, t.threadID, ns); err != nil {
			log.Warn().Err(err).Str("thread_id", t.threadID).Msg("enqueue poll failed")
		}
	}

	return nil
}

// RunScheduler sweeps all known threads on the configured interval until the
// context ends. Call this alongside Start from the poller command.
func (jq *JobQueue) RunScheduler(ctx context.Context) error {
	ticker := time.NewTicker(jq.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := jq.EnqueuePollsForAllThreads(ctx); err != nil {
			log.Warn().Err(err).Msg("poll sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ThreadPoller is the default PollRunner: it reloads the thread's latest
// checkpoint, reconstructs the signals its held step implies, and runs one
// runtime step. Re-running the held step is idempotent; the lifecycle
// hysteresis keeps the phase from regressing.
type ThreadPoller struct {
	pool    *pgxpool.Pool
	runtime *runtime.Runtime
}

// NewThreadPoller creates a poll runner on a shared pool and runtime.
func NewThreadPoller(pool *pgxpool.Pool, rt *runtime.Runtime) *ThreadPoller {
	return &ThreadPoller{pool: pool, runtime: rt}
}

// PollThread runs one step for the thread from its latest checkpoint.
func (p *ThreadPoller) PollThread(ctx context.Context, threadID string, namespace *string) error {
	ns := ""
	if namespace != nil {
		ns = *namespace
	}

	var snapshot []byte
	err := p.pool.QueryRow(ctx, `
		SELECT snapshot FROM session_checkpoints
		WHERE thread_id = $1 AND ns = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, threadID, ns).Scan(&snapshot)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil // thread pruned since the sweep, nothing to poll
		}
		return fmt.Errorf("failed to load checkpoint for thread %s: %w", threadID, err)
	}

	var view session.View
	if err := json.Unmarshal(snapshot, &view); err != nil {
		return fmt.Errorf("failed to decode checkpoint snapshot: %w", err)
	}

	taskState := session.TaskState("")
	if view.Task != nil {
		taskState = view.Task.State
	}

	_, err = p.runtime.Step(ctx, view, runtime.StepInput{
		ThreadID:  threadID,
		Namespace: namespace,
		Signals:   signalsForView(view),
		TaskState: taskState,
	})
	if err != nil {
		return fmt.Errorf("poll step failed for thread %s: %w", threadID, err)
	}

	return nil
}

// signalsForView reconstructs the minimal signal set that reproduces the
// thread's held onboarding step. A completed flow or an active thread maps to
// fully satisfied signals.
func signalsForView(view session.View) session.OnboardingSignals {
	if view.Lifecycle == session.PhaseActive ||
		(view.Flow != nil && view.Flow.Status == session.FlowCompleted) {
		return session.OnboardingSignals{
			HasSetupInput:        true,
			HasFundingTokenInput: true,
			HasDelegationBundle:  true,
			HasOperatorConfig:    true,
			SetupComplete:        true,
		}
	}

	phase := session.StepCollectSetupInput
	if view.Onboarding != nil && view.Onboarding.Key != "" {
		phase = session.OnboardingPhase(view.Onboarding.Key)
	}

	var sig session.OnboardingSignals
	switch phase {
	case session.StepCollectPoolCatalog:
		sig.RequiresPoolCatalog = true
	case session.StepCollectSetupInput:
		// zero value already resolves here
	case session.StepCollectFundingToken:
		sig.HasSetupInput = true
	case session.StepCollectDelegations:
		sig.HasSetupInput = true
		sig.HasFundingTokenInput = true
		sig.RequiresDelegationSigning = true
	case session.StepPrepareOperator:
		sig.HasSetupInput = true
		sig.HasFundingTokenInput = true
	}
	return sig
}
