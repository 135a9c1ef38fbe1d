package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sessiond/internal/checkpoint"
	"github.com/sessiond/internal/session"
)

// Sink receives session telemetry. The API layer's database-backed sink
// implements this; tests use an in-memory one.
type Sink interface {
	EmitStatusEvent(ctx context.Context, threadID, status string) error
	EmitStepEvent(ctx context.Context, threadID, stepID, status string) error
	EmitLogEvent(ctx context.Context, threadID, level, message, stepID string) error
	EmitCompletionEvent(ctx context.Context, threadID, summary string) error
}

// Runtime executes one session step at a time against a thread's view: fold
// inbound messages, resolve phases, assemble a guarded patch, checkpoint the
// result, emit telemetry. The host serializes steps per thread; Runtime
// itself holds no per-thread locks.
type Runtime struct {
	store        checkpoint.Store
	sink         Sink
	historyLimit int
}

// New creates a runtime on a checkpoint store and event sink.
func New(store checkpoint.Store, sink Sink, historyLimit int) *Runtime {
	return &Runtime{store: store, sink: sink, historyLimit: historyLimit}
}

// StepInput carries everything one step needs from the outside world.
type StepInput struct {
	ThreadID  string
	Namespace *string

	// Messages are inbound client messages folded into history this step.
	Messages []session.Message

	Signals       session.OnboardingSignals
	TaskState     session.TaskState
	FireRequested bool
	ExplicitPhase *session.LifecyclePhase
}

// StepResult is what a completed step hands back to the caller.
type StepResult struct {
	View       session.View
	Command    *session.Command
	Checkpoint checkpoint.Handle
}

// onboardingOrder fixes the step numbering consumers see in the legacy
// marker and the flow record.
var onboardingOrder = []session.OnboardingPhase{
	session.StepCollectPoolCatalog,
	session.StepCollectSetupInput,
	session.StepCollectFundingToken,
	session.StepCollectDelegations,
	session.StepPrepareOperator,
}

var onboardingPrompts = map[session.OnboardingPhase]string{
	session.StepCollectPoolCatalog:  "Select the pools this agent may operate in.",
	session.StepCollectSetupInput:   "Provide the agent's setup parameters.",
	session.StepCollectFundingToken: "Which token should fund the operator?",
	session.StepCollectDelegations:  "Sign the delegation bundle to authorize the agent.",
	session.StepPrepareOperator:     "Confirm the operator configuration.",
}

// Step runs one workflow step for the thread and persists its checkpoint.
// An unfinished onboarding sequence produces a pause command targeting the
// next required-input step; a finished one produces a terminal command that
// completes the flow record. Every command passes through the transition
// guard before it leaves here.
func (r *Runtime) Step(ctx context.Context, view session.View, in StepInput) (*StepResult, error) {
	phase := session.ResolveOnboardingPhase(in.Signals)

	flowStatus := session.FlowInProgress
	if phase == session.StepReady {
		flowStatus = session.FlowCompleted
	}
	var stepNum *int
	if idx := stepIndex(phase); idx >= 0 {
		stepNum = &idx
	}

	lifecycle := session.ResolveLifecyclePhase(session.LifecycleInputs{
		Previous:            view.Lifecycle,
		TaskState:           in.TaskState,
		FlowStatus:          flowStatus,
		OnboardingStep:      stepNum,
		ExplicitPhase:       in.ExplicitPhase,
		SetupComplete:       in.Signals.SetupComplete,
		HasOperatorConfig:   in.Signals.HasOperatorConfig,
		HasDelegationBundle: in.Signals.HasDelegationBundle,
		FireRequested:       in.FireRequested,
	})

	patch := &session.StatePatch{
		Lifecycle: &lifecycle,
		Messages:  in.Messages,
	}

	var cmd *session.Command
	var err error
	if phase == session.StepReady {
		patch.Flow = &session.OnboardingFlow{
			Status:   session.FlowCompleted,
			Revision: nextRevision(view.Flow),
			Steps:    flowSteps(phase),
		}
		patch.ClearOnboarding = true
		patch.Task = &session.TaskStatus{State: taskStateOrDefault(in.TaskState, session.TaskWorking)}
		cmd, err = session.GuardTerminalTransition(patch)
	} else {
		patch.Flow = &session.OnboardingFlow{
			Status:       session.FlowInProgress,
			Revision:     nextRevision(view.Flow),
			ActiveStepID: string(phase),
			Steps:        flowSteps(phase),
		}
		patch.Onboarding = &session.OnboardingMarker{Step: stepNum, Key: string(phase)}
		patch.Task = &session.TaskStatus{
			State:   session.TaskInputRequired,
			Message: &session.TaskMessage{Content: onboardingPrompts[phase]},
		}
		cmd, err = session.GuardPauseTransition(string(phase), patch)
	}
	if err != nil {
		return nil, fmt.Errorf("guard step transition: %w", err)
	}

	next := view.Apply(patch, r.historyLimit)
	next.ThreadID = in.ThreadID

	snapshot, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("serialize view snapshot: %w", err)
	}
	handle, err := r.store.Put(ctx, checkpoint.Handle{ThreadID: in.ThreadID, Namespace: in.Namespace}, snapshot)
	if err != nil {
		return nil, fmt.Errorf("checkpoint step: %w", err)
	}

	// The guarded command rides along as a pending write so a resumed step
	// can pick it up from the checkpoint it belongs to.
	if cmdJSON, err := json.Marshal(cmd); err == nil {
		if err := r.store.PutWrites(ctx, handle, []checkpoint.Write{{SubKey: "command", Value: cmdJSON}}); err != nil {
			log.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("recording step command failed")
		}
	} else {
		log.Warn().Err(err).Str("thread_id", in.ThreadID).Msg("encoding step command failed")
	}

	r.emit(ctx, in.ThreadID, next, phase)

	return &StepResult{View: next, Command: cmd, Checkpoint: handle}, nil
}

// Resume folds a human-supplied value back into the thread after a pause:
// the value lands in history and the next step re-resolves from signals.
func (r *Runtime) Resume(ctx context.Context, view session.View, in StepInput, value string) (*StepResult, error) {
	if value != "" {
		in.Messages = append(in.Messages, session.Message{Role: "user", Content: value})
	}
	return r.Step(ctx, view, in)
}

func (r *Runtime) emit(ctx context.Context, threadID string, view session.View, phase session.OnboardingPhase) {
	if r.sink == nil {
		return
	}
	if err := r.sink.EmitStatusEvent(ctx, threadID, string(view.Lifecycle)); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("emit status event failed")
	}
	if phase == session.StepReady {
		if err := r.sink.EmitCompletionEvent(ctx, threadID, "onboarding complete"); err != nil {
			log.Warn().Err(err).Str("thread_id", threadID).Msg("emit completion event failed")
		}
		return
	}
	if err := r.sink.EmitStepEvent(ctx, threadID, string(phase), "awaiting-input"); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("emit step event failed")
	}
}

func stepIndex(phase session.OnboardingPhase) int {
	for i, p := range onboardingOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

// flowSteps renders the fixed onboarding sequence with per-step status
// relative to the active phase.
func flowSteps(active session.OnboardingPhase) []session.FlowStep {
	activeIdx := stepIndex(active)
	steps := make([]session.FlowStep, len(onboardingOrder))
	for i, p := range onboardingOrder {
		status := "pending"
		switch {
		case active == session.StepReady || i < activeIdx:
			status = "done"
		case i == activeIdx:
			status = "active"
		}
		steps[i] = session.FlowStep{ID: string(p), Title: onboardingPrompts[p], Status: status}
	}
	return steps
}

func nextRevision(flow *session.OnboardingFlow) int {
	if flow == nil {
		return 1
	}
	return flow.Revision + 1
}

func taskStateOrDefault(state, fallback session.TaskState) session.TaskState {
	if state == "" {
		return fallback
	}
	return state
}
