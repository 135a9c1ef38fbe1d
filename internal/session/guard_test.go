package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardPauseTransition(t *testing.T) {
	t.Run("EmptyTarget", func(t *testing.T) {
		_, err := GuardPauseTransition("", &StatePatch{})
		assert.ErrorIs(t, err, ErrEmptyPauseTarget)
	})

	t.Run("InputRequiredWithoutMessage", func(t *testing.T) {
		patch := &StatePatch{Task: &TaskStatus{State: TaskInputRequired}}
		_, err := GuardPauseTransition("collect-setup-input", patch)
		assert.ErrorIs(t, err, ErrMissingPrompt)
	})

	t.Run("InputRequiredWithEmptyContent", func(t *testing.T) {
		patch := &StatePatch{Task: &TaskStatus{
			State:   TaskInputRequired,
			Message: &TaskMessage{},
		}}
		_, err := GuardPauseTransition("collect-setup-input", patch)
		assert.ErrorIs(t, err, ErrMissingPrompt)
	})

	t.Run("InputRequiredWithPrompt", func(t *testing.T) {
		patch := &StatePatch{Task: &TaskStatus{
			State:   TaskInputRequired,
			Message: &TaskMessage{Content: "Which token funds the operator?"},
		}}
		cmd, err := GuardPauseTransition("collect-funding-token", patch)
		require.NoError(t, err)
		assert.Equal(t, "collect-funding-token", cmd.Goto)
		assert.Same(t, patch, cmd.Patch, "guard returns the constructed command unchanged")
	})

	t.Run("NilPatch", func(t *testing.T) {
		cmd, err := GuardPauseTransition("prepare-operator", nil)
		require.NoError(t, err)
		assert.Equal(t, "prepare-operator", cmd.Goto)
	})
}

func TestGuardTerminalTransition(t *testing.T) {
	t.Run("TerminalFlowWithLegacyMarker", func(t *testing.T) {
		patch := &StatePatch{
			Flow:       &OnboardingFlow{Status: FlowCompleted},
			Onboarding: &OnboardingMarker{Key: "funding-token"},
		}
		_, err := GuardTerminalTransition(patch)
		assert.ErrorIs(t, err, ErrDirtyTerminalFlow)
	})

	t.Run("TerminalFlowWithStepNumber", func(t *testing.T) {
		step := 3
		patch := &StatePatch{
			Flow:       &OnboardingFlow{Status: FlowCanceled},
			Onboarding: &OnboardingMarker{Step: &step},
		}
		_, err := GuardTerminalTransition(patch)
		assert.ErrorIs(t, err, ErrDirtyTerminalFlow)
	})

	t.Run("TerminalFlowClean", func(t *testing.T) {
		patch := &StatePatch{
			Flow:            &OnboardingFlow{Status: FlowCompleted, Revision: 4},
			ClearOnboarding: true,
		}
		cmd, err := GuardTerminalTransition(patch)
		require.NoError(t, err)
		assert.Same(t, patch, cmd.Patch)
		assert.Empty(t, cmd.Goto)
	})

	t.Run("InProgressFlowMayKeepMarker", func(t *testing.T) {
		step := 1
		patch := &StatePatch{
			Flow:       &OnboardingFlow{Status: FlowInProgress},
			Onboarding: &OnboardingMarker{Step: &step, Key: "setup-input"},
		}
		_, err := GuardTerminalTransition(patch)
		assert.NoError(t, err)
	})

	t.Run("InputRequiredCheckedHereToo", func(t *testing.T) {
		patch := &StatePatch{Task: &TaskStatus{State: TaskInputRequired}}
		_, err := GuardTerminalTransition(patch)
		assert.ErrorIs(t, err, ErrMissingPrompt)
	})
}

func TestViewApply(t *testing.T) {
	v := View{ThreadID: "t1", Lifecycle: PhaseOnboarding}

	step := 2
	next := v.Apply(&StatePatch{
		Lifecycle:  phasePtr(PhaseActive),
		Onboarding: &OnboardingMarker{Step: &step, Key: "delegations"},
		Messages:   []Message{Text("hello")},
	}, 10)

	assert.Equal(t, PhaseActive, next.Lifecycle)
	require.NotNil(t, next.Onboarding)
	assert.Equal(t, "delegations", next.Onboarding.Key)
	require.Len(t, next.History, 1)

	// Original view untouched.
	assert.Equal(t, PhaseOnboarding, v.Lifecycle)
	assert.Nil(t, v.Onboarding)

	cleared := next.Apply(&StatePatch{ClearOnboarding: true}, 10)
	assert.Nil(t, cleared.Onboarding)
}

func TestViewApplyTerminalFlowClearsMarker(t *testing.T) {
	step := 4
	v := View{
		ThreadID:   "t1",
		Lifecycle:  PhaseOnboarding,
		Onboarding: &OnboardingMarker{Step: &step, Key: "prepare-operator"},
	}

	// A patch carrying a terminal flow drops the pre-existing marker even
	// without ClearOnboarding set.
	next := v.Apply(&StatePatch{
		Flow: &OnboardingFlow{Status: FlowCompleted, Revision: 5},
	}, 10)

	require.NotNil(t, next.Flow)
	assert.Equal(t, FlowCompleted, next.Flow.Status)
	assert.Nil(t, next.Onboarding)

	held := v.Apply(&StatePatch{
		Flow: &OnboardingFlow{Status: FlowInProgress, ActiveStepID: "prepare-operator"},
	}, 10)
	assert.NotNil(t, held.Onboarding, "in-progress flow keeps the marker")
}
