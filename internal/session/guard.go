package session

import (
	"errors"
	"fmt"
)

// Guard invariant violations. These indicate bugs in calling code, never
// runtime conditions to recover from; they must not reach a client.
var (
	ErrEmptyPauseTarget  = errors.New("session: pause transition has empty target node")
	ErrMissingPrompt     = errors.New("session: input-required status without a prompt message")
	ErrDirtyTerminalFlow = errors.New("session: terminal onboarding flow still carries legacy step fields")
)

// Command is a transition payload handed back to the workflow engine.
// Goto names the node a pause resumes into; a terminal command leaves it
// empty and only carries the final patch.
type Command struct {
	Goto  string      `json:"goto,omitempty"`
	Patch *StatePatch `json:"patch,omitempty"`
}

// GuardPauseTransition validates a pause transition and returns the
// constructed command unchanged on success. The destination node must be
// non-empty, and the patch must satisfy the cross-field invariants checked
// by validatePatch. The guard is the single chokepoint for the many call
// sites that assemble partial patches, so every check runs here even when a
// caller "knows" its patch is fine.
func GuardPauseTransition(nodeID string, patch *StatePatch) (*Command, error) {
	if nodeID == "" {
		return nil, ErrEmptyPauseTarget
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	return &Command{Goto: nodeID, Patch: patch}, nil
}

// GuardTerminalTransition validates a terminal transition payload and
// returns the constructed command unchanged on success.
func GuardTerminalTransition(patch *StatePatch) (*Command, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	return &Command{Patch: patch}, nil
}

// validatePatch enforces the cross-field invariants on an outgoing patch:
//
//   - a task status of input-required must carry a non-empty prompt, since a
//     pause that asks the user for input is unresumable without one;
//   - a terminal onboarding flow must not leave the legacy step/key marker in
//     place, or consumers would see the flow as simultaneously done and
//     mid-step.
func validatePatch(patch *StatePatch) error {
	if patch == nil {
		return nil
	}
	if patch.Task != nil && patch.Task.State == TaskInputRequired {
		if patch.Task.Message == nil || patch.Task.Message.Content == "" {
			return fmt.Errorf("%w (state=%s)", ErrMissingPrompt, patch.Task.State)
		}
	}
	if patch.Flow != nil && patch.Flow.Status.Terminal() {
		if marker := patch.Onboarding; marker != nil && (marker.Step != nil || marker.Key != "") {
			return fmt.Errorf("%w (status=%s)", ErrDirtyTerminalFlow, patch.Flow.Status)
		}
	}
	return nil
}
