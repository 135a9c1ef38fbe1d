package session

// LifecycleInputs carries everything one lifecycle resolution looks at.
// Previous must thread through from the last resolution so the hysteresis
// guards can hold the line against transiently missing signals.
type LifecycleInputs struct {
	Previous       LifecyclePhase
	TaskState      TaskState
	FlowStatus     FlowStatus
	OnboardingStep *int
	ExplicitPhase  *LifecyclePhase

	SetupComplete       bool
	HasOperatorConfig   bool
	HasDelegationBundle bool
	FireRequested       bool
}

// ResolveLifecyclePhase maps task status, onboarding status and the previous
// phase to the thread's next lifecycle phase.
//
// A requested fire dominates everything until the task reaches a terminal
// state, at which point the thread settles into inactive. Setup completion by
// any of its three independent signals, or a completed onboarding flow,
// promotes to active. Otherwise the candidate derives from onboarding
// progress, falling back to inactive or prehire.
//
// Hysteresis suppresses regressions: the phase monotonically reflects how far
// a thread has progressed and must not flicker backward because a single step
// happened to miss a signal.
func ResolveLifecyclePhase(in LifecycleInputs) LifecyclePhase {
	if in.FireRequested && !in.TaskState.Terminal() {
		return PhaseFiring
	}
	if in.Previous == PhaseFiring && in.TaskState.Terminal() {
		return PhaseInactive
	}

	candidate := resolveCandidate(in)

	switch in.Previous {
	case PhaseActive:
		if candidate == PhaseOnboarding || candidate == PhasePrehire {
			return PhaseActive
		}
	case PhaseOnboarding:
		if candidate == PhasePrehire {
			return PhaseOnboarding
		}
	case PhaseInactive:
		if candidate == PhasePrehire {
			return PhaseInactive
		}
	case PhaseFiring:
		if candidate != PhaseFiring && !in.TaskState.Terminal() {
			return PhaseFiring
		}
	}
	return candidate
}

func resolveCandidate(in LifecycleInputs) LifecyclePhase {
	if in.ExplicitPhase != nil {
		return *in.ExplicitPhase
	}
	if in.SetupComplete || in.HasOperatorConfig || in.HasDelegationBundle || in.FlowStatus == FlowCompleted {
		return PhaseActive
	}
	if in.FlowStatus == FlowInProgress || in.OnboardingStep != nil {
		return PhaseOnboarding
	}
	if in.Previous == PhaseInactive {
		return PhaseInactive
	}
	return PhasePrehire
}
