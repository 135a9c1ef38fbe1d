package session

// OnboardingSignals are the readiness flags accumulated across setup steps.
// Each field is an explicit signal; the resolver never inspects wider state.
type OnboardingSignals struct {
	RequiresPoolCatalog       bool
	HasPoolCatalog            bool
	HasSetupInput             bool
	HasFundingTokenInput      bool
	RequiresDelegationSigning bool
	HasDelegationBundle       bool
	HasOperatorConfig         bool
	RequiresSetupComplete     bool
	SetupComplete             bool
}

// ResolveOnboardingPhase maps readiness signals to the next onboarding phase.
// Evaluation order is fixed and first match wins: an earlier missing
// prerequisite masks every later one, which keeps onboarding a strict linear
// sequence. Backtracking only happens when a caller re-supplies signals.
func ResolveOnboardingPhase(sig OnboardingSignals) OnboardingPhase {
	switch {
	case sig.RequiresPoolCatalog && !sig.HasPoolCatalog:
		return StepCollectPoolCatalog
	case !sig.HasSetupInput:
		return StepCollectSetupInput
	case !sig.HasFundingTokenInput:
		return StepCollectFundingToken
	case sig.RequiresDelegationSigning && !sig.HasDelegationBundle:
		return StepCollectDelegations
	case !sig.HasOperatorConfig:
		return StepPrepareOperator
	case sig.RequiresSetupComplete && !sig.SetupComplete:
		// The explicit completion gate holds the thread on the operator step
		// until the caller confirms setup.
		return StepPrepareOperator
	}
	return StepReady
}
