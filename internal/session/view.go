package session

// LifecyclePhase is the coarse-grained status of a thread.
type LifecyclePhase string

const (
	PhasePrehire    LifecyclePhase = "prehire"
	PhaseOnboarding LifecyclePhase = "onboarding"
	PhaseActive     LifecyclePhase = "active"
	PhaseFiring     LifecyclePhase = "firing"
	PhaseInactive   LifecyclePhase = "inactive"
)

// OnboardingPhase is the current required-input step in the fixed linear
// setup sequence. Values are wire/storage visible and must not change.
type OnboardingPhase string

const (
	StepCollectPoolCatalog  OnboardingPhase = "collect-pool-catalog"
	StepCollectSetupInput   OnboardingPhase = "collect-setup-input"
	StepCollectFundingToken OnboardingPhase = "collect-funding-token"
	StepCollectDelegations  OnboardingPhase = "collect-delegations"
	StepPrepareOperator     OnboardingPhase = "prepare-operator"
	StepReady               OnboardingPhase = "ready"
)

// FlowStatus tracks an onboarding flow record through its lifetime.
type FlowStatus string

const (
	FlowInProgress FlowStatus = "in_progress"
	FlowCompleted  FlowStatus = "completed"
	FlowFailed     FlowStatus = "failed"
	FlowCanceled   FlowStatus = "canceled"
)

// Terminal reports whether the flow has finished, successfully or not.
func (s FlowStatus) Terminal() bool {
	return s == FlowCompleted || s == FlowFailed || s == FlowCanceled
}

// TaskState is an open string enum; unknown values pass through untouched.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input-required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
)

// Terminal reports whether the task has reached a final state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCanceled
}

// TaskMessage carries the human-facing text attached to a task status.
// A status of TaskInputRequired must always carry one with non-empty content.
type TaskMessage struct {
	Content string `json:"content,omitempty"`
}

// TaskStatus is the engine-visible status record of the thread's current task.
type TaskStatus struct {
	State   TaskState    `json:"state"`
	Message *TaskMessage `json:"message,omitempty"`
}

// FlowStep is one ordered step inside an onboarding flow record.
type FlowStep struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status,omitempty"`
}

// OnboardingFlow is the structured onboarding flow record shown to consumers.
type OnboardingFlow struct {
	Status       FlowStatus `json:"status"`
	Revision     int        `json:"revision"`
	ActiveStepID string     `json:"activeStepId,omitempty"`
	Steps        []FlowStep `json:"steps,omitempty"`
}

// OnboardingMarker is the legacy step/key pair older consumers still read.
// It must be absent once the flow record reports a terminal status.
type OnboardingMarker struct {
	Step *int   `json:"step,omitempty"`
	Key  string `json:"key,omitempty"`
}

// View is the session projection consumers care about. It is reconstructed
// from the latest checkpoint and mutated exclusively through guarded patches.
type View struct {
	ThreadID   string            `json:"threadId"`
	Lifecycle  LifecyclePhase    `json:"lifecycle"`
	Onboarding *OnboardingMarker `json:"onboarding,omitempty"`
	Flow       *OnboardingFlow   `json:"onboardingFlow,omitempty"`
	Task       *TaskStatus       `json:"task,omitempty"`
	History    []Message         `json:"history,omitempty"`
}

// StatePatch is a partial update assembled by a session step. Each field is
// optional; nil means "leave as is". Patches only reach the engine through
// the transition guard.
type StatePatch struct {
	Lifecycle  *LifecyclePhase   `json:"lifecycle,omitempty"`
	Onboarding *OnboardingMarker `json:"onboarding,omitempty"`
	Flow       *OnboardingFlow   `json:"onboardingFlow,omitempty"`
	Task       *TaskStatus       `json:"task,omitempty"`
	Messages   []Message         `json:"messages,omitempty"`

	// ClearOnboarding removes the legacy marker instead of leaving it as is.
	ClearOnboarding bool `json:"clearOnboarding,omitempty"`
}

// Apply folds a patch into a copy of the view and returns it. History is
// merged through MergeHistories with the supplied limit.
func (v View) Apply(patch *StatePatch, historyLimit int) View {
	if patch == nil {
		return v
	}
	if patch.Lifecycle != nil {
		v.Lifecycle = *patch.Lifecycle
	}
	if patch.ClearOnboarding {
		v.Onboarding = nil
	} else if patch.Onboarding != nil {
		marker := *patch.Onboarding
		v.Onboarding = &marker
	}
	if patch.Flow != nil {
		flow := *patch.Flow
		v.Flow = &flow
		// A terminal flow never coexists with the legacy marker, even when
		// the patch did not ask for the clear explicitly.
		if flow.Status.Terminal() {
			v.Onboarding = nil
		}
	}
	if patch.Task != nil {
		task := *patch.Task
		v.Task = &task
	}
	if len(patch.Messages) > 0 {
		v.History = MergeHistories(v.History, patch.Messages, historyLimit)
	}
	return v
}
