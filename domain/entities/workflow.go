package entities

// WorkflowState represents a state of the workflow state machine
type WorkflowState string

const (
	StateIdle                   WorkflowState = "idle"
	StateInitializing           WorkflowState = "initializing"
	StateAwaitingAcknowledgment WorkflowState = "awaiting_acknowledgment"
	StateAuthenticating         WorkflowState = "authenticating"
	StateLocating               WorkflowState = "locating"
	StateActing                 WorkflowState = "acting"
	StateVerifying              WorkflowState = "verifying"
	StateCompleted              WorkflowState = "completed"
	StateFailed                 WorkflowState = "failed"
)

var workflowTransitions = map[WorkflowState][]WorkflowState{
	StateIdle:                   {StateInitializing},
	StateInitializing:           {StateAuthenticating, StateLocating},
	StateAuthenticating:         {StateAwaitingAcknowledgment, StateLocating, StateCompleted},
	StateAwaitingAcknowledgment: {StateAuthenticating, StateLocating},
	StateLocating:               {StateAwaitingAcknowledgment, StateActing, StateCompleted},
	StateActing:                 {StateVerifying},
	StateVerifying:              {StateCompleted},
}

// IsTerminal - Completed and Failed end a run
func (s WorkflowState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the machine may move from s to next.
// Failed is reachable from every non-terminal state.
func (s WorkflowState) CanTransition(next WorkflowState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Plan selects which subset of the workflow a run executes
type Plan string

const (
	PlanFull   Plan = "full"
	PlanLogin  Plan = "login"
	PlanSearch Plan = "search"
)

func (p Plan) Authenticates() bool { return p == PlanFull || p == PlanLogin }
func (p Plan) Locates() bool       { return p == PlanFull || p == PlanSearch }
func (p Plan) AddsToCart() bool    { return p == PlanFull }

// Credentials for the storefront account
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != ""
}

// WorkflowContext is the scratch state of a single run. It is owned by that run and discarded afterwards.
type WorkflowContext struct {
	RunID       string            `json:"run_id"`
	TargetURL   string            `json:"target_url"`
	Credentials Credentials       `json:"credentials"`
	SearchTerm  string            `json:"search_term"`
	Product     *ExtractedProduct `json:"product,omitempty"`
	Navigated   bool              `json:"-"`
}
