package agent

import "time"

// OutcomeStatus is the terminal state of one execution run
type OutcomeStatus string

const (
	StatusPending          OutcomeStatus = "PENDING"
	StatusExecuted         OutcomeStatus = "EXECUTED"
	StatusFailed           OutcomeStatus = "FAILED"
	StatusRejected         OutcomeStatus = "REJECTED"
	StatusRequiresApproval OutcomeStatus = "REQUIRES_APPROVAL"
)

// String returns the string representation of the status
func (s OutcomeStatus) String() string {
	return string(s)
}

// ActionResult is the outcome of one action execution. Exactly one is
// recorded per attempted action, even on failure or timeout; a retried
// action produces one final result, not one per attempt.
type ActionResult struct {
	ActionType    ActionType             `json:"action_type"`
	Success       bool                   `json:"success"`
	Data          map[string]interface{} `json:"data,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	Message       string                 `json:"message,omitempty"`
}

// Skipped reports whether this result records a condition skip
func (r *ActionResult) Skipped() bool {
	if r.Data == nil {
		return false
	}
	skipped, _ := r.Data["skipped"].(bool)
	return skipped
}

// Error codes for execution errors
const (
	ErrCodeActionFailed     = "ACTION_FAILED"
	ErrCodeExecutionTimeout = "EXECUTION_TIMEOUT"
	ErrCodeRunCancelled     = "RUN_CANCELLED"
)

// ExecutionError is a failure modeled as data. Executors never let
// handler errors escape as panics or returned errors; they are appended
// to the outcome instead.
type ExecutionError struct {
	ActionType ActionType `json:"action_type,omitempty"`
	Code       string     `json:"code"`
	Message    string     `json:"message"`
	Retryable  bool       `json:"retryable"`
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return e.Code + ": " + e.Message
}

// DecisionOutcome is the aggregate result of executing a full action
// list. Created once per run; immutable after return.
type DecisionOutcome struct {
	Status        OutcomeStatus     `json:"status"`
	ExecutionTime time.Duration     `json:"execution_time"`
	Results       []*ActionResult   `json:"results"`
	Errors        []*ExecutionError `json:"errors"`
	RolledBack    bool              `json:"rolled_back"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// Failed reports whether the run recorded any error
func (o *DecisionOutcome) Failed() bool {
	return len(o.Errors) > 0
}
