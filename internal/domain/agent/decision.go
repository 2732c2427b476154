package agent

import "time"

// IntentClassification is the low-level classifier output
type IntentClassification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// DecisionResult is the decision engine's typed output: what the agent
// believes the input means and what should be done about it.
type DecisionResult struct {
	Intent           string    `json:"intent"`
	Confidence       float64   `json:"confidence"`
	Reasoning        string    `json:"reasoning,omitempty"`
	Actions          []*Action `json:"actions"`
	RequiresApproval bool      `json:"requires_approval"`
}

// ClampConfidence forces the confidence score into [0,1]. Any
// implementation of the decision contract must return a clamped score.
func (r *DecisionResult) ClampConfidence() {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}

// PipelineSummary is the organizational view of a pipeline exposed to
// the decision engine
type PipelineSummary struct {
	Key    string   `json:"key"`
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

// UserSummary is the organizational view of a staff member exposed to
// the decision engine
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// OrgContext carries the organizational data a decision is made against
type OrgContext struct {
	Pipelines []PipelineSummary      `json:"pipelines,omitempty"`
	Users     []UserSummary          `json:"users,omitempty"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
}

// HistoryContext carries optional recent history for the same correlation
type HistoryContext struct {
	RecentDecisions []*DecisionLog           `json:"recent_decisions,omitempty"`
	RelatedRecords  []map[string]interface{} `json:"related_records,omitempty"`
}

// DecisionContext is the read-only aggregate passed to the decision
// engine. Built fresh per decision; never mutated.
type DecisionContext struct {
	Input            *Input          `json:"input"`
	Org              OrgContext      `json:"org"`
	History          *HistoryContext `json:"history,omitempty"`
	AvailableActions []ActionType    `json:"available_actions"`
}

// Permits reports whether the caller allows the given action type.
// An empty AvailableActions list permits everything.
func (c *DecisionContext) Permits(t ActionType) bool {
	if len(c.AvailableActions) == 0 {
		return true
	}
	for _, a := range c.AvailableActions {
		if a == t {
			return true
		}
	}
	return false
}

// CompletionOptions tunes a raw completion call
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
	JSONMode    bool
}

// LLMResponse is the raw output of a completion call
type LLMResponse struct {
	Content      string
	FinishReason string
	TokensUsed   int
}

// DecisionLog is the persisted audit record of one decision
type DecisionLog struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	Source        Source    `json:"source"`
	InputType     string    `json:"input_type"`
	Intent        string    `json:"intent"`
	Confidence    float64   `json:"confidence"`
	Routing       string    `json:"routing"`
	ActionsJSON   string    `json:"actions_json,omitempty"`
	OutcomeJSON   string    `json:"outcome_json,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
