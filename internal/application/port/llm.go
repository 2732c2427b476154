package port

import (
	"context"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
)

// LLMClient is the decision engine capability: given context, return a
// decision. Implementations must be side-effect free (calling twice with
// the same context causes no downstream state change), must clamp
// confidence into [0,1], and must surface failures through the
// agent.LLMError taxonomy so callers can distinguish retryable from
// non-retryable kinds.
type LLMClient interface {
	// Complete issues a raw completion call
	Complete(ctx context.Context, prompt string, opts agent.CompletionOptions) (*agent.LLMResponse, error)

	// ClassifyIntent classifies a single input without deciding actions
	ClassifyIntent(ctx context.Context, input *agent.Input) (*agent.IntentClassification, error)

	// MakeDecision produces a full decision for the given context
	MakeDecision(ctx context.Context, dc *agent.DecisionContext) (*agent.DecisionResult, error)
}
