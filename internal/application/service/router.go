package service

import (
	"fmt"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
)

// Routing is the disposition assigned to a decision before execution
type Routing string

const (
	RoutingAutoExecute      Routing = "AUTO_EXECUTE"
	RoutingRequiresApproval Routing = "REQUIRES_APPROVAL"
	RoutingRejected         Routing = "REJECTED"
)

// ConfidenceThreshold defines the decision boundaries for routing
type ConfidenceThreshold struct {
	HighThreshold float64   // auto-execute at or above
	LowThreshold  float64   // reject below
	ConfigVersion string    // version identifier for the audit trail
	UpdatedAt     time.Time // when this config was created
}

// DefaultConfidenceThreshold returns the default threshold configuration
func DefaultConfidenceThreshold() ConfidenceThreshold {
	return ConfidenceThreshold{
		HighThreshold: 0.85,
		LowThreshold:  0.40,
		ConfigVersion: "v1",
		UpdatedAt:     time.Now(),
	}
}

// Validate ensures threshold values are within valid ranges and
// logically consistent
func (ct *ConfidenceThreshold) Validate() error {
	if ct.HighThreshold < 0.0 || ct.HighThreshold > 1.0 {
		return fmt.Errorf("HighThreshold must be between 0.0 and 1.0, got %.2f", ct.HighThreshold)
	}
	if ct.LowThreshold < 0.0 || ct.LowThreshold > 1.0 {
		return fmt.Errorf("LowThreshold must be between 0.0 and 1.0, got %.2f", ct.LowThreshold)
	}
	if ct.HighThreshold <= ct.LowThreshold {
		return fmt.Errorf("HighThreshold must be greater than LowThreshold (high: %.2f, low: %.2f)", ct.HighThreshold, ct.LowThreshold)
	}
	return nil
}

// ConfidenceRouter assigns a routing disposition from the decision's
// confidence score and approval flags
type ConfidenceRouter struct {
	thresholds ConfidenceThreshold
}

// NewConfidenceRouter creates a router with the given thresholds
func NewConfidenceRouter(thresholds ConfidenceThreshold) *ConfidenceRouter {
	return &ConfidenceRouter{thresholds: thresholds}
}

// Route assigns the disposition for a decision and returns a rationale
// for the audit trail. An explicit approval requirement from the engine,
// or any action flagged requires_confirmation, forces manual approval
// regardless of confidence.
func (cr *ConfidenceRouter) Route(result *agent.DecisionResult) (Routing, string) {
	if result.Confidence < cr.thresholds.LowThreshold {
		return RoutingRejected, fmt.Sprintf(
			"Rejected: confidence %.2f below low threshold %.2f",
			result.Confidence, cr.thresholds.LowThreshold)
	}

	if result.RequiresApproval {
		return RoutingRequiresApproval, "Manual approval required by decision engine"
	}
	for _, action := range result.Actions {
		if action.RequiresConfirmation {
			return RoutingRequiresApproval, fmt.Sprintf(
				"Manual approval required: action %s needs confirmation", action.Type)
		}
	}

	if result.Confidence >= cr.thresholds.HighThreshold {
		return RoutingAutoExecute, fmt.Sprintf(
			"Auto-execute: confidence %.2f >= threshold %.2f",
			result.Confidence, cr.thresholds.HighThreshold)
	}

	return RoutingRequiresApproval, fmt.Sprintf(
		"Manual approval required: confidence %.2f between thresholds (%.2f-%.2f)",
		result.Confidence, cr.thresholds.LowThreshold, cr.thresholds.HighThreshold)
}
