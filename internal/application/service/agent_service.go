package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/executor"
	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AgentService is the orchestration entry point: classify an inbound
// signal, decide, route by confidence, execute, audit.
type AgentService interface {
	// ProcessInput runs the full pipeline for one input and returns the
	// execution outcome together with the persisted decision log
	ProcessInput(ctx context.Context, input *agent.Input, orgID string) (*agent.DecisionOutcome, *agent.DecisionLog, error)

	// Approve executes the stored actions of a decision previously routed
	// to manual approval
	Approve(ctx context.Context, decisionID string) (*agent.DecisionOutcome, error)

	// GetDecision returns the audit record for a decision
	GetDecision(ctx context.Context, decisionID string) (*agent.DecisionLog, error)
}

// Config tunes the orchestration service
type Config struct {
	// MaxDecisionRetries bounds re-decisions on retryable LLM failures
	MaxDecisionRetries int

	// DecisionRetryDelay is the linear backoff unit between re-decisions
	DecisionRetryDelay time.Duration

	// AvailableActions is the caller-permitted action set passed into the
	// decision context; empty permits everything
	AvailableActions []agent.ActionType

	// OrgSettings is exposed read-only to the decision engine
	OrgSettings map[string]interface{}
}

type agentService struct {
	cfg       Config
	llm       port.LLMClient
	exec      *executor.Executor
	router    *ConfidenceRouter
	decisions port.DecisionLogRepository
	pipelines port.PipelineRepository
	users     port.UserRepository
	bus       dispatcher.Dispatcher
	logger    *zap.Logger
}

// NewAgentService creates the orchestration service
func NewAgentService(
	cfg Config,
	llm port.LLMClient,
	exec *executor.Executor,
	router *ConfidenceRouter,
	decisions port.DecisionLogRepository,
	pipelines port.PipelineRepository,
	users port.UserRepository,
	bus dispatcher.Dispatcher,
	logger *zap.Logger,
) AgentService {
	if cfg.MaxDecisionRetries < 0 {
		cfg.MaxDecisionRetries = 0
	}
	if cfg.DecisionRetryDelay <= 0 {
		cfg.DecisionRetryDelay = 2 * time.Second
	}
	return &agentService{
		cfg:       cfg,
		llm:       llm,
		exec:      exec,
		router:    router,
		decisions: decisions,
		pipelines: pipelines,
		users:     users,
		bus:       bus,
		logger:    logger,
	}
}

// ProcessInput runs the full decision-action pipeline for one input
func (s *agentService) ProcessInput(ctx context.Context, input *agent.Input, orgID string) (*agent.DecisionOutcome, *agent.DecisionLog, error) {
	if !input.Source.IsValid() {
		return nil, nil, fmt.Errorf("invalid input source: %q", input.Source)
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now()
	}
	correlationID := input.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
		input.CorrelationID = correlationID
	}

	s.logger.Info("Processing agent input",
		zap.String("source", string(input.Source)),
		zap.String("input_type", input.Type),
		zap.String("correlation_id", correlationID))

	dc, err := s.buildContext(ctx, input, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build decision context: %w", err)
	}

	result, err := s.decide(ctx, dc)
	if err != nil {
		s.logger.Error("Decision failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err))
		return nil, nil, err
	}
	result.ClampConfidence()

	routing, rationale := s.router.Route(result)
	s.logger.Info("Decision routed",
		zap.String("intent", result.Intent),
		zap.Float64("confidence", result.Confidence),
		zap.String("routing", string(routing)),
		zap.String("rationale", rationale))

	actionsJSON, _ := json.Marshal(result.Actions)
	log := &agent.DecisionLog{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Source:        input.Source,
		InputType:     input.Type,
		Intent:        result.Intent,
		Confidence:    result.Confidence,
		Routing:       string(routing),
		ActionsJSON:   string(actionsJSON),
		Status:        string(agent.StatusPending),
		CreatedAt:     time.Now(),
	}
	if err := s.decisions.Create(ctx, log); err != nil {
		return nil, nil, fmt.Errorf("failed to persist decision log: %w", err)
	}

	var outcome *agent.DecisionOutcome
	switch routing {
	case RoutingRejected:
		outcome = &agent.DecisionOutcome{
			Status:      agent.StatusRejected,
			Results:     []*agent.ActionResult{},
			Errors:      []*agent.ExecutionError{},
			CompletedAt: time.Now(),
		}

	case RoutingRequiresApproval:
		outcome = &agent.DecisionOutcome{
			Status:      agent.StatusRequiresApproval,
			Results:     []*agent.ActionResult{},
			Errors:      []*agent.ExecutionError{},
			CompletedAt: time.Now(),
		}

	case RoutingAutoExecute:
		outcome = s.exec.Execute(ctx, result.Actions, executor.RunOptions{CorrelationID: correlationID})
	}

	s.finishDecision(ctx, log, outcome)
	return outcome, log, nil
}

// Approve executes the stored actions of a pending-approval decision
func (s *agentService) Approve(ctx context.Context, decisionID string) (*agent.DecisionOutcome, error) {
	log, err := s.decisions.GetByID(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("decision lookup failed: %w", err)
	}
	if log.Status != string(agent.StatusRequiresApproval) {
		return nil, fmt.Errorf("decision %s is not awaiting approval (status %s)", decisionID, log.Status)
	}

	var actions []*agent.Action
	if err := json.Unmarshal([]byte(log.ActionsJSON), &actions); err != nil {
		return nil, fmt.Errorf("stored actions are malformed: %w", err)
	}

	s.logger.Info("Executing approved decision",
		zap.String("decision_id", decisionID),
		zap.Int("actions", len(actions)))

	outcome := s.exec.Execute(ctx, actions, executor.RunOptions{CorrelationID: log.CorrelationID})
	s.finishDecision(ctx, log, outcome)
	return outcome, nil
}

// GetDecision returns the audit record for a decision
func (s *agentService) GetDecision(ctx context.Context, decisionID string) (*agent.DecisionLog, error) {
	return s.decisions.GetByID(ctx, decisionID)
}

// buildContext assembles the read-only decision context from the org's
// current state and recent history
func (s *agentService) buildContext(ctx context.Context, input *agent.Input, orgID string) (*agent.DecisionContext, error) {
	dc := &agent.DecisionContext{
		Input:            input,
		AvailableActions: s.cfg.AvailableActions,
		Org:              agent.OrgContext{Settings: s.cfg.OrgSettings},
	}

	pipelines, err := s.pipelines.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("pipeline listing failed: %w", err)
	}
	for _, p := range pipelines {
		summary := agent.PipelineSummary{Key: p.Key, Name: p.Name}
		for _, stage := range p.Stages {
			summary.Stages = append(summary.Stages, stage.Key)
		}
		dc.Org.Pipelines = append(dc.Org.Pipelines, summary)
	}

	users, err := s.users.ListActiveStaff(ctx, orgID, "")
	if err != nil {
		return nil, fmt.Errorf("user listing failed: %w", err)
	}
	for _, u := range users {
		dc.Org.Users = append(dc.Org.Users, agent.UserSummary{
			ID: u.ID, Name: u.Name, Role: u.Role, Active: u.Active,
		})
	}

	recent, err := s.decisions.ListRecentByCorrelation(ctx, input.CorrelationID, 5)
	if err != nil {
		// History is optional context; a lookup failure does not block the decision.
		s.logger.Warn("Failed to load decision history", zap.Error(err))
	} else if len(recent) > 0 {
		dc.History = &agent.HistoryContext{RecentDecisions: recent}
	}

	return dc, nil
}

// decide calls the decision engine, re-deciding on retryable failures
// with linear backoff. Non-retryable kinds fail fast.
func (s *agentService) decide(ctx context.Context, dc *agent.DecisionContext) (*agent.DecisionResult, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxDecisionRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.DecisionRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			s.logger.Info("Retrying decision", zap.Int("attempt", attempt))
		}

		result, err := s.llm.MakeDecision(ctx, dc)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !agent.IsRetryableLLMError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("decision failed after %d retries: %w", s.cfg.MaxDecisionRetries, lastErr)
}

// finishDecision records the outcome on the audit log and announces it
func (s *agentService) finishDecision(ctx context.Context, log *agent.DecisionLog, outcome *agent.DecisionOutcome) {
	outcomeJSON, _ := json.Marshal(outcome)
	if err := s.decisions.UpdateOutcome(ctx, log.ID, string(outcome.Status), string(outcomeJSON)); err != nil {
		s.logger.Error("Failed to update decision outcome",
			zap.String("decision_id", log.ID),
			zap.Error(err))
	}

	if s.bus != nil {
		s.bus.Emit(ctx, event.NewWithCorrelation(event.TypeDecisionCompleted, map[string]interface{}{
			"decision_id": log.ID,
			"intent":      log.Intent,
			"confidence":  log.Confidence,
			"routing":     log.Routing,
			"status":      string(outcome.Status),
		}, log.CorrelationID))
	}
}
