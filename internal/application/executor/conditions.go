package executor

import (
	"context"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"go.uber.org/zap"
)

// ConditionCheck answers whether an external precondition currently holds
type ConditionCheck func(ctx context.Context, params map[string]interface{}) (bool, error)

// conditionEvaluator resolves action conditions. user_available and
// slot_available default to true unless an external check is wired in;
// custom delegates to the caller-supplied evaluator.
type conditionEvaluator struct {
	userAvailable ConditionCheck
	slotAvailable ConditionCheck
	custom        ConditionCheck
	now           func() time.Time
	logger        *zap.Logger
}

func (ce *conditionEvaluator) evaluate(ctx context.Context, cond *agent.Condition) bool {
	switch cond.Type {
	case agent.ConditionTimeRange:
		start, end, ok := cond.TimeWindow()
		if !ok {
			ce.logger.Warn("Malformed time_range condition, treating as unmet",
				zap.Any("params", cond.Params))
			return false
		}
		now := ce.now()
		return !now.Before(start) && !now.After(end)

	case agent.ConditionUserAvailable:
		return ce.check(ctx, ce.userAvailable, cond)

	case agent.ConditionSlotAvailable:
		return ce.check(ctx, ce.slotAvailable, cond)

	case agent.ConditionCustom:
		return ce.check(ctx, ce.custom, cond)

	default:
		ce.logger.Warn("Unknown condition type, treating as met",
			zap.String("condition_type", string(cond.Type)))
		return true
	}
}

func (ce *conditionEvaluator) check(ctx context.Context, fn ConditionCheck, cond *agent.Condition) bool {
	if fn == nil {
		// no external check wired in
		return true
	}
	met, err := fn(ctx, cond.Params)
	if err != nil {
		ce.logger.Warn("Condition check failed, treating as unmet",
			zap.String("condition_type", string(cond.Type)),
			zap.Error(err))
		return false
	}
	return met
}
