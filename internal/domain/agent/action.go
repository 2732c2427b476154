package agent

import "time"

// ActionType is the discriminated-union tag of an action
type ActionType string

// Generic action vocabulary, produced by the decision engine and
// consumed by the action executor.
const (
	ActionAssignPipeline    ActionType = "ASSIGN_PIPELINE"
	ActionCreateEvent       ActionType = "CREATE_EVENT"
	ActionUpdateEvent       ActionType = "UPDATE_EVENT"
	ActionCancelEvent       ActionType = "CANCEL_EVENT"
	ActionSendNotification  ActionType = "SEND_NOTIFICATION"
	ActionTriggerAutomation ActionType = "TRIGGER_AUTOMATION"
	ActionEscalate          ActionType = "ESCALATE"
	ActionNoAction          ActionType = "NO_ACTION"
)

// Task-scoped action vocabulary, consumed by the task action executor.
const (
	ActionSetStatus       ActionType = "SET_STATUS"
	ActionSetStage        ActionType = "SET_STAGE"
	ActionAssignStaff     ActionType = "ASSIGN_STAFF"
	ActionTagTask         ActionType = "TAG_TASK"
	ActionPingCustomer    ActionType = "PING_CUSTOMER"
	ActionAddInternalNote ActionType = "ADD_INTERNAL_NOTE"
	ActionNoOp            ActionType = "NO_OP"
)

// String returns the string representation of the action type
func (t ActionType) String() string {
	return string(t)
}

// Priority bounds; 5 is the most urgent.
const (
	PriorityMin = 1
	PriorityMax = 5
)

// ConditionType identifies the kind of pre-execution check on an action
type ConditionType string

const (
	ConditionTimeRange     ConditionType = "time_range"
	ConditionUserAvailable ConditionType = "user_available"
	ConditionSlotAvailable ConditionType = "slot_available"
	ConditionCustom        ConditionType = "custom"
)

// Condition gates an action on an external check. An unmet condition
// skips the action, it does not fail it.
type Condition struct {
	Type   ConditionType          `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// TimeWindow extracts the [start,end] window from a time_range condition.
// Returns ok=false if either bound is missing or malformed.
func (c *Condition) TimeWindow() (start, end time.Time, ok bool) {
	startStr, _ := c.Params["start"].(string)
	endStr, _ := c.Params["end"].(string)
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Action is a single typed unit of work. Actions are value objects:
// never mutated after creation, only consumed.
type Action struct {
	Type                 ActionType             `json:"type"`
	Params               map[string]interface{} `json:"params,omitempty"`
	Priority             int                    `json:"priority"`
	RequiresConfirmation bool                   `json:"requires_confirmation,omitempty"`
	DelayMs              int64                  `json:"delay_ms,omitempty"`
	Condition            *Condition             `json:"condition,omitempty"`
	Fallback             *Action                `json:"fallback,omitempty"`
}

// Delay returns the pre-execution wait as a duration
func (a *Action) Delay() time.Duration {
	if a.DelayMs <= 0 {
		return 0
	}
	return time.Duration(a.DelayMs) * time.Millisecond
}

// ParamString retrieves a string parameter
func (a *Action) ParamString(key string) string {
	if val, ok := a.Params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// ParamStrings retrieves a string-slice parameter, tolerating the
// []interface{} shape JSON decoding produces
func (a *Action) ParamStrings(key string) []string {
	val, ok := a.Params[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
