// Package console provides local stand-in adapters for the external
// capability ports. They log and acknowledge instead of calling real
// providers, which keeps the pipeline runnable without vendor accounts.
package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmarshall/agent-orchestrator/internal/application/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier logs notifications instead of delivering them
type Notifier struct {
	logger *zap.Logger
}

// NewNotifier creates a console notifier
func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Send implements port.Notifier
func (n *Notifier) Send(ctx context.Context, req *port.NotificationRequest) error {
	n.logger.Info("Notification dispatched",
		zap.String("channel", req.Channel),
		zap.String("recipient", req.Recipient),
		zap.String("subject", req.Subject),
		zap.String("task_id", req.TaskID))
	return nil
}

// Calendar keeps created events in memory so update and cancel behave
// consistently within one process lifetime
type Calendar struct {
	logger *zap.Logger

	mu     sync.Mutex
	events map[string]*port.CalendarEventRef
}

// NewCalendar creates a console calendar
func NewCalendar(logger *zap.Logger) *Calendar {
	return &Calendar{
		logger: logger,
		events: make(map[string]*port.CalendarEventRef),
	}
}

// CreateEvent implements port.CalendarService
func (c *Calendar) CreateEvent(ctx context.Context, params map[string]interface{}) (*port.CalendarEventRef, error) {
	ref := &port.CalendarEventRef{EventID: uuid.NewString()}

	if startStr, ok := params["start"].(string); ok {
		if start, err := time.Parse(time.RFC3339, startStr); err == nil {
			ref.Start = start
		}
	}
	if endStr, ok := params["end"].(string); ok {
		if end, err := time.Parse(time.RFC3339, endStr); err == nil {
			ref.End = end
		}
	}

	c.mu.Lock()
	c.events[ref.EventID] = ref
	c.mu.Unlock()

	c.logger.Info("Calendar event created",
		zap.String("event_id", ref.EventID),
		zap.Time("start", ref.Start))
	return ref, nil
}

// UpdateEvent implements port.CalendarService
func (c *Calendar) UpdateEvent(ctx context.Context, eventID string, params map[string]interface{}) error {
	c.mu.Lock()
	_, ok := c.events[eventID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("calendar event %s not found", eventID)
	}

	c.logger.Info("Calendar event updated", zap.String("event_id", eventID))
	return nil
}

// CancelEvent implements port.CalendarService
func (c *Calendar) CancelEvent(ctx context.Context, eventID string) error {
	c.mu.Lock()
	delete(c.events, eventID)
	c.mu.Unlock()

	c.logger.Info("Calendar event cancelled", zap.String("event_id", eventID))
	return nil
}

// Automation logs automation triggers
type Automation struct {
	logger *zap.Logger
}

// NewAutomation creates a console automation service
func NewAutomation(logger *zap.Logger) *Automation {
	return &Automation{logger: logger}
}

// Trigger implements port.AutomationService
func (a *Automation) Trigger(ctx context.Context, key string, payload map[string]interface{}) error {
	a.logger.Info("Automation triggered",
		zap.String("automation_key", key),
		zap.Int("payload_fields", len(payload)))
	return nil
}

// Verify interface compliance
var (
	_ port.Notifier          = (*Notifier)(nil)
	_ port.CalendarService   = (*Calendar)(nil)
	_ port.AutomationService = (*Automation)(nil)
)
