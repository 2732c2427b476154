package port

import (
	"context"
	"time"
)

// NotificationRequest is the typed payload handed to the notification
// capability. The core does not inspect its delivery protocol.
type NotificationRequest struct {
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Body      string            `json:"body"`
	TaskID    string            `json:"task_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Notifier delivers notifications through an external channel
type Notifier interface {
	Send(ctx context.Context, req *NotificationRequest) error
}

// CalendarEventRef identifies a calendar event created externally
type CalendarEventRef struct {
	EventID string    `json:"event_id"`
	Start   time.Time `json:"start,omitempty"`
	End     time.Time `json:"end,omitempty"`
}

// CalendarService manages calendar events in an external system
type CalendarService interface {
	CreateEvent(ctx context.Context, params map[string]interface{}) (*CalendarEventRef, error)
	UpdateEvent(ctx context.Context, eventID string, params map[string]interface{}) error
	CancelEvent(ctx context.Context, eventID string) error
}

// AutomationService triggers a named downstream automation
type AutomationService interface {
	Trigger(ctx context.Context, key string, payload map[string]interface{}) error
}
