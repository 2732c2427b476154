package dispatcher

import (
	"context"

	"github.com/dmarshall/agent-orchestrator/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// SubscriptionID identifies one registered handler for later removal
type SubscriptionID string

type subscription struct {
	id        SubscriptionID
	name      string
	eventType event.Type
	handler   Handler
	once      bool
}

// SubscriptionInfo describes a registered handler for debugging
type SubscriptionInfo struct {
	ID        SubscriptionID
	Name      string
	EventType event.Type
}
