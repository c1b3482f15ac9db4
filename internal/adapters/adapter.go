package adapters

import (
	"context"
	"fmt"

	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
)

// Backend is the subset of the notification backend an adapter needs to
// resolve destinations and report delivery outcomes.
type Backend interface {
	ResolveDestination(ctx context.Context, notificationID string) (string, error)
	MarkSent(ctx context.Context, notificationID string) (*models.Notification, error)
	MarkFailed(ctx context.Context, notificationID string) (*models.Notification, error)
}

// Adapter orchestrates delivery over one channel: resolve the destination,
// render the content, transmit it, and report the outcome through the
// backend. Render and transport failures force the notification into FAILED
// before the error propagates, so persisted state never contradicts the
// caller-visible outcome. Destination-resolution failures propagate without
// touching status.
type Adapter interface {
	// ID identifies the adapter in the send-attempt audit trail.
	ID() string
	NotificationType() models.NotificationType
	Send(ctx context.Context, notification *models.Notification, context render.Context, headers map[string]string) error
}

// SendError wraps a transport failure during delivery.
type SendError struct {
	NotificationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("adapter: send notification %s: %v", e.NotificationID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Registry holds one adapter per notification type.
type Registry struct {
	adapters map[models.NotificationType]Adapter
}

// NewRegistry builds a registry from the supplied adapters. A later adapter
// for the same type replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[models.NotificationType]Adapter, len(adapters))}
	for _, adapter := range adapters {
		registry.adapters[adapter.NotificationType()] = adapter
	}
	return registry
}

// Get returns the adapter registered for the notification type.
func (r *Registry) Get(notificationType models.NotificationType) (Adapter, error) {
	adapter, ok := r.adapters[notificationType]
	if !ok {
		return nil, fmt.Errorf("adapter: no adapter registered for notification type %q", notificationType)
	}
	return adapter, nil
}
