package adapters

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
)

// InAppAdapter delivers notifications to the in-app inbox. The persisted row
// itself is the delivery artifact: marking it SENT makes it visible to the
// unread in-app queries, so there is no external transport to fail. The body
// is still rendered so template errors surface at send time rather than when
// the inbox is read.
type InAppAdapter struct {
	backend  Backend
	renderer render.Renderer
	log      *zap.Logger
}

// NewInAppAdapter constructs an in-app adapter.
func NewInAppAdapter(backend Backend, renderer render.Renderer) (*InAppAdapter, error) {
	if backend == nil {
		return nil, errors.New("in-app adapter: backend is required")
	}
	if renderer == nil {
		return nil, errors.New("in-app adapter: renderer is required")
	}
	return &InAppAdapter{
		backend:  backend,
		renderer: renderer,
		log:      logger.WithModule("adapter.inapp"),
	}, nil
}

func (a *InAppAdapter) ID() string { return "adapters.InAppAdapter" }

func (a *InAppAdapter) NotificationType() models.NotificationType { return models.TypeInApp }

func (a *InAppAdapter) Send(ctx context.Context, notification *models.Notification, renderCtx render.Context, headers map[string]string) error {
	// Resolution validates that the owning user exists and is active.
	if _, err := a.backend.ResolveDestination(ctx, notification.ID); err != nil {
		return err
	}

	if _, err := a.renderer.Render(notification, renderCtx); err != nil {
		a.markFailed(ctx, notification.ID)
		return err
	}

	if _, err := a.backend.MarkSent(ctx, notification.ID); err != nil {
		return err
	}
	return nil
}

func (a *InAppAdapter) markFailed(ctx context.Context, notificationID string) {
	if _, err := a.backend.MarkFailed(ctx, notificationID); err != nil {
		a.log.Warn("failed to mark notification as failed",
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}
