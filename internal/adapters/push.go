package adapters

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
)

// PushAdapter delivers notifications to a user's registered device endpoint
// through SNS. The resolved destination is the platform endpoint ARN stored
// on the user record.
type PushAdapter struct {
	backend  Backend
	renderer render.Renderer
	client   SNSPublisher
	log      *zap.Logger
}

// NewPushAdapter constructs a push adapter.
func NewPushAdapter(backend Backend, renderer render.Renderer, client SNSPublisher) (*PushAdapter, error) {
	if backend == nil {
		return nil, errors.New("push adapter: backend is required")
	}
	if renderer == nil {
		return nil, errors.New("push adapter: renderer is required")
	}
	if client == nil {
		return nil, errors.New("push adapter: sns client is required")
	}
	return &PushAdapter{
		backend:  backend,
		renderer: renderer,
		client:   client,
		log:      logger.WithModule("adapter.push"),
	}, nil
}

func (a *PushAdapter) ID() string { return "adapters.PushAdapter" }

func (a *PushAdapter) NotificationType() models.NotificationType { return models.TypePush }

func (a *PushAdapter) Send(ctx context.Context, notification *models.Notification, renderCtx render.Context, headers map[string]string) error {
	destination, err := a.backend.ResolveDestination(ctx, notification.ID)
	if err != nil {
		return err
	}

	templated, err := a.renderer.Render(notification, renderCtx)
	if err != nil {
		a.markFailed(ctx, notification.ID)
		return err
	}

	input := &sns.PublishInput{
		TargetArn: aws.String(destination),
		Message:   aws.String(templated.Body),
	}
	if notification.Title != "" {
		input.Subject = aws.String(notification.Title)
	}

	if _, err := a.client.Publish(ctx, input); err != nil {
		a.markFailed(ctx, notification.ID)
		return &SendError{NotificationID: notification.ID, Err: err}
	}

	if _, err := a.backend.MarkSent(ctx, notification.ID); err != nil {
		return err
	}
	return nil
}

func (a *PushAdapter) markFailed(ctx context.Context, notificationID string) {
	if _, err := a.backend.MarkFailed(ctx, notificationID); err != nil {
		a.log.Warn("failed to mark notification as failed",
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}
