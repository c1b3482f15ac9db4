package adapters

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
)

const smsSenderIDAttribute = "AWS.SNS.SMS.SenderID"

// SMSAdapter delivers notifications as SMS messages through SNS. The rendered
// body is published directly to the resolved phone number; subject and
// preheader slots are empty for SMS notifications.
type SMSAdapter struct {
	backend  Backend
	renderer render.Renderer
	client   SNSPublisher
	log      *zap.Logger
}

// NewSMSAdapter constructs an SMS adapter.
func NewSMSAdapter(backend Backend, renderer render.Renderer, client SNSPublisher) (*SMSAdapter, error) {
	if backend == nil {
		return nil, errors.New("sms adapter: backend is required")
	}
	if renderer == nil {
		return nil, errors.New("sms adapter: renderer is required")
	}
	if client == nil {
		return nil, errors.New("sms adapter: sns client is required")
	}
	return &SMSAdapter{
		backend:  backend,
		renderer: renderer,
		client:   client,
		log:      logger.WithModule("adapter.sms"),
	}, nil
}

func (a *SMSAdapter) ID() string { return "adapters.SMSAdapter" }

func (a *SMSAdapter) NotificationType() models.NotificationType { return models.TypeSMS }

func (a *SMSAdapter) Send(ctx context.Context, notification *models.Notification, renderCtx render.Context, headers map[string]string) error {
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
		PhoneNumber: aws.String(destination),
		Message:     aws.String(templated.Body),
	}
	if senderID := extraParameter(notification, "sender_id"); senderID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			smsSenderIDAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(senderID),
			},
		}
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

func (a *SMSAdapter) markFailed(ctx context.Context, notificationID string) {
	if _, err := a.backend.MarkFailed(ctx, notificationID); err != nil {
		a.log.Warn("failed to mark notification as failed",
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}

// extraParameter reads a string value from the notification's free-form
// adapter parameters.
func extraParameter(notification *models.Notification, key string) string {
	if len(notification.AdapterExtraParameters) == 0 {
		return ""
	}
	var params map[string]any
	if err := json.Unmarshal(notification.AdapterExtraParameters, &params); err != nil {
		return ""
	}
	value, _ := params[key].(string)
	return value
}
