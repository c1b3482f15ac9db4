package adapters

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
	"github.com/herald-dispatch/herald/pkg/mail"
)

// BaseURLContextKey is the context key templates use to build absolute links.
const BaseURLContextKey = "base_url"

// EmailConfig carries the channel-level settings for the email adapter.
type EmailConfig struct {
	From            string
	BCC             []string
	BaseURLProtocol string
	BaseURLDomain   string
}

// EmailAdapter delivers notifications over SMTP.
type EmailAdapter struct {
	backend  Backend
	renderer render.Renderer
	mailer   mail.Mailer
	cfg      EmailConfig
	log      *zap.Logger
}

// NewEmailAdapter constructs an email adapter.
func NewEmailAdapter(backend Backend, renderer render.Renderer, mailer mail.Mailer, cfg EmailConfig) (*EmailAdapter, error) {
	if backend == nil {
		return nil, errors.New("email adapter: backend is required")
	}
	if renderer == nil {
		return nil, errors.New("email adapter: renderer is required")
	}
	if mailer == nil {
		return nil, errors.New("email adapter: mailer is required")
	}
	return &EmailAdapter{
		backend:  backend,
		renderer: renderer,
		mailer:   mailer,
		cfg:      cfg,
		log:      logger.WithModule("adapter.email"),
	}, nil
}

func (a *EmailAdapter) ID() string { return "adapters.EmailAdapter" }

func (a *EmailAdapter) NotificationType() models.NotificationType { return models.TypeEmail }

// Send resolves the recipient, renders the three email template slots, and
// transmits over SMTP. Render and transport failures mark the notification
// FAILED before propagating.
func (a *EmailAdapter) Send(ctx context.Context, notification *models.Notification, renderCtx render.Context, headers map[string]string) error {
	destination, err := a.backend.ResolveDestination(ctx, notification.ID)
	if err != nil {
		return err
	}

	contextWithBaseURL := renderCtx.Clone()
	contextWithBaseURL[BaseURLContextKey] = fmt.Sprintf("%s://%s", a.cfg.BaseURLProtocol, a.cfg.BaseURLDomain)

	templated, err := a.renderer.Render(notification, contextWithBaseURL)
	if err != nil {
		a.markFailed(ctx, notification.ID)
		return err
	}

	msg := mail.Message{
		From:    a.cfg.From,
		To:      []string{destination},
		BCC:     a.cfg.BCC,
		Subject: templated.Subject,
		Body:    templated.Body,
		HTML:    true,
		Headers: headers,
	}

	if err := a.mailer.Send(ctx, msg); err != nil {
		a.markFailed(ctx, notification.ID)
		return &SendError{NotificationID: notification.ID, Err: err}
	}

	if _, err := a.backend.MarkSent(ctx, notification.ID); err != nil {
		return err
	}
	return nil
}

func (a *EmailAdapter) markFailed(ctx context.Context, notificationID string) {
	if _, err := a.backend.MarkFailed(ctx, notificationID); err != nil {
		a.log.Warn("failed to mark notification as failed",
			zap.String("notification_id", notificationID),
			zap.Error(err))
	}
}
