package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/herald-dispatch/herald/internal/models"
	apperrors "github.com/herald-dispatch/herald/pkg/errors"
	"github.com/herald-dispatch/herald/pkg/validator"
)

// Backend is the exclusive gateway to persisted notification state. Every
// status transition is a single conditional UPDATE scoped by id and current
// status, so concurrent dispatchers racing on the same row cannot double-send
// or corrupt state: exactly one writer matches, the rest observe
// ErrUpdateConflict.
type Backend struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises the Backend.
type Option func(*Backend)

// WithNow overrides the clock used for dispatch-eligibility comparisons.
func WithNow(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs a Backend.
func New(db *gorm.DB, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, errors.New("notification backend: db is required")
	}
	b := &Backend{db: db, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// PersistInput defines attributes required to persist a notification.
type PersistInput struct {
	UserID                 string                  `json:"user_id" validate:"required"`
	NotificationType       models.NotificationType `json:"notification_type" validate:"required"`
	Title                  string                  `json:"title" validate:"required,max=255"`
	BodyTemplate           string                  `json:"body_template" validate:"required,max=255"`
	ContextName            string                  `json:"context_name" validate:"max=255"`
	ContextKwargs          map[string]any          `json:"context_kwargs"`
	SendAfter              *time.Time              `json:"send_after"`
	SubjectTemplate        string                  `json:"subject_template" validate:"max=255"`
	PreheaderTemplate      string                  `json:"preheader_template" validate:"max=255"`
	AdapterExtraParameters map[string]any          `json:"adapter_extra_parameters"`
}

// UpdateInput lists the fields that may change while a notification is still
// pending. Nil pointers leave the column untouched.
type UpdateInput struct {
	Title                  *string        `json:"title"`
	BodyTemplate           *string        `json:"body_template"`
	SubjectTemplate        *string        `json:"subject_template"`
	PreheaderTemplate      *string        `json:"preheader_template"`
	ContextName            *string        `json:"context_name"`
	ContextKwargs          map[string]any `json:"context_kwargs"`
	SendAfter              *time.Time     `json:"send_after"`
	AdapterExtraParameters map[string]any `json:"adapter_extra_parameters"`
}

// Persist creates a new notification in PENDING_SEND state and assigns it a
// fresh unique id.
func (b *Backend) Persist(ctx context.Context, input PersistInput) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.ErrBadRequest.WithInternal(err)
	}
	if !input.NotificationType.Valid() {
		return nil, apperrors.ErrBadRequest.WithInternal(
			fmt.Errorf("unknown notification type %q", input.NotificationType))
	}

	notification := models.Notification{
		UserID:            strings.TrimSpace(input.UserID),
		NotificationType:  input.NotificationType,
		Status:            models.StatusPendingSend,
		Title:             input.Title,
		BodyTemplate:      input.BodyTemplate,
		SubjectTemplate:   input.SubjectTemplate,
		PreheaderTemplate: input.PreheaderTemplate,
		ContextName:       input.ContextName,
		SendAfter:         input.SendAfter,
	}

	kwargs, err := encodeJSON(input.ContextKwargs)
	if err != nil {
		return nil, fmt.Errorf("notification backend: marshal context kwargs: %w", err)
	}
	if kwargs == nil {
		kwargs = datatypes.JSON([]byte("{}"))
	}
	notification.ContextKwargs = kwargs

	extra, err := encodeJSON(input.AdapterExtraParameters)
	if err != nil {
		return nil, fmt.Errorf("notification backend: marshal adapter extra parameters: %w", err)
	}
	notification.AdapterExtraParameters = extra

	if err := b.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification backend: create notification: %w", err)
	}
	return &notification, nil
}

// Update applies a partial update to a still-pending notification. The write
// is conditional on status so an update racing a concurrent send is rejected
// with ErrUpdateConflict instead of silently clobbering a sent row.
func (b *Backend) Update(ctx context.Context, notificationID string, input UpdateInput) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	updates := map[string]any{}
	if input.Title != nil {
		updates["title"] = *input.Title
	}
	if input.BodyTemplate != nil {
		updates["body_template"] = *input.BodyTemplate
	}
	if input.SubjectTemplate != nil {
		updates["subject_template"] = *input.SubjectTemplate
	}
	if input.PreheaderTemplate != nil {
		updates["preheader_template"] = *input.PreheaderTemplate
	}
	if input.ContextName != nil {
		updates["context_name"] = *input.ContextName
	}
	if input.ContextKwargs != nil {
		kwargs, err := encodeJSON(input.ContextKwargs)
		if err != nil {
			return nil, fmt.Errorf("notification backend: marshal context kwargs: %w", err)
		}
		updates["context_kwargs"] = kwargs
	}
	if input.SendAfter != nil {
		updates["send_after"] = *input.SendAfter
	}
	if input.AdapterExtraParameters != nil {
		extra, err := encodeJSON(input.AdapterExtraParameters)
		if err != nil {
			return nil, fmt.Errorf("notification backend: marshal adapter extra parameters: %w", err)
		}
		updates["adapter_extra_parameters"] = extra
	}

	if len(updates) == 0 {
		return b.Get(ctx, notificationID, false)
	}

	result := b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status = ?", notificationID, models.StatusPendingSend).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("notification backend: update notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.ErrUpdateConflict
	}

	return b.reload(ctx, notificationID)
}

// MarkSent transitions PENDING_SEND -> SENT.
func (b *Backend) MarkSent(ctx context.Context, notificationID string) (*models.Notification, error) {
	return b.transition(ctx, notificationID, models.StatusPendingSend, models.StatusSent, apperrors.ErrUpdateConflict)
}

// MarkFailed transitions PENDING_SEND -> FAILED.
func (b *Backend) MarkFailed(ctx context.Context, notificationID string) (*models.Notification, error) {
	return b.transition(ctx, notificationID, models.StatusPendingSend, models.StatusFailed, apperrors.ErrUpdateConflict)
}

// MarkRead transitions SENT -> READ.
func (b *Backend) MarkRead(ctx context.Context, notificationID string) (*models.Notification, error) {
	return b.transition(ctx, notificationID, models.StatusSent, models.StatusRead, apperrors.ErrUpdateConflict)
}

// Cancel transitions PENDING_SEND -> CANCELLED. Unlike the mark operations it
// returns no notification: cancelled rows are invisible to Get.
func (b *Backend) Cancel(ctx context.Context, notificationID string) error {
	ctx = ensureContext(ctx)

	result := b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status = ?", notificationID, models.StatusPendingSend).
		Update("status", models.StatusCancelled)
	if result.Error != nil {
		return fmt.Errorf("notification backend: cancel notification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrCancelConflict
	}
	return nil
}

func (b *Backend) transition(
	ctx context.Context,
	notificationID string,
	from, to models.NotificationStatus,
	conflict error,
) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	result := b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status = ?", notificationID, from).
		Update("status", to)
	if result.Error != nil {
		return nil, fmt.Errorf("notification backend: mark %s: %w", strings.ToLower(string(to)), result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, conflict
	}

	return b.reload(ctx, notificationID)
}

// Get returns any notification except cancelled ones. When forUpdate is true
// the row is locked FOR UPDATE for the duration of the enclosing transaction,
// letting a dispatcher serialise a read-then-transition sequence. SQLite has
// no row-level locks (writers serialise on the whole database), so the lock
// clause is only emitted for postgres and mysql.
func (b *Backend) Get(ctx context.Context, notificationID string, forUpdate bool) (*models.Notification, error) {
	ctx = ensureContext(ctx)

	query := b.db.WithContext(ctx).
		Where("id = ?", notificationID).
		Where("status <> ?", models.StatusCancelled)
	if forUpdate && b.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var notification models.Notification
	if err := query.First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification backend: load notification: %w", err)
	}
	return &notification, nil
}

// ListAllPending returns every notification eligible for immediate dispatch:
// PENDING_SEND with no send_after or a send_after that has already elapsed,
// oldest first so dispatch is FIFO-fair.
func (b *Backend) ListAllPending(ctx context.Context) ([]models.Notification, error) {
	return b.list(b.pendingQuery(ensureContext(ctx)))
}

// ListPending returns one page of pending notifications. Pages are 1-based;
// out-of-range pages yield an empty slice.
func (b *Backend) ListPending(ctx context.Context, page, pageSize int) ([]models.Notification, error) {
	return b.list(paginate(b.pendingQuery(ensureContext(ctx)), page, pageSize))
}

// ListAllFuture returns every scheduled notification: PENDING_SEND with a
// non-null send_after. Rows whose send_after has already elapsed are included;
// "future" means "was scheduled", not "not yet due", so the set may overlap
// with the pending queries.
func (b *Backend) ListAllFuture(ctx context.Context) ([]models.Notification, error) {
	return b.list(b.futureQuery(ensureContext(ctx)))
}

// ListFuture returns one page of scheduled notifications.
func (b *Backend) ListFuture(ctx context.Context, page, pageSize int) ([]models.Notification, error) {
	return b.list(paginate(b.futureQuery(ensureContext(ctx)), page, pageSize))
}

// ListAllFutureForUser restricts ListAllFuture to a single owner.
func (b *Backend) ListAllFutureForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	return b.list(b.futureQuery(ensureContext(ctx)).Where("user_id = ?", userID))
}

// ListFutureForUser returns one page of a single owner's scheduled notifications.
func (b *Backend) ListFutureForUser(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, error) {
	return b.list(paginate(b.futureQuery(ensureContext(ctx)).Where("user_id = ?", userID), page, pageSize))
}

// ListAllUnreadInApp returns a user's delivered-but-unread in-app notifications.
func (b *Backend) ListAllUnreadInApp(ctx context.Context, userID string) ([]models.Notification, error) {
	return b.list(b.unreadInAppQuery(ensureContext(ctx), userID))
}

// ListUnreadInApp returns one page of a user's unread in-app notifications.
func (b *Backend) ListUnreadInApp(ctx context.Context, userID string, page, pageSize int) ([]models.Notification, error) {
	return b.list(paginate(b.unreadInAppQuery(ensureContext(ctx), userID), page, pageSize))
}

// ResolveDestination looks up the owning user's delivery address for the
// notification's channel: email address for EMAIL, phone number for SMS, push
// token for PUSH, and the user id itself for IN_APP. Missing or inactive
// users, and users without a destination for the channel, yield ErrUserNotFound.
func (b *Backend) ResolveDestination(ctx context.Context, notificationID string) (string, error) {
	ctx = ensureContext(ctx)

	var notification models.Notification
	if err := b.db.WithContext(ctx).
		Preload("User").
		Where("id = ?", notificationID).
		First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.ErrNotificationNotFound
		}
		return "", fmt.Errorf("notification backend: load notification: %w", err)
	}

	user := notification.User
	if user == nil || !user.IsActive {
		return "", apperrors.ErrUserNotFound
	}

	var destination string
	switch notification.NotificationType {
	case models.TypeEmail:
		destination = user.Email
	case models.TypeSMS:
		destination = user.PhoneNumber
	case models.TypePush:
		destination = user.PushToken
	case models.TypeInApp:
		destination = user.ID
	}

	if strings.TrimSpace(destination) == "" {
		return "", apperrors.ErrUserNotFound
	}
	return destination, nil
}

// RecordSendAttempt stores the audit trail of a send attempt: the exact
// context rendered and the adapter that handled it. Status is untouched.
// Callers invoke this once, immediately before handing the notification to an
// adapter; the fields are never read back by dispatch logic.
func (b *Backend) RecordSendAttempt(ctx context.Context, notificationID string, contextUsed map[string]any, adapterID string) error {
	ctx = ensureContext(ctx)

	used, err := encodeJSON(contextUsed)
	if err != nil {
		return fmt.Errorf("notification backend: marshal context used: %w", err)
	}

	result := b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Updates(map[string]any{
			"context_used": used,
			"adapter_used": adapterID,
		})
	if result.Error != nil {
		return fmt.Errorf("notification backend: record send attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotificationNotFound
	}
	return nil
}

func (b *Backend) pendingQuery(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("status = ?", models.StatusPendingSend).
		Where("send_after IS NULL OR send_after <= ?", b.now()).
		Order("created ASC")
}

func (b *Backend) futureQuery(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("status = ?", models.StatusPendingSend).
		Where("send_after IS NOT NULL").
		Order("created ASC")
}

func (b *Backend) unreadInAppQuery(ctx context.Context, userID string) *gorm.DB {
	return b.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ?", userID).
		Where("status = ?", models.StatusSent).
		Where("notification_type = ?", models.TypeInApp).
		Order("created ASC")
}

func (b *Backend) list(query *gorm.DB) ([]models.Notification, error) {
	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification backend: list notifications: %w", err)
	}
	return rows, nil
}

func (b *Backend) reload(ctx context.Context, notificationID string) (*models.Notification, error) {
	var notification models.Notification
	if err := b.db.WithContext(ctx).Where("id = ?", notificationID).First(&notification).Error; err != nil {
		return nil, fmt.Errorf("notification backend: reload notification: %w", err)
	}
	return &notification, nil
}

func paginate(query *gorm.DB, page, pageSize int) *gorm.DB {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}

func encodeJSON(value map[string]any) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
