package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationStatus tracks where a notification is in its delivery lifecycle.
type NotificationStatus string

// Lifecycle states. PendingSend is the only non-terminal entry point; Failed,
// Read and Cancelled are terminal.
const (
	StatusPendingSend NotificationStatus = "PENDING_SEND"
	StatusSent        NotificationStatus = "SENT"
	StatusFailed      NotificationStatus = "FAILED"
	StatusRead        NotificationStatus = "READ"
	StatusCancelled   NotificationStatus = "CANCELLED"
)

// NotificationType selects the delivery channel for a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "EMAIL"
	TypeInApp NotificationType = "IN_APP"
	TypeSMS   NotificationType = "SMS"
	TypePush  NotificationType = "PUSH"
)

// Valid reports whether the type is one of the supported channels.
func (t NotificationType) Valid() bool {
	switch t {
	case TypeEmail, TypeInApp, TypeSMS, TypePush:
		return true
	}
	return false
}

// Notification is a unit of user-facing communication with its own lifecycle
// status. Status is only ever changed through the backend's conditional
// transition operations.
type Notification struct {
	BaseModel

	UserID string `gorm:"type:uuid;index;not null" json:"user_id"`
	User   *User  `json:"-"`

	NotificationType NotificationType   `gorm:"type:varchar(50);not null" json:"notification_type"`
	Status           NotificationStatus `gorm:"type:varchar(50);not null;default:'PENDING_SEND';index" json:"status"`
	Title            string             `gorm:"type:varchar(255);not null" json:"title"`

	BodyTemplate string `gorm:"type:varchar(255);not null" json:"body_template"`

	// Email specific template slots; empty for non-email types.
	SubjectTemplate   string `gorm:"type:varchar(255)" json:"subject_template"`
	PreheaderTemplate string `gorm:"type:varchar(255)" json:"preheader_template"`

	ContextName   string         `gorm:"type:varchar(255)" json:"context_name"`
	ContextKwargs datatypes.JSON `json:"context_kwargs"`

	// SendAfter delays dispatch eligibility; nil means eligible immediately.
	SendAfter *time.Time `gorm:"index" json:"send_after"`

	AdapterExtraParameters datatypes.JSON `json:"adapter_extra_parameters"`

	// Write-once audit fields recorded at send time, never read back by logic.
	ContextUsed datatypes.JSON `json:"context_used"`
	AdapterUsed *string        `gorm:"type:varchar(255)" json:"adapter_used"`
}
