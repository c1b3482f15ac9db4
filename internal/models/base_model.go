package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel provides shared fields for all persistent models.
type BaseModel struct {
	ID       string    `gorm:"primaryKey;type:uuid" json:"id"`
	Created  time.Time `gorm:"column:created;index;autoCreateTime" json:"created"`
	Modified time.Time `gorm:"column:modified;index;autoUpdateTime" json:"modified"`
}

// BeforeCreate ensures UUID identifiers are generated automatically.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
