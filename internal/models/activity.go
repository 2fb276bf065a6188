package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityStatus classifies an activity log entry
type ActivityStatus string

const (
	ActivityInfo    ActivityStatus = "INFO"
	ActivitySuccess ActivityStatus = "SUCCESS"
	ActivityWarning ActivityStatus = "WARNING"
	ActivityError   ActivityStatus = "ERROR"
)

// ActivityLog is the append-only, user-visible record of sync operations.
// Rows are never updated or deleted.
type ActivityLog struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               string         `gorm:"type:varchar(255);not null;index:idx_activity_user" json:"userId"`
	PlatformConnectionID *uuid.UUID     `gorm:"type:uuid;index:idx_activity_connection" json:"platformConnectionId,omitempty"`
	Operation            string         `gorm:"type:varchar(100);not null" json:"operation"`
	Status               ActivityStatus `gorm:"type:varchar(20);not null" json:"status"`
	Message              string         `gorm:"type:text;not null" json:"message"`
	Details              JSONB          `gorm:"type:jsonb;default:'{}'" json:"details,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_activity_created" json:"createdAt"`
}

// TableName specifies the table name for ActivityLog
func (ActivityLog) TableName() string {
	return "activity_logs"
}
