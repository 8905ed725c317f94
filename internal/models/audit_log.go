package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	UserID uint
	User   User

	Entity    string `gorm:"size:50;not null;index:idx_audit_entity"` // "defect", "floor_plan", "contractor" ...
	EntityID  uint   `gorm:"index:idx_audit_entity"`
	Action    string `gorm:"size:50;not null"` // "create", "status_change", "delete" ...
	Details   string `gorm:"type:text"`
	IPAddress string `gorm:"size:45"`
}

type SystemLog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	Level     string    `gorm:"size:10;not null"`
	Source    string    `gorm:"size:100"`
	Message   string    `gorm:"type:text"`
	UserID    uint
}

type UserAction string

const (
	ActionLogin          UserAction = "login"
	ActionLogout         UserAction = "logout"
	ActionLoginFailed    UserAction = "login_failed"
	ActionPasswordChange UserAction = "password_change"
	ActionProfileUpdate  UserAction = "profile_update"
	ActionExport         UserAction = "export"
)

var UserActions = []UserAction{
	ActionLogin, ActionLogout, ActionLoginFailed, ActionPasswordChange, ActionProfileUpdate, ActionExport,
}

// UserLog has no FK to users: failed logins are recorded for unknown usernames too.
type UserLog struct {
	ID        uint       `gorm:"primaryKey"`
	CreatedAt time.Time  `gorm:"index"`
	UserID    uint       `gorm:"index"`
	Username  string     `gorm:"size:50"`
	Action    UserAction `gorm:"type:varchar(30);not null"`
	IPAddress string     `gorm:"size:45"`
	UserAgent string     `gorm:"size:255"`
	Details   string     `gorm:"type:text"`
}

type ExportLog struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UserID    uint
	Entity    string `gorm:"size:50;not null"`
	Format    string `gorm:"size:10;not null"`
	Filename  string `gorm:"size:255"`
	Filesize  int64
	RowCount  int
}

// DefectDraft holds the auto-saved "new defect" form, one per user.
type DefectDraft struct {
	ID        uint `gorm:"primaryKey"`
	UpdatedAt time.Time
	UserID    uint `gorm:"uniqueIndex;not null"`
	Payload   datatypes.JSON
}
