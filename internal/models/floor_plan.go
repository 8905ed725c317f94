package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FloorPlanStatus string

const (
	FloorPlanActive  FloorPlanStatus = "active"
	FloorPlanDeleted FloorPlanStatus = "deleted"
)

type FloorPlan struct {
	gorm.Model
	ProjectID uint `gorm:"not null;index"`
	Project   Project

	Name          string          `gorm:"size:255;not null"`
	Level         string          `gorm:"size:50"`
	FilePath      string          `gorm:"size:512;not null;index"`
	ThumbnailPath string          `gorm:"size:512"`
	Status        FloorPlanStatus `gorm:"type:varchar(20);not null;default:'active'"`

	UploadedBy uint
	DeletedBy  *uint
}

// FloorPlanBackup keeps the pre-deletion row so a removed plan can be traced or restored.
type FloorPlanBackup struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	FloorPlanID   uint `gorm:"not null;index"`
	ProjectID     uint
	Name          string `gorm:"size:255"`
	FilePath      string `gorm:"size:512"`
	ThumbnailPath string `gorm:"size:512"`
	Snapshot      datatypes.JSON
	Reason        string `gorm:"type:text"`
	DeletedBy     uint
}
