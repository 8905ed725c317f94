package models

import "gorm.io/gorm"

// Category groups defects by discipline (electrical, plumbing, finishes ...).
type Category struct {
	gorm.Model
	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"type:text"`

	CreatedBy uint
	DeletedBy *uint
}
