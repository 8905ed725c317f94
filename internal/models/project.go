package models

import (
	"time"

	"gorm.io/gorm"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectOnHold    ProjectStatus = "on_hold"
)

var ProjectStatuses = []ProjectStatus{ProjectActive, ProjectOnHold, ProjectCompleted}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectActive, ProjectCompleted, ProjectOnHold:
		return true
	}
	return false
}

// CanTransition: any valid status may move to any other.
func (s ProjectStatus) CanTransition(next ProjectStatus) bool {
	return s != next && next.Valid()
}

type Project struct {
	gorm.Model
	Name        string        `gorm:"size:255;not null"`
	Description string        `gorm:"type:text"`
	Location    string        `gorm:"size:255"`
	Status      ProjectStatus `gorm:"type:varchar(20);not null;default:'active'"`

	StartDate *time.Time
	EndDate   *time.Time

	CreatedBy uint
	UpdatedBy uint
	DeletedBy *uint

	FloorPlans []FloorPlan
	Defects    []Defect
}
