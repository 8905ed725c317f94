package models

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
)

type DefectStatus string

const (
	DefectOpen       DefectStatus = "open"
	DefectInProgress DefectStatus = "in_progress"
	DefectPending    DefectStatus = "pending"
	DefectRejected   DefectStatus = "rejected"
	DefectReopened   DefectStatus = "reopened" // legacy rows only, behaves as open
	DefectAccepted   DefectStatus = "accepted"
	DefectCompleted  DefectStatus = "completed"
	DefectResolved   DefectStatus = "resolved"
	DefectClosed     DefectStatus = "closed"
)

var DefectStatuses = []DefectStatus{
	DefectOpen, DefectAccepted, DefectInProgress, DefectCompleted, DefectPending,
	DefectRejected, DefectResolved, DefectClosed, DefectReopened,
}

var defectTransitions = map[DefectStatus]mapset.Set[DefectStatus]{
	DefectOpen:       mapset.NewSet(DefectAccepted, DefectInProgress, DefectPending, DefectRejected, DefectClosed),
	DefectAccepted:   mapset.NewSet(DefectInProgress, DefectCompleted, DefectPending, DefectRejected, DefectClosed),
	DefectInProgress: mapset.NewSet(DefectCompleted, DefectPending, DefectRejected, DefectClosed),
	DefectCompleted:  mapset.NewSet(DefectOpen, DefectPending, DefectRejected, DefectResolved, DefectClosed),
	DefectPending:    mapset.NewSet(DefectInProgress, DefectRejected, DefectResolved, DefectClosed),
	DefectRejected:   mapset.NewSet(DefectOpen, DefectAccepted, DefectInProgress, DefectPending, DefectClosed),
	DefectResolved:   mapset.NewSet(DefectOpen, DefectClosed),
	DefectClosed:     mapset.NewSet(DefectOpen),
}

// contractor users may only move their own defects into these
var contractorTargets = mapset.NewSet(DefectAccepted, DefectInProgress, DefectCompleted, DefectPending)

func (s DefectStatus) Valid() bool {
	_, ok := defectTransitions[s.Normalize()]
	return ok
}

func (s DefectStatus) Normalize() DefectStatus {
	if s == DefectReopened {
		return DefectOpen
	}
	return s
}

func (s DefectStatus) CanTransition(next DefectStatus) bool {
	allowed, ok := defectTransitions[s.Normalize()]
	return ok && allowed.Contains(next)
}

// CanChangeDefectStatus combines the transition table with the role rules.
func CanChangeDefectStatus(role UserRole, current, next DefectStatus) bool {
	if !current.CanTransition(next) {
		return false
	}

	switch role {
	case RoleAdmin, RoleManager, RoleInspector:
		return true
	case RoleContractor:
		return contractorTargets.Contains(next)
	default:
		return false
	}
}

// Bucket groups statuses for the reporting pages.
func (s DefectStatus) Bucket() string {
	switch s {
	case DefectOpen, DefectReopened:
		return "open"
	case DefectAccepted, DefectInProgress:
		return "in_progress"
	case DefectPending, DefectCompleted:
		return "pending"
	case DefectRejected:
		return "rejected"
	case DefectResolved, DefectClosed:
		return "closed"
	}
	return "unknown"
}

func (s DefectStatus) IsClosed() bool {
	return s.Bucket() == "closed"
}

type DefectPriority string

const (
	PriorityLow      DefectPriority = "low"
	PriorityMedium   DefectPriority = "medium"
	PriorityHigh     DefectPriority = "high"
	PriorityCritical DefectPriority = "critical"
)

var DefectPriorities = []DefectPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p DefectPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type Defect struct {
	gorm.Model
	ProjectID uint `gorm:"not null;index"`
	Project   Project

	ContractorID *uint `gorm:"index"`
	Contractor   *Contractor

	CategoryID *uint
	Category   *Category

	FloorPlanID *uint
	FloorPlan   *FloorPlan
	PinX        *float64
	PinY        *float64

	Title       string         `gorm:"size:255;not null"`
	Description string         `gorm:"type:text"`
	Priority    DefectPriority `gorm:"type:varchar(20);not null;default:'medium'"`
	Status      DefectStatus   `gorm:"type:varchar(20);not null;default:'open';index"`
	DueDate     *time.Time

	ReportedBy uint
	Reporter   User `gorm:"foreignKey:ReportedBy"`

	RejectionComment string `gorm:"type:text"`
	RejectedBy       *uint
	RejectedAt       *time.Time

	ReopenedReason string `gorm:"type:text"`
	ReopenedBy     *uint
	ReopenedAt     *time.Time

	ClosureImage string `gorm:"size:512"`
	ClosedBy     *uint
	ClosedAt     *time.Time

	// bumped on every write; updates carry the version they were based on
	Version int `gorm:"not null;default:1"`

	CreatedBy uint
	UpdatedBy uint
	DeletedBy *uint

	Images []DefectImage
}

func (d Defect) IsOverdue(now time.Time) bool {
	return d.DueDate != nil && d.DueDate.Before(now) && !d.Status.IsClosed()
}

type ImageKind string

const (
	ImageReport     ImageKind = "report"
	ImageCompletion ImageKind = "completion"
)

// DefectImage is append-only.
type DefectImage struct {
	ID         uint `gorm:"primaryKey"`
	CreatedAt  time.Time
	DefectID   uint      `gorm:"not null;index"`
	FilePath   string    `gorm:"size:512;not null"`
	Kind       ImageKind `gorm:"type:varchar(20);not null;default:'report'"`
	UploadedBy uint
}
