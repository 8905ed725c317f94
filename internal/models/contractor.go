package models

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
)

type ContractorStatus string

const (
	ContractorPending   ContractorStatus = "pending"
	ContractorActive    ContractorStatus = "active"
	ContractorInactive  ContractorStatus = "inactive"
	ContractorSuspended ContractorStatus = "suspended"
	ContractorRejected  ContractorStatus = "rejected"
)

var ContractorStatuses = []ContractorStatus{
	ContractorPending, ContractorActive, ContractorInactive, ContractorSuspended, ContractorRejected,
}

var contractorTransitions = map[ContractorStatus]mapset.Set[ContractorStatus]{
	ContractorPending:   mapset.NewSet(ContractorActive, ContractorRejected),
	ContractorActive:    mapset.NewSet(ContractorSuspended, ContractorInactive),
	ContractorSuspended: mapset.NewSet(ContractorActive, ContractorInactive),
	ContractorInactive:  mapset.NewSet(ContractorActive),
	ContractorRejected:  mapset.NewSet(ContractorPending, ContractorActive),
}

func (s ContractorStatus) Valid() bool {
	_, ok := contractorTransitions[s]
	return ok
}

func (s ContractorStatus) CanTransition(next ContractorStatus) bool {
	allowed, ok := contractorTransitions[s]
	return ok && allowed.Contains(next)
}

// ContractorAction maps the admin actions on the contractor pages to their target status.
var ContractorAction = map[string]ContractorStatus{
	"approve":    ContractorActive,
	"reject":     ContractorRejected,
	"suspend":    ContractorSuspended,
	"deactivate": ContractorInactive,
	"resubmit":   ContractorPending,
}

type Contractor struct {
	gorm.Model
	CompanyName   string           `gorm:"size:255;not null"`
	Trade         string           `gorm:"size:100"`
	Status        ContractorStatus `gorm:"type:varchar(20);not null;default:'pending'"`
	ContactName   string           `gorm:"size:255"`
	Email         string           `gorm:"size:255"`
	Phone         string           `gorm:"size:50"`
	Address       string           `gorm:"size:255"`
	LicenseNumber string           `gorm:"size:100"`
	Notes         string           `gorm:"type:text"`

	StatusReason string `gorm:"type:text"`
	ApprovedBy   *uint
	ApprovedAt   *time.Time

	CreatedBy uint
	UpdatedBy uint
	DeletedBy *uint
}
