package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleManager    UserRole = "manager"
	RoleInspector  UserRole = "inspector"
	RoleContractor UserRole = "contractor"
	RoleViewer     UserRole = "viewer"
)

var AllRoles = []UserRole{RoleAdmin, RoleManager, RoleInspector, RoleContractor, RoleViewer}

func (r UserRole) Valid() bool {
	for _, v := range AllRoles {
		if v == r {
			return true
		}
	}
	return false
}

// IsStaff reports whether the role belongs to the site team rather than a contractor or read-only user.
func (r UserRole) IsStaff() bool {
	return r == RoleAdmin || r == RoleManager || r == RoleInspector
}

type User struct {
	gorm.Model
	Username     string   `gorm:"uniqueIndex;size:50;not null"`
	PasswordHash string   `gorm:"not null"`
	Role         UserRole `gorm:"type:varchar(20);not null"`
	FullName     string   `gorm:"size:255"`
	Email        string   `gorm:"size:255"`

	// set for contractor users only
	ContractorID *uint
	Contractor   *Contractor

	IsActive    bool `gorm:"not null"`
	LastLoginAt *time.Time
}

func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
