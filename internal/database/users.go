package database

import (
	"defect-tracker/internal/auth"
	"defect-tracker/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type NewUser struct {
	Username     string
	Password     string
	Role         models.UserRole
	FullName     string
	Email        string
	ContractorID *uint
}

var ErrUsernameTaken = errors.New("username already exists")

func CreateUser(nu NewUser) (*models.User, error) {
	return InsertUser(DB, nu)
}

// InsertUser validates and inserts a user through tx, so callers can add
// their audit row to the same transaction.
func InsertUser(tx *gorm.DB, nu NewUser) (*models.User, error) {
	if nu.Username == "" {
		return nil, errors.New("username is required")
	}
	if !nu.Role.Valid() {
		return nil, errors.Errorf("invalid role %q", nu.Role)
	}
	if err := auth.ValidatePassword(nu.Password); err != nil {
		return nil, err
	}
	if nu.Role == models.RoleContractor && nu.ContractorID == nil {
		return nil, errors.New("contractor users must be linked to a contractor")
	}

	var count int64
	if err := tx.Model(&models.User{}).Where("username = ?", nu.Username).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "check username")
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := auth.HashPassword(nu.Password)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	user := models.User{
		Username:     nu.Username,
		PasswordHash: hash,
		Role:         nu.Role,
		FullName:     nu.FullName,
		Email:        nu.Email,
		ContractorID: nu.ContractorID,
		IsActive:     true,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return &user, nil
}

// EnsureAdmin creates the admin account when no admin exists yet.
func EnsureAdmin(username, password string) (bool, error) {
	var count int64
	if err := DB.Model(&models.User{}).
		Where("role = ?", models.RoleAdmin).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	if _, err := CreateUser(NewUser{
		Username: username,
		Password: password,
		Role:     models.RoleAdmin,
		FullName: "Administrator",
	}); err != nil {
		return false, err
	}
	return true, nil
}
