package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"defect-tracker/internal/auth"
	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func ListUsers(c *gin.Context) {
	q := database.DB.WithContext(c.Request.Context()).Preload("Contractor").Order("username")
	if role := c.Query("role"); role != "" {
		q = q.Where("role = ?", role)
	}

	var users []models.User
	if err := q.Find(&users).Error; err != nil {
		fail(c, "users", err)
		return
	}

	render(c, http.StatusOK, "users_list.html", gin.H{
		"users":      users,
		"roles":      models.AllRoles,
		"FilterRole": c.Query("role"),
	})
}

type userForm struct {
	Username     string `form:"username"`
	Password     string `form:"password"`
	Role         string `form:"role" binding:"required"`
	FullName     string `form:"full_name" binding:"max=255"`
	Email        string `form:"email" binding:"omitempty,email,max=255"`
	ContractorID string `form:"contractor_id"`
	IsActive     bool   `form:"is_active"`
}

// check validates the role and contractor link shared by create and edit.
func (f userForm) check(c *gin.Context) (models.UserRole, *uint, error) {
	role := models.UserRole(f.Role)
	if !role.Valid() {
		return "", nil, fmt.Errorf("invalid role %q", f.Role)
	}

	contractorID := optionalID(f.ContractorID)
	if role != models.RoleContractor {
		return role, nil, nil
	}
	if contractorID == nil {
		return "", nil, fmt.Errorf("contractor users must be linked to a contractor")
	}
	var n int64
	database.DB.WithContext(c.Request.Context()).Model(&models.Contractor{}).Where("id = ?", *contractorID).Count(&n)
	if n == 0 {
		return "", nil, fmt.Errorf("unknown contractor")
	}
	return role, contractorID, nil
}

func renderUserForm(c *gin.Context, status int, u models.User, msg string) {
	var contractors []models.Contractor
	database.DB.WithContext(c.Request.Context()).Order("company_name").Find(&contractors)

	render(c, status, "user_form.html", gin.H{
		"user":        u,
		"roles":       models.AllRoles,
		"contractors": contractors,
		"isNew":       u.ID == 0,
		"minPassword": auth.MinPasswordLength,
		"error":       msg,
	})
}

func ShowNewUser(c *gin.Context) {
	renderUserForm(c, http.StatusOK, models.User{Role: models.RoleInspector, IsActive: true}, "")
}

func CreateUser(c *gin.Context) {
	var form userForm
	if err := c.ShouldBind(&form); err != nil {
		renderUserForm(c, http.StatusBadRequest, models.User{Username: form.Username, FullName: form.FullName, Email: form.Email}, middleware.TranslateValidationError(err))
		return
	}

	draft := models.User{
		Username: strings.TrimSpace(form.Username),
		Role:     models.UserRole(form.Role),
		FullName: strings.TrimSpace(form.FullName),
		Email:    strings.TrimSpace(form.Email),
		IsActive: true,
	}
	if len(draft.Username) < 3 {
		renderUserForm(c, http.StatusBadRequest, draft, "Username must be at least 3 characters")
		return
	}
	role, contractorID, err := form.check(c)
	if err == nil {
		err = auth.ValidatePassword(form.Password)
	}
	if err != nil {
		renderUserForm(c, http.StatusBadRequest, draft, err.Error())
		return
	}

	actor := middleware.Actor(c)
	var user *models.User
	err = database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		var err error
		user, err = database.InsertUser(tx, database.NewUser{
			Username:     draft.Username,
			Password:     form.Password,
			Role:         role,
			FullName:     draft.FullName,
			Email:        draft.Email,
			ContractorID: contractorID,
		})
		if err != nil {
			return nil, err
		}
		return &database.AuditEntry{
			UserID:   actor.ID,
			Entity:   "user",
			EntityID: user.ID,
			Action:   "create",
			Details:  fmt.Sprintf("%s (%s)", user.Username, user.Role),
			IP:       actor.IP,
		}, nil
	})
	if errors.Is(err, database.ErrUsernameTaken) {
		renderUserForm(c, http.StatusBadRequest, draft, "Username already exists")
		return
	}
	if err != nil {
		fail(c, "users", err)
		return
	}

	flash(c, "User "+user.Username+" created")
	c.Redirect(http.StatusFound, "/users")
}

func loadUser(c *gin.Context) (*models.User, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var u models.User
	if err := database.DB.WithContext(c.Request.Context()).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = database.ErrNotFound
		}
		fail(c, "users", err)
		return nil, false
	}
	return &u, true
}

func ShowEditUser(c *gin.Context) {
	u, ok := loadUser(c)
	if !ok {
		return
	}
	renderUserForm(c, http.StatusOK, *u, "")
}

// UpdateUser changes role, activity, contractor link and optionally the password.
func UpdateUser(c *gin.Context) {
	u, ok := loadUser(c)
	if !ok {
		return
	}

	var form userForm
	if err := c.ShouldBind(&form); err != nil {
		renderUserForm(c, http.StatusBadRequest, *u, middleware.TranslateValidationError(err))
		return
	}
	role, contractorID, err := form.check(c)
	if err != nil {
		renderUserForm(c, http.StatusBadRequest, *u, err.Error())
		return
	}

	actor := middleware.Actor(c)
	if u.ID == actor.ID && (!form.IsActive || role != models.RoleAdmin) {
		renderUserForm(c, http.StatusBadRequest, *u, "You cannot deactivate or demote your own account")
		return
	}

	updates := map[string]interface{}{
		"role":          role,
		"full_name":     strings.TrimSpace(form.FullName),
		"email":         strings.TrimSpace(form.Email),
		"contractor_id": contractorID,
		"is_active":     form.IsActive,
	}
	details := fmt.Sprintf("role=%s active=%t", role, form.IsActive)
	if form.Password != "" {
		if err := auth.ValidatePassword(form.Password); err != nil {
			renderUserForm(c, http.StatusBadRequest, *u, err.Error())
			return
		}
		hash, err := auth.HashPassword(form.Password)
		if err != nil {
			fail(c, "users", err)
			return
		}
		updates["password_hash"] = hash
		details += "; password reset"
	}

	err = database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "user", EntityID: u.ID, Action: "update", Details: details, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "users", err)
		return
	}

	flash(c, "User "+u.Username+" saved")
	c.Redirect(http.StatusFound, "/users")
}
