package handlers

import (
	"net/http"
	"strings"
	"time"

	"defect-tracker/internal/auth"
	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func ShowLogin(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); ok {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	render(c, http.StatusOK, "login.html", gin.H{"error": ""})
}

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

func logUser(c *gin.Context, userID uint, username string, action models.UserAction, details string) {
	ua := c.Request.UserAgent()
	if len(ua) > 255 {
		ua = ua[:255]
	}
	err := database.LogUserAction(c.Request.Context(), models.UserLog{
		UserID:    userID,
		Username:  username,
		Action:    action,
		IPAddress: c.ClientIP(),
		UserAgent: ua,
		Details:   details,
	})
	if err != nil {
		componentLog("auth").Error("user log write failed", zap.Error(err), zap.String("action", string(action)))
	}
}

func loginFailed(c *gin.Context, status int, username, reason, msg string) {
	logUser(c, 0, username, models.ActionLoginFailed, reason)
	recorder.ObserveLoginFailure()
	componentLog("auth").Warn("login failed", zap.String("username", username), zap.String("reason", reason), zap.String("ip", c.ClientIP()))
	render(c, status, "login.html", gin.H{"error": msg, "username": username})
}

func Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		loginFailed(c, http.StatusBadRequest, strings.TrimSpace(form.Username), "incomplete form", "Enter your username and password")
		return
	}
	username := strings.TrimSpace(form.Username)

	var user models.User
	if err := database.DB.Where("username = ?", username).First(&user).Error; err != nil {
		loginFailed(c, http.StatusUnauthorized, username, "unknown user", "Invalid username or password")
		return
	}
	if err := auth.CheckPassword(form.Password, user.PasswordHash); err != nil {
		loginFailed(c, http.StatusUnauthorized, username, "wrong password", "Invalid username or password")
		return
	}
	if !user.IsActive {
		loginFailed(c, http.StatusForbidden, username, "inactive account", "This account is disabled")
		return
	}

	token, err := auth.NewCSRFToken()
	if err != nil {
		fail(c, "auth", err)
		return
	}

	sess := sessions.Default(c)
	sess.Clear()
	sess.Set("user_id", user.ID)
	sess.Set("username", user.Username)
	sess.Set("role", string(user.Role))
	sess.Set(middleware.CSRFSessionKey, token)
	if err := sess.Save(); err != nil {
		fail(c, "auth", err)
		return
	}

	now := time.Now()
	if err := database.DB.Model(&user).Update("last_login_at", now).Error; err != nil {
		componentLog("auth").Error("last_login_at update failed", zap.Error(err))
	}
	logUser(c, user.ID, user.Username, models.ActionLogin, "")

	c.Redirect(http.StatusFound, "/dashboard")
}

// LoginThrottled answers login attempts refused by the rate limiter.
func LoginThrottled(c *gin.Context) {
	username := strings.TrimSpace(c.PostForm("username"))
	loginFailed(c, http.StatusTooManyRequests, username, "rate limited", "Too many login attempts, wait a minute and try again")
}

func Logout(c *gin.Context) {
	if u, ok := middleware.CurrentUser(c); ok {
		logUser(c, u.ID, u.Username, models.ActionLogout, "")
	}

	sess := sessions.Default(c)
	sess.Clear()
	sess.Options(sessions.Options{Path: "/", MaxAge: -1})
	_ = sess.Save()
	c.Redirect(http.StatusFound, "/login")
}

func CSRFTokenJSON(c *gin.Context) {
	respondOK(c, "", gin.H{"csrf_token": middleware.CSRFToken(c)})
}

func ShowProfile(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	render(c, http.StatusOK, "profile.html", gin.H{"user": u, "error": ""})
}

type profileForm struct {
	FullName string `form:"full_name" binding:"max=255"`
	Email    string `form:"email" binding:"omitempty,email,max=255"`
}

func UpdateProfile(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)

	var form profileForm
	if err := c.ShouldBind(&form); err != nil {
		render(c, http.StatusBadRequest, "profile.html", gin.H{"user": u, "error": middleware.TranslateValidationError(err)})
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
			"full_name": strings.TrimSpace(form.FullName),
			"email":     strings.TrimSpace(form.Email),
		}).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: u.ID, Entity: "user", EntityID: u.ID, Action: "profile_update", IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "profile", err)
		return
	}

	logUser(c, u.ID, u.Username, models.ActionProfileUpdate, "")
	flash(c, "Profile updated")
	c.Redirect(http.StatusFound, "/profile")
}

type passwordForm struct {
	Current string `form:"current_password" binding:"required"`
	New     string `form:"new_password" binding:"required"`
	Confirm string `form:"confirm_password" binding:"required"`
}

func ChangePassword(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	renderErr := func(status int, msg string) {
		render(c, status, "profile.html", gin.H{"user": u, "passwordError": msg})
	}

	var form passwordForm
	if err := c.ShouldBind(&form); err != nil {
		renderErr(http.StatusBadRequest, middleware.TranslateValidationError(err))
		return
	}
	if err := auth.CheckPassword(form.Current, u.PasswordHash); err != nil {
		renderErr(http.StatusBadRequest, "Current password is incorrect")
		return
	}
	if form.New != form.Confirm {
		renderErr(http.StatusBadRequest, "New passwords do not match")
		return
	}
	if err := auth.ValidatePassword(form.New); err != nil {
		renderErr(http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(form.New)
	if err != nil {
		fail(c, "profile", err)
		return
	}

	actor := middleware.Actor(c)
	err = database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.User{}).Where("id = ?", u.ID).Update("password_hash", hash).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: u.ID, Entity: "user", EntityID: u.ID, Action: "password_change", IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "profile", err)
		return
	}

	logUser(c, u.ID, u.Username, models.ActionPasswordChange, "")
	flash(c, "Password changed")
	c.Redirect(http.StatusFound, "/profile")
}
