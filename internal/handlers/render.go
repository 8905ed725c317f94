package handlers

import (
	"net/http"

	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// render wraps c.HTML and passes the session user, CSRF token and pending
// flash messages to every template.
func render(c *gin.Context, status int, tmpl string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}

	if u, ok := middleware.CurrentUser(c); ok {
		data["CurrentUser"] = u
		data["CurrentUsername"] = u.Username
		data["CurrentUserRole"] = u.Role
		data["IsAdmin"] = u.Role == models.RoleAdmin
		data["IsStaff"] = u.Role.IsStaff()
		data["CanManage"] = canManage(u.Role)
		data["CSRFToken"] = middleware.CSRFToken(c)

		sess := sessions.Default(c)
		if flashes := sess.Flashes(); len(flashes) > 0 {
			data["Flashes"] = flashes
			_ = sess.Save()
		}
	}

	c.HTML(status, tmpl, data)
}

func renderError(c *gin.Context, status int, msg string) {
	render(c, status, "error.html", gin.H{
		"status":  status,
		"title":   http.StatusText(status),
		"message": msg,
	})
}

// flash queues a message for the next rendered page.
func flash(c *gin.Context, msg string) {
	sess := sessions.Default(c)
	sess.AddFlash(msg)
	_ = sess.Save()
}

func canManage(role models.UserRole) bool {
	return role == models.RoleAdmin || role == models.RoleManager
}
