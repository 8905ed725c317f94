package middleware

import (
	"defect-tracker/internal/database"
	"defect-tracker/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const currentUserKey = "CurrentUser"

// InjectUser loads the session user, if any, into the context.
func InjectUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)

		if uidRaw := sess.Get("user_id"); uidRaw != nil {
			if uid, ok := uidRaw.(uint); ok && uid > 0 {
				var user models.User
				if err := database.DB.First(&user, uid).Error; err == nil && user.IsActive {
					c.Set(currentUserKey, user)
				}
			}
		}

		c.Next()
	}
}

func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return models.User{}, false
	}
	u, ok := v.(models.User)
	return u, ok
}

// Actor describes the session user for database writes.
func Actor(c *gin.Context) database.Actor {
	u, _ := CurrentUser(c)
	return database.Actor{
		ID:           u.ID,
		Role:         u.Role,
		ContractorID: u.ContractorID,
		IP:           c.ClientIP(),
	}
}
