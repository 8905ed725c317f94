package middleware

import (
	"net/http"

	"defect-tracker/internal/auth"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	CSRFSessionKey = "csrf_token"
	CSRFFormField  = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"
)

// CSRFToken returns the session's token, creating one if the session has none.
func CSRFToken(c *gin.Context) string {
	sess := sessions.Default(c)
	if tok, ok := sess.Get(CSRFSessionKey).(string); ok && tok != "" {
		return tok
	}

	tok, err := auth.NewCSRFToken()
	if err != nil {
		return ""
	}
	sess.Set(CSRFSessionKey, tok)
	_ = sess.Save()
	return tok
}

// CSRF rejects state-changing requests whose token does not match the session copy.
func CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		submitted := c.GetHeader(CSRFHeader)
		if submitted == "" {
			submitted = c.PostForm(CSRFFormField)
		}

		expected, _ := sessions.Default(c).Get(CSRFSessionKey).(string)
		if !auth.CSRFMatch(expected, submitted) {
			if IsAPI(c) {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "invalid or missing CSRF token"})
				return
			}
			c.String(http.StatusForbidden, "invalid or missing CSRF token")
			c.Abort()
			return
		}
		c.Next()
	}
}
