package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"defect-tracker/internal/auth"
	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/storage"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func respondFail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Message: message})
}

// statusFor maps known errors to an HTTP status and a message safe to show.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, errors.Cause(err).Error()
	case errors.Is(err, database.ErrAlreadyDeleted), errors.Is(err, database.ErrConflict):
		return http.StatusConflict, errors.Cause(err).Error()
	case errors.Is(err, database.ErrInUse):
		return http.StatusConflict, err.Error()
	case errors.Is(err, database.ErrInvalidTransition):
		return http.StatusBadRequest, errors.Cause(err).Error()
	case errors.Is(err, database.ErrForbidden):
		return http.StatusForbidden, errors.Cause(err).Error()
	case errors.Is(err, storage.ErrFileTooLarge),
		errors.Is(err, storage.ErrUnsupportedType),
		errors.Is(err, storage.ErrEmptyFile),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, errors.Cause(err).Error()
	}
	return http.StatusInternalServerError, "internal error, the failure has been logged"
}

// fail answers with the error mapped by statusFor. Unexpected errors are
// logged, stored in system_logs and reported to Sentry.
func fail(c *gin.Context, source string, err error) {
	status, msg := statusFor(err)
	log := componentLog(source)

	if status >= http.StatusInternalServerError {
		u, _ := middleware.CurrentUser(c)
		log.Error("request failed", zap.Error(err), zap.String("path", c.Request.URL.Path), zap.Uint("user_id", u.ID))
		database.LogSystem(database.LevelError, source, fmt.Sprintf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err), u.ID)
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		} else {
			sentry.CaptureException(err)
		}
		_ = c.Error(err)
	} else {
		log.Warn("request rejected", zap.Error(err), zap.Int("status", status))
	}

	if middleware.IsAPI(c) {
		respondFail(c, status, msg)
		return
	}
	renderError(c, status, msg)
	c.Abort()
}

// parseID reads a positive numeric route parameter, answering 400 otherwise.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		msg := "invalid " + name
		if middleware.IsAPI(c) {
			respondFail(c, http.StatusBadRequest, msg)
		} else {
			renderError(c, http.StatusBadRequest, msg)
			c.Abort()
		}
		return 0, false
	}
	return uint(id), true
}

// optionalID parses an optional numeric form or query value.
func optionalID(s string) *uint {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return nil
	}
	v := uint(id)
	return &v
}
