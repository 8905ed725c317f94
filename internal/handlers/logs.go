package handlers

import (
	"net/http"
	"strings"

	"defect-tracker/internal/database"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
)

func ListAuditLogs(c *gin.Context) {
	entity := strings.TrimSpace(c.Query("entity"))
	action := strings.TrimSpace(c.Query("action"))

	q := database.DB.WithContext(c.Request.Context()).Preload("User")
	if entity != "" {
		q = q.Where("entity = ?", entity)
	}
	if id := optionalID(c.Query("entity_id")); id != nil {
		q = q.Where("entity_id = ?", *id)
	}
	if action != "" {
		q = q.Where("action = ?", action)
	}

	var logs []models.AuditLog
	if err := q.Order("created_at desc, id desc").Limit(200).Find(&logs).Error; err != nil {
		fail(c, "logs", err)
		return
	}

	render(c, http.StatusOK, "audit_list.html", gin.H{
		"logs":         logs,
		"FilterEntity": entity,
		"FilterAction": action,
	})
}

func ListUserLogs(c *gin.Context) {
	f := database.UserLogFilter{Action: models.UserAction(c.Query("action"))}
	if id := optionalID(c.Query("user_id")); id != nil {
		f.UserID = *id
	}

	logs, err := database.ListUserLogs(c.Request.Context(), f)
	if err != nil {
		fail(c, "logs", err)
		return
	}

	var users []models.User
	database.DB.WithContext(c.Request.Context()).Order("username").Find(&users)

	render(c, http.StatusOK, "user_logs.html", gin.H{
		"logs":         logs,
		"users":        users,
		"actions":      models.UserActions,
		"FilterUserID": f.UserID,
		"FilterAction": string(f.Action),
	})
}

func ListSystemLogs(c *gin.Context) {
	level := c.Query("level")

	q := database.DB.WithContext(c.Request.Context())
	if level != "" {
		q = q.Where("level = ?", level)
	}

	var logs []models.SystemLog
	if err := q.Order("created_at desc, id desc").Limit(200).Find(&logs).Error; err != nil {
		fail(c, "logs", err)
		return
	}

	render(c, http.StatusOK, "system_logs.html", gin.H{
		"logs":        logs,
		"levels":      []string{database.LevelInfo, database.LevelWarn, database.LevelError},
		"FilterLevel": level,
	})
}
