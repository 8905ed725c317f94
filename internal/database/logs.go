package database

import (
	"context"

	"defect-tracker/internal/models"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warning"
	LevelError = "error"
)

// LogSystem appends to system_logs. It never fails the caller.
func LogSystem(level, source, message string, userID uint) {
	if DB == nil {
		return
	}
	_ = DB.Create(&models.SystemLog{
		Level:   level,
		Source:  source,
		Message: message,
		UserID:  userID,
	}).Error
}

func LogUserAction(ctx context.Context, entry models.UserLog) error {
	if DB == nil {
		return nil
	}
	return DB.WithContext(ctx).Create(&entry).Error
}

func LogExport(ctx context.Context, entry models.ExportLog) error {
	return DB.WithContext(ctx).Create(&entry).Error
}

type UserLogFilter struct {
	UserID uint
	Action models.UserAction
	Limit  int
}

func ListUserLogs(ctx context.Context, f UserLogFilter) ([]models.UserLog, error) {
	q := DB.WithContext(ctx).Model(&models.UserLog{})
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Limit <= 0 {
		f.Limit = 500
	}

	var logs []models.UserLog
	err := q.Order("created_at DESC, id DESC").Limit(f.Limit).Find(&logs).Error
	return logs, err
}
