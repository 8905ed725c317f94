package database

import (
	"context"

	"defect-tracker/internal/models"

	"gorm.io/gorm"
)

// AuditEntry is written in the same transaction as the change it describes.
type AuditEntry struct {
	UserID   uint
	Entity   string
	EntityID uint
	Action   string
	Details  string
	IP       string
}

func WriteAudit(tx *gorm.DB, e AuditEntry) error {
	record := models.AuditLog{
		UserID:    e.UserID,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Action:    e.Action,
		Details:   e.Details,
		IPAddress: e.IP,
	}
	return tx.Create(&record).Error
}

// Transact runs fn in a transaction and records the returned audit entry
// before committing. Any error rolls back both the change and the audit row.
func Transact(ctx context.Context, fn func(tx *gorm.DB) (*AuditEntry, error)) error {
	return DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := fn(tx)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return WriteAudit(tx, *entry)
	})
}

// History returns the audit trail for one record, newest first.
func History(ctx context.Context, entity string, id uint) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := DB.WithContext(ctx).
		Preload("User").
		Where("entity = ? AND entity_id = ?", entity, id).
		Order("created_at DESC, id DESC").
		Find(&logs).Error
	return logs, err
}
