package database

import (
	"context"

	"defect-tracker/internal/models"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SaveDraft upserts the user's auto-saved defect form.
func SaveDraft(ctx context.Context, userID uint, payload []byte, ip string) error {
	return Transact(ctx, func(tx *gorm.DB) (*AuditEntry, error) {
		draft := models.DefectDraft{UserID: userID, Payload: datatypes.JSON(payload)}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).Create(&draft).Error
		if err != nil {
			return nil, errors.Wrap(err, "save draft")
		}

		return &AuditEntry{
			UserID: userID,
			Entity: "defect_draft",
			Action: "autosave",
			IP:     ip,
		}, nil
	})
}

func LoadDraft(ctx context.Context, userID uint) (*models.DefectDraft, error) {
	var draft models.DefectDraft
	err := DB.WithContext(ctx).Where("user_id = ?", userID).First(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &draft, err
}

func DeleteDraft(ctx context.Context, userID uint) error {
	return DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.DefectDraft{}).Error
}
