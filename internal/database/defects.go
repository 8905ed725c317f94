package database

import (
	"context"
	"fmt"
	"time"

	"defect-tracker/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Actor is the session user performing a change.
type Actor struct {
	ID           uint
	Role         models.UserRole
	ContractorID *uint
	IP           string
}

// CanActOn reports whether a contractor user is assigned to the defect.
// Staff roles may act on any defect.
func (a Actor) CanActOn(d *models.Defect) bool {
	if a.Role != models.RoleContractor {
		return true
	}
	return a.ContractorID != nil && d.ContractorID != nil && *a.ContractorID == *d.ContractorID
}

func LoadDefect(ctx context.Context, id uint) (*models.Defect, error) {
	var d models.Defect
	err := DB.WithContext(ctx).
		Preload("Project").
		Preload("Contractor").
		Preload("Category").
		Preload("FloorPlan").
		Preload("Reporter").
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load defect %d", id)
	}
	return &d, nil
}

// UpdateVersioned applies updates only if the row still has the given
// version, bumping it. A stale version yields ErrConflict.
func UpdateVersioned(tx *gorm.DB, id uint, version int, updates map[string]interface{}) error {
	updates["version"] = gorm.Expr("version + 1")

	res := tx.Model(&models.Defect{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update defect %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Transition is one status change of a defect.
type Transition struct {
	DefectID uint
	// Version the client based the change on; zero means the current one.
	Version int
	To      models.DefectStatus
	Actor   Actor
	// Fields are extra columns written with the status.
	Fields  map[string]interface{}
	Images  []models.DefectImage
	Action  string
	Details string
}

// TransitionDefect validates and applies a status change with its audit row.
func TransitionDefect(ctx context.Context, t Transition) (*models.Defect, error) {
	err := Transact(ctx, func(tx *gorm.DB) (*AuditEntry, error) {
		var d models.Defect
		if err := lockForUpdate(tx).First(&d, t.DefectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, errors.Wrapf(err, "load defect %d", t.DefectID)
		}

		if !t.Actor.CanActOn(&d) {
			return nil, ErrForbidden
		}
		if !d.Status.CanTransition(t.To) {
			return nil, ErrInvalidTransition
		}
		if !models.CanChangeDefectStatus(t.Actor.Role, d.Status, t.To) {
			return nil, ErrForbidden
		}

		version := t.Version
		if version == 0 {
			version = d.Version
		}

		updates := map[string]interface{}{
			"status":     t.To,
			"updated_by": t.Actor.ID,
		}
		for col, v := range t.Fields {
			updates[col] = v
		}
		if err := UpdateVersioned(tx, d.ID, version, updates); err != nil {
			return nil, err
		}

		for i := range t.Images {
			t.Images[i].DefectID = d.ID
			t.Images[i].UploadedBy = t.Actor.ID
			if err := tx.Create(&t.Images[i]).Error; err != nil {
				return nil, errors.Wrap(err, "save defect image")
			}
		}

		details := fmt.Sprintf("status: %s -> %s", d.Status, t.To)
		if t.Details != "" {
			details += "; " + t.Details
		}
		action := t.Action
		if action == "" {
			action = "status_change"
		}

		return &AuditEntry{
			UserID:   t.Actor.ID,
			Entity:   "defect",
			EntityID: d.ID,
			Action:   action,
			Details:  details,
			IP:       t.Actor.IP,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return LoadDefect(ctx, t.DefectID)
}

func RejectDefect(ctx context.Context, id uint, version int, comment string, actor Actor) (*models.Defect, error) {
	now := time.Now()
	return TransitionDefect(ctx, Transition{
		DefectID: id,
		Version:  version,
		To:       models.DefectRejected,
		Actor:    actor,
		Fields: map[string]interface{}{
			"rejection_comment": comment,
			"rejected_by":       actor.ID,
			"rejected_at":       now,
		},
		Action:  "reject",
		Details: comment,
	})
}

// ReopenDefect moves a defect back to open and records why.
func ReopenDefect(ctx context.Context, id uint, version int, reason string, actor Actor) (*models.Defect, error) {
	now := time.Now()
	return TransitionDefect(ctx, Transition{
		DefectID: id,
		Version:  version,
		To:       models.DefectOpen,
		Actor:    actor,
		Fields: map[string]interface{}{
			"reopened_reason": reason,
			"reopened_by":     actor.ID,
			"reopened_at":     now,
		},
		Action:  "reopen",
		Details: reason,
	})
}

// CloseDefect closes a defect with its completion images. The first image
// becomes the closure image.
func CloseDefect(ctx context.Context, id uint, version int, imagePaths []string, comment string, actor Actor) (*models.Defect, error) {
	if len(imagePaths) == 0 {
		return nil, errors.New("at least one completion image is required")
	}

	images := make([]models.DefectImage, 0, len(imagePaths))
	for _, p := range imagePaths {
		images = append(images, models.DefectImage{FilePath: p, Kind: models.ImageCompletion})
	}

	now := time.Now()
	return TransitionDefect(ctx, Transition{
		DefectID: id,
		Version:  version,
		To:       models.DefectClosed,
		Actor:    actor,
		Fields: map[string]interface{}{
			"closure_image": imagePaths[0],
			"closed_by":     actor.ID,
			"closed_at":     now,
		},
		Images:  images,
		Action:  "close",
		Details: comment,
	})
}

// AddDefectImages appends report images without touching the status.
func AddDefectImages(ctx context.Context, id uint, paths []string, actor Actor) error {
	return Transact(ctx, func(tx *gorm.DB) (*AuditEntry, error) {
		var d models.Defect
		if err := tx.First(&d, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if !actor.CanActOn(&d) || actor.Role == models.RoleViewer {
			return nil, ErrForbidden
		}

		for _, p := range paths {
			img := models.DefectImage{DefectID: id, FilePath: p, Kind: models.ImageReport, UploadedBy: actor.ID}
			if err := tx.Create(&img).Error; err != nil {
				return nil, errors.Wrap(err, "save defect image")
			}
		}

		return &AuditEntry{
			UserID:   actor.ID,
			Entity:   "defect",
			EntityID: id,
			Action:   "add_images",
			Details:  fmt.Sprintf("%d image(s)", len(paths)),
			IP:       actor.IP,
		}, nil
	})
}
