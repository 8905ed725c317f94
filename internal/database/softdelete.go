package database

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileRef names a column holding a stored file path.
type FileRef struct {
	Column string
	Path   string
}

// SoftDeletePolicy describes how one entity type is soft deleted.
// T must embed gorm.Model and have a deleted_by column.
type SoftDeletePolicy[T any] struct {
	Entity string
	// Extra columns set alongside deleted_at, e.g. status = 'deleted'.
	Extra map[string]interface{}
	// Backup returns a row to insert before deletion, or nil.
	Backup func(row *T, req SoftDeleteRequest) interface{}
	// Files lists the stored files the row refers to.
	Files func(row *T) []FileRef
	// Guard runs on the locked row before anything is written. A non-nil
	// error aborts the deletion, typically one wrapping ErrInUse.
	Guard func(tx *gorm.DB, row *T) error
}

type SoftDeleteRequest struct {
	ID     uint
	UserID uint
	Reason string
	IP     string
}

type SoftDeleteResult[T any] struct {
	Row T
	// Orphaned files are no longer referenced by any live row and may be removed.
	Orphaned []string
	// Retained files are still used by another live row.
	Retained []string
}

// lockForUpdate adds FOR UPDATE on dialects that support row locks.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lockFilePath serialises reference counting for one stored path until the
// transaction ends, so two rows sharing a file cannot both see the other as
// live. SQLite already serialises writers.
func lockFilePath(tx *gorm.DB, path string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", path).Error
}

// SoftDelete marks a row deleted, writes its backup and audit rows, and
// reports which of its files became unreferenced. File removal is left to
// the caller and must happen only after this returns without error.
func SoftDelete[T any](ctx context.Context, policy SoftDeletePolicy[T], req SoftDeleteRequest) (*SoftDeleteResult[T], error) {
	result := &SoftDeleteResult[T]{}

	err := DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row T
		if err := lockForUpdate(tx).First(&row, req.ID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(err, "load %s %d", policy.Entity, req.ID)
			}

			var n int64
			if err := tx.Unscoped().Model(new(T)).Where("id = ?", req.ID).Count(&n).Error; err != nil {
				return errors.Wrapf(err, "check %s %d", policy.Entity, req.ID)
			}
			if n > 0 {
				return ErrAlreadyDeleted
			}
			return ErrNotFound
		}

		if policy.Guard != nil {
			if err := policy.Guard(tx, &row); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{
			"deleted_at": time.Now(),
			"deleted_by": req.UserID,
		}
		for col, v := range policy.Extra {
			updates[col] = v
		}

		res := tx.Model(new(T)).Where("id = ?", req.ID).Updates(updates)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "delete %s %d", policy.Entity, req.ID)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyDeleted
		}

		if policy.Backup != nil {
			if backup := policy.Backup(&row, req); backup != nil {
				if err := tx.Create(backup).Error; err != nil {
					return errors.Wrapf(err, "backup %s %d", policy.Entity, req.ID)
				}
			}
		}

		if err := WriteAudit(tx, AuditEntry{
			UserID:   req.UserID,
			Entity:   policy.Entity,
			EntityID: req.ID,
			Action:   "delete",
			Details:  req.Reason,
			IP:       req.IP,
		}); err != nil {
			return errors.Wrap(err, "audit")
		}

		if policy.Files != nil {
			files := policy.Files(&row)
			sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
			for _, f := range files {
				if f.Path == "" {
					continue
				}
				if err := lockFilePath(tx, f.Path); err != nil {
					return errors.Wrapf(err, "lock %s", f.Path)
				}
				var refs int64
				if err := tx.Model(new(T)).
					Where(clause.Eq{Column: clause.Column{Name: f.Column}, Value: f.Path}).
					Where("id <> ?", req.ID).
					Count(&refs).Error; err != nil {
					return errors.Wrapf(err, "count references to %s", f.Path)
				}
				if refs == 0 {
					result.Orphaned = append(result.Orphaned, f.Path)
				} else {
					result.Retained = append(result.Retained, f.Path)
				}
			}
		}

		result.Row = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
