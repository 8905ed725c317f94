package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"defect-tracker/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	admin      models.User
	sub        models.User
	contractor models.Contractor
	other      models.Contractor
	project    models.Project
}

func setupDB(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "defects_test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(ctx, db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	DB = db
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		DB = nil
	})

	f := &fixture{}
	f.contractor = models.Contractor{CompanyName: "Acme Plumbing", Status: models.ContractorActive}
	f.other = models.Contractor{CompanyName: "Brightline Electric", Status: models.ContractorActive}
	f.project = models.Project{Name: "Tower A", Status: models.ProjectActive}
	for _, v := range []interface{}{&f.contractor, &f.other, &f.project} {
		if err := DB.Create(v).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	admin, err := CreateUser(NewUser{Username: "admin", Password: "Admin123!", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	sub, err := CreateUser(NewUser{Username: "acme", Password: "Acme1234!", Role: models.RoleContractor, ContractorID: &f.contractor.ID})
	if err != nil {
		t.Fatalf("create contractor user: %v", err)
	}
	f.admin, f.sub = *admin, *sub

	return f
}

func (f *fixture) defect(t *testing.T, status models.DefectStatus, contractor *models.Contractor, due *time.Time) models.Defect {
	t.Helper()
	d := models.Defect{
		ProjectID:  f.project.ID,
		Title:      "Cracked tile " + string(status),
		Priority:   models.PriorityMedium,
		Status:     status,
		DueDate:    due,
		ReportedBy: f.admin.ID,
		Version:    1,
	}
	if contractor != nil {
		d.ContractorID = &contractor.ID
	}
	if err := DB.Create(&d).Error; err != nil {
		t.Fatalf("create defect: %v", err)
	}
	return d
}

func (f *fixture) actor() Actor {
	return Actor{ID: f.admin.ID, Role: models.RoleAdmin, IP: "127.0.0.1"}
}

func countAudit(t *testing.T, entity string, id uint, action string) int64 {
	t.Helper()
	var n int64
	if err := DB.Model(&models.AuditLog{}).
		Where("entity = ? AND entity_id = ? AND action = ?", entity, id, action).
		Count(&n).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	setupDB(t)

	created, err := EnsureAdmin("second-admin", "Another123!")
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if created {
		t.Fatalf("admin already exists, nothing should be created")
	}
	if _, err := CreateUser(NewUser{Username: "admin", Password: "Whatever123", Role: models.RoleViewer}); err != ErrUsernameTaken {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := CreateUser(NewUser{Username: "x", Password: "Whatever123", Role: models.RoleContractor}); err == nil {
		t.Fatalf("contractor user without contractor must be rejected")
	}
}

func TestTransactRollsBackWithAudit(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := Transact(ctx, func(tx *gorm.DB) (*AuditEntry, error) {
		p := models.Project{Name: "Rolled back", Status: models.ProjectActive}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		if err := WriteAudit(tx, AuditEntry{UserID: f.admin.ID, Entity: "project", EntityID: p.ID, Action: "create"}); err != nil {
			return nil, err
		}
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var projects, audits int64
	DB.Model(&models.Project{}).Where("name = ?", "Rolled back").Count(&projects)
	DB.Model(&models.AuditLog{}).Count(&audits)
	if projects != 0 || audits != 0 {
		t.Fatalf("expected nothing persisted, got %d projects and %d audit rows", projects, audits)
	}

	err = Transact(ctx, func(tx *gorm.DB) (*AuditEntry, error) {
		p := models.Project{Name: "Kept", Status: models.ProjectActive}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		return &AuditEntry{UserID: f.admin.ID, Entity: "project", EntityID: p.ID, Action: "create"}, nil
	})
	if err != nil {
		t.Fatalf("transact: %v", err)
	}
	DB.Model(&models.AuditLog{}).Where("entity = ? AND action = ?", "project", "create").Count(&audits)
	if audits != 1 {
		t.Fatalf("expected one audit row, got %d", audits)
	}
}

func floorPlanPolicy() SoftDeletePolicy[models.FloorPlan] {
	return SoftDeletePolicy[models.FloorPlan]{
		Entity: "floor_plan",
		Extra:  map[string]interface{}{"status": models.FloorPlanDeleted},
		Backup: func(fp *models.FloorPlan, req SoftDeleteRequest) interface{} {
			return &models.FloorPlanBackup{
				FloorPlanID: fp.ID,
				ProjectID:   fp.ProjectID,
				Name:        fp.Name,
				FilePath:    fp.FilePath,
				Reason:      req.Reason,
				DeletedBy:   req.UserID,
			}
		},
		Files: func(fp *models.FloorPlan) []FileRef {
			return []FileRef{{Column: "file_path", Path: fp.FilePath}, {Column: "thumbnail_path", Path: fp.ThumbnailPath}}
		},
	}
}

func TestSoftDeleteKeepsSharedFiles(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()

	first := models.FloorPlan{ProjectID: f.project.ID, Name: "Level 1", FilePath: "floor_plans/1/shared.png", ThumbnailPath: "floor_plans/1/thumb_a.png", Status: models.FloorPlanActive}
	second := models.FloorPlan{ProjectID: f.project.ID, Name: "Level 1 copy", FilePath: "floor_plans/1/shared.png", ThumbnailPath: "floor_plans/1/thumb_b.png", Status: models.FloorPlanActive}
	for _, fp := range []*models.FloorPlan{&first, &second} {
		if err := DB.Create(fp).Error; err != nil {
			t.Fatalf("create floor plan: %v", err)
		}
	}

	res, err := SoftDelete(ctx, floorPlanPolicy(), SoftDeleteRequest{ID: first.ID, UserID: f.admin.ID, Reason: "superseded"})
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if len(res.Orphaned) != 1 || res.Orphaned[0] != "floor_plans/1/thumb_a.png" {
		t.Fatalf("expected only the thumbnail to be orphaned, got %v", res.Orphaned)
	}
	if len(res.Retained) != 1 || res.Retained[0] != "floor_plans/1/shared.png" {
		t.Fatalf("expected shared file retained, got %v", res.Retained)
	}

	var deleted models.FloorPlan
	if err := DB.Unscoped().First(&deleted, first.ID).Error; err != nil {
		t.Fatalf("load deleted: %v", err)
	}
	if !deleted.DeletedAt.Valid || deleted.DeletedBy == nil || *deleted.DeletedBy != f.admin.ID {
		t.Fatalf("deleted_at/deleted_by not set: %+v", deleted)
	}
	if deleted.Status != models.FloorPlanDeleted {
		t.Fatalf("status = %s, want deleted", deleted.Status)
	}

	var backups int64
	DB.Model(&models.FloorPlanBackup{}).Where("floor_plan_id = ?", first.ID).Count(&backups)
	if backups != 1 {
		t.Fatalf("expected one backup row, got %d", backups)
	}
	if countAudit(t, "floor_plan", first.ID, "delete") != 1 {
		t.Fatalf("expected delete audit row")
	}

	res, err = SoftDelete(ctx, floorPlanPolicy(), SoftDeleteRequest{ID: second.ID, UserID: f.admin.ID})
	if err != nil {
		t.Fatalf("soft delete second: %v", err)
	}
	if len(res.Orphaned) != 2 {
		t.Fatalf("last reference gone, both files should be orphaned, got %v", res.Orphaned)
	}

	if _, err := SoftDelete(ctx, floorPlanPolicy(), SoftDeleteRequest{ID: first.ID, UserID: f.admin.ID}); !errors.Is(err, ErrAlreadyDeleted) {
		t.Fatalf("expected ErrAlreadyDeleted, got %v", err)
	}
	if _, err := SoftDelete(ctx, floorPlanPolicy(), SoftDeleteRequest{ID: 9999, UserID: f.admin.ID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if countAudit(t, "floor_plan", first.ID, "delete") != 1 {
		t.Fatalf("failed delete must not add audit rows")
	}
}

func TestConcurrentDeletesOrphanSharedFileOnce(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()

	plans := []*models.FloorPlan{
		{ProjectID: f.project.ID, Name: "East wing", FilePath: "floor_plans/1/wing.png", Status: models.FloorPlanActive},
		{ProjectID: f.project.ID, Name: "East wing rev B", FilePath: "floor_plans/1/wing.png", Status: models.FloorPlanActive},
	}
	for _, fp := range plans {
		if err := DB.Create(fp).Error; err != nil {
			t.Fatalf("create floor plan: %v", err)
		}
	}

	var (
		wg      sync.WaitGroup
		results = make([]*SoftDeleteResult[models.FloorPlan], len(plans))
	)
	for i, fp := range plans {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			// a writer that loses the race reports an error and leaves its row live
			results[i], _ = SoftDelete(ctx, floorPlanPolicy(), SoftDeleteRequest{ID: id, UserID: f.admin.ID})
		}(i, fp.ID)
	}
	wg.Wait()

	var live int64
	DB.Model(&models.FloorPlan{}).Where("file_path = ?", "floor_plans/1/wing.png").Count(&live)

	orphaned := 0
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, p := range res.Orphaned {
			if p == "floor_plans/1/wing.png" {
				orphaned++
			}
		}
	}

	want := 0
	if live == 0 {
		want = 1
	}
	if orphaned != want {
		t.Fatalf("live references %d, file reported orphaned %d time(s), want %d", live, orphaned, want)
	}
}

func TestSoftDeleteGuardAbortsDeletion(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()
	f.defect(t, models.DefectOpen, &f.contractor, nil)

	policy := SoftDeletePolicy[models.Project]{
		Entity: "project",
		Guard: func(tx *gorm.DB, p *models.Project) error {
			var n int64
			if err := tx.Model(&models.Defect{}).Where("project_id = ?", p.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return errors.Wrapf(ErrInUse, "%d defect(s)", n)
			}
			return nil
		},
	}

	_, err := SoftDelete(ctx, policy, SoftDeleteRequest{ID: f.project.ID, UserID: f.admin.ID})
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}

	var p models.Project
	if err := DB.First(&p, f.project.ID).Error; err != nil {
		t.Fatalf("project must stay live: %v", err)
	}
	if countAudit(t, "project", f.project.ID, "delete") != 0 {
		t.Fatalf("guarded delete must not write an audit row")
	}
}

func TestRejectAndReopen(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()
	d := f.defect(t, models.DefectPending, &f.contractor, nil)

	rejected, err := RejectDefect(ctx, d.ID, d.Version, "grout missing", f.actor())
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.DefectRejected || rejected.RejectionComment != "grout missing" {
		t.Fatalf("unexpected defect after reject: %+v", rejected)
	}
	if rejected.RejectedBy == nil || *rejected.RejectedBy != f.admin.ID || rejected.RejectedAt == nil {
		t.Fatalf("rejected_by/rejected_at not recorded")
	}
	if rejected.Version != d.Version+1 {
		t.Fatalf("version = %d, want %d", rejected.Version, d.Version+1)
	}

	reopened, err := ReopenDefect(ctx, d.ID, rejected.Version, "still leaking", f.actor())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != models.DefectOpen || reopened.ReopenedReason != "still leaking" || reopened.ReopenedAt == nil {
		t.Fatalf("unexpected defect after reopen: %+v", reopened)
	}
	if countAudit(t, "defect", d.ID, "reject") != 1 || countAudit(t, "defect", d.ID, "reopen") != 1 {
		t.Fatalf("expected reject and reopen audit rows")
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()
	d := f.defect(t, models.DefectOpen, &f.contractor, nil)

	if _, err := TransitionDefect(ctx, Transition{DefectID: d.ID, Version: d.Version, To: models.DefectInProgress, Actor: f.actor()}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	_, err := TransitionDefect(ctx, Transition{DefectID: d.ID, Version: d.Version, To: models.DefectPending, Actor: f.actor()})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	cur, _ := LoadDefect(ctx, d.ID)
	if cur.Status != models.DefectInProgress {
		t.Fatalf("conflicting update must not apply, status = %s", cur.Status)
	}
}

func TestTransitionRules(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()

	closed := f.defect(t, models.DefectClosed, &f.contractor, nil)
	if _, err := TransitionDefect(ctx, Transition{DefectID: closed.ID, To: models.DefectInProgress, Actor: f.actor()}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("closed -> in_progress: expected ErrInvalidTransition, got %v", err)
	}

	sub := Actor{ID: f.sub.ID, Role: models.RoleContractor, ContractorID: &f.contractor.ID}
	mine := f.defect(t, models.DefectOpen, &f.contractor, nil)
	theirs := f.defect(t, models.DefectOpen, &f.other, nil)

	if _, err := TransitionDefect(ctx, Transition{DefectID: mine.ID, To: models.DefectAccepted, Actor: sub}); err != nil {
		t.Fatalf("contractor accepting own defect: %v", err)
	}
	if _, err := TransitionDefect(ctx, Transition{DefectID: theirs.ID, To: models.DefectAccepted, Actor: sub}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("contractor acting on another contractor's defect: expected ErrForbidden, got %v", err)
	}
	if _, err := RejectDefect(ctx, mine.ID, 0, "no", sub); !errors.Is(err, ErrForbidden) {
		t.Fatalf("contractor rejecting: expected ErrForbidden, got %v", err)
	}
}

func TestCloseDefectStoresCompletionImages(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()
	d := f.defect(t, models.DefectCompleted, &f.contractor, nil)

	if _, err := CloseDefect(ctx, d.ID, 0, nil, "", f.actor()); err == nil {
		t.Fatalf("closing without images must fail")
	}

	closed, err := CloseDefect(ctx, d.ID, 0, []string{"defects/1/a.jpg", "defects/1/b.jpg"}, "done", f.actor())
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.DefectClosed || closed.ClosureImage != "defects/1/a.jpg" || closed.ClosedAt == nil {
		t.Fatalf("unexpected defect after close: %+v", closed)
	}
	if len(closed.Images) != 2 || closed.Images[0].Kind != models.ImageCompletion {
		t.Fatalf("expected two completion images, got %+v", closed.Images)
	}
}

func TestContractorStatsTotalsAreColumnSums(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()
	now := time.Now()
	past := now.AddDate(-1, 0, 0)
	future := now.AddDate(1, 0, 0)

	f.defect(t, models.DefectOpen, &f.contractor, &past)
	f.defect(t, models.DefectReopened, &f.contractor, nil)
	f.defect(t, models.DefectAccepted, &f.contractor, &future)
	f.defect(t, models.DefectClosed, &f.contractor, &past)
	f.defect(t, models.DefectCompleted, &f.other, nil)
	f.defect(t, models.DefectRejected, &f.other, &past)
	gone := f.defect(t, models.DefectOpen, &f.other, nil)
	f.defect(t, models.DefectOpen, nil, nil)

	if err := DB.Delete(&models.Defect{}, gone.ID).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}

	report, err := ContractorStats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 contractors, got %d", len(report.Rows))
	}

	acme := report.Rows[0]
	if acme.CompanyName != "Acme Plumbing" {
		t.Fatalf("rows should be sorted by name, got %s first", acme.CompanyName)
	}
	if acme.Total != 4 || acme.Open != 2 || acme.InProgress != 1 || acme.Closed != 1 || acme.Overdue != 1 {
		t.Fatalf("unexpected acme counts: %+v", acme.BucketCounts)
	}

	other := report.Rows[1]
	if other.Total != 2 || other.Pending != 1 || other.Rejected != 1 || other.Overdue != 1 {
		t.Fatalf("unexpected brightline counts: %+v", other.BucketCounts)
	}

	var sum BucketCounts
	for _, r := range report.Rows {
		sum.add(r.BucketCounts)
	}
	if sum != report.Totals {
		t.Fatalf("totals %+v differ from column sums %+v", report.Totals, sum)
	}
	if report.Totals.Open+report.Totals.InProgress+report.Totals.Pending+report.Totals.Rejected+report.Totals.Closed != report.Totals.Total {
		t.Fatalf("buckets must partition the total: %+v", report.Totals)
	}
}

func TestDraftUpsert(t *testing.T) {
	f := setupDB(t)
	ctx := context.Background()

	if err := SaveDraft(ctx, f.admin.ID, []byte(`{"title":"a"}`), ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveDraft(ctx, f.admin.ID, []byte(`{"title":"b"}`), ""); err != nil {
		t.Fatalf("save again: %v", err)
	}

	draft, err := LoadDraft(ctx, f.admin.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(draft.Payload) != `{"title":"b"}` {
		t.Fatalf("payload = %s", draft.Payload)
	}

	if err := DeleteDraft(ctx, f.admin.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := LoadDraft(ctx, f.admin.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
