package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"
	"defect-tracker/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// floorPlanDeletion backs up the row, marks it deleted and releases the
// image and thumbnail once no other live plan uses them.
var floorPlanDeletion = database.SoftDeletePolicy[models.FloorPlan]{
	Entity: "floor_plan",
	Extra:  map[string]interface{}{"status": models.FloorPlanDeleted},
	Backup: func(fp *models.FloorPlan, req database.SoftDeleteRequest) interface{} {
		snapshot, _ := json.Marshal(fp)
		return &models.FloorPlanBackup{
			FloorPlanID:   fp.ID,
			ProjectID:     fp.ProjectID,
			Name:          fp.Name,
			FilePath:      fp.FilePath,
			ThumbnailPath: fp.ThumbnailPath,
			Snapshot:      datatypes.JSON(snapshot),
			Reason:        req.Reason,
			DeletedBy:     req.UserID,
		}
	},
	Files: func(fp *models.FloorPlan) []database.FileRef {
		return []database.FileRef{
			{Column: "file_path", Path: fp.FilePath},
			{Column: "thumbnail_path", Path: fp.ThumbnailPath},
		}
	},
}

func ListFloorPlans(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}

	var plans []models.FloorPlan
	if err := database.DB.WithContext(c.Request.Context()).Where("project_id = ?", project.ID).Find(&plans).Error; err != nil {
		fail(c, "floor_plans", err)
		return
	}
	sortFloorPlans(plans)

	var pins []struct {
		FloorPlanID uint
		N           int64
	}
	database.DB.WithContext(c.Request.Context()).Model(&models.Defect{}).
		Select("floor_plan_id, COUNT(*) AS n").
		Where("project_id = ? AND floor_plan_id IS NOT NULL", project.ID).
		Group("floor_plan_id").
		Scan(&pins)
	pinCount := map[uint]int64{}
	for _, p := range pins {
		pinCount[p.FloorPlanID] = p.N
	}

	render(c, http.StatusOK, "floor_plans.html", gin.H{
		"project":  *project,
		"plans":    plans,
		"pinCount": pinCount,
		"error":    c.Query("error"),
	})
}

type floorPlanForm struct {
	Name  string `form:"name" binding:"required,max=255"`
	Level string `form:"level" binding:"max=50"`
}

func UploadFloorPlan(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}
	back := fmt.Sprintf("/projects/%d/floor-plans", project.ID)

	var form floorPlanForm
	if err := c.ShouldBind(&form); err != nil {
		flash(c, middleware.TranslateValidationError(err))
		c.Redirect(http.StatusFound, back)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		flash(c, "Choose an image file to upload")
		c.Redirect(http.StatusFound, back)
		return
	}

	up, err := storage.SaveImage(c.Request.Context(), files, fh, storage.UploadOptions{
		Dir:       fmt.Sprintf("floor_plans/%d", project.ID),
		MaxBytes:  maxUploadBytes,
		Thumbnail: true,
	})
	if err != nil {
		if status, _ := statusFor(err); status < http.StatusInternalServerError {
			flash(c, errors.Cause(err).Error())
			c.Redirect(http.StatusFound, back)
			return
		}
		fail(c, "floor_plans", err)
		return
	}

	actor := middleware.Actor(c)
	fp := models.FloorPlan{
		ProjectID:     project.ID,
		Name:          strings.TrimSpace(form.Name),
		Level:         strings.TrimSpace(form.Level),
		FilePath:      up.Key,
		ThumbnailPath: up.ThumbnailKey,
		Status:        models.FloorPlanActive,
		UploadedBy:    actor.ID,
	}

	err = database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Omit("Project").Create(&fp).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{
			UserID:   actor.ID,
			Entity:   "floor_plan",
			EntityID: fp.ID,
			Action:   "upload",
			Details:  fmt.Sprintf("%s (%d bytes)", fp.Name, up.Size),
			IP:       actor.IP,
		}, nil
	})
	if err != nil {
		discardUploads(c.Request.Context(), []string{up.Key, up.ThumbnailKey})
		fail(c, "floor_plans", err)
		return
	}

	componentLog("floor_plans").Info("floor plan uploaded",
		zap.Uint("id", fp.ID),
		zap.Uint("project_id", project.ID),
		zap.String("key", up.Key),
		zap.Int64("size", up.Size),
	)

	flash(c, "Floor plan uploaded")
	c.Redirect(http.StatusFound, back)
}

func ShowFloorPlan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var fp models.FloorPlan
	if err := database.DB.WithContext(c.Request.Context()).Preload("Project").First(&fp, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = database.ErrNotFound
		}
		fail(c, "floor_plans", err)
		return
	}

	u, _ := middleware.CurrentUser(c)
	q := database.DB.WithContext(c.Request.Context()).
		Where("floor_plan_id = ? AND pin_x IS NOT NULL AND pin_y IS NOT NULL", fp.ID)
	if scope := contractorScope(u); scope != nil {
		q = q.Where("contractor_id = ?", *scope)
	}
	var pinned []models.Defect
	if err := q.Find(&pinned).Error; err != nil {
		fail(c, "floor_plans", err)
		return
	}

	render(c, http.StatusOK, "floor_plan_view.html", gin.H{
		"plan":    fp,
		"pinned":  pinned,
		"fileURL": files.URL(fp.FilePath),
	})
}

// DeleteFloorPlan: POST /api/floor-plans/:id/delete {reason}
func DeleteFloorPlan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	reason := strings.TrimSpace(c.PostForm("reason"))
	if reason == "" {
		var body struct {
			Reason string `json:"reason"`
		}
		if c.ContentType() == "application/json" && c.ShouldBindJSON(&body) == nil {
			reason = strings.TrimSpace(body.Reason)
		}
	}

	res, err := softDelete(c, floorPlanDeletion, id, reason)
	if err != nil {
		fail(c, "floor_plans", err)
		return
	}

	respondOK(c, "Floor plan deleted", gin.H{
		"id":             id,
		"project_id":     res.Row.ProjectID,
		"removed_files":  res.Orphaned,
		"retained_files": res.Retained,
	})
}
