package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//
// LIST
//

type defectFilter struct {
	ProjectID    *uint
	ContractorID *uint
	CategoryID   *uint
	Status       string
	Priority     string
	Query        string
	Overdue      bool
}

func readDefectFilter(c *gin.Context) defectFilter {
	return defectFilter{
		ProjectID:    optionalID(c.Query("project_id")),
		ContractorID: optionalID(c.Query("contractor_id")),
		CategoryID:   optionalID(c.Query("category_id")),
		Status:       c.Query("status"),
		Priority:     c.Query("priority"),
		Query:        strings.TrimSpace(c.Query("q")),
		Overdue:      c.Query("overdue") == "1",
	}
}

// scope applies the filter and the contractor restriction of the user.
func (f defectFilter) scope(q *gorm.DB, u models.User, now time.Time) *gorm.DB {
	if s := contractorScope(u); s != nil {
		q = q.Where("defects.contractor_id = ?", *s)
	}
	if f.ProjectID != nil {
		q = q.Where("defects.project_id = ?", *f.ProjectID)
	}
	if f.ContractorID != nil {
		q = q.Where("defects.contractor_id = ?", *f.ContractorID)
	}
	if f.CategoryID != nil {
		q = q.Where("defects.category_id = ?", *f.CategoryID)
	}
	if f.Status != "" {
		if f.Status == string(models.DefectOpen) {
			q = q.Where("defects.status IN ?", []models.DefectStatus{models.DefectOpen, models.DefectReopened})
		} else {
			q = q.Where("defects.status = ?", f.Status)
		}
	}
	if f.Priority != "" {
		q = q.Where("defects.priority = ?", f.Priority)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("defects.title LIKE ? OR defects.description LIKE ?", like, like)
	}
	if f.Overdue {
		q = q.Where("defects.due_date IS NOT NULL AND defects.due_date < ?", now).
			Where("defects.status NOT IN ?", []models.DefectStatus{models.DefectResolved, models.DefectClosed})
	}
	return q
}

func findDefects(c *gin.Context, f defectFilter, limit int) ([]models.Defect, error) {
	u, _ := middleware.CurrentUser(c)
	q := f.scope(database.DB.WithContext(c.Request.Context()), u, time.Now()).
		Preload("Project").
		Preload("Contractor").
		Preload("Category").
		Order("defects.created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var defects []models.Defect
	err := q.Find(&defects).Error
	return defects, err
}

func ListDefects(c *gin.Context) {
	f := readDefectFilter(c)
	defects, err := findDefects(c, f, 500)
	if err != nil {
		fail(c, "defects", err)
		return
	}

	lookups, err := defectLookups(c)
	if err != nil {
		fail(c, "defects", err)
		return
	}
	lookups["defects"] = defects
	lookups["filter"] = f
	lookups["statuses"] = selectableStatuses()
	lookups["priorities"] = models.DefectPriorities
	lookups["now"] = time.Now()

	render(c, http.StatusOK, "defects_list.html", lookups)
}

// defectLookups loads the option lists used by filters and forms.
func defectLookups(c *gin.Context) (gin.H, error) {
	ctx := c.Request.Context()

	var projects []models.Project
	if err := database.DB.WithContext(ctx).Order("name").Find(&projects).Error; err != nil {
		return nil, err
	}
	var contractors []models.Contractor
	if err := database.DB.WithContext(ctx).Order("company_name").Find(&contractors).Error; err != nil {
		return nil, err
	}
	cats, err := liveCategories(c)
	if err != nil {
		return nil, err
	}

	return gin.H{
		"projects":    projects,
		"contractors": contractors,
		"categories":  cats,
	}, nil
}

//
// CREATE / EDIT
//

type defectForm struct {
	ProjectID    uint   `form:"project_id" binding:"required"`
	ContractorID string `form:"contractor_id"`
	CategoryID   string `form:"category_id"`
	FloorPlanID  string `form:"floor_plan_id"`
	PinX         string `form:"pin_x"`
	PinY         string `form:"pin_y"`
	Title        string `form:"title" binding:"required,min=3,max=255"`
	Description  string `form:"description"`
	Priority     string `form:"priority" binding:"omitempty,oneof=low medium high critical"`
	DueDate      string `form:"due_date"`
	Version      int    `form:"version"`
}

func parsePin(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return nil, fmt.Errorf("pin coordinates must be between 0 and 1")
	}
	return &v, nil
}

// apply validates the form against the database and copies it into d.
func (f defectForm) apply(tx *gorm.DB, d *models.Defect) error {
	var project models.Project
	if err := tx.First(&project, f.ProjectID).Error; err != nil {
		return fmt.Errorf("unknown project")
	}
	d.ProjectID = project.ID

	// only a new assignment has to go to an active contractor
	previous := d.ContractorID
	d.ContractorID = optionalID(f.ContractorID)
	if d.ContractorID != nil && (previous == nil || *previous != *d.ContractorID) {
		var ct models.Contractor
		if err := tx.First(&ct, *d.ContractorID).Error; err != nil {
			return fmt.Errorf("unknown contractor")
		}
		if ct.Status != models.ContractorActive {
			return fmt.Errorf("contractor %s is %s and cannot be assigned", ct.CompanyName, ct.Status)
		}
	}

	d.CategoryID = optionalID(f.CategoryID)
	if d.CategoryID != nil {
		var n int64
		tx.Model(&models.Category{}).Where("id = ?", *d.CategoryID).Count(&n)
		if n == 0 {
			return fmt.Errorf("unknown category")
		}
	}

	d.FloorPlanID = optionalID(f.FloorPlanID)
	if d.FloorPlanID != nil {
		var n int64
		tx.Model(&models.FloorPlan{}).Where("id = ? AND project_id = ?", *d.FloorPlanID, project.ID).Count(&n)
		if n == 0 {
			return fmt.Errorf("floor plan does not belong to the project")
		}
	}

	x, err := parsePin(f.PinX)
	if err != nil {
		return err
	}
	y, err := parsePin(f.PinY)
	if err != nil {
		return err
	}
	if (x == nil) != (y == nil) {
		return fmt.Errorf("both pin coordinates are required")
	}
	if x != nil && d.FloorPlanID == nil {
		return fmt.Errorf("a pin needs a floor plan")
	}
	d.PinX, d.PinY = x, y

	due, err := parseDate(f.DueDate)
	if err != nil {
		return err
	}
	d.DueDate = due

	d.Title = strings.TrimSpace(f.Title)
	d.Description = strings.TrimSpace(f.Description)
	d.Priority = models.PriorityMedium
	if f.Priority != "" {
		d.Priority = models.DefectPriority(f.Priority)
	}
	return nil
}

func renderDefectForm(c *gin.Context, status int, d models.Defect, msg string) {
	data, err := defectLookups(c)
	if err != nil {
		fail(c, "defects", err)
		return
	}

	var plans []models.FloorPlan
	if d.ProjectID != 0 {
		database.DB.WithContext(c.Request.Context()).Where("project_id = ?", d.ProjectID).Find(&plans)
		sortFloorPlans(plans)
	}

	data["defect"] = d
	data["plans"] = plans
	data["priorities"] = models.DefectPriorities
	data["isNew"] = d.ID == 0
	data["error"] = msg
	render(c, status, "defect_form.html", data)
}

func ShowNewDefect(c *gin.Context) {
	d := models.Defect{Priority: models.PriorityMedium}
	if pid := optionalID(c.Query("project_id")); pid != nil {
		d.ProjectID = *pid
	}
	if fp := optionalID(c.Query("floor_plan_id")); fp != nil {
		d.FloorPlanID = fp
	}
	renderDefectForm(c, http.StatusOK, d, "")
}

func CreateDefect(c *gin.Context) {
	var form defectForm
	d := models.Defect{Priority: models.PriorityMedium}

	if err := c.ShouldBind(&form); err != nil {
		d.ProjectID = form.ProjectID
		d.Title = form.Title
		d.Description = form.Description
		renderDefectForm(c, http.StatusBadRequest, d, middleware.TranslateValidationError(err))
		return
	}
	if err := form.apply(database.DB.WithContext(c.Request.Context()), &d); err != nil {
		renderDefectForm(c, http.StatusBadRequest, d, err.Error())
		return
	}

	images, err := saveUploads(c, "images", fmt.Sprintf("defects/%d", d.ProjectID))
	if err != nil {
		renderDefectForm(c, http.StatusBadRequest, d, errors.Cause(err).Error())
		return
	}

	actor := middleware.Actor(c)
	d.Status = models.DefectOpen
	d.Version = 1
	d.ReportedBy = actor.ID
	d.CreatedBy = actor.ID
	d.UpdatedBy = actor.ID

	err = database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Omit("Project", "Contractor", "Category", "FloorPlan", "Reporter", "Images").Create(&d).Error; err != nil {
			return nil, err
		}
		for _, key := range images {
			img := models.DefectImage{DefectID: d.ID, FilePath: key, Kind: models.ImageReport, UploadedBy: actor.ID}
			if err := tx.Create(&img).Error; err != nil {
				return nil, err
			}
		}
		return &database.AuditEntry{
			UserID:   actor.ID,
			Entity:   "defect",
			EntityID: d.ID,
			Action:   "create",
			Details:  fmt.Sprintf("%s (%d image(s))", d.Title, len(images)),
			IP:       actor.IP,
		}, nil
	})
	if err != nil {
		discardUploads(c.Request.Context(), images)
		fail(c, "defects", err)
		return
	}

	if err := database.DeleteDraft(c.Request.Context(), actor.ID); err != nil {
		componentLog("defects").Warn("could not clear draft", zap.Uint("user_id", actor.ID), zap.Error(err))
	}

	flash(c, "Defect reported")
	c.Redirect(http.StatusFound, fmt.Sprintf("/defects/%d", d.ID))
}

// loadVisibleDefect loads the defect and hides it from contractors it is not assigned to.
func loadVisibleDefect(c *gin.Context) (*models.Defect, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	d, err := database.LoadDefect(c.Request.Context(), id)
	if err == nil && !middleware.Actor(c).CanActOn(d) {
		err = database.ErrNotFound
	}
	if err != nil {
		fail(c, "defects", err)
		return nil, false
	}
	return d, true
}

// selectableStatuses omits the legacy reopened value.
func selectableStatuses() []models.DefectStatus {
	out := make([]models.DefectStatus, 0, len(models.DefectStatuses))
	for _, s := range models.DefectStatuses {
		if s != models.DefectReopened {
			out = append(out, s)
		}
	}
	return out
}

// nextStatuses lists the statuses the actor may move the defect into.
func nextStatuses(actor database.Actor, d *models.Defect) []models.DefectStatus {
	if !actor.CanActOn(d) {
		return nil
	}
	var out []models.DefectStatus
	for _, s := range selectableStatuses() {
		if models.CanChangeDefectStatus(actor.Role, d.Status, s) {
			out = append(out, s)
		}
	}
	return out
}

func ShowDefect(c *gin.Context) {
	d, ok := loadVisibleDefect(c)
	if !ok {
		return
	}

	history, _ := database.History(c.Request.Context(), "defect", d.ID)

	var report, completion []models.DefectImage
	for _, img := range d.Images {
		if img.Kind == models.ImageCompletion {
			completion = append(completion, img)
		} else {
			report = append(report, img)
		}
	}

	actor := middleware.Actor(c)
	render(c, http.StatusOK, "defect_detail.html", gin.H{
		"defect":     *d,
		"report":     report,
		"completion": completion,
		"history":    history,
		"next":       nextStatuses(actor, d),
		"canUpload":  actor.CanActOn(d) && actor.Role != models.RoleViewer,
		"overdue":    d.IsOverdue(time.Now()),
	})
}

func ShowEditDefect(c *gin.Context) {
	d, ok := loadVisibleDefect(c)
	if !ok {
		return
	}
	renderDefectForm(c, http.StatusOK, *d, "")
}

func UpdateDefect(c *gin.Context) {
	d, ok := loadVisibleDefect(c)
	if !ok {
		return
	}

	var form defectForm
	if err := c.ShouldBind(&form); err != nil {
		renderDefectForm(c, http.StatusBadRequest, *d, middleware.TranslateValidationError(err))
		return
	}
	if err := form.apply(database.DB.WithContext(c.Request.Context()), d); err != nil {
		renderDefectForm(c, http.StatusBadRequest, *d, err.Error())
		return
	}

	version := form.Version
	if version == 0 {
		version = d.Version
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		err := database.UpdateVersioned(tx, d.ID, version, map[string]interface{}{
			"project_id":    d.ProjectID,
			"contractor_id": d.ContractorID,
			"category_id":   d.CategoryID,
			"floor_plan_id": d.FloorPlanID,
			"pin_x":         d.PinX,
			"pin_y":         d.PinY,
			"title":         d.Title,
			"description":   d.Description,
			"priority":      d.Priority,
			"due_date":      d.DueDate,
			"updated_by":    actor.ID,
		})
		if err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "defect", EntityID: d.ID, Action: "update", Details: d.Title, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "defects", err)
		return
	}

	flash(c, "Defect saved")
	c.Redirect(http.StatusFound, fmt.Sprintf("/defects/%d", d.ID))
}

//
// DELETE
//

// Image rows and files are kept with the deleted defect.
var defectDeletion = database.SoftDeletePolicy[models.Defect]{Entity: "defect"}

func DeleteDefect(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var projectID uint
	database.DB.WithContext(c.Request.Context()).Model(&models.Defect{}).Where("id = ?", id).Pluck("project_id", &projectID)

	if _, err := softDelete(c, defectDeletion, id, strings.TrimSpace(c.PostForm("reason"))); err != nil {
		fail(c, "defects", err)
		return
	}

	flash(c, "Defect deleted")
	if projectID != 0 {
		c.Redirect(http.StatusFound, fmt.Sprintf("/projects/%d", projectID))
		return
	}
	c.Redirect(http.StatusFound, "/defects")
}
