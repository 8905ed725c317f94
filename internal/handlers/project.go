package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/maruel/natural"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return &t, nil
}

//
// LIST
//

func ListProjects(c *gin.Context) {
	statusStr := c.Query("status")
	search := strings.TrimSpace(c.Query("q"))

	dbq := database.DB.WithContext(c.Request.Context()).Order("created_at desc")
	if statusStr != "" {
		dbq = dbq.Where("status = ?", statusStr)
	}
	if search != "" {
		like := "%" + search + "%"
		dbq = dbq.Where("name LIKE ? OR location LIKE ?", like, like)
	}

	var projects []models.Project
	if err := dbq.Find(&projects).Error; err != nil {
		fail(c, "projects", err)
		return
	}

	var openCounts []struct {
		ProjectID uint
		N         int64
	}
	database.DB.WithContext(c.Request.Context()).Model(&models.Defect{}).
		Select("project_id, COUNT(*) AS n").
		Where("status NOT IN ?", []models.DefectStatus{models.DefectResolved, models.DefectClosed}).
		Group("project_id").
		Scan(&openCounts)
	openByProject := map[uint]int64{}
	for _, oc := range openCounts {
		openByProject[oc.ProjectID] = oc.N
	}

	render(c, http.StatusOK, "projects_list.html", gin.H{
		"projects":      projects,
		"openByProject": openByProject,
		"statuses":      models.ProjectStatuses,
		"FilterStatus":  statusStr,
		"FilterQuery":   search,
	})
}

//
// CREATE / EDIT
//

type projectForm struct {
	Name        string `form:"name" binding:"required,min=3,max=255"`
	Description string `form:"description"`
	Location    string `form:"location" binding:"max=255"`
	Status      string `form:"status" binding:"omitempty,oneof=active completed on_hold"`
	StartDate   string `form:"start_date"`
	EndDate     string `form:"end_date"`
}

func (f projectForm) apply(p *models.Project) error {
	start, err := parseDate(f.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate(f.EndDate)
	if err != nil {
		return err
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("end date is before start date")
	}

	p.Name = strings.TrimSpace(f.Name)
	p.Description = strings.TrimSpace(f.Description)
	p.Location = strings.TrimSpace(f.Location)
	p.StartDate = start
	p.EndDate = end
	if f.Status != "" {
		p.Status = models.ProjectStatus(f.Status)
	}
	return nil
}

func renderProjectForm(c *gin.Context, status int, project models.Project, msg string) {
	render(c, status, "project_form.html", gin.H{
		"project":  project,
		"statuses": models.ProjectStatuses,
		"isNew":    project.ID == 0,
		"error":    msg,
	})
}

func ShowNewProject(c *gin.Context) {
	renderProjectForm(c, http.StatusOK, models.Project{Status: models.ProjectActive}, "")
}

func CreateProject(c *gin.Context) {
	var form projectForm
	project := models.Project{Status: models.ProjectActive}

	if err := c.ShouldBind(&form); err != nil {
		_ = form.apply(&project)
		renderProjectForm(c, http.StatusBadRequest, project, middleware.TranslateValidationError(err))
		return
	}
	if err := form.apply(&project); err != nil {
		renderProjectForm(c, http.StatusBadRequest, project, err.Error())
		return
	}

	actor := middleware.Actor(c)
	project.CreatedBy = actor.ID
	project.UpdatedBy = actor.ID

	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Create(&project).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "project", EntityID: project.ID, Action: "create", Details: "Created project " + project.Name, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "projects", err)
		return
	}

	flash(c, "Project created")
	c.Redirect(http.StatusFound, fmt.Sprintf("/projects/%d", project.ID))
}

func loadProject(c *gin.Context) (*models.Project, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var project models.Project
	if err := database.DB.WithContext(c.Request.Context()).First(&project, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			err = database.ErrNotFound
		}
		fail(c, "projects", err)
		return nil, false
	}
	return &project, true
}

func ShowEditProject(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}
	renderProjectForm(c, http.StatusOK, *project, "")
}

func UpdateProject(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}

	var form projectForm
	if err := c.ShouldBind(&form); err != nil {
		renderProjectForm(c, http.StatusBadRequest, *project, middleware.TranslateValidationError(err))
		return
	}
	previous := project.Status
	if err := form.apply(project); err != nil {
		renderProjectForm(c, http.StatusBadRequest, *project, err.Error())
		return
	}
	if project.Status != previous && !previous.CanTransition(project.Status) {
		renderProjectForm(c, http.StatusBadRequest, *project, "Invalid status")
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.Project{}).Where("id = ?", project.ID).Updates(map[string]interface{}{
			"name":        project.Name,
			"description": project.Description,
			"location":    project.Location,
			"status":      project.Status,
			"start_date":  project.StartDate,
			"end_date":    project.EndDate,
			"updated_by":  actor.ID,
		}).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "project", EntityID: project.ID, Action: "update", Details: "Updated project " + project.Name, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "projects", err)
		return
	}

	flash(c, "Project saved")
	c.Redirect(http.StatusFound, fmt.Sprintf("/projects/%d", project.ID))
}

//
// DETAIL
//

func sortFloorPlans(plans []models.FloorPlan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].Level != plans[j].Level {
			return natural.Less(plans[i].Level, plans[j].Level)
		}
		return natural.Less(plans[i].Name, plans[j].Name)
	})
}

func ShowProject(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u, _ := middleware.CurrentUser(c)

	var plans []models.FloorPlan
	database.DB.WithContext(ctx).Where("project_id = ?", project.ID).Find(&plans)
	sortFloorPlans(plans)

	dq := database.DB.WithContext(ctx).
		Preload("Contractor").
		Preload("Category").
		Where("project_id = ?", project.ID).
		Order("created_at desc")
	if scope := contractorScope(u); scope != nil {
		dq = dq.Where("contractor_id = ?", *scope)
	}
	var defects []models.Defect
	if err := dq.Find(&defects).Error; err != nil {
		fail(c, "projects", err)
		return
	}

	history, _ := database.History(ctx, "project", project.ID)

	render(c, http.StatusOK, "project_detail.html", gin.H{
		"project":  *project,
		"plans":    plans,
		"defects":  defects,
		"history":  history,
		"statuses": models.ProjectStatuses,
		"now":      time.Now(),
	})
}

//
// STATUS
//

func ChangeProjectStatus(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}

	next := models.ProjectStatus(c.PostForm("status"))
	if !project.Status.CanTransition(next) {
		renderError(c, http.StatusBadRequest, "Invalid project status")
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.Project{}).Where("id = ?", project.ID).Updates(map[string]interface{}{
			"status":     next,
			"updated_by": actor.ID,
		}).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{
			UserID:   actor.ID,
			Entity:   "project",
			EntityID: project.ID,
			Action:   "status_change",
			Details:  fmt.Sprintf("status: %s -> %s", project.Status, next),
			IP:       actor.IP,
		}, nil
	})
	if err != nil {
		fail(c, "projects", err)
		return
	}

	c.Redirect(http.StatusFound, fmt.Sprintf("/projects/%d", project.ID))
}

//
// DELETE
//

var projectDeletion = database.SoftDeletePolicy[models.Project]{
	Entity: "project",
	Guard: func(tx *gorm.DB, p *models.Project) error {
		var defects, plans int64
		if err := tx.Model(&models.Defect{}).Where("project_id = ?", p.ID).Count(&defects).Error; err != nil {
			return errors.Wrap(err, "count project defects")
		}
		if err := tx.Model(&models.FloorPlan{}).Where("project_id = ?", p.ID).Count(&plans).Error; err != nil {
			return errors.Wrap(err, "count project floor plans")
		}
		if defects > 0 || plans > 0 {
			return errors.Wrapf(database.ErrInUse, "project still has %d defect(s) and %d floor plan(s); delete them first", defects, plans)
		}
		return nil
	},
}

func DeleteProject(c *gin.Context) {
	project, ok := loadProject(c)
	if !ok {
		return
	}

	_, err := softDelete(c, projectDeletion, project.ID, strings.TrimSpace(c.PostForm("reason")))
	if errors.Is(err, database.ErrInUse) {
		flash(c, "Cannot delete: "+err.Error())
		c.Redirect(http.StatusFound, fmt.Sprintf("/projects/%d", project.ID))
		return
	}
	if err != nil {
		fail(c, "projects", err)
		return
	}

	flash(c, "Project deleted")
	c.Redirect(http.StatusFound, "/projects")
}
