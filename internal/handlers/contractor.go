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

//
// LIST / CREATE
//

func ListContractors(c *gin.Context) {
	statusStr := c.Query("status")
	trade := strings.TrimSpace(c.Query("trade"))
	search := strings.TrimSpace(c.Query("q"))

	dbq := database.DB.WithContext(c.Request.Context())
	if statusStr != "" {
		dbq = dbq.Where("status = ?", statusStr)
	}
	if trade != "" {
		dbq = dbq.Where("trade = ?", trade)
	}
	if search != "" {
		like := "%" + search + "%"
		dbq = dbq.Where("company_name LIKE ? OR contact_name LIKE ? OR email LIKE ?", like, like, like)
	}

	var contractors []models.Contractor
	if err := dbq.Find(&contractors).Error; err != nil {
		fail(c, "contractors", err)
		return
	}
	sort.SliceStable(contractors, func(i, j int) bool {
		return natural.Less(contractors[i].CompanyName, contractors[j].CompanyName)
	})

	var trades []string
	database.DB.WithContext(c.Request.Context()).Model(&models.Contractor{}).
		Where("trade <> ''").
		Distinct().
		Order("trade").
		Pluck("trade", &trades)

	render(c, http.StatusOK, "contractors_list.html", gin.H{
		"contractors":  contractors,
		"statuses":     models.ContractorStatuses,
		"trades":       trades,
		"FilterStatus": statusStr,
		"FilterTrade":  trade,
		"FilterQuery":  search,
	})
}

type contractorForm struct {
	CompanyName   string `form:"company_name" binding:"required,min=2,max=255"`
	Trade         string `form:"trade" binding:"max=100"`
	ContactName   string `form:"contact_name" binding:"max=255"`
	Email         string `form:"email" binding:"omitempty,email,max=255"`
	Phone         string `form:"phone" binding:"max=50"`
	Address       string `form:"address" binding:"max=255"`
	LicenseNumber string `form:"license_number" binding:"max=100"`
	Notes         string `form:"notes"`
}

func (f contractorForm) apply(ct *models.Contractor) {
	ct.CompanyName = strings.TrimSpace(f.CompanyName)
	ct.Trade = strings.TrimSpace(f.Trade)
	ct.ContactName = strings.TrimSpace(f.ContactName)
	ct.Email = strings.TrimSpace(f.Email)
	ct.Phone = strings.TrimSpace(f.Phone)
	ct.Address = strings.TrimSpace(f.Address)
	ct.LicenseNumber = strings.TrimSpace(f.LicenseNumber)
	ct.Notes = strings.TrimSpace(f.Notes)
}

func renderContractorForm(c *gin.Context, status int, ct models.Contractor, msg string) {
	render(c, status, "contractor_form.html", gin.H{
		"contractor": ct,
		"isNew":      ct.ID == 0,
		"error":      msg,
	})
}

// companyTaken reports whether another live contractor uses the name.
func companyTaken(tx *gorm.DB, name string, exceptID uint) bool {
	var n int64
	tx.Model(&models.Contractor{}).
		Where("LOWER(company_name) = LOWER(?) AND id <> ?", name, exceptID).
		Count(&n)
	return n > 0
}

func ShowNewContractor(c *gin.Context) {
	renderContractorForm(c, http.StatusOK, models.Contractor{}, "")
}

func CreateContractor(c *gin.Context) {
	var form contractorForm
	var ct models.Contractor

	if err := c.ShouldBind(&form); err != nil {
		form.apply(&ct)
		renderContractorForm(c, http.StatusBadRequest, ct, middleware.TranslateValidationError(err))
		return
	}
	form.apply(&ct)

	if companyTaken(database.DB.WithContext(c.Request.Context()), ct.CompanyName, 0) {
		renderContractorForm(c, http.StatusBadRequest, ct, "A contractor with this company name already exists")
		return
	}

	actor := middleware.Actor(c)
	ct.Status = models.ContractorPending
	ct.CreatedBy = actor.ID
	ct.UpdatedBy = actor.ID

	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Create(&ct).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "contractor", EntityID: ct.ID, Action: "create", Details: "Created contractor " + ct.CompanyName, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "contractors", err)
		return
	}

	flash(c, "Contractor created, awaiting approval")
	c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
}

func loadContractor(c *gin.Context) (*models.Contractor, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	var ct models.Contractor
	if err := database.DB.WithContext(c.Request.Context()).First(&ct, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			err = database.ErrNotFound
		}
		fail(c, "contractors", err)
		return nil, false
	}
	return &ct, true
}

//
// DETAIL
//

func ShowContractor(c *gin.Context) {
	ct, ok := loadContractor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	counts, err := database.StatusCounts(ctx, &ct.ID)
	if err != nil {
		fail(c, "contractors", err)
		return
	}
	byBucket := map[string]int64{}
	for status, n := range counts {
		byBucket[status.Bucket()] += n
	}
	overdue, _ := database.OverdueCount(ctx, time.Now(), &ct.ID)

	var users []models.User
	database.DB.WithContext(ctx).Where("contractor_id = ?", ct.ID).Order("username").Find(&users)

	var defects []models.Defect
	database.DB.WithContext(ctx).
		Preload("Project").
		Where("contractor_id = ?", ct.ID).
		Order("created_at desc").
		Limit(50).
		Find(&defects)

	history, _ := database.History(ctx, "contractor", ct.ID)

	var actions []string
	for _, name := range []string{"approve", "reject", "suspend", "deactivate", "resubmit"} {
		if ct.Status.CanTransition(models.ContractorAction[name]) {
			actions = append(actions, name)
		}
	}

	render(c, http.StatusOK, "contractor_detail.html", gin.H{
		"contractor": *ct,
		"buckets":    byBucket,
		"overdue":    overdue,
		"users":      users,
		"defects":    defects,
		"history":    history,
		"actions":    actions,
		"now":        time.Now(),
	})
}

//
// EDIT
//

func ShowEditContractor(c *gin.Context) {
	ct, ok := loadContractor(c)
	if !ok {
		return
	}
	renderContractorForm(c, http.StatusOK, *ct, "")
}

func UpdateContractor(c *gin.Context) {
	ct, ok := loadContractor(c)
	if !ok {
		return
	}

	var form contractorForm
	if err := c.ShouldBind(&form); err != nil {
		renderContractorForm(c, http.StatusBadRequest, *ct, middleware.TranslateValidationError(err))
		return
	}
	form.apply(ct)

	if companyTaken(database.DB.WithContext(c.Request.Context()), ct.CompanyName, ct.ID) {
		renderContractorForm(c, http.StatusBadRequest, *ct, "A contractor with this company name already exists")
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		if err := tx.Model(&models.Contractor{}).Where("id = ?", ct.ID).Updates(map[string]interface{}{
			"company_name":   ct.CompanyName,
			"trade":          ct.Trade,
			"contact_name":   ct.ContactName,
			"email":          ct.Email,
			"phone":          ct.Phone,
			"address":        ct.Address,
			"license_number": ct.LicenseNumber,
			"notes":          ct.Notes,
			"updated_by":     actor.ID,
		}).Error; err != nil {
			return nil, err
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "contractor", EntityID: ct.ID, Action: "update", Details: "Updated contractor " + ct.CompanyName, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "contractors", err)
		return
	}

	flash(c, "Contractor saved")
	c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
}

//
// STATUS ACTIONS
//

// ContractorAction applies approve/reject/suspend/deactivate/resubmit.
func ContractorAction(c *gin.Context) {
	ct, ok := loadContractor(c)
	if !ok {
		return
	}

	action := c.Param("action")
	next, known := models.ContractorAction[action]
	if !known {
		renderError(c, http.StatusBadRequest, "Unknown action "+action)
		return
	}
	if !ct.Status.CanTransition(next) {
		flash(c, fmt.Sprintf("Cannot %s a contractor that is %s", action, ct.Status))
		c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
		return
	}

	reason := strings.TrimSpace(c.PostForm("reason"))
	if (next == models.ContractorRejected || next == models.ContractorSuspended) && reason == "" {
		flash(c, "A reason is required to "+action+" a contractor")
		c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
		return
	}

	actor := middleware.Actor(c)
	err := database.Transact(c.Request.Context(), func(tx *gorm.DB) (*database.AuditEntry, error) {
		updates := map[string]interface{}{
			"status":        next,
			"status_reason": reason,
			"updated_by":    actor.ID,
		}
		if action == "approve" {
			updates["approved_by"] = actor.ID
			updates["approved_at"] = time.Now()
		}
		res := tx.Model(&models.Contractor{}).Where("id = ? AND status = ?", ct.ID, ct.Status).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, database.ErrConflict
		}

		details := fmt.Sprintf("status: %s -> %s", ct.Status, next)
		if reason != "" {
			details += "; " + reason
		}
		return &database.AuditEntry{UserID: actor.ID, Entity: "contractor", EntityID: ct.ID, Action: action, Details: details, IP: actor.IP}, nil
	})
	if err != nil {
		fail(c, "contractors", err)
		return
	}

	flash(c, fmt.Sprintf("Contractor %s is now %s", ct.CompanyName, next))
	c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
}

//
// DELETE
//

var contractorDeletion = database.SoftDeletePolicy[models.Contractor]{
	Entity: "contractor",
	Extra:  map[string]interface{}{"status": models.ContractorInactive},
	Guard: func(tx *gorm.DB, ct *models.Contractor) error {
		var open int64
		err := tx.Model(&models.Defect{}).
			Where("contractor_id = ?", ct.ID).
			Where("status NOT IN ?", []models.DefectStatus{models.DefectResolved, models.DefectClosed}).
			Count(&open).Error
		if err != nil {
			return errors.Wrap(err, "count unfinished defects")
		}
		if open > 0 {
			return errors.Wrapf(database.ErrInUse, "contractor still has %d unfinished defect(s)", open)
		}
		return nil
	},
}

func DeleteContractor(c *gin.Context) {
	ct, ok := loadContractor(c)
	if !ok {
		return
	}

	_, err := softDelete(c, contractorDeletion, ct.ID, strings.TrimSpace(c.PostForm("reason")))
	if errors.Is(err, database.ErrInUse) {
		flash(c, "Cannot delete: "+err.Error())
		c.Redirect(http.StatusFound, fmt.Sprintf("/contractors/%d", ct.ID))
		return
	}
	if err != nil {
		fail(c, "contractors", err)
		return
	}

	flash(c, "Contractor deleted")
	c.Redirect(http.StatusFound, "/contractors")
}
