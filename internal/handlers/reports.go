package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"defect-tracker/internal/database"
	"defect-tracker/internal/export"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//
// CONTRACTOR STATS
//

func ContractorStatsPage(c *gin.Context) {
	report, err := database.ContractorStats(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, "reports", err)
		return
	}
	render(c, http.StatusOK, "contractor_stats.html", gin.H{
		"report":  report,
		"formats": export.Formats,
	})
}

func ContractorStatsJSON(c *gin.Context) {
	report, err := database.ContractorStats(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, "reports", err)
		return
	}
	respondOK(c, "", report)
}

//
// EXPORT
//

type exporter func(c *gin.Context) (export.Table, error)

var exporters = map[string]exporter{
	"contractors":      contractorsTable,
	"defects":          defectsTable,
	"contractor_stats": contractorStatsTable,
}

var exportEntities = []string{"defects", "contractors", "contractor_stats"}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func contractorsTable(c *gin.Context) (export.Table, error) {
	q := database.DB.WithContext(c.Request.Context()).Order("company_name")
	if s := c.Query("status"); s != "" {
		q = q.Where("status = ?", s)
	}

	var contractors []models.Contractor
	if err := q.Find(&contractors).Error; err != nil {
		return export.Table{}, err
	}

	t := export.Table{
		Title:   "Contractors",
		Columns: []string{"ID", "Company", "Trade", "Status", "Contact", "Email", "Phone", "License", "Created"},
	}
	for _, ct := range contractors {
		t.Rows = append(t.Rows, []string{
			strconv.FormatUint(uint64(ct.ID), 10),
			ct.CompanyName,
			ct.Trade,
			string(ct.Status),
			ct.ContactName,
			ct.Email,
			ct.Phone,
			ct.LicenseNumber,
			ct.CreatedAt.Format(dateLayout),
		})
	}
	return t, nil
}

func defectsTable(c *gin.Context) (export.Table, error) {
	defects, err := findDefects(c, readDefectFilter(c), 0)
	if err != nil {
		return export.Table{}, err
	}

	now := time.Now()
	t := export.Table{
		Title:   "Defects",
		Columns: []string{"ID", "Project", "Title", "Contractor", "Category", "Priority", "Status", "Due", "Overdue", "Created"},
	}
	for _, d := range defects {
		contractor, category := "", ""
		if d.Contractor != nil {
			contractor = d.Contractor.CompanyName
		}
		if d.Category != nil {
			category = d.Category.Name
		}
		overdue := ""
		if d.IsOverdue(now) {
			overdue = "yes"
		}
		t.Rows = append(t.Rows, []string{
			strconv.FormatUint(uint64(d.ID), 10),
			d.Project.Name,
			d.Title,
			contractor,
			category,
			string(d.Priority),
			string(d.Status.Normalize()),
			formatTime(d.DueDate),
			overdue,
			d.CreatedAt.Format(dateLayout),
		})
	}
	return t, nil
}

func contractorStatsTable(c *gin.Context) (export.Table, error) {
	report, err := database.ContractorStats(c.Request.Context(), time.Now())
	if err != nil {
		return export.Table{}, err
	}

	t := export.Table{
		Title:   "Contractor statistics",
		Columns: []string{"Contractor", "Status", "Total", "Open", "In progress", "Pending", "Rejected", "Closed", "Overdue"},
	}
	row := func(name, status string, b database.BucketCounts) []string {
		return []string{
			name, status,
			strconv.FormatInt(b.Total, 10),
			strconv.FormatInt(b.Open, 10),
			strconv.FormatInt(b.InProgress, 10),
			strconv.FormatInt(b.Pending, 10),
			strconv.FormatInt(b.Rejected, 10),
			strconv.FormatInt(b.Closed, 10),
			strconv.FormatInt(b.Overdue, 10),
		}
	}
	for _, r := range report.Rows {
		t.Rows = append(t.Rows, row(r.CompanyName, r.ContractorStatus, r.BucketCounts))
	}
	t.Rows = append(t.Rows, row("Total", "", report.Totals))
	return t, nil
}

func ShowExport(c *gin.Context) {
	lookups, err := defectLookups(c)
	if err != nil {
		fail(c, "export", err)
		return
	}
	lookups["entities"] = exportEntities
	lookups["formats"] = export.Formats
	lookups["statuses"] = selectableStatuses()
	lookups["priorities"] = models.DefectPriorities

	var recent []models.ExportLog
	database.DB.WithContext(c.Request.Context()).Order("created_at desc").Limit(20).Find(&recent)
	lookups["recent"] = recent

	render(c, http.StatusOK, "export.html", lookups)
}

// Export renders the requested table in memory, records it in export_logs
// and user_logs, then sends it as an attachment.
func Export(c *gin.Context) {
	entity := c.DefaultQuery("entity", "defects")
	build, ok := exporters[entity]
	if !ok {
		renderError(c, http.StatusBadRequest, "unknown export entity "+entity)
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		renderError(c, http.StatusBadRequest, err.Error())
		return
	}

	table, err := build(c)
	if err != nil {
		fail(c, "export", err)
		return
	}

	var buf bytes.Buffer
	if err := export.Render(&buf, format, table); err != nil {
		fail(c, "export", err)
		return
	}

	now := time.Now()
	filename := export.Filename(entity, format, now)
	u, _ := middleware.CurrentUser(c)

	if err := database.LogExport(c.Request.Context(), models.ExportLog{
		UserID:   u.ID,
		Entity:   entity,
		Format:   string(format),
		Filename: filename,
		Filesize: int64(buf.Len()),
		RowCount: len(table.Rows),
	}); err != nil {
		fail(c, "export", err)
		return
	}
	logUser(c, u.ID, u.Username, models.ActionExport, fmt.Sprintf("%s %s (%d rows)", entity, format, len(table.Rows)))
	recorder.ObserveExport(entity, string(format))

	componentLog("export").Info("export generated",
		zap.String("entity", entity),
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)),
		zap.Int("bytes", buf.Len()),
		zap.Uint("user_id", u.ID),
	)

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}
