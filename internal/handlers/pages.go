package handlers

import (
	"net/http"
	"time"

	"defect-tracker/internal/database"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"

	"github.com/gin-gonic/gin"
)

func IndexPage(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); ok {
		c.Redirect(http.StatusFound, "/dashboard")
		return
	}
	c.Redirect(http.StatusFound, "/login")
}

// contractorScope limits contractor users to their own company's defects.
func contractorScope(u models.User) *uint {
	if u.Role != models.RoleContractor {
		return nil
	}
	if u.ContractorID == nil {
		none := uint(0)
		return &none
	}
	return u.ContractorID
}

type bucketCount struct {
	Bucket string
	Count  int64
}

var bucketOrder = []string{"open", "in_progress", "pending", "rejected", "closed"}

func Dashboard(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	ctx := c.Request.Context()
	scope := contractorScope(u)

	counts, err := database.StatusCounts(ctx, scope)
	if err != nil {
		fail(c, "dashboard", err)
		return
	}

	byBucket := map[string]int64{}
	var total int64
	for status, n := range counts {
		byBucket[status.Bucket()] += n
		total += n
	}
	buckets := make([]bucketCount, 0, len(bucketOrder))
	for _, b := range bucketOrder {
		buckets = append(buckets, bucketCount{Bucket: b, Count: byBucket[b]})
	}

	overdue, err := database.OverdueCount(ctx, time.Now(), scope)
	if err != nil {
		fail(c, "dashboard", err)
		return
	}

	q := database.DB.WithContext(ctx).
		Preload("Project").
		Preload("Contractor").
		Order("created_at desc").
		Limit(10)
	if scope != nil {
		q = q.Where("contractor_id = ?", *scope)
	}
	var recent []models.Defect
	if err := q.Find(&recent).Error; err != nil {
		fail(c, "dashboard", err)
		return
	}

	var activeProjects int64
	database.DB.WithContext(ctx).Model(&models.Project{}).Where("status = ?", models.ProjectActive).Count(&activeProjects)

	render(c, http.StatusOK, "dashboard.html", gin.H{
		"buckets":        buckets,
		"total":          total,
		"overdue":        overdue,
		"recent":         recent,
		"activeProjects": activeProjects,
		"now":            time.Now(),
	})
}

func Health(c *gin.Context) {
	sqlDB, err := database.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
