package server

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"defect-tracker/internal/config"
	"defect-tracker/internal/handlers"
	"defect-tracker/internal/middleware"
	"defect-tracker/internal/models"
	"defect-tracker/internal/storage"
	"defect-tracker/web"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func maskEmail(email string) string {
	runes := []rune(email)
	at := strings.IndexRune(email, '@')
	if at <= 0 {
		return "***"
	}
	at = len([]rune(email[:at]))
	if at <= 2 {
		return string(runes[:at]) + "***" + string(runes[at:])
	}
	return string(runes[:2]) + "***" + string(runes[at:])
}

func maskPhone(phone string) string {
	runes := []rune(phone)
	n := len(runes)
	if n <= 4 {
		return "***"
	}
	return strings.Repeat("*", n-2) + string(runes[n-2:])
}

func formatDate(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	}
	return ""
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

var badges = map[string]string{
	"open":        "danger",
	"reopened":    "danger",
	"accepted":    "info",
	"in_progress": "primary",
	"completed":   "secondary",
	"pending":     "warning",
	"rejected":    "dark",
	"resolved":    "success",
	"closed":      "success",
	"active":      "success",
	"suspended":   "warning",
	"inactive":    "secondary",
	"on_hold":     "warning",
	"low":         "secondary",
	"medium":      "info",
	"high":        "warning",
	"critical":    "danger",
}

// badge maps a status or priority value to a Bootstrap colour.
func badge(v interface{}) string {
	if b, ok := badges[fmt.Sprint(v)]; ok {
		return b
	}
	return "light"
}

func label(v interface{}) string {
	return strings.ReplaceAll(fmt.Sprint(v), "_", " ")
}

func templateFuncs(files storage.Storage) template.FuncMap {
	return template.FuncMap{
		"maskEmail": maskEmail,
		"maskPhone": maskPhone,
		"date":      formatDate,
		"day":       formatDay,
		"badge":     badge,
		"label":     label,
		"str":       func(v interface{}) string { return fmt.Sprint(v) },
		"fileURL": func(key string) string {
			if key == "" || files == nil {
				return ""
			}
			return files.URL(key)
		},
		"pct": func(v *float64) float64 {
			if v == nil {
				return 0
			}
			return *v * 100
		},
		"uintEq": func(a *uint, b uint) bool { return a != nil && *a == b },
	}
}

func loadTemplates(files storage.Storage) *template.Template {
	return template.Must(template.New("").Funcs(templateFuncs(files)).ParseFS(web.FS, "templates/*.html"))
}

// NewRouter wires middleware and routes. deps are handed to the handlers package.
// hideBackups keeps archived originals on disk but out of the public uploads tree.
func hideBackups(c *gin.Context) {
	p := path.Clean(c.Request.URL.Path)
	prefix := "/uploads/" + storage.BackupPrefix
	if p == prefix || strings.HasPrefix(p, prefix+"/") {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Next()
}

func NewRouter(cfg *config.Config, deps handlers.Deps) *gin.Engine {
	handlers.Configure(deps)
	new(middleware.DefaultValidator).Install()

	r := gin.New()
	r.Use(gin.Recovery())
	if deps.Logger != nil {
		r.Use(middleware.GinLogger(deps.Logger.Component("http")))
	}
	r.Use(deps.Metrics.Middleware())
	if cfg.SentryDSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	r.SetHTMLTemplate(loadTemplates(deps.Storage))

	static, _ := fs.Sub(web.FS, "static")
	r.StaticFS("/static", http.FS(static))

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   8 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("defect_session", store))

	r.Use(middleware.InjectUser())
	r.Use(func(c *gin.Context) {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			if u, ok := middleware.CurrentUser(c); ok {
				hub.Scope().SetUser(sentry.User{
					ID:        strconv.FormatUint(uint64(u.ID), 10),
					Username:  u.Username,
					IPAddress: c.ClientIP(),
				})
				hub.Scope().SetTag("role", string(u.Role))
			}
		}
		c.Next()
	})

	r.GET("/", handlers.IndexPage)
	r.GET("/health", handlers.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", deps.Metrics.Handler())
	}

	// AUTH
	limiter := middleware.NewIPRateLimiter(cfg.LoginPerMin)
	r.GET("/login", handlers.ShowLogin)
	r.POST("/login", limiter.Limit(handlers.LoginThrottled), handlers.Login)

	auth := r.Group("/")
	auth.Use(middleware.RequireAuth(), middleware.CSRF())

	staff := middleware.RequireRole(models.RoleAdmin, models.RoleManager, models.RoleInspector)
	managers := middleware.RequireRole(models.RoleAdmin, models.RoleManager)
	admins := middleware.RequireRole(models.RoleAdmin)

	auth.POST("/logout", handlers.Logout)
	auth.GET("/dashboard", handlers.Dashboard)
	auth.GET("/profile", handlers.ShowProfile)
	auth.POST("/profile", handlers.UpdateProfile)
	auth.POST("/profile/password", handlers.ChangePassword)

	if local, ok := deps.Storage.(*storage.LocalStorage); ok {
		uploads := auth.Group("/uploads", hideBackups)
		uploads.Static("/", local.BasePath())
	}

	// PROJECTS
	auth.GET("/projects", handlers.ListProjects)
	auth.GET("/projects/new", managers, handlers.ShowNewProject)
	auth.POST("/projects/new", managers, handlers.CreateProject)
	auth.GET("/projects/:id", handlers.ShowProject)
	auth.GET("/projects/:id/edit", managers, handlers.ShowEditProject)
	auth.POST("/projects/:id/edit", managers, handlers.UpdateProject)
	auth.POST("/projects/:id/status", managers, handlers.ChangeProjectStatus)
	auth.POST("/projects/:id/delete", managers, handlers.DeleteProject)

	// FLOOR PLANS
	auth.GET("/projects/:id/floor-plans", handlers.ListFloorPlans)
	auth.POST("/projects/:id/floor-plans", staff, handlers.UploadFloorPlan)
	auth.GET("/floor-plans/:id", handlers.ShowFloorPlan)

	// CONTRACTORS
	auth.GET("/contractors", staff, handlers.ListContractors)
	auth.GET("/contractors/new", managers, handlers.ShowNewContractor)
	auth.POST("/contractors/new", managers, handlers.CreateContractor)
	auth.GET("/contractors/:id", staff, handlers.ShowContractor)
	auth.GET("/contractors/:id/edit", managers, handlers.ShowEditContractor)
	auth.POST("/contractors/:id/edit", managers, handlers.UpdateContractor)
	auth.POST("/contractors/:id/delete", managers, handlers.DeleteContractor)
	auth.POST("/contractors/:id/:action", managers, handlers.ContractorAction)

	// CATEGORIES
	auth.GET("/categories", handlers.ListCategories)
	auth.GET("/categories/new", managers, handlers.ShowNewCategory)
	auth.POST("/categories/new", managers, handlers.CreateCategory)
	auth.GET("/categories/:id/edit", managers, handlers.ShowEditCategory)
	auth.POST("/categories/:id/edit", managers, handlers.UpdateCategory)
	auth.POST("/categories/:id/delete", managers, handlers.DeleteCategory)

	// DEFECTS
	auth.GET("/defects", handlers.ListDefects)
	auth.GET("/defects/new", staff, handlers.ShowNewDefect)
	auth.POST("/defects/new", staff, handlers.CreateDefect)
	auth.GET("/defects/:id", handlers.ShowDefect)
	auth.GET("/defects/:id/edit", staff, handlers.ShowEditDefect)
	auth.POST("/defects/:id/edit", staff, handlers.UpdateDefect)
	auth.POST("/defects/:id/delete", managers, handlers.DeleteDefect)

	// REPORTS
	auth.GET("/reports/contractors", staff, handlers.ContractorStatsPage)
	auth.GET("/export", staff, handlers.ShowExport)
	auth.GET("/export/download", staff, handlers.Export)

	// LOGS AND USERS
	auth.GET("/audit", managers, handlers.ListAuditLogs)
	auth.GET("/logs/users", admins, handlers.ListUserLogs)
	auth.GET("/logs/system", admins, handlers.ListSystemLogs)
	auth.GET("/users", admins, handlers.ListUsers)
	auth.GET("/users/new", admins, handlers.ShowNewUser)
	auth.POST("/users/new", admins, handlers.CreateUser)
	auth.GET("/users/:id/edit", admins, handlers.ShowEditUser)
	auth.POST("/users/:id/edit", admins, handlers.UpdateUser)

	// JSON API
	api := auth.Group("/api")
	api.GET("/csrf-token", handlers.CSRFTokenJSON)
	api.GET("/contractor-stats", staff, handlers.ContractorStatsJSON)
	api.POST("/floor-plans/:id/delete", staff, handlers.DeleteFloorPlan)
	api.POST("/defects/:id/reject", handlers.RejectDefect)
	api.POST("/defects/:id/reopen", handlers.ReopenDefect)
	api.POST("/defects/:id/close", handlers.CloseDefect)
	api.POST("/defects/:id/status", handlers.ChangeDefectStatus)
	api.POST("/defects/:id/images", handlers.AddDefectImages)
	api.GET("/defects/draft", staff, handlers.GetDefectDraft)
	api.POST("/defects/draft", staff, handlers.SaveDefectDraft)
	api.DELETE("/defects/draft", staff, handlers.DeleteDefectDraft)

	return r
}
