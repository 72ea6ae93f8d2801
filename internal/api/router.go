package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/leadsync/internal/api/handler"
	"github.com/timmy/leadsync/internal/api/middleware"
	"github.com/timmy/leadsync/internal/logger"
)

// Handlers groups the HTTP handlers mounted by SetupRouter.
type Handlers struct {
	Health   *handler.HealthHandler
	Cron     *handler.CronHandler
	Leads    *handler.LeadHandler
	Pages    *handler.PageHandler
	SyncJobs *handler.SyncJobHandler
	Auth     *handler.AuthHandler
}

// RouterConfig holds the settings SetupRouter needs besides handlers.
type RouterConfig struct {
	Mode       string
	CORS       middleware.CORSConfig
	CronSecret string
	CookieName string
	Logger     *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h *Handlers, auth middleware.Authenticator, cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	requireAuth := middleware.RequireAuth(auth, cfg.CookieName)

	// Health check
	r.GET("/health", h.Health.Health)

	// Scheduler trigger
	cron := r.Group("/api/cron", middleware.CronSecret(cfg.CronSecret))
	{
		cron.GET("/auto-sync", h.Cron.TriggerAutoSync)
		cron.POST("/auto-sync", h.Cron.TriggerAutoSync)
	}

	r.POST("/api/import-lead", requireAuth, h.Leads.ImportLead)

	v1 := r.Group("/api/v1")
	{
		// Auth
		v1.POST("/auth/signup", h.Auth.SignUp)
		v1.POST("/auth/login", h.Auth.Login)
		v1.POST("/auth/logout", h.Auth.Logout)
		v1.GET("/auth/me", requireAuth, h.Auth.Me)

		authed := v1.Group("", requireAuth)

		// Pages
		authed.GET("/pages", h.Pages.ListPages)
		authed.POST("/pages", h.Pages.SetupPage)
		authed.PATCH("/pages/:id/auto-sync", h.Pages.SetAutoSync)
		authed.PATCH("/pages/:id/interval", h.Pages.SetSyncInterval)
		authed.POST("/pages/:id/sync", h.Pages.SyncPage)
		authed.POST("/pages/:id/forms/:formId/fetch", h.Pages.FetchFormLeads)

		// Leads
		authed.GET("/leads", h.Leads.ListLeads)
		authed.POST("/leads", h.Leads.CreateLead)
		authed.POST("/leads/import", h.Leads.ImportLeads)
		authed.PATCH("/leads/:id/status", h.Leads.UpdateLeadStatus)

		// Sync history
		authed.GET("/sync-jobs", h.SyncJobs.ListSyncJobs)
		authed.GET("/sync/status", h.Cron.GetAutoSyncStatus)
	}

	return r
}
