package router

import (
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/madscience/crmkit/internal/config"
	"github.com/madscience/crmkit/internal/handler"
	"github.com/madscience/crmkit/internal/middleware"
	"github.com/madscience/crmkit/internal/response"
	"github.com/rs/zerolog"
)

// staticMaxAge is the cache lifetime for non-HTML CRM assets.
const staticMaxAge = 3600

// CRMHandlers groups the optional API handlers of the CRM server.
type CRMHandlers struct {
	// School is nil when no database is configured.
	School *handler.SchoolHandler
}

// corsConfig allows every origin unless ALLOWED_ORIGINS restricts it.
func corsConfig(cfg *config.Config, headers []string) cors.Config {
	c := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		c.AllowOrigins = cfg.AllowedOrigins
	} else {
		c.AllowAllOrigins = true
	}
	c.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	c.AllowHeaders = headers
	c.ExposeHeaders = []string{response.HeaderRequestID}
	c.MaxAge = 12 * time.Hour
	return c
}

func newEngine(cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	return router
}

// SetupProxyRouter configures the Claude relay.
func SetupProxyRouter(cfg *config.Config, proxy *handler.ProxyHandler, log zerolog.Logger) *gin.Engine {
	router := newEngine(cfg, log)

	// ─── CORS ──────────────────────────────────────────────────────────
	router.Use(cors.New(corsConfig(cfg, []string{
		"Origin", "Content-Type", "Authorization",
		"x-api-key", "anthropic-version", "anthropic-beta",
		response.HeaderRequestID,
	})))

	router.GET("/health", handler.Health)

	// ─── Relay (Rate Limited) ──────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.ProxyRatePerMin, time.Minute)
	relay := router.Group("/")
	relay.Use(limiter.Middleware())
	{
		relay.POST("/api/anthropic", proxy.Messages)
		relay.POST("/v1/messages", proxy.Messages)
	}

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	return router
}

// SetupCRMRouter serves the CRM front end from cfg.StaticDir and, when
// configured, the schools API.
func SetupCRMRouter(cfg *config.Config, handlers *CRMHandlers, log zerolog.Logger) *gin.Engine {
	router := newEngine(cfg, log)

	router.Use(cors.New(corsConfig(cfg, []string{
		"Origin", "Content-Type", "Authorization", response.HeaderRequestID,
	})))
	router.Use(middleware.Brotli())

	router.GET("/health", handler.Health)

	// ─── Schools API ───────────────────────────────────────────────────
	if handlers != nil && handlers.School != nil {
		schools := router.Group("/api/v1/schools")
		{
			schools.GET("", handlers.School.ListSchools)
			schools.POST("", handlers.School.CreateSchool)
			schools.GET("/groups", handlers.School.ListGroups)
			schools.GET("/export.csv", handlers.School.ExportCSV)
			schools.POST("/import", handlers.School.ImportSchools)
			schools.GET("/:id", handlers.School.GetSchool)
			schools.PUT("/:id", handlers.School.UpdateSchool)
			schools.DELETE("/:id", handlers.School.DeleteSchool)
		}
	}

	// ─── Static CRM ────────────────────────────────────────────────────
	router.NoRoute(middleware.StaticCacheControl(staticMaxAge), staticFiles(cfg.StaticDir))

	return router
}

// staticFiles serves dir for GET and HEAD. Dot-files such as .env are never
// served.
func staticFiles(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		for _, seg := range strings.Split(path.Clean(c.Request.URL.Path), "/") {
			if strings.HasPrefix(seg, ".") {
				response.Fail(c, http.StatusNotFound, response.ErrNotFound)
				return
			}
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

// StaticDirExists reports whether dir is an existing directory.
func StaticDirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
