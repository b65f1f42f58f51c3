package http

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/skyarchive/internal/logging"
	"github.com/sujalbistaa/skyarchive/internal/metrics"
)

// Options configures SetupRoutes.
type Options struct {
	AdminToken string
	CORSOrigin string
	// UploadDir is served under PublicPath when both are set and PublicPath
	// is a local path rather than an absolute URL.
	UploadDir  string
	PublicPath string

	Metrics       *metrics.Metrics
	UploadLimiter *IPRateLimiter
}

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, env *Env, opts Options) {
	if opts.AdminToken == "" {
		env.Log.Warn().Msg("X_ADMIN_TOKEN is not set; all admin requests will be rejected")
	}
	corsOrigin := opts.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	limiter := opts.UploadLimiter
	if limiter == nil {
		limiter = NewUploadLimiter(0)
	}

	// --- Middleware ---
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(env.Log))
	if opts.Metrics != nil {
		router.Use(MetricsMiddleware(opts.Metrics))
	}
	router.Use(SecurityHeadersMiddleware())
	// Credentials cannot be combined with a wildcard origin.
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", adminTokenHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsOrigin != "*",
	}))

	admin := AdminAuthMiddleware(opts.AdminToken)
	maybeAdmin := OptionalAdminMiddleware(opts.AdminToken)

	// --- API Routes ---
	api := router.Group("/api")
	{
		api.POST("/upload", RateLimitMiddleware(limiter), env.UploadPhoto)

		api.GET("/images", maybeAdmin, env.SearchPhotos)
		api.GET("/images/:id", maybeAdmin, env.GetPhoto)
		api.POST("/images/:id/like", env.LikePhoto)
		api.POST("/images/:id/report", env.ReportPhoto)

		api.GET("/regions", env.ListRegions)
		api.GET("/regions/:slug", env.RegionPhotos)
		api.GET("/contributors/:name", env.Contributor)

		mod := api.Group("/moderation", admin)
		{
			mod.GET("/pending", env.ModerationQueue)
			mod.GET("/events", env.ModerationEvents)
			mod.PATCH("/:id", env.ModeratePhoto)
		}
	}

	router.GET("/healthz", env.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	if opts.UploadDir != "" && strings.HasPrefix(opts.PublicPath, "/") {
		router.Static(opts.PublicPath, opts.UploadDir)
	}
}
