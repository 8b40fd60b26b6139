package api

import (
	"filedrop/internal/server/config"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. The returned rate limiter must be stopped on shutdown.
func SetupRouter(handler *Handler, cfg *config.Config) (*echo.Echo, *RateLimiter) {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))
	e.Use(RequestLogger())

	// Rate limiter on upload endpoints only
	uploadLimiter := NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Uploads (rate-limited)
	e.POST("/api/upload", handler.HandleUpload, uploadLimiter.Middleware())
	e.POST("/api/share/email", handler.HandleEmailShare, uploadLimiter.Middleware())
	e.POST("/api/group", handler.HandleGroupUpload, uploadLimiter.Middleware())

	// Download
	e.GET("/d/:token", handler.HandleDownload)

	// Info
	e.GET("/api/info/:token", handler.HandleInfo)

	return e, uploadLimiter
}
