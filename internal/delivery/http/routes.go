package http

import (
	"github.com/gin-gonic/gin"

	"github.com/emissionary/backend/config"
)

// rateLimitBurst lets a client upload a small batch of receipts at once
const rateLimitBurst = 5

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.Server.RateLimitPerIP, rateLimitBurst))
	v1.Use(TimeoutMiddleware(cfg.Server.RequestTimeout))
	{
		receipts := v1.Group("/receipts")
		{
			receipts.POST("/process", handler.ProcessReceipt)
			receipts.POST("/text", handler.ProcessText)
		}
	}

	return router
}
