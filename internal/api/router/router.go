package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/storybook-be/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.HealthChecks))

	bookHandler := handler.NewBookHandler(deps)
	assetHandler := handler.NewAssetHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		books := v1.Group("/books")
		{
			books.POST("", bookHandler.CreateBook)
			books.GET("", bookHandler.ListBooks)
			books.GET("/:book_id", bookHandler.GetBook)
			books.GET("/:book_id/status", bookHandler.GetStatus)
			books.GET("/:book_id/ws", bookHandler.StreamProgress)
			books.GET("/:book_id/download", bookHandler.DownloadBook)
			books.POST("/:book_id/approve", bookHandler.ApproveCharacter)
			books.POST("/:book_id/regenerate", bookHandler.RegenerateCharacter)
			books.POST("/:book_id/purchase", bookHandler.PurchaseBook)
		}

		v1.POST("/upload", assetHandler.UploadPhoto)
		v1.POST("/generate-character-preview", assetHandler.GenerateCharacterPreview)

		v1.POST("/webhooks/stripe", bookHandler.StripeWebhook)
	}

	return r
}

func healthHandler(checks map[string]handler.HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}

		c.JSON(status, gin.H{
			"status":  state,
			"service": "storybook-api-service",
			"checks":  results,
		})
	}
}
