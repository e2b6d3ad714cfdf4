package router

import (
	"net/http"

	"github.com/climsoft/climsoft-web-sub003/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "climsoft-job-api",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "climsoft-job-api",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	jobs := r.Group("/jobs")
	jobs.Use(AdminAuth([]byte(deps.JWTSecret), deps.Logger))
	{
		// GET /jobs - List jobs with filtering and pagination
		jobs.GET("", jobHandler.ListJobs)

		// GET /jobs/count - Count jobs matching the list filters
		jobs.GET("/count", jobHandler.CountJobs)

		// GET /jobs/:id - Get job details
		jobs.GET("/:id", jobHandler.GetJob)

		// PATCH /jobs/:id/cancel - Cancel a pending or processing job
		jobs.PATCH("/:id/cancel", jobHandler.CancelJob)

		// PATCH /jobs/:id/retry - Re-queue a failed job
		jobs.PATCH("/:id/retry", jobHandler.RetryJob)
	}

	return r
}
