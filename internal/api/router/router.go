package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mediadash/orchestrator/internal/api/handler"
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
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "orchestrator-api-service",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/events - Stream job-state events (SSE)
			jobs.GET("/events", jobHandler.StreamJobEvents)

			// GET /api/v1/jobs/:job_id - Get job state
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// GET /api/v1/kinds - List dispatchable job kinds
		v1.GET("/kinds", jobHandler.ListKinds)

		admin := v1.Group("/admin")
		{
			// POST /api/v1/admin/sweeps - Trigger a retry sweep now
			admin.POST("/sweeps", jobHandler.TriggerSweep)
		}
	}

	return r
}
