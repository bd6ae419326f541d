package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/murdok1982/hispanshield/internal/api/handler"
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
		if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "analysis-api-service",
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "analysis-api-service",
		})
	})

	analysisHandler := handler.NewAnalysisHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		analyses := v1.Group("/analyses")
		{
			// POST /api/v1/analyses - Submit an artifact for analysis
			analyses.POST("", analysisHandler.SubmitAnalysis)

			// GET /api/v1/analyses - List analyses with filtering and pagination
			analyses.GET("", analysisHandler.ListAnalyses)

			// GET /api/v1/analyses/:job_id - Get an analysis snapshot
			analyses.GET("/:job_id", analysisHandler.GetAnalysis)

			// POST /api/v1/analyses/:job_id/cancel - Request cancellation
			analyses.POST("/:job_id/cancel", analysisHandler.CancelAnalysis)
		}
	}

	return r
}
