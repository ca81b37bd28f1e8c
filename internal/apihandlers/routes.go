package apihandlers

import (
	"github.com/gin-gonic/gin"
)

// NewRouter mounts the API under /api/v1.
func NewRouter(h *APIHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/transcriptions", h.CreateTranscriptionHandler)
		v1.POST("/conversions", h.CreateConversionHandler)

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobsHandler)
			jobs.GET("/:id", h.GetJobHandler)
			jobs.DELETE("/:id", h.DeleteJobHandler)
			jobs.GET("/:id/transcript", h.TranscriptHandler)
			jobs.GET("/:id/audio", h.AudioHandler)
		}
		v1.GET("/health", h.HealthHandler)
	}
	router.GET("/health", h.HealthHandler)
	return router
}
