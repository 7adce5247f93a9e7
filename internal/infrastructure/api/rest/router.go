package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/flowmint/planengine/internal/infrastructure/logger"
)

// NewRouter assembles the full Gin engine: middleware, then the caller-facing
// plan routes, then the worker-facing job routes.
func NewRouter(log *logger.Logger, enqueue *EnqueueHandlers, worker *WorkerHandlers) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(log), RequestLogger(log))

	v1 := r.Group("/v1")
	{
		v1.POST("/plans", enqueue.HandleEnqueue)
		v1.GET("/plans/:id", enqueue.HandleGetPlan)
		v1.POST("/plans/cancel", enqueue.HandleCancel)
		v1.POST("/operator/retry-failed", enqueue.HandleRetryFailed)

		v1.POST("/queues/:queue/dequeue", worker.HandleDequeue)
		v1.POST("/jobs/:id/heartbeat", worker.HandleHeartbeat)
		v1.POST("/jobs/:id/complete", worker.HandleComplete)
		v1.POST("/jobs/:id/fail", worker.HandleFail)
		v1.POST("/jobs/:id/delay", worker.HandleDelay)
		v1.POST("/jobs/:id/context", worker.HandleSetContext)
		v1.POST("/jobs/:id/children", worker.HandleSpawnChildren)
	}

	r.GET("/healthz", func(c *gin.Context) { c.Status(200) })

	return r
}
