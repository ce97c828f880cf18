package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-monitor/internal/metrics"
)

// RouterConfig collects the handlers and middleware of the ops API
type RouterConfig struct {
	Jobs        *JobHandler
	Events      *EventHandler
	AlertRules  *AlertRuleHandler
	Health      *HealthHandler
	Tracing     gin.HandlerFunc
	Idempotency gin.HandlerFunc
}

// NewRouter builds the ops API
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	if cfg.Tracing != nil {
		router.Use(cfg.Tracing)
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			enqueue := []gin.HandlerFunc{cfg.Jobs.Enqueue}
			if cfg.Idempotency != nil {
				enqueue = append([]gin.HandlerFunc{cfg.Idempotency}, enqueue...)
			}
			jobs.POST("", enqueue...)
			jobs.GET("", cfg.Jobs.List)
			jobs.GET("/stats", cfg.Jobs.Stats) // must be before /:id
			jobs.GET("/:id", cfg.Jobs.Get)
			jobs.DELETE("/:id", cfg.Jobs.Cancel)
		}

		v1.GET("/platforms/:platform/proxies", cfg.Jobs.Proxies)

		events := v1.Group("/events")
		{
			events.POST("", cfg.Events.Schedule)
			events.GET("", cfg.Events.Upcoming)
			events.GET("/:id", cfg.Events.Get)
			events.GET("/:id/tickets", cfg.Events.Tickets)
		}

		v1.GET("/tickets/:id", cfg.Events.GetTicket)
		v1.GET("/streams/:id", cfg.Events.Stream)

		rules := v1.Group("/alert-rules")
		{
			rules.POST("", cfg.AlertRules.Create)
			rules.DELETE("/:id", cfg.AlertRules.Deactivate)
		}
	}
	return router
}
