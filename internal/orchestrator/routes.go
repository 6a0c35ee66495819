package orchestrator

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRoutes mounts every route in spec.md §6 onto router, the way
// the teacher's routes.SetupRoutes groups handlers under a gin.Engine.
func SetupRoutes(router *gin.Engine, o *Orchestrator) {
	router.Use(otelgin.Middleware("htmlai-orchestrator"))

	router.GET("/", o.HandleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/tagAi", o.HandleOptimize())
	router.POST("/rewardTag", o.HandleReward())

	api := router.Group("/api")
	{
		api.POST("/optimize", o.HandleOptimize())
		api.POST("/reward", o.HandleReward())
		api.POST("/component/reward", o.HandleReward())
		api.POST("/events/track", o.HandleTrackEvent())
		api.POST("/events/batch", o.HandleBatchEvents())
		api.GET("/users/all", o.HandleListUsers())
		api.GET("/user/:user_id/journey", o.HandleUserJourney())
		api.GET("/analytics/dashboard", o.HandleDashboard())
	}

	router.POST("/sync/link", o.HandleLinkUser())
}
