// router.go - Route wiring
package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/coderelay/coderelay/internal/auth"
	"github.com/coderelay/coderelay/internal/config"
	"github.com/coderelay/coderelay/internal/metrics"
)

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Config    *config.Config
	Handlers  *Handlers
	Stream    *StreamHandler
	Schedules *ScheduleHandlers // nil when scheduling is disabled
	MCP       gin.HandlerFunc   // nil when the MCP surface is disabled
	Limiter   *auth.RateLimiter
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
	}))
	router.Use(metrics.Middleware())

	// Unauthenticated surface: probes and metrics.
	router.GET("/health", deps.Handlers.Health)
	router.GET("/ready", deps.Handlers.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authMW := auth.Middleware(deps.Config.Auth.Enabled, deps.Config.Auth.BearerToken)

	api := router.Group("/api/v1")
	api.Use(authMW)
	if deps.Limiter != nil {
		api.Use(auth.RateLimitMiddleware(deps.Limiter))
	}
	{
		api.POST("/tasks", deps.Handlers.SubmitTask)
		api.GET("/tasks/:task_id", deps.Handlers.GetTask)
		api.POST("/tasks/:task_id/interrupt", deps.Handlers.InterruptTask)
		api.GET("/sessions", deps.Handlers.ListSessions)
		api.DELETE("/sessions/:session_id", deps.Handlers.DeleteSession)

		if deps.Schedules != nil {
			api.POST("/schedules", deps.Schedules.Create)
			api.GET("/schedules", deps.Schedules.List)
			api.GET("/schedules/:schedule_id", deps.Schedules.Get)
			api.PATCH("/schedules/:schedule_id", deps.Schedules.Update)
			api.DELETE("/schedules/:schedule_id", deps.Schedules.Delete)
			api.POST("/schedules/:schedule_id/trigger", deps.Schedules.Trigger)
		}
	}

	// The stream endpoint authenticates via the same bearer middleware;
	// browser clients pass the token in the WebSocket handshake headers.
	ws := router.Group("/ws")
	ws.Use(authMW)
	ws.GET("/tasks/:task_id", deps.Stream.StreamTask)

	if deps.MCP != nil {
		router.Any("/mcp", authMW, deps.MCP)
		router.Any("/mcp/*path", authMW, deps.MCP)
	}

	return router
}
