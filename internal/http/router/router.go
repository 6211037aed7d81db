package router

import (
	"github.com/gin-gonic/gin"

	"tasksync.app/tasksync/internal/http/handler"
	"tasksync.app/tasksync/internal/http/handler/webhook"
)

// SetupRoutes wires the webhook intake and the operational API.
func SetupRoutes(router *gin.Engine, webhooks *webhook.Handler, configs *handler.ConfigHandler, mappings *handler.MappingHandler, jobs *handler.JobHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	hooks := router.Group("/webhooks")
	{
		hooks.POST("/slack", webhooks.HandleSlack)
		hooks.POST("/figma", webhooks.HandleFigma)
		hooks.POST("/email", webhooks.HandleEmail)
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/configs", configs.Create)
		v1.POST("/configs/test", configs.Test)
		v1.POST("/mappings/preview", mappings.Preview)
		v1.GET("/jobs/:job_id", jobs.Get)
		v1.GET("/jobs", jobs.ListByThread)
	}
}
