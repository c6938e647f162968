package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/server/handlers/sync"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/server/middlewares"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(syncHandler *sync.SyncHandler, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middlewares.CORS())
	r.Use(middlewares.Trace())
	r.Use(middlewares.AccessLog(log))
	r.Use(middlewares.ErrorHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "sqsp-klaviyo",
			"message": "Service is running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		syncGroup := v1.Group("/sync")
		{
			syncGroup.POST("/run", syncHandler.Run)
			syncGroup.POST("/orders/:id", syncHandler.RunOrder)
		}

		webhooks := v1.Group("/webhooks")
		{
			webhooks.POST("/orders", syncHandler.Webhook)
		}
	}

	return r
}
