// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/GeoTriggerMCP/internal/config"
	"github.com/Corphon/GeoTriggerMCP/internal/di"
	"github.com/Corphon/GeoTriggerMCP/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	experienceService, ok := di.Resolve[*services.ExperienceService](container, di.ServiceExperience)
	if !ok {
		return nil, fmt.Errorf("体验服务未正确初始化")
	}

	objectService, ok := di.Resolve[*services.ObjectService](container, di.ServiceObject)
	if !ok {
		return nil, fmt.Errorf("对象服务未正确初始化")
	}

	chatService, ok := di.Resolve[*services.ChatService](container, di.ServiceChat)
	if !ok {
		return nil, fmt.Errorf("对话服务未正确初始化")
	}

	llmService, ok := di.Resolve[*services.LLMService](container, di.ServiceLLM)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	handler := NewHandler(experienceService, objectService, chatService, llmService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// 启用CORS与请求ID
	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())

	// WebSocket 在线中继
	r.GET("/ws/experience/:id", handler.ExperienceWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		// 运维端点
		api.GET("/health", handler.HealthCheck)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// 导入与 /experiences/:id 的通配段冲突，放在顶层
		api.POST("/import", handler.ImportExperience)

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// ===============================
		// 体验相关路由
		// ===============================
		experiencesGroup := api.Group("/experiences")
		experiencesGroup.Use(DefaultRateLimit())
		{
			experiencesGroup.GET("", handler.GetExperiences)
			experiencesGroup.POST("", handler.CreateExperience)
			experiencesGroup.GET("/:id", handler.GetExperience)
			experiencesGroup.PUT("/:id", handler.UpdateExperience)
			experiencesGroup.DELETE("/:id", handler.DeleteExperience)
			experiencesGroup.GET("/:id/export", handler.ExportExperience)

			// 对象管理
			objectsGroup := experiencesGroup.Group("/:id/objects")
			{
				objectsGroup.GET("", handler.GetObjects)
				objectsGroup.POST("", handler.CreateObject)
				objectsGroup.GET("/:object_id", handler.GetObject)
				objectsGroup.PUT("/:object_id", handler.UpdateObject)
				objectsGroup.DELETE("/:object_id", handler.DeleteObject)
				objectsGroup.GET("/:object_id/qr", handler.GetObjectQRPayload)

				// 激活操作
				objectsGroup.POST("/:object_id/open", handler.OpenObject)
				objectsGroup.POST("/:object_id/dismiss", handler.DismissObject)
				objectsGroup.POST("/:object_id/complete", handler.CompleteObject)
			}

			// 会话管理
			sessionGroup := experiencesGroup.Group("/:id/session")
			{
				sessionGroup.POST("", handler.InitializeSession)
				sessionGroup.DELETE("", handler.DisposeSession)
				sessionGroup.GET("/statuses", handler.GetSessionStatuses)
				sessionGroup.POST("/reset", handler.ResetActivations)
				sessionGroup.POST("/timers/start", handler.StartSessionTimers)
				sessionGroup.POST("/timers/clear", handler.ClearSessionTimers)
			}
		}

		// ===============================
		// 传感信号路由，更新频率高，单独限流
		// ===============================
		signalsGroup := api.Group("/experiences/:id/signals")
		signalsGroup.Use(SignalRateLimit())
		{
			signalsGroup.POST("/location", handler.ReportLocation)
			signalsGroup.POST("/qr", handler.ReportQRScan)
			signalsGroup.POST("/shake", handler.ReportShake)
			signalsGroup.POST("/orientation", handler.ReportOrientation)
			signalsGroup.POST("/touch", handler.ReportTouch)
			signalsGroup.POST("/hold/start", handler.StartHold)
			signalsGroup.POST("/hold/end", handler.EndHold)
			signalsGroup.POST("/presence", handler.ReportPresence)
		}

		// ===============================
		// AI对话路由
		// ===============================
		chatGroup := api.Group("/chat")
		chatGroup.Use(ChatRateLimit())
		{
			chatGroup.POST("", handler.Chat)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
