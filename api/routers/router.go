package routers

import (
	"net/http"
	"time"

	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// Services 服务集合
type Services struct {
	Pool      *pool.Manager
	Purchases purchase.Repository
	Scheduler *scheduler.Scheduler // 可选，仅内嵌调度器的进程设置
	AdminTOTP string
}

// SetupRouter 设置路由
func SetupRouter(svc *Services) *gin.Engine {
	router := gin.New()
	router.Use(LoggerMiddleware())
	router.Use(RecoveryMiddleware())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// API v1
	apiV1 := router.Group("/api/v1")
	apiV1.Use(AuthMiddleware())
	{
		depositHandler := NewDepositHandler(svc.Pool, svc.Purchases)
		depositHandler.Register(apiV1)
	}

	// 运维接口，动态口令保护
	admin := router.Group("/admin")
	admin.Use(TOTPMiddleware(svc.AdminTOTP))
	{
		adminHandler := NewAdminHandler(svc.Pool, svc.Scheduler)
		adminHandler.Register(admin)
	}

	return router
}
