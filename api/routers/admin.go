package routers

import (
	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/scheduler"
	"marketplace-wallet/pkg/httputil"
	"marketplace-wallet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminHandler 运维处理器，手动触发池维护操作
type AdminHandler struct {
	pool      *pool.Manager
	scheduler *scheduler.Scheduler // worker进程内嵌时非nil
}

// NewAdminHandler 创建运维处理器
func NewAdminHandler(p *pool.Manager, s *scheduler.Scheduler) *AdminHandler {
	return &AdminHandler{pool: p, scheduler: s}
}

// Register 注册路由
func (h *AdminHandler) Register(r *gin.RouterGroup) {
	r.POST("/pool/refill", h.Refill)
	r.POST("/pool/release-expired", h.ReleaseExpired)
	r.POST("/pool/consolidate", h.Consolidate)
	r.GET("/scheduler", h.SchedulerStatus)
}

// Refill 手动补池
func (h *AdminHandler) Refill(c *gin.Context) {
	created, err := h.pool.RefillIfBelow(c.Request.Context(), h.pool.Config().MinSize)
	if err != nil {
		logger.Errorf("Manual refill failed: %v", err)
		httputil.InternalError(c, "error")
		return
	}
	httputil.Success(c, gin.H{"created": created})
}

// ReleaseExpired 手动回收过期分配
func (h *AdminHandler) ReleaseExpired(c *gin.Context) {
	released, err := h.pool.ReleaseExpired(c.Request.Context())
	if err != nil {
		logger.Errorf("Manual expiration sweep failed: %v", err)
		httputil.InternalError(c, "error")
		return
	}
	httputil.Success(c, gin.H{"released": released})
}

// Consolidate 手动归集
func (h *AdminHandler) Consolidate(c *gin.Context) {
	swept, err := h.pool.Consolidate(c.Request.Context(), 0)
	if err != nil {
		logger.Errorf("Manual consolidation failed: %v", err)
		httputil.InternalError(c, "error")
		return
	}
	httputil.Success(c, gin.H{"swept": swept})
}

// SchedulerStatus 调度器状态
func (h *AdminHandler) SchedulerStatus(c *gin.Context) {
	if h.scheduler == nil {
		httputil.Success(c, gin.H{"running": false, "embedded": false})
		return
	}
	httputil.Success(c, h.scheduler.Status())
}
