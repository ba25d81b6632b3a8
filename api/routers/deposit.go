package routers

import (
	"errors"

	"marketplace-wallet/internal/pool"
	"marketplace-wallet/internal/purchase"
	"marketplace-wallet/pkg/httputil"
	"marketplace-wallet/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// DepositHandler 充值处理器
type DepositHandler struct {
	pool      *pool.Manager
	purchases purchase.Repository
}

// NewDepositHandler 创建充值处理器
func NewDepositHandler(p *pool.Manager, purchases purchase.Repository) *DepositHandler {
	return &DepositHandler{pool: p, purchases: purchases}
}

// Register 注册路由
func (h *DepositHandler) Register(r *gin.RouterGroup) {
	r.POST("/deposits", h.RequestDepositAddress)
	r.GET("/deposits/:purchaseId", h.PollDepositStatus)
	r.GET("/pool/stats", h.PoolStats)
}

// RequestDepositAddressRequest 申请充值地址请求
type RequestDepositAddressRequest struct {
	PurchaseID string `json:"purchase_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
}

// RequestDepositAddress 为购买单申请一次性充值地址
func (h *DepositHandler) RequestDepositAddress(c *gin.Context) {
	userID := GetUserID(c)

	var req RequestDepositAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		httputil.BadRequest(c, "invalid amount")
		return
	}

	p, err := h.purchases.EnsurePending(req.PurchaseID, userID, amount.String())
	if err != nil {
		logger.Errorf("Failed to ensure purchase %s: %v", req.PurchaseID, err)
		httputil.InternalError(c, "error")
		return
	}
	if p.UserID != userID {
		httputil.Forbidden(c, "purchase belongs to another user")
		return
	}
	if p.Status != purchase.StatusPending {
		httputil.BadRequest(c, "purchase is not pending")
		return
	}

	assignment, err := h.pool.Assign(c.Request.Context(), userID, req.PurchaseID, amount, 0)
	if err != nil {
		if errors.Is(err, pool.ErrPoolExhausted) {
			httputil.Error(c, httputil.ErrCodePoolExhausted, "no deposit address available, try again later")
			return
		}
		logger.Errorf("Failed to assign wallet for purchase %s: %v", req.PurchaseID, err)
		httputil.InternalError(c, "error")
		return
	}

	httputil.Success(c, assignment)
}

// PollDepositStatus 查询购买单充值状态。只允许购买单归属人查询，
// 否则充值地址与金额会泄露给任意登录用户。
func (h *DepositHandler) PollDepositStatus(c *gin.Context) {
	userID := GetUserID(c)
	purchaseID := c.Param("purchaseId")

	p, err := h.purchases.GetByPurchaseID(purchaseID)
	if err != nil {
		logger.Errorf("Failed to load purchase %s: %v", purchaseID, err)
		httputil.InternalError(c, "error")
		return
	}
	if p != nil && p.UserID != userID {
		httputil.Forbidden(c, "purchase belongs to another user")
		return
	}

	result, err := h.pool.CheckDeposit(c.Request.Context(), purchaseID)
	if err != nil {
		// 内部错误细节不回传给调用方
		logger.Errorf("Deposit check failed for purchase %s: %v", purchaseID, err)
		httputil.InternalError(c, "error")
		return
	}

	httputil.Success(c, result)
}

// PoolStats 池状态统计
func (h *DepositHandler) PoolStats(c *gin.Context) {
	stats, err := h.pool.Stats(c.Request.Context())
	if err != nil {
		logger.Errorf("Failed to read pool stats: %v", err)
		httputil.InternalError(c, "error")
		return
	}
	httputil.Success(c, stats)
}
