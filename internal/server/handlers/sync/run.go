package sync

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/ginx"
)

// Run 手动触发一次同步运行
// POST /api/v1/sync/run?dry_run=true
// dry_run 查询参数只能把运行切到 dry-run，不能反向关闭配置里的 dry-run
func (h *SyncHandler) Run(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		summary *business.RunSummary
		err     error
	)
	if c.Query("dry_run") == "true" {
		summary, err = h.engine.DryRunOnce(ctx, business.TriggerManual)
	} else {
		summary, err = h.engine.RunOnce(ctx, business.TriggerManual)
	}

	if err != nil {
		if errors.Is(err, business.ErrRunInProgress) {
			ginx.Conflict(c, err.Error())
			return
		}
		h.logger.Errorf(ctx, "[SyncHandler] run failed: %v", err)
		ginx.InternalError(c, err.Error())
		return
	}

	ginx.Success(c, summary)
}

// RunOrder 强制处理单个订单（调试重发）
// POST /api/v1/sync/orders/:id?force=true
func (h *SyncHandler) RunOrder(c *gin.Context) {
	ctx := c.Request.Context()

	orderID := c.Param("id")
	if orderID == "" {
		ginx.BadRequest(c, "order id is required")
		return
	}
	force := c.Query("force") == "true"

	summary, err := h.engine.RunOrder(ctx, orderID, force)
	if err != nil {
		if errors.Is(err, business.ErrRunInProgress) {
			ginx.Conflict(c, err.Error())
			return
		}
		if errors.Is(err, business.ErrOrderNotFound) {
			ginx.NotFound(c, err.Error())
			return
		}
		h.logger.Errorf(ctx, "[SyncHandler] run order %s failed: %v", orderID, err)
		ginx.InternalError(c, err.Error())
		return
	}

	ginx.Success(c, summary)
}
