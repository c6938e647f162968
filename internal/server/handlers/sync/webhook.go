package sync

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/model"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/ginx"
)

// webhookRequest Squarespace 订单 webhook 载荷（只关心订单 ID）
type webhookRequest struct {
	ID string `json:"id"`
}

// Webhook 订单 webhook 触发入口
// POST /api/v1/webhooks/orders
// webhook 本身可能重复投递，这里只入队一次运行触发；幂等由台账保证
func (h *SyncHandler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()

	var req webhookRequest
	// webhook 载荷形态不受我方控制，解析失败不拒收
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf(ctx, "[SyncHandler] webhook body parse failed: %v", err)
	}
	h.logger.Infof(ctx, "[SyncHandler] webhook received, order_id=%s", req.ID)

	// 无队列部署：退化为内联运行
	if h.publisher == nil {
		summary, err := h.engine.RunOnce(ctx, business.TriggerWebhook)
		if err != nil {
			h.logger.Errorf(ctx, "[SyncHandler] inline webhook run failed: %v", err)
			ginx.InternalError(c, err.Error())
			return
		}
		ginx.Success(c, summary)
		return
	}

	job := model.SyncJob{
		Trigger:     business.TriggerWebhook,
		OrderID:     req.ID,
		RequestedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(&job)
	if err != nil {
		ginx.InternalError(c, err.Error())
		return
	}

	// ttl=0 永不过期，delay=0 立即可用
	if err := h.publisher.Publish(h.queueName, data, 0, 0); err != nil {
		h.logger.Errorf(ctx, "[SyncHandler] enqueue sync job failed: %v", err)
		ginx.InternalError(c, err.Error())
		return
	}

	ginx.Queued(c, h.queueName)
}
