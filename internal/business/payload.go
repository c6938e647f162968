package business

import (
	"time"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/klaviyo"
)

// 载荷来源标识
const payloadSource = "sqsp-klaviyo-sync"

// 退款原因缺失时的占位文案
const refundReasonUnavailable = "not available"

// BuildEventPayload 将 (订单, 事件) 映射为 Klaviyo 事件载荷
// 纯转换，无网络与持久化副作用
func BuildEventPayload(order *entity.Order, event entity.Event, now time.Time) *klaviyo.EventPayload {
	eventTime := order.CreatedOn
	if eventTime.IsZero() {
		eventTime = now
	}

	items := make([]klaviyo.Item, 0, len(order.LineItems))
	for i := range order.LineItems {
		li := &order.LineItems[i]
		items = append(items, klaviyo.Item{
			Name:  li.DisplayName(),
			SKU:   li.SKU,
			Qty:   li.Quantity,
			Price: li.UnitPrice(),
			Type:  li.LineItemType,
		})
	}

	props := klaviyo.EventProperties{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Total:       order.GrandTotal.Value,
		Currency:    order.GrandTotal.Currency,
		Items:       items,
		Source:      payloadSource,
	}

	// 事件级补充字段
	switch event {
	case entity.EventOrderRefunded:
		props.RefundAmount = refundAmount(order)
		props.RefundReason = refundReason(order)
		props.Status = "refunded"
	case entity.EventOrderFulfilled:
		props.Status = "fulfilled"
	case entity.EventOrderCancelled:
		props.Status = "cancelled"
	}

	profile := klaviyo.ProfileAttributes{Email: order.CustomerEmail}
	if order.BillingAddress != nil {
		profile.FirstName = order.BillingAddress.FirstName
		profile.LastName = order.BillingAddress.LastName
	}

	return &klaviyo.EventPayload{
		Data: klaviyo.EventData{
			Type: "event",
			Attributes: klaviyo.EventAttributes{
				Time:       eventTime.Format(time.RFC3339),
				Properties: props,
				Metric: klaviyo.MetricRef{
					Data: klaviyo.MetricData{
						Type:       "metric",
						Attributes: klaviyo.MetricAttributes{Name: event.String()},
					},
				},
				Profile: klaviyo.ProfileRef{
					Data: klaviyo.ProfileData{
						Type:       "profile",
						Attributes: profile,
					},
				},
			},
		},
	}
}

// refundAmount 首条退款记录金额，缺失时回退订单总额
func refundAmount(order *entity.Order) string {
	if len(order.Refunds) > 0 && order.Refunds[0].Amount.Value != "" {
		return order.Refunds[0].Amount.Value
	}
	return order.GrandTotal.Value
}

// refundReason 退款原因，回退取消原因，再回退占位文案
func refundReason(order *entity.Order) string {
	if len(order.Refunds) > 0 && order.Refunds[0].Reason != "" {
		return order.Refunds[0].Reason
	}
	if order.CancellationReason != "" {
		return order.CancellationReason
	}
	return refundReasonUnavailable
}
