package business

import (
	"strings"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
)

// 状态文本中的信号关键字（大小写不敏感的子串匹配）
var (
	refundSignals    = []string{"refund", "chargeback"}
	cancelSignals    = []string{"cancel"}
	fulfilledSignals = []string{"fulfilled", "complete", "shipped"}
)

// ClassifyOrder 推导订单当前应产生的生命周期事件
// 返回去重后的有序事件列表；多个独立信号同时命中时全部返回
// 测试订单不产生任何事件
func ClassifyOrder(order *entity.Order) []entity.Event {
	if order.TestMode.Bool() {
		return nil
	}

	events := make([]entity.Event, 0, 4)

	// 购买事件恒定在首位：含课程类商品则为课程购买
	if order.HasCourseItem() {
		events = append(events, entity.EventCoursePurchased)
	} else {
		events = append(events, entity.EventProductPurchased)
	}

	status := statusText(order)
	if matchAny(status, refundSignals) {
		events = append(events, entity.EventOrderRefunded)
	}
	if matchAny(status, cancelSignals) {
		events = append(events, entity.EventOrderCancelled)
	}
	if matchAny(status, fulfilledSignals) {
		events = append(events, entity.EventOrderFulfilled)
	}

	return events
}

// HasRefundSignal 状态文本是否带退款信号（超窗补偿用）
func HasRefundSignal(order *entity.Order) bool {
	return matchAny(statusText(order), refundSignals)
}

// HasFulfillmentSignal 状态文本是否带发货完成信号（超窗补偿用）
func HasFulfillmentSignal(order *entity.Order) bool {
	return matchAny(statusText(order), fulfilledSignals)
}

// statusText 拼接财务状态与履约状态，统一转小写
func statusText(order *entity.Order) string {
	return strings.ToLower(order.FinancialStatus + " " + order.FulfillmentStatus)
}

func matchAny(text string, signals []string) bool {
	for _, s := range signals {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}
