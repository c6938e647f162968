package entity

// Event 订单生命周期事件名（同时用作 Klaviyo metric 名）
type Event string

// 生命周期事件闭集
const (
	EventProductPurchased Event = "Product-Purchased"
	EventCoursePurchased  Event = "Course-Purchased"
	EventOrderFulfilled   Event = "Order-Fulfilled"
	EventOrderRefunded    Event = "Order-Refunded"
	EventOrderCancelled   Event = "Order-Cancelled"
)

// String 实现 fmt.Stringer
func (e Event) String() string {
	return string(e)
}
