package klaviyo

// Klaviyo Events API 载荷结构
// 结构固定为 data.attributes.{time,properties,metric,profile}

// EventPayload 单个事件载荷
type EventPayload struct {
	Data EventData `json:"data"`
}

// EventData 事件数据
type EventData struct {
	Type       string          `json:"type"` // 固定为 "event"
	Attributes EventAttributes `json:"attributes"`
}

// EventAttributes 事件属性
type EventAttributes struct {
	Time       string          `json:"time"`
	Properties EventProperties `json:"properties"`
	Metric     MetricRef       `json:"metric"`
	Profile    ProfileRef      `json:"profile"`
}

// EventProperties 事件业务属性
type EventProperties struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number,omitempty"`
	Total       string `json:"total,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Items       []Item `json:"items"`
	Source      string `json:"source"`

	// 事件级补充字段
	RefundAmount string `json:"refund_amount,omitempty"`
	RefundReason string `json:"refund_reason,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Item 行项目属性
type Item struct {
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Qty   int    `json:"qty"`
	Price string `json:"price"`
	Type  string `json:"type"`
}

// MetricRef metric 引用
type MetricRef struct {
	Data MetricData `json:"data"`
}

// MetricData metric 数据
type MetricData struct {
	Type       string           `json:"type"` // 固定为 "metric"
	Attributes MetricAttributes `json:"attributes"`
}

// MetricAttributes metric 属性
type MetricAttributes struct {
	Name string `json:"name"`
}

// ProfileRef 客户档案引用
type ProfileRef struct {
	Data ProfileData `json:"data"`
}

// ProfileData 档案数据
type ProfileData struct {
	Type       string            `json:"type"` // 固定为 "profile"
	Attributes ProfileAttributes `json:"attributes"`
}

// ProfileAttributes 档案属性
type ProfileAttributes struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// SendResult 单次投递结果
// HTTP 非 2xx 不是 Go error，而是 Success=false
type SendResult struct {
	Success    bool
	StatusCode int
	Body       string
}
