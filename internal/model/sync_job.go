package model

// SyncJob 同步触发任务（webhook/定时器投入 lmstfy，worker 消费）
type SyncJob struct {
	Trigger     string `json:"trigger"`            // webhook/schedule
	OrderID     string `json:"order_id,omitempty"` // webhook 携带的订单 ID（仅用于日志）
	RequestedAt int64  `json:"requested_at"`
}
