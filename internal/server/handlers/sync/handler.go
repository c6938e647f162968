package sync

import (
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// JobPublisher 触发任务发布接口（lmstfy 适配器）
type JobPublisher interface {
	Publish(queue string, data []byte, ttl, delay uint32) error
}

// SyncHandler 同步触发 Handler
type SyncHandler struct {
	engine    *business.Engine
	publisher JobPublisher // 可为 nil：无队列时 webhook 退化为内联运行
	queueName string
	logger    logger.Logger
}

// NewSyncHandler 创建 SyncHandler
func NewSyncHandler(engine *business.Engine, publisher JobPublisher, queueName string, log logger.Logger) *SyncHandler {
	return &SyncHandler{
		engine:    engine,
		publisher: publisher,
		queueName: queueName,
		logger:    log,
	}
}
