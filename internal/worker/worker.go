package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/atomic"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/business"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/model"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/errorutil"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/lmstfy"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// MessageSource 消息源接口（lmstfy 适配器）
type MessageSource interface {
	// Consume 消费消息（阻塞，直到拉取到消息或超时）
	Consume(queue string, timeout time.Duration, ttr time.Duration) (*lmstfy.Message, error)

	// Ack 确认消息（删除消息）
	Ack(queue string, jobID string) error
}

// Config 触发 Worker 配置
type Config struct {
	QueueName    string        // 触发队列名称
	Timeout      time.Duration // 拉取超时
	TTR          time.Duration // Time-To-Run
	ErrorBackoff time.Duration // 错误退避时间
}

// Worker 触发消费者：从队列消费 SyncJob，每条触发一次引擎运行
// 队列是 at-least-once，重复触发是安全的：幂等由台账保证
type Worker struct {
	engine  *business.Engine
	source  MessageSource
	cfg     *Config
	logger  logger.Logger
	closing *atomic.Bool
}

// NewWorker 创建触发 Worker
func NewWorker(engine *business.Engine, source MessageSource, cfg *Config, log logger.Logger) *Worker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 3 * time.Second
	}
	return &Worker{
		engine:  engine,
		source:  source,
		cfg:     cfg,
		logger:  log,
		closing: atomic.NewBool(false),
	}
}

// Start 启动消费循环（阻塞直到 ctx 取消或 Shutdown）
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Infof(ctx, "[Worker] Started, queue: %s", w.cfg.QueueName)

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof(ctx, "[Worker] Context cancelled, exiting")
			return ctx.Err()
		default:
		}
		if w.closing.Load() {
			w.logger.Infof(ctx, "[Worker] Shutdown requested, exiting")
			return nil
		}

		msg, err := w.source.Consume(w.cfg.QueueName, w.cfg.Timeout, w.cfg.TTR)
		if err != nil {
			// 容错：网络抖动不退出，只记录并退避
			w.logger.Warnf(ctx, "[Worker] Consume error: %v, retrying...", err)
			time.Sleep(w.cfg.ErrorBackoff)
			continue
		}
		if msg == nil {
			// 超时未拉到消息，继续等待
			continue
		}

		w.handleMessage(ctx, msg)
	}
}

// Shutdown 请求退出（消费循环在当前消息处理完后退出）
func (w *Worker) Shutdown() {
	w.closing.CAS(false, true)
}

// handleMessage 处理一条触发消息
// Ack 策略：运行成功或不可重试失败 → Ack；可重试失败 → 不 Ack，TTR 到期后重投
func (w *Worker) handleMessage(ctx context.Context, msg *lmstfy.Message) {
	var job model.SyncJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// 消息损坏，重投也不会变好，直接确认丢弃
		w.logger.Errorf(ctx, "[Worker] Malformed sync job %s, dropping: %v", msg.ID, err)
		w.ack(ctx, msg)
		return
	}

	trigger := job.Trigger
	if trigger == "" {
		trigger = business.TriggerSchedule
	}

	w.logger.Infof(ctx, "[Worker] Processing sync job: %s, trigger: %s", msg.ID, trigger)

	summary, err := w.engine.RunOnce(ctx, trigger)
	if err != nil {
		if errors.Is(err, business.ErrRunInProgress) {
			// 已有运行在途，本条触发是多余的；运行中的那次会覆盖同样的差量
			w.logger.Infof(ctx, "[Worker] Run already in progress, dropping job %s", msg.ID)
			w.ack(ctx, msg)
			return
		}
		if errorutil.IsRetryable(err) {
			// 不 Ack：TTR 到期后队列重投，下次再试
			w.logger.Warnf(ctx, "[Worker] Run failed (retryable), job %s will be redelivered: %v", msg.ID, err)
			return
		}
		w.logger.Errorf(ctx, "[Worker] Run failed (non-retryable), dropping job %s: %v", msg.ID, err)
		w.ack(ctx, msg)
		return
	}

	w.logger.Infof(ctx, "[Worker] Sync job %s done: sent=%d, skipped=%d, failed=%d",
		msg.ID, summary.Sent, summary.Skipped, summary.Failed)
	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg *lmstfy.Message) {
	if err := w.source.Ack(msg.Queue, msg.ID); err != nil {
		w.logger.Warnf(ctx, "[Worker] Ack failed for job %s: %v", msg.ID, err)
	}
}
