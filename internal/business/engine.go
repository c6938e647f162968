package business

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/klaviyo"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/infra/redis"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// ErrRunInProgress 同进程内已有一次运行在进行中
// 台账为单次运行独占资源，不允许并发运行
var ErrRunInProgress = errors.New("sync run already in progress")

// ErrOrderNotFound 指定订单在源快照中不存在
var ErrOrderNotFound = errors.New("order not found")

// 触发来源
const (
	TriggerManual   = "manual"
	TriggerWebhook  = "webhook"
	TriggerSchedule = "schedule"
)

// OrderSource 订单源接口（Squarespace 适配器）
type OrderSource interface {
	ListOrders(ctx context.Context) ([]entity.Order, error)
}

// EventSink 事件目标接口（Klaviyo 适配器）
type EventSink interface {
	SendEvent(ctx context.Context, payload *klaviyo.EventPayload) (*klaviyo.SendResult, error)
}

// Notifier 运行完成通知接口（Redis 适配器，可选）
type Notifier interface {
	PublishRunComplete(ctx context.Context, channel string, n *redis.RunNotification) error
}

// EngineOptions 引擎策略配置（显式传入，不读全局状态）
type EngineOptions struct {
	WindowMinutes        int  // 订单时间窗口（分钟）
	ReconcileRefunds     bool // 退款信号超窗补偿
	ReconcileFulfillment bool // 发货信号超窗补偿
	DryRun               bool // 只记录不投递
	NotifyChannel        string
}

// Engine 转发引擎：单次运行串行处理一批订单
// 订单间、同订单事件间均严格串行，保证投递顺序和台账一致性
type Engine struct {
	source   OrderSource
	sink     EventSink
	ledger   *ledger.Ledger
	notifier Notifier
	opts     EngineOptions
	running  *atomic.Bool
	log      logger.Logger
	now      func() time.Time
}

// NewEngine 创建转发引擎
// notifier 可传 nil（不发通知）
func NewEngine(
	source OrderSource,
	sink EventSink,
	led *ledger.Ledger,
	notifier Notifier,
	opts EngineOptions,
	log logger.Logger,
) *Engine {
	if opts.WindowMinutes <= 0 {
		opts.WindowMinutes = 1440
	}
	return &Engine{
		source:   source,
		sink:     sink,
		ledger:   led,
		notifier: notifier,
		opts:     opts,
		running:  atomic.NewBool(false),
		log:      log,
		now:      time.Now,
	}
}

// RunSummary 单次运行结果汇总
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Trigger        string        `json:"trigger"`
	DryRun         bool          `json:"dry_run"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	OrdersTotal    int           `json:"orders_total"`    // 源返回的订单数
	OrdersSelected int           `json:"orders_selected"` // 进入处理的候选数
	Sent           int           `json:"sent"`            // 本次确认投递的事件数（dry-run 下为记账数）
	Skipped        int           `json:"skipped"`         // 台账判定已投递而跳过的事件数
	Failed         int           `json:"failed"`          // 投递失败的事件数
	LedgerSaved    bool          `json:"ledger_saved"`
	Orders         []OrderResult `json:"orders,omitempty"`
}

// OrderResult 单订单处理明细
type OrderResult struct {
	OrderID    string        `json:"order_id"`
	Skipped    bool          `json:"skipped,omitempty"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Events     []EventResult `json:"events,omitempty"`
}

// EventResult 单事件投递明细
type EventResult struct {
	Event      entity.Event `json:"event"`
	Status     string       `json:"status"` // sent/dry-run/skipped/failed
	StatusCode int          `json:"status_code,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// RunOnce 执行一次同步运行
// 加载台账 → 拉取订单 → 筛选候选 → 逐订单逐事件投递差量 → 持久化台账
// 拉取失败对整次运行致命；单事件/单订单失败只隔离记录，留待下次运行重试
func (e *Engine) RunOnce(ctx context.Context, trigger string) (*RunSummary, error) {
	return e.run(ctx, trigger, e.opts.DryRun)
}

// DryRunOnce 强制 dry-run 的一次运行（只记账不投递，安全验证用）
func (e *Engine) DryRunOnce(ctx context.Context, trigger string) (*RunSummary, error) {
	return e.run(ctx, trigger, true)
}

func (e *Engine) run(ctx context.Context, trigger string, dryRun bool) (*RunSummary, error) {
	if !e.running.CAS(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	startedAt := e.now()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		DryRun:    dryRun,
		StartedAt: startedAt,
	}

	ctx = context.WithValue(ctx, logger.CtxKeyRunID, summary.RunID)
	ctx = context.WithValue(ctx, logger.CtxKeyTrigger, trigger)

	e.log.Infof(ctx, "[Engine] Run started, dry_run=%v, window=%dm", dryRun, e.opts.WindowMinutes)

	// 1. 加载台账（永不失败，损坏时回退为空）
	e.ledger.Load(ctx)
	e.log.Infof(ctx, "[Engine] Ledger loaded, entries: %d", e.ledger.Len())

	// 2. 拉取订单快照（失败对整次运行致命）
	orders, err := e.source.ListOrders(ctx)
	if err != nil {
		e.log.Errorf(ctx, "[Engine] Orders fetch failed: %v", err)
		return nil, fmt.Errorf("orders fetch failed: %w", err)
	}
	summary.OrdersTotal = len(orders)

	// 3. 筛选候选并按创建时间升序排序（保证目标侧事件时序）
	candidates := e.selectCandidates(orders, startedAt)
	summary.OrdersSelected = len(candidates)
	e.log.Infof(ctx, "[Engine] Orders fetched: %d, candidates: %d", len(orders), len(candidates))

	// 4. 逐订单处理（严格串行）
	for i := range candidates {
		result := e.processOrder(ctx, &candidates[i], summary)
		summary.Orders = append(summary.Orders, result)
	}

	// 5. 有新记录才持久化；持久化失败不影响运行结果
	if e.ledger.Dirty() {
		if err := e.ledger.Save(ctx); err != nil {
			e.log.Warnf(ctx, "[Engine] Ledger save failed (will re-derive next run): %v", err)
		} else {
			summary.LedgerSaved = true
			e.log.Infof(ctx, "[Engine] Ledger saved, entries: %d", e.ledger.Len())
		}
	}

	summary.Duration = e.now().Sub(startedAt)

	// 6. 发布运行完成通知（尽力而为）
	e.notify(ctx, summary)

	e.log.Infof(ctx, "[Engine] Run complete: sent=%d, skipped=%d, failed=%d, duration=%v",
		summary.Sent, summary.Skipped, summary.Failed, summary.Duration)

	return summary, nil
}

// RunOrder 强制处理单个订单（调试重发入口）
// force 为 true 时无视台账重新投递所有事件
func (e *Engine) RunOrder(ctx context.Context, orderID string, force bool) (*RunSummary, error) {
	if !e.running.CAS(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	startedAt := e.now()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   TriggerManual,
		DryRun:    e.opts.DryRun,
		StartedAt: startedAt,
	}
	ctx = context.WithValue(ctx, logger.CtxKeyRunID, summary.RunID)

	e.ledger.Load(ctx)

	orders, err := e.source.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders fetch failed: %w", err)
	}
	summary.OrdersTotal = len(orders)

	var target *entity.Order
	for i := range orders {
		if orders[i].ID == orderID || orders[i].OrderNumber == orderID {
			target = &orders[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if force {
		// 重发前清空该订单的台账记录
		e.ledger.Forget(target.ID)
	}

	summary.OrdersSelected = 1
	summary.Orders = append(summary.Orders, e.processOrder(ctx, target, summary))

	if e.ledger.Dirty() {
		if err := e.ledger.Save(ctx); err != nil {
			e.log.Warnf(ctx, "[Engine] Ledger save failed: %v", err)
		} else {
			summary.LedgerSaved = true
		}
	}

	summary.Duration = e.now().Sub(startedAt)
	return summary, nil
}

// selectCandidates 筛选候选订单
// 时间窗口内的订单恒定入选；窗口外订单带退款/发货信号时按配置补偿入选
// （订单状态可能在创建很久之后变化，仅靠时间窗口会漏掉迟到的退款/发货）
func (e *Engine) selectCandidates(orders []entity.Order, now time.Time) []entity.Order {
	window := time.Duration(e.opts.WindowMinutes) * time.Minute
	candidates := make([]entity.Order, 0, len(orders))

	for i := range orders {
		o := &orders[i]
		inWindow := !o.CreatedOn.IsZero() && now.Sub(o.CreatedOn) <= window
		reconcile := (e.opts.ReconcileRefunds && HasRefundSignal(o)) ||
			(e.opts.ReconcileFulfillment && HasFulfillmentSignal(o))
		if inWindow || reconcile {
			candidates = append(candidates, *o)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedOn.Before(candidates[j].CreatedOn)
	})

	return candidates
}

// processOrder 处理单个订单（异常隔离：panic 只影响当前订单）
func (e *Engine) processOrder(ctx context.Context, order *entity.Order, summary *RunSummary) (result OrderResult) {
	result.OrderID = order.ID

	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf(ctx, "[Engine] Order %s processing panic: %v", order.ID, r)
			result.Skipped = true
			result.SkipReason = fmt.Sprintf("panic: %v", r)
		}
	}()

	// 测试订单：只记录在案，绝不投递
	if order.TestMode.Bool() {
		e.ledger.Ensure(order.ID)
		e.log.Infof(ctx, "[Engine] Skipping test order: %s", order.ID)
		result.Skipped = true
		result.SkipReason = "testmode"
		return result
	}

	events := ClassifyOrder(order)
	for _, ev := range events {
		if e.ledger.Has(order.ID, ev.String()) {
			summary.Skipped++
			result.Events = append(result.Events, EventResult{Event: ev, Status: "skipped"})
			continue
		}
		result.Events = append(result.Events, e.deliver(ctx, order, ev, summary))
	}

	return result
}

// deliver 投递单个事件，确认成功后立即记账
func (e *Engine) deliver(ctx context.Context, order *entity.Order, ev entity.Event, summary *RunSummary) EventResult {
	payload := BuildEventPayload(order, ev, e.now())

	// Dry-run：不触网，只记账（用于安全验证台账差量）
	if summary.DryRun {
		e.ledger.Record(order.ID, ev.String())
		summary.Sent++
		e.log.Infof(ctx, "[Engine] [DRY-RUN] Would send %s for order %s", ev, order.ID)
		return EventResult{Event: ev, Status: "dry-run"}
	}

	res, err := e.sink.SendEvent(ctx, payload)
	if err != nil {
		summary.Failed++
		e.log.Errorf(ctx, "[Engine] Send %s for order %s failed: %v", ev, order.ID, err)
		return EventResult{Event: ev, Status: "failed", Error: err.Error()}
	}
	if !res.Success {
		summary.Failed++
		e.log.Errorf(ctx, "[Engine] Klaviyo rejected %s for order %s: %d %s",
			ev, order.ID, res.StatusCode, truncate(res.Body, 250))
		return EventResult{Event: ev, Status: "failed", StatusCode: res.StatusCode, Error: truncate(res.Body, 250)}
	}

	// 确认成功立即记账：同一运行内后续事件能看到最新已投递集合
	e.ledger.Record(order.ID, ev.String())
	summary.Sent++
	e.log.Infof(ctx, "[Engine] Sent %s for order %s, status: %d", ev, order.ID, res.StatusCode)
	return EventResult{Event: ev, Status: "sent", StatusCode: res.StatusCode}
}

// notify 发布运行完成通知（失败只告警）
func (e *Engine) notify(ctx context.Context, summary *RunSummary) {
	if e.notifier == nil || e.opts.NotifyChannel == "" {
		return
	}
	n := &redis.RunNotification{
		RunID:      summary.RunID,
		Trigger:    summary.Trigger,
		DryRun:     summary.DryRun,
		Sent:       summary.Sent,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		Orders:     summary.OrdersSelected,
		DurationMs: summary.Duration.Milliseconds(),
		Timestamp:  e.now().Unix(),
	}
	if err := e.notifier.PublishRunComplete(ctx, e.opts.NotifyChannel, n); err != nil {
		e.log.Warnf(ctx, "[Engine] Publish run notification failed: %v", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
