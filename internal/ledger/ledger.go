package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/entity"
	"github.com/timmyforddigitals-cell/sqsp-klaviyo/pkg/logger"
)

// 持久化格式版本号
const formatVersion = 2

// Ledger 已投递台账：订单 ID → 已确认投递的事件名集合
// 单次运行内独占使用，不做内部加锁（见 Engine 的串行模型）
type Ledger struct {
	backend  Backend
	capacity int
	log      logger.Logger

	entries  map[string]map[string]struct{} // 订单 ID → 事件名集合
	touched  []string                       // 订单 ID，最早触达的在前
	revision string                         // Load 时取得的版本令牌
	dirty    bool
}

// snapshot 持久化结构（保持触达顺序）
type snapshot struct {
	Version int             `json:"version"`
	Entries []snapshotEntry `json:"entries"`
}

type snapshotEntry struct {
	ID     string   `json:"id"`
	Events []string `json:"events"`
}

// New 创建台账实例
func New(backend Backend, capacity int, log logger.Logger) *Ledger {
	return &Ledger{
		backend:  backend,
		capacity: capacity,
		log:      log,
		entries:  make(map[string]map[string]struct{}),
	}
}

// Load 从后端加载台账
// 永不失败：后端不存在、读取失败、解析失败均回退为空台账（宁可重投不可漏投）
func (l *Ledger) Load(ctx context.Context) {
	l.entries = make(map[string]map[string]struct{})
	l.touched = nil
	l.revision = ""
	l.dirty = false

	content, revision, err := l.backend.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			l.log.Warnf(ctx, "[Ledger] read failed, starting empty: %v", err)
		}
		return
	}
	l.revision = revision

	if err := l.parse(content); err != nil {
		l.log.Warnf(ctx, "[Ledger] parse failed, starting empty: %v", err)
		l.entries = make(map[string]map[string]struct{})
		l.touched = nil
	}
}

// parse 解析持久化内容，兼容旧版纯 ID 数组格式
func (l *Ledger) parse(content []byte) error {
	var snap snapshot
	if err := json.Unmarshal(content, &snap); err == nil && snap.Version >= formatVersion {
		for _, e := range snap.Entries {
			if e.ID == "" {
				continue
			}
			set := make(map[string]struct{}, len(e.Events))
			for _, ev := range e.Events {
				set[ev] = struct{}{}
			}
			l.entries[e.ID] = set
			l.touched = append(l.touched, e.ID)
		}
		return nil
	}

	// 旧版格式：["orderId", ...]，视为已投递购买事件
	var legacy []string
	if err := json.Unmarshal(content, &legacy); err != nil {
		return fmt.Errorf("unsupported ledger format: %w", err)
	}
	for _, id := range legacy {
		if id == "" {
			continue
		}
		if _, ok := l.entries[id]; ok {
			continue
		}
		l.entries[id] = map[string]struct{}{
			string(entity.EventProductPurchased): {},
		}
		l.touched = append(l.touched, id)
	}
	return nil
}

// Delivered 返回某订单已投递的事件名集合（未见过的订单返回空集）
func (l *Ledger) Delivered(orderID string) map[string]struct{} {
	set := make(map[string]struct{}, len(l.entries[orderID]))
	for ev := range l.entries[orderID] {
		set[ev] = struct{}{}
	}
	return set
}

// Has 某订单的某事件是否已投递
func (l *Ledger) Has(orderID, event string) bool {
	_, ok := l.entries[orderID][event]
	return ok
}

// Record 记录一次已确认的投递（幂等；已存在时为 no-op）
// 返回是否产生了新记录
func (l *Ledger) Record(orderID, event string) bool {
	if l.Has(orderID, event) {
		return false
	}
	set, ok := l.entries[orderID]
	if !ok {
		set = make(map[string]struct{})
		l.entries[orderID] = set
	}
	set[event] = struct{}{}
	l.touch(orderID)
	l.dirty = true
	return true
}

// Ensure 确保订单存在（可能为空事件集）
// 测试订单走此路径：记录在案以抑制反复评估，但不投递任何事件
func (l *Ledger) Ensure(orderID string) {
	if _, ok := l.entries[orderID]; ok {
		return
	}
	l.entries[orderID] = make(map[string]struct{})
	l.touch(orderID)
	l.dirty = true
}

// touch 将订单移到触达序列尾部（最近触达）
func (l *Ledger) touch(orderID string) {
	for i, id := range l.touched {
		if id == orderID {
			l.touched = append(l.touched[:i], l.touched[i+1:]...)
			break
		}
	}
	l.touched = append(l.touched, orderID)
}

// Forget 删除某订单的全部记录（调试重发入口使用）
func (l *Ledger) Forget(orderID string) {
	if _, ok := l.entries[orderID]; !ok {
		return
	}
	delete(l.entries, orderID)
	for i, id := range l.touched {
		if id == orderID {
			l.touched = append(l.touched[:i], l.touched[i+1:]...)
			break
		}
	}
	l.dirty = true
}

// Dirty 本次运行是否产生了新记录
func (l *Ledger) Dirty() bool {
	return l.dirty
}

// Len 台账条目数
func (l *Ledger) Len() int {
	return len(l.touched)
}

// Save 持久化台账（截断到容量上限，仅保留最近触达的条目）
// 失败由调用方记录日志并继续，内存状态不回滚
func (l *Ledger) Save(ctx context.Context) error {
	l.prune()

	snap := snapshot{Version: formatVersion, Entries: make([]snapshotEntry, 0, len(l.touched))}
	for _, id := range l.touched {
		events := make([]string, 0, len(l.entries[id]))
		for ev := range l.entries[id] {
			events = append(events, ev)
		}
		// 事件名排序，保证输出稳定
		sort.Strings(events)
		snap.Entries = append(snap.Entries, snapshotEntry{ID: id, Events: events})
	}

	content, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger failed: %w", err)
	}

	newRevision, err := l.backend.Write(ctx, content, l.revision)
	if err != nil {
		return fmt.Errorf("write ledger failed: %w", err)
	}

	l.revision = newRevision
	l.dirty = false
	return nil
}

// prune 淘汰最久未触达的条目
func (l *Ledger) prune() {
	if l.capacity <= 0 || len(l.touched) <= l.capacity {
		return
	}
	evicted := l.touched[:len(l.touched)-l.capacity]
	for _, id := range evicted {
		delete(l.entries, id)
	}
	l.touched = append([]string(nil), l.touched[len(l.touched)-l.capacity:]...)
}
