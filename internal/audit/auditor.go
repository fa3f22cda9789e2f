// Package audit 记录每一次规则同步尝试
package audit

import (
	"sync"
	"time"

	"rulekeeper/internal/logger"
	"rulekeeper/pkg/domain"
)

// Sink 同步事件的持久化目标，实现不能阻塞调用方
type Sink interface {
	Record(evt domain.SyncEvent)
}

// Auditor 同步审计，负责事件的日志记录、持久化与分发
// 实时事件只分发给当前订阅者，没有订阅者时不缓存
type Auditor struct {
	sink Sink
	log  logger.Logger

	mu     sync.RWMutex
	subs   map[int]chan domain.SyncEvent
	nextID int
	closed bool
}

// New 创建审计员，sink 可为 nil
func New(sink Sink, l logger.Logger) *Auditor {
	if l == nil {
		l = logger.Nop()
	}
	return &Auditor{
		sink: sink,
		log:  l.With("component", "audit"),
		subs: make(map[int]chan domain.SyncEvent),
	}
}

// Subscribe 订阅实时事件，buffer 为通道容量
// 返回的 cancel 取消订阅并关闭通道，可重复调用
func (a *Auditor) Subscribe(buffer int) (<-chan domain.SyncEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan domain.SyncEvent, buffer)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		close(ch)
		return ch, func() {}
	}
	id := a.nextID
	a.nextID++
	a.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { a.unsubscribe(id) })
	}
}

func (a *Auditor) unsubscribe(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ch, ok := a.subs[id]; ok {
		delete(a.subs, id)
		close(ch)
	}
}

// Subscribers 当前订阅者数量
func (a *Auditor) Subscribers() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.subs)
}

// Close 关闭全部订阅通道，之后的订阅立即得到已关闭的通道
func (a *Auditor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, ch := range a.subs {
		delete(a.subs, id)
		close(ch)
	}
}

// Record 记录一次同步尝试
func (a *Auditor) Record(evt domain.SyncEvent) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	fields := []any{"traceId", evt.TraceID, "ruleId", evt.RuleID, "op", evt.Op, "attempt", evt.Attempt}
	switch evt.Status {
	case domain.SyncFailed:
		a.log.Warn("规则同步失败", append(fields, "error", evt.Error)...)
	case domain.SyncSynced:
		a.log.Info("规则同步完成", fields...)
	default:
		a.log.Debug("规则同步尝试", append(fields, "error", evt.Error)...)
	}

	if a.sink != nil {
		a.sink.Record(evt)
	}
	a.dispatch(evt)
}

// dispatch 分发事件到各订阅通道，某个订阅者的通道满时只丢弃发给它的事件
func (a *Auditor) dispatch(evt domain.SyncEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for id, ch := range a.subs {
		select {
		case ch <- evt:
		default:
			a.log.Warn("审计事件订阅通道已满，丢弃事件", "subscriber", id, "traceId", evt.TraceID, "ruleId", evt.RuleID)
		}
	}
}
