package audit_test

import (
	"sync"
	"testing"
	"time"

	"rulekeeper/internal/audit"
	"rulekeeper/internal/logger"
	"rulekeeper/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []domain.SyncEvent
}

func (s *memSink) Record(evt domain.SyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func TestNew_NilLogger(t *testing.T) {
	aud := audit.New(nil, nil)
	require.NotNil(t, aud)
	assert.NotPanics(t, func() { aud.Record(domain.SyncEvent{RuleID: 1}) })
}

// TestRecord_Basic 事件写入 sink 并分发到订阅通道
func TestRecord_Basic(t *testing.T) {
	sink := &memSink{}
	aud := audit.New(sink, logger.Nop())
	events, cancel := aud.Subscribe(10)
	defer cancel()

	aud.Record(domain.SyncEvent{
		TraceID: "t1",
		RuleID:  3,
		Op:      domain.SyncOpPush,
		Status:  domain.SyncFailed,
		Attempt: 2,
		Error:   "engine down",
	})

	select {
	case evt := <-events:
		assert.Equal(t, "t1", evt.TraceID)
		assert.Equal(t, domain.RuleID(3), evt.RuleID)
		assert.Equal(t, domain.SyncFailed, evt.Status)
		assert.NotZero(t, evt.Timestamp, "未设置时间戳时自动补全")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("等待事件超时")
	}

	require.Len(t, sink.events, 1)
	assert.Equal(t, 2, sink.events[0].Attempt)
}

// TestRecord_NoSubscriber 没有订阅者时事件只写入 sink，不积压
func TestRecord_NoSubscriber(t *testing.T) {
	sink := &memSink{}
	aud := audit.New(sink, logger.Nop())

	for i := 0; i < 1000; i++ {
		aud.Record(domain.SyncEvent{RuleID: domain.RuleID(i + 1), Status: domain.SyncSynced})
	}
	assert.Len(t, sink.events, 1000)
	assert.Zero(t, aud.Subscribers())

	// 之后的订阅者只收到订阅后的事件
	events, cancel := aud.Subscribe(4)
	defer cancel()
	assert.Empty(t, events)
	aud.Record(domain.SyncEvent{TraceID: "late"})
	evt := <-events
	assert.Equal(t, "late", evt.TraceID)
}

// TestDispatch_FullChannel 通道满时丢弃事件，sink 与其他订阅者不受影响
func TestDispatch_FullChannel(t *testing.T) {
	sink := &memSink{}
	aud := audit.New(sink, logger.Nop())
	slow, cancelSlow := aud.Subscribe(1)
	defer cancelSlow()
	fast, cancelFast := aud.Subscribe(4)
	defer cancelFast()

	aud.Record(domain.SyncEvent{TraceID: "first"})
	aud.Record(domain.SyncEvent{TraceID: "second"})

	evt := <-slow
	assert.Equal(t, "first", evt.TraceID)
	select {
	case evt := <-slow:
		t.Errorf("第二个事件应被丢弃，实际收到 %s", evt.TraceID)
	default:
	}
	assert.Len(t, fast, 2)
	assert.Len(t, sink.events, 2)
}

// TestSubscribe_Cancel 取消订阅后通道关闭，不再分发
func TestSubscribe_Cancel(t *testing.T) {
	aud := audit.New(nil, logger.Nop())
	events, cancel := aud.Subscribe(4)
	require.Equal(t, 1, aud.Subscribers())

	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Zero(t, aud.Subscribers())
	assert.NotPanics(t, func() { aud.Record(domain.SyncEvent{RuleID: 1}) })
}

// TestClose 关闭后现有与新的订阅通道均已关闭
func TestClose(t *testing.T) {
	aud := audit.New(nil, logger.Nop())
	events, cancel := aud.Subscribe(4)

	aud.Close()
	_, open := <-events
	assert.False(t, open)
	assert.NotPanics(t, cancel)

	late, _ := aud.Subscribe(4)
	_, open = <-late
	assert.False(t, open)
}
