// Package syncer 按规则 ID 串行地把本地变更同步到规则引擎
//
// 每个 ID 同时最多一个调用在途；在途期间到达的新任务只保留最新一个，
// 因为推送是先删后加，最新定义即最终状态。本地状态从不回滚，
// 同步结果通过每条规则的同步状态与审计事件体现。
package syncer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"rulekeeper/internal/audit"
	"rulekeeper/internal/gateway"
	"rulekeeper/internal/logger"
	"rulekeeper/internal/pool"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options 同步调度参数
type Options struct {
	Retries         int           // 失败后的最大重试次数
	RatePerSecond   float64       // 引擎调用速率上限，0 表示不限速
	Burst           int           // 速率突发量
	Timeout         time.Duration // 单次调用超时，0 表示不限制
	InitialInterval time.Duration // 首次重试间隔
	MaxInterval     time.Duration // 重试间隔上限
}

// DefaultOptions 默认同步参数
func DefaultOptions() Options {
	return Options{
		Retries:         3,
		Burst:           1,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

type task struct {
	traceID string
	op      domain.SyncOp
	id      domain.RuleID
	rule    rulespec.Rule
}

// slot 单个规则 ID 的调度槽
type slot struct {
	running bool
	next    *task
}

// Syncer 同步调度器，实现 store.Dispatcher
type Syncer struct {
	gw      gateway.Gateway
	pool    *pool.Pool
	auditor *audit.Auditor
	limiter *rate.Limiter
	opts    Options
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	slots   map[domain.RuleID]*slot
	states  map[domain.RuleID]domain.SyncState
}

// New 创建同步调度器，任务在 p 上执行，p 需由调用方启动
func New(gw gateway.Gateway, p *pool.Pool, auditor *audit.Auditor, opts Options, l logger.Logger) *Syncer {
	if l == nil {
		l = logger.Nop()
	}
	if auditor == nil {
		auditor = audit.New(nil, l)
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultOptions().InitialInterval
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = max(DefaultOptions().MaxInterval, opts.InitialInterval)
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(opts.Burst, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		gw:      gw,
		pool:    p,
		auditor: auditor,
		limiter: limiter,
		opts:    opts,
		log:     l.With("component", "syncer"),
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(map[domain.RuleID]*slot),
		states:  make(map[domain.RuleID]domain.SyncState),
	}
}

// Push 请求安装规则
func (s *Syncer) Push(rule rulespec.Rule) {
	s.submit(task{op: domain.SyncOpPush, id: domain.RuleID(rule.ID), rule: rule.Clone()})
}

// Retract 请求移除规则
func (s *Syncer) Retract(id domain.RuleID) {
	s.submit(task{op: domain.SyncOpRetract, id: id})
}

// State 返回规则的同步状态，从未同步或已成功移除时返回 false
func (s *Syncer) State(id domain.RuleID) (domain.SyncState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok
}

// States 按规则 ID 升序返回全部同步状态
func (s *Syncer) States() []domain.SyncState {
	s.mu.Lock()
	out := make([]domain.SyncState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.SyncState) int { return int(a.RuleID - b.RuleID) })
	return out
}

// Wait 阻塞到所有已派发的任务（含合并后的后续任务）执行完毕
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// Stop 拒绝新任务，取消在途调用并等待退出
func (s *Syncer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) submit(t task) {
	t.traceID = uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.log.Warn("同步调度器已停止，忽略任务", "ruleId", t.id, "op", t.op)
		return
	}

	s.setState(t, domain.SyncPending, 0, "")

	sl := s.slots[t.id]
	if sl == nil {
		sl = &slot{}
		s.slots[t.id] = sl
	}
	if sl.running {
		// 在途期间只保留最新任务
		sl.next = &t
		return
	}
	sl.running = true
	s.dispatch(sl, t)
}

// dispatch 把任务交给工作池，需持有 s.mu
func (s *Syncer) dispatch(sl *slot, t task) {
	s.wg.Add(1)
	if s.pool.Submit(func(ctx context.Context) { s.run(ctx, t) }) {
		return
	}
	s.wg.Done()

	reason := domain.ErrSyncQueueFull
	if s.pool.Closed() {
		reason = domain.ErrSyncStopped
	}
	sl.running = false
	delete(s.slots, t.id)
	s.setState(t, domain.SyncFailed, 0, reason.Error())
	s.auditor.Record(domain.SyncEvent{
		TraceID:   t.traceID,
		RuleID:    t.id,
		Op:        t.op,
		Status:    domain.SyncFailed,
		Error:     reason.Error(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// run 在 worker 中执行任务，结束前派发同 ID 的后续任务
func (s *Syncer) run(poolCtx context.Context, t task) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(poolCtx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	attempts, err := s.execute(ctx, t)
	s.finish(t, attempts, err)
}

// execute 带重试地调用规则引擎，返回尝试次数与最终错误
func (s *Syncer) execute(ctx context.Context, t task) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		callCtx := ctx
		if s.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
			defer cancel()
		}
		return s.call(callCtx, t)
	}

	notify := func(err error, next time.Duration) {
		s.auditor.Record(domain.SyncEvent{
			TraceID:   t.traceID,
			RuleID:    t.id,
			Op:        t.op,
			Status:    domain.SyncPending,
			Attempt:   attempts,
			Error:     err.Error(),
			Timestamp: time.Now().UnixMilli(),
		})
		s.log.Debug("同步失败，稍后重试", "ruleId", t.id, "attempt", attempts, "next", next.String())
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialInterval
	b.MaxInterval = s.opts.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.opts.Retries, 0))), ctx)

	err := backoff.RetryNotify(operation, policy, notify)
	return attempts, err
}

func (s *Syncer) call(ctx context.Context, t task) error {
	switch t.op {
	case domain.SyncOpPush:
		return s.gw.PushRule(ctx, t.rule)
	case domain.SyncOpRetract:
		return s.gw.RetractRule(ctx, t.id)
	}
	return errors.New("unknown sync op")
}

// finish 记录结果；同 ID 有后续任务时立即派发，状态保持 pending
func (s *Syncer) finish(t task, attempts int, err error) {
	evt := domain.SyncEvent{
		TraceID:   t.traceID,
		RuleID:    t.id,
		Op:        t.op,
		Status:    domain.SyncSynced,
		Attempt:   attempts,
		Timestamp: time.Now().UnixMilli(),
	}
	if err != nil {
		evt.Status = domain.SyncFailed
		evt.Error = err.Error()
	}
	s.auditor.Record(evt)

	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slots[t.id]
	superseded := sl != nil && sl.next != nil

	if !superseded {
		switch {
		case err != nil:
			s.setState(t, domain.SyncFailed, attempts, err.Error())
		case t.op == domain.SyncOpRetract:
			delete(s.states, t.id)
		default:
			s.setState(t, domain.SyncSynced, attempts, "")
		}
	}

	if sl == nil {
		return
	}
	if superseded && !s.stopped {
		next := *sl.next
		sl.next = nil
		s.dispatch(sl, next)
		return
	}
	sl.running = false
	sl.next = nil
	delete(s.slots, t.id)
}

// setState 更新状态，需持有 s.mu
func (s *Syncer) setState(t task, status domain.SyncStatus, attempts int, lastErr string) {
	s.states[t.id] = domain.SyncState{
		RuleID:    t.id,
		Status:    status,
		Op:        t.op,
		Attempts:  attempts,
		LastError: lastErr,
		UpdatedAt: time.Now().UnixMilli(),
	}
}
