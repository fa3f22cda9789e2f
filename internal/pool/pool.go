// Package pool 提供有界的同步任务执行池
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rulekeeper/internal/logger"
)

// Task 池中执行的任务，ctx 在池停止时取消
type Task func(ctx context.Context)

// Stats 工作池统计
type Stats struct {
	QueueLen    int   `json:"queueLen"`
	QueueCap    int   `json:"queueCap"`
	TotalSubmit int64 `json:"totalSubmit"`
	TotalDrop   int64 `json:"totalDrop"`
	TotalPanic  int64 `json:"totalPanic"`
}

// Pool 固定数量的 worker 从有界队列中取任务执行，队列满时拒绝新任务
type Pool struct {
	size     int
	queue    chan Task
	queueCap int
	log      logger.Logger

	mu          sync.Mutex
	closed      bool // ctx 取消后不再接受任务
	totalSubmit int64
	totalDrop   int64
	totalPanic  int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	// MonitorInterval 状态日志间隔，0 表示不输出
	MonitorInterval time.Duration
}

// New 创建工作池
// size: worker 数量，至少为 1；queueCap: 队列容量（若为0则默认为 size * 8）
func New(size, queueCap int, l logger.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueCap <= 0 {
		queueCap = size * 8
	}
	if l == nil {
		l = logger.Nop()
	}
	return &Pool{
		size:            size,
		queue:           make(chan Task, queueCap),
		queueCap:        queueCap,
		log:             l.With("component", "pool"),
		MonitorInterval: 30 * time.Second,
	}
}

// Start 启动 worker 协程与状态监控，ctx 取消或调用 Stop 后退出
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	if p.MonitorInterval > 0 {
		p.wg.Add(1)
		go p.monitor(ctx)
	}
}

// Stop 停止全部协程并等待退出
// 队列中尚未执行的任务以已取消的 ctx 执行一次，使任务能感知取消并收尾
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// monitor 定期输出工作池状态
func (p *Pool) monitor(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Stats()
			if st.TotalSubmit > 0 {
				usage := float64(st.QueueLen) / float64(st.QueueCap) * 100
				p.log.Info("工作池状态监控", "queueLen", st.QueueLen, "queueCap", st.QueueCap,
					"usage", fmt.Sprintf("%.1f%%", usage), "totalSubmit", st.TotalSubmit,
					"totalDrop", st.TotalDrop, "totalPanic", st.TotalPanic)
			}
		}
	}
}

// worker 工作协程，从队列中取任务并执行
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain(ctx)
			return
		case task := <-p.queue:
			if task != nil {
				p.run(ctx, task)
			}
		}
	}
}

// drain 关闭提交入口，并以已取消的 ctx 执行队列中剩余的任务
func (p *Pool) drain(ctx context.Context) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case task := <-p.queue:
			if task != nil {
				p.run(ctx, task)
			}
		default:
			return
		}
	}
}

// Closed 判断工作池是否已停止接受任务
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// run 执行单个任务，任务 panic 不会终止 worker
func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.totalPanic++
			p.mu.Unlock()
			p.log.Error("任务执行异常", "panic", fmt.Sprint(r))
		}
	}()
	task(ctx)
}

// Submit 提交任务，队列已满或工作池已停止时增加丢弃计数并返回 false
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	p.totalSubmit++
	if p.closed {
		p.totalDrop++
		p.mu.Unlock()
		p.log.Warn("工作池已停止，任务被丢弃")
		return false
	}

	// 入队与 closed 检查在同一把锁内完成，drain 之后不会再有任务进入队列
	select {
	case p.queue <- task:
		p.mu.Unlock()
		return true
	default:
		p.totalDrop++
		drop, submit := p.totalDrop, p.totalSubmit
		p.mu.Unlock()
		p.log.Warn("工作池队列已满，任务被丢弃", "queueCap", p.queueCap, "totalSubmit", submit, "totalDrop", drop)
		return false
	}
}

// Stats 返回工作池统计信息
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		QueueLen:    len(p.queue),
		QueueCap:    p.queueCap,
		TotalSubmit: p.totalSubmit,
		TotalDrop:   p.totalDrop,
		TotalPanic:  p.totalPanic,
	}
}

// Size 返回 worker 数量
func (p *Pool) Size() int {
	return p.size
}
