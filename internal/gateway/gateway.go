// Package gateway 定义与浏览器规则引擎交互的接口
package gateway

import (
	"context"
	"errors"
	"slices"
	"sync"

	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"
)

// Gateway 规则引擎网关
type Gateway interface {
	// PushRule 先移除同 ID 的已有规则再安装新规则，重复调用结果相同
	PushRule(ctx context.Context, rule rulespec.Rule) error
	// RetractRule 移除规则，不存在时不做任何事
	RetractRule(ctx context.Context, id domain.RuleID) error
	// ListRules 返回引擎中已安装的全部规则
	ListRules(ctx context.Context) ([]rulespec.Rule, error)
}

// Closer 持有连接的网关实现该接口
type Closer interface {
	Close() error
}

// Close 关闭网关持有的资源，未实现 Closer 时直接返回
func Close(g Gateway) error {
	if c, ok := g.(Closer); ok {
		return c.Close()
	}
	return nil
}

// ErrInjected Memory 注入的失败
var ErrInjected = errors.New("injected engine failure")

// Memory 进程内规则引擎，用于预览与测试
type Memory struct {
	mu    sync.Mutex
	rules []rulespec.Rule
	calls int
	// fail 返回非 nil 时本次调用失败
	fail func(op domain.SyncOp, id domain.RuleID) error
}

// NewMemory 创建进程内引擎
func NewMemory() *Memory {
	return &Memory{}
}

// FailWith 设置失败注入函数，nil 表示不再注入
func (m *Memory) FailWith(fn func(op domain.SyncOp, id domain.RuleID) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// FailTimes 让接下来的 n 次调用失败
func (m *Memory) FailTimes(n int) {
	remaining := n
	m.FailWith(func(domain.SyncOp, domain.RuleID) error {
		if remaining <= 0 {
			return nil
		}
		remaining--
		return ErrInjected
	})
}

// PushRule 实现 Gateway
func (m *Memory) PushRule(ctx context.Context, rule rulespec.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.injected(domain.SyncOpPush, domain.RuleID(rule.ID)); err != nil {
		return err
	}
	m.rules = slices.DeleteFunc(m.rules, func(r rulespec.Rule) bool { return r.ID == rule.ID })
	m.rules = append(m.rules, rule.Clone())
	return nil
}

// RetractRule 实现 Gateway
func (m *Memory) RetractRule(ctx context.Context, id domain.RuleID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.injected(domain.SyncOpRetract, id); err != nil {
		return err
	}
	m.rules = slices.DeleteFunc(m.rules, func(r rulespec.Rule) bool { return r.ID == int(id) })
	return nil
}

// ListRules 实现 Gateway，按 ID 升序返回
func (m *Memory) ListRules(ctx context.Context) ([]rulespec.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]rulespec.Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Clone()
	}
	slices.SortFunc(out, func(a, b rulespec.Rule) int { return a.ID - b.ID })
	return out, nil
}

// Calls 累计调用次数
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) injected(op domain.SyncOp, id domain.RuleID) error {
	if m.fail == nil {
		return nil
	}
	return m.fail(op, id)
}
