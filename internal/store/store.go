// Package store 维护规则的有序内存镜像，并在每次变更后请求与规则引擎同步
package store

import (
	"fmt"
	"slices"
	"sync"

	"rulekeeper/internal/logger"
	"rulekeeper/internal/normalize"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"
)

// Dispatcher 同步派发能力，由宿主注入
// 实现不能阻塞调用方，Store 在持锁状态下调用以保证同一 ID 的派发顺序与变更顺序一致
type Dispatcher interface {
	// Push 请求以先删后加的方式安装规则
	Push(rule rulespec.Rule)
	// Retract 请求移除规则
	Retract(id domain.RuleID)
}

// Store 规则存储，按插入顺序保存规范化后的规则
type Store struct {
	mu         sync.RWMutex
	rules      []rulespec.Rule
	dispatcher Dispatcher
	log        logger.Logger
}

// New 创建规则存储，dispatcher 为 nil 表示没有可用的规则引擎，同步被静默跳过
func New(dispatcher Dispatcher, l logger.Logger) *Store {
	if l == nil {
		l = logger.Nop()
	}
	return &Store{
		dispatcher: dispatcher,
		log:        l.With("component", "store"),
	}
}

// HasEngine 是否注入了同步能力
func (s *Store) HasEngine() bool {
	return s.dispatcher != nil
}

// Add 新建规则：分配 ID，规范化条件与行为，追加到末尾并请求同步
func (s *Store) Add(cond rulespec.Condition, action rulespec.Action, priority int) (rulespec.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := normalize.NewRule(rulespec.Rule{
		ID:        nextID(s.rules),
		Priority:  priority,
		Action:    action,
		Condition: cond,
	})
	if err != nil {
		return rulespec.Rule{}, err
	}

	s.rules = append(s.rules, rule)
	s.log.Debug("规则已添加", "ruleId", rule.ID, "action", rule.Action.Type)
	s.push(rule)
	return rule.Clone(), nil
}

// Update 合并局部修改并重新规范化
// ID 不存在时返回 domain.ErrRuleNotFound；校验失败时保留原规则
func (s *Store) Update(id domain.RuleID, patch rulespec.RulePatch) (rulespec.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return rulespec.Rule{}, fmt.Errorf("%w: %d", domain.ErrRuleNotFound, id)
	}

	rule, err := normalize.Rule(patch.Apply(s.rules[idx]))
	if err != nil {
		return rulespec.Rule{}, err
	}

	s.rules[idx] = rule
	s.log.Debug("规则已更新", "ruleId", rule.ID)
	s.push(rule)
	return rule.Clone(), nil
}

// Remove 删除规则并请求从引擎移除，ID 不存在时不做任何事
// 返回是否实际删除
func (s *Store) Remove(id domain.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	s.rules = slices.Delete(s.rules, idx, idx+1)
	s.log.Debug("规则已删除", "ruleId", id)
	if s.dispatcher != nil {
		s.dispatcher.Retract(id)
	}
	return true
}

// List 按插入顺序返回全部规则的快照
func (s *Store) List() []rulespec.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rulespec.Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.Clone()
	}
	return out
}

// Get 获取单条规则
func (s *Store) Get(id domain.RuleID) (rulespec.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return rulespec.Rule{}, fmt.Errorf("%w: %d", domain.ErrRuleNotFound, id)
	}
	return s.rules[idx].Clone(), nil
}

// Len 规则数量
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Load 用引擎中已安装的规则重建镜像，不触发同步
// 任一规则非法时整体失败，原有内容保持不变
func (s *Store) Load(rules []rulespec.Rule) error {
	if err := rulespec.ValidateRuleIDs(rules); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRule, err)
	}

	loaded := make([]rulespec.Rule, 0, len(rules))
	for _, r := range rules {
		n, err := normalize.Rule(r)
		if err != nil {
			return fmt.Errorf("规则 %d: %w", r.ID, err)
		}
		loaded = append(loaded, n)
	}

	s.mu.Lock()
	s.rules = loaded
	s.mu.Unlock()

	s.log.Info("规则镜像已重建", "count", len(loaded))
	return nil
}

func (s *Store) push(rule rulespec.Rule) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Push(rule.Clone())
}

func (s *Store) indexOf(id domain.RuleID) int {
	return slices.IndexFunc(s.rules, func(r rulespec.Rule) bool { return r.ID == int(id) })
}
