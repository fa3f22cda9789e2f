// Package persist 以 sqlite 表模拟规则引擎，无浏览器时使用
package persist

import (
	"context"

	"rulekeeper/internal/storage/repo"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"
)

// Gateway 基于 RuleRepo 的规则引擎
type Gateway struct {
	repo *repo.RuleRepo
}

// New 创建持久化规则引擎
func New(r *repo.RuleRepo) *Gateway {
	return &Gateway{repo: r}
}

// PushRule 实现 gateway.Gateway
func (g *Gateway) PushRule(ctx context.Context, rule rulespec.Rule) error {
	return g.repo.Replace(ctx, rule)
}

// RetractRule 实现 gateway.Gateway
func (g *Gateway) RetractRule(ctx context.Context, id domain.RuleID) error {
	return g.repo.Remove(ctx, int(id))
}

// ListRules 实现 gateway.Gateway
func (g *Gateway) ListRules(ctx context.Context) ([]rulespec.Rule, error) {
	return g.repo.List(ctx)
}
