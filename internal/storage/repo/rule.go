package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"rulekeeper/internal/storage/model"
	"rulekeeper/pkg/rulespec"

	"gorm.io/gorm"
)

// RuleRepo 动态规则仓库
type RuleRepo struct {
	BaseRepository[model.DynamicRuleRecord]
}

// NewRuleRepo 创建动态规则仓库
func NewRuleRepo(db *gorm.DB) *RuleRepo {
	return &RuleRepo{
		BaseRepository: *NewBaseRepository[model.DynamicRuleRecord](db),
	}
}

// Replace 在一个事务内删除同 ID 的旧规则并写入新规则
func (r *RuleRepo) Replace(ctx context.Context, rule rulespec.Rule) error {
	ruleJSON, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("序列化规则失败: %w", err)
	}
	record := &model.DynamicRuleRecord{
		RuleID:     rule.ID,
		Priority:   rule.Priority,
		ActionType: string(rule.Action.Type),
		RuleJSON:   string(ruleJSON),
	}

	return r.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.Delete(ctx, rule.ID, WithTx[*DeleteConfig](tx)); err != nil {
			return err
		}
		return r.Create(ctx, record, WithTx[*CreateConfig](tx))
	})
}

// Remove 删除规则，不存在时不报错
func (r *RuleRepo) Remove(ctx context.Context, id int) error {
	return r.Delete(ctx, id)
}

// List 按 ID 升序返回全部规则
func (r *RuleRepo) List(ctx context.Context) ([]rulespec.Rule, error) {
	records, err := r.FindAll(ctx, nil, nil, Orders{{Field: "rule_id", Sort: "ASC"}})
	if err != nil {
		return nil, err
	}
	rules := make([]rulespec.Rule, 0, len(records))
	for _, rec := range records {
		var rule rulespec.Rule
		if err := json.Unmarshal([]byte(rec.RuleJSON), &rule); err != nil {
			return nil, fmt.Errorf("解析规则 %d 失败: %w", rec.RuleID, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
