package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"rulekeeper/internal/storage/model"
	"rulekeeper/pkg/rulespec"

	"gorm.io/gorm"
)

// RuleSetRepo 规则集快照仓库
type RuleSetRepo struct {
	BaseRepository[model.RuleSetRecord]
}

// NewRuleSetRepo 创建规则集快照仓库
func NewRuleSetRepo(db *gorm.DB) *RuleSetRepo {
	return &RuleSetRepo{
		BaseRepository: *NewBaseRepository[model.RuleSetRecord](db),
	}
}

// Create 创建快照，名称不能为空且不能重复
func (r *RuleSetRepo) Create(ctx context.Context, rs *rulespec.RuleSet) (*model.RuleSetRecord, error) {
	record, err := toRecord(rs)
	if err != nil {
		return nil, err
	}
	if err := r.BaseRepository.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Upsert 按名称保存快照，已存在时覆盖规则内容
func (r *RuleSetRepo) Upsert(ctx context.Context, rs *rulespec.RuleSet) (*model.RuleSetRecord, error) {
	existing, err := r.GetByName(ctx, rs.Name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return r.Create(ctx, rs)
	}

	record, err := toRecord(rs)
	if err != nil {
		return nil, err
	}
	err = r.Db.WithContext(ctx).Model(existing).Updates(map[string]any{
		"rule_count": record.RuleCount,
		"rules_json": record.RulesJSON,
	}).Error
	if err != nil {
		return nil, err
	}
	existing.RuleCount = record.RuleCount
	existing.RulesJSON = record.RulesJSON
	return existing, nil
}

// GetByName 按名称查询快照，不存在时返回 nil
func (r *RuleSetRepo) GetByName(ctx context.Context, name string) (*model.RuleSetRecord, error) {
	return r.FindOne(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("name = ?", name)
	}))
}

// GetBySetID 按业务 ID 查询快照，不存在时返回 nil
func (r *RuleSetRepo) GetBySetID(ctx context.Context, setID string) (*model.RuleSetRecord, error) {
	return r.FindOne(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("set_id = ?", setID)
	}))
}

// List 按更新时间倒序列出全部快照
func (r *RuleSetRepo) List(ctx context.Context) ([]model.RuleSetRecord, error) {
	return r.FindAll(ctx, nil, nil, Orders{{Field: "updated_at", Sort: "DESC"}, {Field: "id", Sort: "DESC"}})
}

// DeleteByName 按名称删除快照
func (r *RuleSetRepo) DeleteByName(ctx context.Context, name string) error {
	return r.Delete(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("name = ?", name)
	}))
}

// SetActive 将指定快照标记为最近恢复的快照（同一时间只有一个）
func (r *RuleSetRepo) SetActive(ctx context.Context, name string) error {
	return r.Db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.RuleSetRecord{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		result := tx.Model(&model.RuleSetRecord{}).Where("name = ?", name).Update("is_active", true)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("快照 %q 不存在", name)
		}
		return nil
	})
}

// GetActive 获取最近恢复的快照，不存在时返回 nil
func (r *RuleSetRepo) GetActive(ctx context.Context) (*model.RuleSetRecord, error) {
	return r.FindOne(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("is_active = ?", true)
	}))
}

// ToRuleSet 将数据库记录还原为规则集
func ToRuleSet(record *model.RuleSetRecord) (*rulespec.RuleSet, error) {
	var rules []rulespec.Rule
	if err := json.Unmarshal([]byte(record.RulesJSON), &rules); err != nil {
		return nil, fmt.Errorf("解析快照 %q 失败: %w", record.Name, err)
	}
	if rules == nil {
		rules = []rulespec.Rule{}
	}
	return &rulespec.RuleSet{
		ID:    record.SetID,
		Name:  record.Name,
		Rules: rules,
	}, nil
}

// toRecord 校验规则集并转换为数据库记录
func toRecord(rs *rulespec.RuleSet) (*model.RuleSetRecord, error) {
	if rs == nil {
		return nil, fmt.Errorf("规则集不能为空")
	}
	if strings.TrimSpace(rs.Name) == "" {
		return nil, fmt.Errorf("快照名称不能为空")
	}
	if rs.ID == "" {
		return nil, fmt.Errorf("规则集 ID 不能为空")
	}
	if err := rulespec.ValidateRuleIDs(rs.Rules); err != nil {
		return nil, err
	}

	rules := rs.Rules
	if rules == nil {
		rules = []rulespec.Rule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("序列化规则失败: %w", err)
	}
	return &model.RuleSetRecord{
		SetID:     rs.ID,
		Name:      rs.Name,
		RuleCount: len(rules),
		RulesJSON: string(rulesJSON),
	}, nil
}
