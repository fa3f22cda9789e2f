package api

import (
	"context"

	"rulekeeper/internal/config"
	"rulekeeper/internal/editor"
	"rulekeeper/internal/logger"
	"rulekeeper/internal/service"
	"rulekeeper/internal/storage/model"
	"rulekeeper/internal/storage/repo"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"
)

// Service 服务接口
type Service interface {
	// ListRules 按插入顺序列出规则
	ListRules(ctx context.Context) []rulespec.Rule

	// GetRule 获取规则
	GetRule(ctx context.Context, id domain.RuleID) (rulespec.Rule, error)

	// AddRule 新建规则
	AddRule(ctx context.Context, cond rulespec.Condition, action rulespec.Action, priority int) (rulespec.Rule, error)

	// UpdateRule 局部修改规则
	UpdateRule(ctx context.Context, id domain.RuleID, patch rulespec.RulePatch) (rulespec.Rule, error)

	// ApplyEdit 应用字段编辑
	ApplyEdit(ctx context.Context, id domain.RuleID, e editor.Edit) (rulespec.Rule, error)

	// CurrentEdit 获取字段当前的编辑状态
	CurrentEdit(ctx context.Context, id domain.RuleID, kind editor.Kind) (editor.Edit, error)

	// RemoveRule 删除规则
	RemoveRule(ctx context.Context, id domain.RuleID) bool

	// ImportRules 导入规则集
	ImportRules(ctx context.Context, data []byte) ([]rulespec.Rule, error)

	// ExportRules 导出规则集
	ExportRules(ctx context.Context, name string, format rulespec.Format) ([]byte, error)

	// Match 试匹配
	Match(ctx context.Context, req domain.MatchRequest) domain.MatchOutcome

	// MatchStats 获取试匹配统计
	MatchStats(ctx context.Context) domain.EngineStats

	// ResetMatchStats 清零试匹配统计，返回清零前的统计
	ResetMatchStats(ctx context.Context) domain.EngineStats

	// SyncStates 获取同步状态
	SyncStates(ctx context.Context) []domain.SyncState

	// WaitSync 等待同步完成
	WaitSync(ctx context.Context) error

	// SubscribeEvents 订阅同步事件，ctx 取消或服务关闭时通道关闭
	SubscribeEvents(ctx context.Context) <-chan domain.SyncEvent

	// QueryEvents 查询同步事件历史
	QueryEvents(ctx context.Context, opts repo.QueryOptions) ([]model.SyncEventRecord, int64, error)

	// CleanupEvents 清理旧同步事件
	CleanupEvents(ctx context.Context, retentionDays int) (int64, error)

	// SaveSnapshot 保存快照
	SaveSnapshot(ctx context.Context, name string) (*model.RuleSetRecord, error)

	// ListSnapshots 列出快照
	ListSnapshots(ctx context.Context) ([]model.RuleSetRecord, error)

	// DeleteSnapshot 删除快照
	DeleteSnapshot(ctx context.Context, name string) error

	// RestoreSnapshot 恢复快照
	RestoreSnapshot(ctx context.Context, name string) ([]rulespec.Rule, error)

	// Status 获取运行状态
	Status(ctx context.Context) domain.ServiceStatus

	// Close 关闭服务
	Close() error
}

// NewService 创建并返回服务接口实现
func NewService(ctx context.Context, cfg *config.Config, l logger.Logger, opts ...service.Option) (Service, error) {
	s, err := service.New(ctx, cfg, l, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
