// Package model 定义数据库表结构
package model

import (
	"time"
)

// DynamicRuleRecord 动态规则表，作为无浏览器时的规则引擎
type DynamicRuleRecord struct {
	RuleID     int       `gorm:"primaryKey;autoIncrement:false" json:"ruleId"` // 规则 ID
	Priority   int       `json:"priority"`                                     // 优先级
	ActionType string    `gorm:"index" json:"actionType"`                      // 行为类型
	RuleJSON   string    `gorm:"type:text" json:"ruleJson"`                    // 完整规则 JSON
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// SyncEventRecord 同步事件表
type SyncEventRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TraceID   string    `gorm:"index" json:"traceId"`
	RuleID    int       `gorm:"index" json:"ruleId"`
	Op        string    `json:"op"`
	Status    string    `gorm:"index" json:"status"` // pending / synced / failed
	Attempt   int       `json:"attempt"`
	Error     string    `gorm:"type:text" json:"error"`
	Timestamp int64     `gorm:"index" json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// RuleSetRecord 规则集快照表
type RuleSetRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`              // 数据库主键（内部使用）
	SetID     string    `gorm:"uniqueIndex;not null" json:"setId"` // 规则集业务 ID
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`  // 快照名称
	RuleCount int       `json:"ruleCount"`                         // 规则数量
	RulesJSON string    `gorm:"type:text" json:"rulesJson"`        // 规则数组 JSON
	IsActive  bool      `gorm:"default:false" json:"isActive"`     // 最近一次恢复的快照
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// All 返回需要迁移的全部模型
func All() []any {
	return []any{&DynamicRuleRecord{}, &SyncEventRecord{}, &RuleSetRecord{}}
}
