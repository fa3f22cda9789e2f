package domain

import "errors"

// 规则相关错误
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// 规则引擎相关错误
var (
	ErrEngineUnavailable = errors.New("rule engine unavailable")
	ErrTargetNotFound    = errors.New("extension target not found")
	ErrSyncQueueFull     = errors.New("sync queue full")
	ErrSyncStopped       = errors.New("sync dispatcher stopped")
)

// 快照相关错误
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// 配置相关错误
var (
	ErrInvalidConfig = errors.New("invalid config")
)

// 数据库相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
)
