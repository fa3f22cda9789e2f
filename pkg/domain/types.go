package domain

// RuleID 规则ID，与浏览器动态规则 id 一致，必须大于 0
type RuleID int

// SyncOp 同步操作类型
type SyncOp string

const (
	SyncOpPush    SyncOp = "push"    // 先删除后添加
	SyncOpRetract SyncOp = "retract" // 删除
)

// SyncStatus 单条规则的同步状态
type SyncStatus string

const (
	SyncPending SyncStatus = "pending" // 已提交，尚未完成
	SyncSynced  SyncStatus = "synced"  // 已与规则引擎一致
	SyncFailed  SyncStatus = "failed"  // 最近一次同步失败
)

// SyncState 规则同步状态快照
type SyncState struct {
	RuleID    RuleID     `json:"ruleId"`
	Status    SyncStatus `json:"status"`
	Op        SyncOp     `json:"op"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"lastError,omitempty"`
	UpdatedAt int64      `json:"updatedAt"`
}

// SyncEvent 一次同步尝试的审计事件
type SyncEvent struct {
	TraceID   string     `json:"traceId"`
	RuleID    RuleID     `json:"ruleId"`
	Op        SyncOp     `json:"op"`
	Status    SyncStatus `json:"status"`
	Attempt   int        `json:"attempt"`
	Error     string     `json:"error,omitempty"`
	Timestamp int64      `json:"timestamp"`
}

// MatchRequest 规则试匹配的请求信息
type MatchRequest struct {
	URL          string            `json:"url"`
	Method       string            `json:"method,omitempty"`
	ResourceType string            `json:"resourceType,omitempty"`
	Initiator    string            `json:"initiator,omitempty"` // 发起方 URL 或域名
	Headers      map[string]string `json:"headers,omitempty"`   // 原始请求头，用于预览请求头修改结果
}

// RuleMatch 规则匹配信息
type RuleMatch struct {
	RuleID   RuleID `json:"ruleId"`
	Priority int    `json:"priority"`
	Action   string `json:"action"`
}

// MatchOutcome 试匹配结果
type MatchOutcome struct {
	Matched      []RuleMatch `json:"matched"`
	Winner       *RuleMatch  `json:"winner,omitempty"`      // 最终生效的非 modifyHeaders 规则
	HeaderRules  []RuleMatch `json:"headerRules,omitempty"` // 生效的 modifyHeaders 规则
	ResourceType string      `json:"resourceType"`          // 实际参与匹配的资源类型

	// RequestHeaders 生效的请求头规则应用后的请求头，没有生效的请求头规则时为空
	RequestHeaders map[string]string `json:"requestHeaders,omitempty"`
}

// EngineStats 匹配统计信息
type EngineStats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[RuleID]int64 `json:"byRule"`
}

// ServiceStatus 服务运行状态
type ServiceStatus struct {
	Version   string `json:"version"`
	Engine    string `json:"engine"`    // 规则引擎类型
	HasEngine bool   `json:"hasEngine"` // 是否连接了规则引擎
	Rules     int    `json:"rules"`     // 本地规则数量
	Pending   int    `json:"pending"`   // 同步中的规则数量
	Failed    int    `json:"failed"`    // 最近一次同步失败的规则数量
	QueueLen  int    `json:"queueLen"`  // 同步队列长度
	Workers   int    `json:"workers"`   // 同步 worker 数量，无引擎时为 0
}
