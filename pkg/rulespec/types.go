// Package rulespec 定义 declarativeNetRequest 动态规则的数据结构
package rulespec

import "slices"

// DefaultPriority 新建规则的默认优先级
const DefaultPriority = 1

// Rule 规则定义，字段与浏览器 declarativeNetRequest.Rule 一致
type Rule struct {
	ID        int       `json:"id" yaml:"id"`               // 规则唯一标识符，大于 0
	Priority  int       `json:"priority" yaml:"priority"`   // 优先级，数值越大越先生效
	Action    Action    `json:"action" yaml:"action"`       // 命中后的行为
	Condition Condition `json:"condition" yaml:"condition"` // 匹配条件
}

// Condition 匹配条件，所有字段可选，空值在规范化后不出现
type Condition struct {
	URLFilter                string         `json:"urlFilter,omitempty" yaml:"urlFilter,omitempty"`
	RegexFilter              string         `json:"regexFilter,omitempty" yaml:"regexFilter,omitempty"`
	IsURLFilterCaseSensitive bool           `json:"isUrlFilterCaseSensitive,omitempty" yaml:"isUrlFilterCaseSensitive,omitempty"`
	ResourceTypes            []ResourceType `json:"resourceTypes,omitempty" yaml:"resourceTypes,omitempty"`
	ExcludedResourceTypes    []ResourceType `json:"excludedResourceTypes,omitempty" yaml:"excludedResourceTypes,omitempty"`
	RequestMethods           []string       `json:"requestMethods,omitempty" yaml:"requestMethods,omitempty"`
	ExcludedRequestMethods   []string       `json:"excludedRequestMethods,omitempty" yaml:"excludedRequestMethods,omitempty"`
	InitiatorDomains         []string       `json:"initiatorDomains,omitempty" yaml:"initiatorDomains,omitempty"`
	ExcludedInitiatorDomains []string       `json:"excludedInitiatorDomains,omitempty" yaml:"excludedInitiatorDomains,omitempty"`
	RequestDomains           []string       `json:"requestDomains,omitempty" yaml:"requestDomains,omitempty"`
	ExcludedRequestDomains   []string       `json:"excludedRequestDomains,omitempty" yaml:"excludedRequestDomains,omitempty"`
}

// ActionType 行为类型
type ActionType string

const (
	ActionBlock         ActionType = "block"         // 拦截请求
	ActionAllow         ActionType = "allow"         // 放行，屏蔽低优先级规则
	ActionUpgradeScheme ActionType = "upgradeScheme" // http 升级为 https
	ActionRedirect      ActionType = "redirect"      // 重定向
	ActionModifyHeaders ActionType = "modifyHeaders" // 修改请求头
)

// ActionTypes 按浏览器同优先级裁决顺序排列的全部行为类型
var ActionTypes = []ActionType{
	ActionAllow,
	ActionBlock,
	ActionUpgradeScheme,
	ActionRedirect,
	ActionModifyHeaders,
}

// IsValid 判断行为类型是否合法
func (t ActionType) IsValid() bool {
	return slices.Contains(ActionTypes, t)
}

// Precedence 同优先级下的裁决顺序，数值越小越优先
func (t ActionType) Precedence() int {
	if i := slices.Index(ActionTypes, t); i >= 0 {
		return i
	}
	return len(ActionTypes)
}

// HeaderOperation 请求头操作
type HeaderOperation string

const (
	HeaderAppend HeaderOperation = "append"
	HeaderSet    HeaderOperation = "set"
	HeaderRemove HeaderOperation = "remove"
)

// IsValid 判断操作是否合法
func (o HeaderOperation) IsValid() bool {
	return o == HeaderAppend || o == HeaderSet || o == HeaderRemove
}

// Redirect 重定向目标，url 与 regexSubstitution 二选一
type Redirect struct {
	URL               string `json:"url,omitempty" yaml:"url,omitempty"`
	RegexSubstitution string `json:"regexSubstitution,omitempty" yaml:"regexSubstitution,omitempty"`
}

// ModifyHeaderInfo 单条请求头修改，列表顺序即应用顺序
type ModifyHeaderInfo struct {
	Header    string          `json:"header" yaml:"header"`
	Operation HeaderOperation `json:"operation" yaml:"operation"`
	Value     string          `json:"value,omitempty" yaml:"value,omitempty"`
}

// Action 行为定义
type Action struct {
	Type           ActionType         `json:"type" yaml:"type"`
	Redirect       *Redirect          `json:"redirect,omitempty" yaml:"redirect,omitempty"`
	RequestHeaders []ModifyHeaderInfo `json:"requestHeaders,omitempty" yaml:"requestHeaders,omitempty"`
}

// Clone 深拷贝规则
func (r Rule) Clone() Rule {
	r.Action = r.Action.Clone()
	r.Condition = r.Condition.Clone()
	return r
}

// Clone 深拷贝行为
func (a Action) Clone() Action {
	if a.Redirect != nil {
		rd := *a.Redirect
		a.Redirect = &rd
	}
	a.RequestHeaders = slices.Clone(a.RequestHeaders)
	return a
}

// Clone 深拷贝条件
func (c Condition) Clone() Condition {
	c.ResourceTypes = slices.Clone(c.ResourceTypes)
	c.ExcludedResourceTypes = slices.Clone(c.ExcludedResourceTypes)
	c.RequestMethods = slices.Clone(c.RequestMethods)
	c.ExcludedRequestMethods = slices.Clone(c.ExcludedRequestMethods)
	c.InitiatorDomains = slices.Clone(c.InitiatorDomains)
	c.ExcludedInitiatorDomains = slices.Clone(c.ExcludedInitiatorDomains)
	c.RequestDomains = slices.Clone(c.RequestDomains)
	c.ExcludedRequestDomains = slices.Clone(c.ExcludedRequestDomains)
	return c
}
