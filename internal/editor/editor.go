// Package editor 定义规则编辑对话框的可编辑字段种类
// 每个种类携带自己的表单状态，并转换为规则的局部修改
package editor

import (
	"encoding/json"
	"slices"

	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind 可编辑字段种类
type Kind string

const (
	KindURLFilter                Kind = "urlFilter"
	KindResourceTypes            Kind = "resourceTypes"
	KindRequestMethods           Kind = "requestMethods"
	KindInitiatorDomains         Kind = "initiatorDomains"
	KindExcludedInitiatorDomains Kind = "excludedInitiatorDomains"
	KindRequestDomains           Kind = "requestDomains"
	KindExcludedRequestDomains   Kind = "excludedRequestDomains"
	KindAction                   Kind = "action"
	KindPriority                 Kind = "priority"
)

// Kinds 全部可编辑字段种类
var Kinds = []Kind{
	KindURLFilter,
	KindResourceTypes,
	KindRequestMethods,
	KindInitiatorDomains,
	KindExcludedInitiatorDomains,
	KindRequestDomains,
	KindExcludedRequestDomains,
	KindAction,
	KindPriority,
}

func (k Kind) isDomain() bool {
	switch k {
	case KindInitiatorDomains, KindExcludedInitiatorDomains, KindRequestDomains, KindExcludedRequestDomains:
		return true
	}
	return false
}

// Edit 一次字段编辑
type Edit interface {
	Kind() Kind
	// Patch 将表单状态转换为规则局部修改
	Patch() (rulespec.RulePatch, error)
}

// FilterMode URL 过滤方式
type FilterMode string

const (
	FilterURL   FilterMode = "url"
	FilterRegex FilterMode = "regex"
)

// ListMode 包含或排除
type ListMode string

const (
	ModeInclude ListMode = "include"
	ModeExclude ListMode = "exclude"
)

// Replacement 重定向替换方式
type Replacement string

const (
	ReplaceURL   Replacement = "url"
	ReplaceRegex Replacement = "regex"
)

// URLFilterEdit URL 过滤器编辑，设置一种过滤方式会清空另一种
type URLFilterEdit struct {
	Mode          FilterMode `json:"mode"`
	Filter        string     `json:"filter"`
	CaseSensitive bool       `json:"caseSensitive"`
}

func (URLFilterEdit) Kind() Kind { return KindURLFilter }

func (e URLFilterEdit) Patch() (rulespec.RulePatch, error) {
	filter, empty := e.Filter, ""
	cp := &rulespec.ConditionPatch{IsURLFilterCaseSensitive: &e.CaseSensitive}
	switch e.Mode {
	case FilterURL, "":
		cp.URLFilter, cp.RegexFilter = &filter, &empty
	case FilterRegex:
		cp.URLFilter, cp.RegexFilter = &empty, &filter
	default:
		return rulespec.RulePatch{}, errx.Invalid(errx.CodeInvalidEdit, "未知的过滤方式: %q", e.Mode)
	}
	return rulespec.RulePatch{Condition: cp}, nil
}

// ResourceTypesEdit 资源类型编辑
type ResourceTypesEdit struct {
	Mode  ListMode                `json:"mode"`
	Types []rulespec.ResourceType `json:"types"`
}

func (ResourceTypesEdit) Kind() Kind { return KindResourceTypes }

func (e ResourceTypesEdit) Patch() (rulespec.RulePatch, error) {
	include, exclude, err := pair(e.Mode, e.Types)
	if err != nil {
		return rulespec.RulePatch{}, err
	}
	return rulespec.RulePatch{Condition: &rulespec.ConditionPatch{
		ResourceTypes:         include,
		ExcludedResourceTypes: exclude,
	}}, nil
}

// RequestMethodsEdit 请求方法编辑
type RequestMethodsEdit struct {
	Mode    ListMode `json:"mode"`
	Methods []string `json:"methods"`
}

func (RequestMethodsEdit) Kind() Kind { return KindRequestMethods }

func (e RequestMethodsEdit) Patch() (rulespec.RulePatch, error) {
	include, exclude, err := pair(e.Mode, e.Methods)
	if err != nil {
		return rulespec.RulePatch{}, err
	}
	return rulespec.RulePatch{Condition: &rulespec.ConditionPatch{
		RequestMethods:         include,
		ExcludedRequestMethods: exclude,
	}}, nil
}

// pair 按模式填充一侧并清空另一侧，两侧均为非 nil 切片
func pair[T any](mode ListMode, values []T) ([]T, []T, error) {
	values = slices.Clone(values)
	if values == nil {
		values = []T{}
	}
	switch mode {
	case ModeInclude, "":
		return values, []T{}, nil
	case ModeExclude:
		return []T{}, values, nil
	default:
		return nil, nil, errx.Invalid(errx.CodeInvalidEdit, "未知的列表模式: %q", mode)
	}
}

// DomainsEdit 四个域名字段之一的编辑
type DomainsEdit struct {
	Field   Kind     `json:"field"`
	Domains []string `json:"domains"`
}

func (e DomainsEdit) Kind() Kind { return e.Field }

func (e DomainsEdit) Patch() (rulespec.RulePatch, error) {
	domains := slices.Clone(e.Domains)
	if domains == nil {
		domains = []string{}
	}
	cp := &rulespec.ConditionPatch{}
	switch e.Field {
	case KindInitiatorDomains:
		cp.InitiatorDomains = domains
	case KindExcludedInitiatorDomains:
		cp.ExcludedInitiatorDomains = domains
	case KindRequestDomains:
		cp.RequestDomains = domains
	case KindExcludedRequestDomains:
		cp.ExcludedRequestDomains = domains
	default:
		return rulespec.RulePatch{}, errx.Invalid(errx.CodeInvalidEdit, "未知的域名字段: %q", e.Field)
	}
	return rulespec.RulePatch{Condition: cp}, nil
}

// ActionEdit 行为编辑
// 重定向时按 Replacement 选择替换方式，选择一种会清空另一种
type ActionEdit struct {
	Type          rulespec.ActionType         `json:"type"`
	Replacement   Replacement                 `json:"replacement,omitempty"`
	RedirectValue string                      `json:"redirectValue,omitempty"`
	Headers       []rulespec.ModifyHeaderInfo `json:"headers,omitempty"`
}

func (ActionEdit) Kind() Kind { return KindAction }

func (e ActionEdit) Patch() (rulespec.RulePatch, error) {
	if !e.Type.IsValid() {
		return rulespec.RulePatch{}, errx.Invalid(errx.CodeInvalidEdit, "未知的行为类型: %q", e.Type)
	}
	typ := e.Type
	ap := &rulespec.ActionPatch{Type: &typ}

	switch e.Type {
	case rulespec.ActionRedirect:
		value, empty := e.RedirectValue, ""
		switch e.Replacement {
		case ReplaceURL, "":
			ap.Redirect = &rulespec.RedirectPatch{URL: &value, RegexSubstitution: &empty}
		case ReplaceRegex:
			ap.Redirect = &rulespec.RedirectPatch{URL: &empty, RegexSubstitution: &value}
		default:
			return rulespec.RulePatch{}, errx.Invalid(errx.CodeInvalidEdit, "未知的替换方式: %q", e.Replacement)
		}
	case rulespec.ActionModifyHeaders:
		ap.RequestHeaders = slices.Clone(e.Headers)
		if ap.RequestHeaders == nil {
			ap.RequestHeaders = []rulespec.ModifyHeaderInfo{}
		}
	}
	return rulespec.RulePatch{Action: ap}, nil
}

// PriorityEdit 优先级编辑
type PriorityEdit struct {
	Priority int `json:"priority"`
}

func (PriorityEdit) Kind() Kind { return KindPriority }

func (e PriorityEdit) Patch() (rulespec.RulePatch, error) {
	if e.Priority < 1 {
		return rulespec.RulePatch{}, errx.Invalid(errx.CodeInvalidEdit, "优先级必须大于 0: %d", e.Priority)
	}
	p := e.Priority
	return rulespec.RulePatch{Priority: &p}, nil
}

// Decode 解析 {"kind": ..., ...} 形式的编辑请求
func Decode(data []byte) (Edit, error) {
	if !gjson.ValidBytes(data) {
		return nil, errx.Invalid(errx.CodeInvalidEdit, "编辑请求不是合法的 JSON")
	}
	kind := Kind(gjson.GetBytes(data, "kind").String())

	var (
		edit Edit
		err  error
	)
	switch {
	case kind == KindURLFilter:
		edit, err = unmarshal[URLFilterEdit](data)
	case kind == KindResourceTypes:
		edit, err = unmarshal[ResourceTypesEdit](data)
	case kind == KindRequestMethods:
		edit, err = unmarshal[RequestMethodsEdit](data)
	case kind.isDomain():
		var e DomainsEdit
		err = json.Unmarshal(data, &e)
		e.Field = kind
		edit = e
	case kind == KindAction:
		edit, err = unmarshal[ActionEdit](data)
	case kind == KindPriority:
		edit, err = unmarshal[PriorityEdit](data)
	default:
		return nil, errx.Invalid(errx.CodeInvalidEdit, "未知的编辑种类: %q", kind)
	}
	if err != nil {
		return nil, errx.Invalid(errx.CodeInvalidEdit, "解析编辑请求失败: %v", err)
	}
	return edit, nil
}

func unmarshal[T Edit](data []byte) (Edit, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode 序列化编辑状态，附带 kind 字段
func Encode(e Edit) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(data, "kind", string(e.Kind()))
}

// Current 返回规则某个字段的当前编辑状态，作为编辑表单的初始值
// 排除侧非空时以排除模式打开
func Current(rule rulespec.Rule, kind Kind) (Edit, error) {
	c := rule.Condition
	switch {
	case kind == KindURLFilter:
		if c.RegexFilter != "" {
			return URLFilterEdit{Mode: FilterRegex, Filter: c.RegexFilter, CaseSensitive: c.IsURLFilterCaseSensitive}, nil
		}
		return URLFilterEdit{Mode: FilterURL, Filter: c.URLFilter, CaseSensitive: c.IsURLFilterCaseSensitive}, nil
	case kind == KindResourceTypes:
		if len(c.ExcludedResourceTypes) > 0 {
			return ResourceTypesEdit{Mode: ModeExclude, Types: slices.Clone(c.ExcludedResourceTypes)}, nil
		}
		if len(c.ResourceTypes) == 0 {
			// 无约束在表单中表现为全选
			return ResourceTypesEdit{Mode: ModeInclude, Types: rulespec.AllResourceTypes()}, nil
		}
		return ResourceTypesEdit{Mode: ModeInclude, Types: slices.Clone(c.ResourceTypes)}, nil
	case kind == KindRequestMethods:
		if len(c.ExcludedRequestMethods) > 0 {
			return RequestMethodsEdit{Mode: ModeExclude, Methods: slices.Clone(c.ExcludedRequestMethods)}, nil
		}
		return RequestMethodsEdit{Mode: ModeInclude, Methods: orEmpty(c.RequestMethods)}, nil
	case kind == KindInitiatorDomains:
		return DomainsEdit{Field: kind, Domains: orEmpty(c.InitiatorDomains)}, nil
	case kind == KindExcludedInitiatorDomains:
		return DomainsEdit{Field: kind, Domains: orEmpty(c.ExcludedInitiatorDomains)}, nil
	case kind == KindRequestDomains:
		return DomainsEdit{Field: kind, Domains: orEmpty(c.RequestDomains)}, nil
	case kind == KindExcludedRequestDomains:
		return DomainsEdit{Field: kind, Domains: orEmpty(c.ExcludedRequestDomains)}, nil
	case kind == KindAction:
		e := ActionEdit{Type: rule.Action.Type, Headers: slices.Clone(rule.Action.RequestHeaders)}
		if rd := rule.Action.Redirect; rd != nil {
			e.Replacement, e.RedirectValue = ReplaceURL, rd.URL
			if rd.RegexSubstitution != "" {
				e.Replacement, e.RedirectValue = ReplaceRegex, rd.RegexSubstitution
			}
		}
		return e, nil
	case kind == KindPriority:
		return PriorityEdit{Priority: rule.Priority}, nil
	}
	return nil, errx.Invalid(errx.CodeInvalidEdit, "未知的编辑种类: %q", kind)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
