package rulespec

import "slices"

// RulePatch 规则的局部修改
// 指针为 nil 或切片为 nil 表示未修改该字段；空字符串或空切片表示清空
type RulePatch struct {
	Priority  *int            `json:"priority,omitempty"`
	Condition *ConditionPatch `json:"condition,omitempty"`
	Action    *ActionPatch    `json:"action,omitempty"`
}

// ConditionPatch 条件的局部修改
type ConditionPatch struct {
	URLFilter                *string        `json:"urlFilter,omitempty"`
	RegexFilter              *string        `json:"regexFilter,omitempty"`
	IsURLFilterCaseSensitive *bool          `json:"isUrlFilterCaseSensitive,omitempty"`
	ResourceTypes            []ResourceType `json:"resourceTypes"`
	ExcludedResourceTypes    []ResourceType `json:"excludedResourceTypes"`
	RequestMethods           []string       `json:"requestMethods"`
	ExcludedRequestMethods   []string       `json:"excludedRequestMethods"`
	InitiatorDomains         []string       `json:"initiatorDomains"`
	ExcludedInitiatorDomains []string       `json:"excludedInitiatorDomains"`
	RequestDomains           []string       `json:"requestDomains"`
	ExcludedRequestDomains   []string       `json:"excludedRequestDomains"`
}

// ActionPatch 行为的局部修改
type ActionPatch struct {
	Type           *ActionType        `json:"type,omitempty"`
	Redirect       *RedirectPatch     `json:"redirect,omitempty"`
	RequestHeaders []ModifyHeaderInfo `json:"requestHeaders"`
}

// RedirectPatch 重定向的局部修改，设置其中一种替换方式会清空另一种
type RedirectPatch struct {
	URL               *string `json:"url,omitempty"`
	RegexSubstitution *string `json:"regexSubstitution,omitempty"`
}

// IsEmpty 判断补丁是否未修改任何字段
func (p RulePatch) IsEmpty() bool {
	return p.Priority == nil && p.Condition == nil && p.Action == nil
}

// Apply 将补丁合并到规则副本上，返回合并结果，不修改入参
func (p RulePatch) Apply(r Rule) Rule {
	out := r.Clone()
	if p.Priority != nil {
		out.Priority = *p.Priority
	}
	if p.Condition != nil {
		out.Condition = p.Condition.Apply(out.Condition)
	}
	if p.Action != nil {
		out.Action = p.Action.Apply(out.Action)
	}
	return out
}

// Apply 逐字段合并条件
func (p ConditionPatch) Apply(c Condition) Condition {
	out := c.Clone()

	// urlFilter 与 regexFilter 互斥
	if p.URLFilter != nil {
		out.URLFilter = *p.URLFilter
		if *p.URLFilter != "" && p.RegexFilter == nil {
			out.RegexFilter = ""
		}
	}
	if p.RegexFilter != nil {
		out.RegexFilter = *p.RegexFilter
		if *p.RegexFilter != "" && p.URLFilter == nil {
			out.URLFilter = ""
		}
	}
	if p.IsURLFilterCaseSensitive != nil {
		out.IsURLFilterCaseSensitive = *p.IsURLFilterCaseSensitive
	}

	out.ResourceTypes, out.ExcludedResourceTypes = mergePair(
		out.ResourceTypes, out.ExcludedResourceTypes,
		p.ResourceTypes, p.ExcludedResourceTypes,
	)
	out.RequestMethods, out.ExcludedRequestMethods = mergePair(
		out.RequestMethods, out.ExcludedRequestMethods,
		p.RequestMethods, p.ExcludedRequestMethods,
	)

	if p.InitiatorDomains != nil {
		out.InitiatorDomains = slices.Clone(p.InitiatorDomains)
	}
	if p.ExcludedInitiatorDomains != nil {
		out.ExcludedInitiatorDomains = slices.Clone(p.ExcludedInitiatorDomains)
	}
	if p.RequestDomains != nil {
		out.RequestDomains = slices.Clone(p.RequestDomains)
	}
	if p.ExcludedRequestDomains != nil {
		out.ExcludedRequestDomains = slices.Clone(p.ExcludedRequestDomains)
	}
	return out
}

// mergePair 合并 include/exclude 成对字段，设置非空的一侧时清空另一侧
func mergePair[T any](include, exclude, pInclude, pExclude []T) ([]T, []T) {
	if pInclude != nil {
		include = slices.Clone(pInclude)
		if len(pInclude) > 0 && pExclude == nil {
			exclude = nil
		}
	}
	if pExclude != nil {
		exclude = slices.Clone(pExclude)
		if len(pExclude) > 0 && pInclude == nil {
			include = nil
		}
	}
	return include, exclude
}

// Apply 逐字段合并行为
func (p ActionPatch) Apply(a Action) Action {
	out := a.Clone()
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Redirect != nil {
		rd := Redirect{}
		if out.Redirect != nil {
			rd = *out.Redirect
		}
		if p.Redirect.URL != nil {
			rd.URL = *p.Redirect.URL
			if *p.Redirect.URL != "" && p.Redirect.RegexSubstitution == nil {
				rd.RegexSubstitution = ""
			}
		}
		if p.Redirect.RegexSubstitution != nil {
			rd.RegexSubstitution = *p.Redirect.RegexSubstitution
			if *p.Redirect.RegexSubstitution != "" && p.Redirect.URL == nil {
				rd.URL = ""
			}
		}
		out.Redirect = &rd
	}
	if p.RequestHeaders != nil {
		out.RequestHeaders = slices.Clone(p.RequestHeaders)
	}
	return out
}
