package normalize

import (
	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"
)

// Rule 规范化整条规则，并校验条件与行为之间的约束
func Rule(r rulespec.Rule) (rulespec.Rule, error) {
	cond, err := Condition(r.Condition)
	if err != nil {
		return rulespec.Rule{}, err
	}
	return build(r, cond)
}

// NewRule 规范化新建规则，条件按 NewCondition 处理
func NewRule(r rulespec.Rule) (rulespec.Rule, error) {
	cond, err := NewCondition(r.Condition)
	if err != nil {
		return rulespec.Rule{}, err
	}
	return build(r, cond)
}

func build(r rulespec.Rule, cond rulespec.Condition) (rulespec.Rule, error) {
	action, err := Action(r.Action)
	if err != nil {
		return rulespec.Rule{}, err
	}
	priority := r.Priority
	switch {
	case priority == 0:
		priority = rulespec.DefaultPriority
	case priority < 0:
		return rulespec.Rule{}, errx.Invalid(errx.CodeInvalidRule, "优先级必须大于 0: %d", priority)
	}
	if action.Redirect != nil && action.Redirect.RegexSubstitution != "" && cond.RegexFilter == "" {
		return rulespec.Rule{}, errx.Invalid(errx.CodeInvalidRule, "regexSubstitution 重定向需要 regexFilter 条件")
	}
	return rulespec.Rule{
		ID:        r.ID,
		Priority:  priority,
		Action:    action,
		Condition: cond,
	}, nil
}
