package rulespec

import (
	"strings"
)

// ToChrome 转换为浏览器 declarativeNetRequest 接受的规则形式
// 未限定资源类型时展开为完整集合（浏览器默认值不含 main_frame），请求方法转为小写
func ToChrome(rule Rule) Rule {
	rule = rule.Clone()
	cond := &rule.Condition
	if len(cond.ResourceTypes) == 0 && len(cond.ExcludedResourceTypes) == 0 {
		cond.ResourceTypes = AllResourceTypes()
	}
	mapStrings(cond.RequestMethods, strings.ToLower)
	mapStrings(cond.ExcludedRequestMethods, strings.ToLower)
	return rule
}

// FromChrome 是 ToChrome 的逆转换
// 完整资源类型集合折叠为空，请求方法转为大写
func FromChrome(rule Rule) Rule {
	rule = rule.Clone()
	cond := &rule.Condition
	if len(cond.ExcludedResourceTypes) == 0 && IsFullResourceSet(cond.ResourceTypes) {
		cond.ResourceTypes = nil
	}
	mapStrings(cond.RequestMethods, strings.ToUpper)
	mapStrings(cond.ExcludedRequestMethods, strings.ToUpper)
	return rule
}

// ChromeRules 批量执行 ToChrome
func ChromeRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		out = append(out, ToChrome(r))
	}
	return out
}

func mapStrings(items []string, fn func(string) string) {
	for i, s := range items {
		items[i] = fn(s)
	}
}
