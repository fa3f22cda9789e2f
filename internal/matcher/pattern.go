package matcher

import (
	"regexp"
	"strings"

	"github.com/AdguardTeam/urlfilter/rules"
)

// urlPattern URL 匹配器
type urlPattern interface {
	MatchString(s string) bool
}

// neverPattern 不匹配任何 URL，用于无法编译的过滤器
type neverPattern struct{}

func (neverPattern) MatchString(string) bool { return false }

// networkPattern 基于 urlfilter 网络规则的 urlFilter 匹配器
type networkPattern struct {
	rule *rules.NetworkRule
}

func (p networkPattern) MatchString(s string) bool {
	return p.rule.Match(rules.NewRequest(s, "", rules.TypeOther))
}

// newFilterPattern 编译 urlFilter
// urlFilter 与 Adblock 基础语法一致，交给 urlfilter 解析；被拒绝的过宽模式退回到等价正则
func newFilterPattern(filter string, caseSensitive bool) urlPattern {
	text := filter
	if caseSensitive {
		text += "$match-case"
	}
	if plainFilter(filter) {
		if rule, err := rules.NewNetworkRule(text, 1); err == nil {
			return networkPattern{rule: rule}
		}
	}

	re, err := regexp.Compile(filterToRegexp(filter, caseSensitive))
	if err != nil {
		return neverPattern{}
	}
	return re
}

// plainFilter 判断模式能否原样作为 Adblock 网络规则解析
// 含修饰符分隔符、例外前缀、注释前缀或正则字面量写法的模式会被 urlfilter 另作解释
func plainFilter(filter string) bool {
	if strings.Contains(filter, "$") || strings.HasPrefix(filter, "@@") || strings.HasPrefix(filter, "!") {
		return false
	}
	return !(len(filter) > 1 && strings.HasPrefix(filter, "/") && strings.HasSuffix(filter, "/"))
}

// filterToRegexp 将 urlFilter 翻译为正则：星号匹配任意字符，^ 匹配分隔符或结尾，| 与 || 为锚点
func filterToRegexp(filter string, caseSensitive bool) string {
	var b strings.Builder
	if !caseSensitive {
		b.WriteString("(?i)")
	}

	switch {
	case strings.HasPrefix(filter, "||"):
		b.WriteString(`^[a-z][a-z0-9+.\-]*://(?:[^/?#]*\.)?`)
		filter = filter[2:]
	case strings.HasPrefix(filter, "|"):
		b.WriteString("^")
		filter = filter[1:]
	}

	suffix := ""
	if strings.HasSuffix(filter, "|") {
		suffix = "$"
		filter = filter[:len(filter)-1]
	}

	for _, r := range filter {
		switch r {
		case '*':
			b.WriteString(".*")
		case '^':
			b.WriteString(`(?:[^a-zA-Z0-9_\-.%]|$)`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(suffix)
	return b.String()
}
