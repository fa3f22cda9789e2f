// Package normalize 将编辑中的规则草稿转换为可安装到浏览器规则引擎的规范形式
package normalize

import (
	"strings"

	"rulekeeper/internal/regexutil"
	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"golang.org/x/net/idna"
)

// 域名长度限制（RFC 1035）
const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// Condition 规范化匹配条件，返回新值，不修改入参
func Condition(raw rulespec.Condition) (rulespec.Condition, error) {
	var out rulespec.Condition

	if raw.URLFilter != "" && raw.RegexFilter != "" {
		return out, errx.Invalid(errx.CodeInvalidCondition, "urlFilter 与 regexFilter 不能同时设置")
	}
	if raw.RegexFilter != "" {
		if err := regexutil.Shared().Validate(raw.RegexFilter); err != nil {
			return out, errx.Invalid(errx.CodeInvalidRegex, "regexFilter 无效: %v", err)
		}
	}
	out.URLFilter = raw.URLFilter
	out.RegexFilter = raw.RegexFilter
	// 大小写开关只对存在的过滤器有意义
	if out.URLFilter != "" || out.RegexFilter != "" {
		out.IsURLFilterCaseSensitive = raw.IsURLFilterCaseSensitive
	}

	included, err := resourceTypeSet(raw.ResourceTypes)
	if err != nil {
		return rulespec.Condition{}, err
	}
	excluded, err := resourceTypeSet(raw.ExcludedResourceTypes)
	if err != nil {
		return rulespec.Condition{}, err
	}
	switch {
	case len(excluded) > 0:
		out.ExcludedResourceTypes = excluded
	case rulespec.IsFullResourceSet(included):
		// 全集等价于不限制
	default:
		out.ResourceTypes = included
	}

	methods, err := methodSet(raw.RequestMethods)
	if err != nil {
		return rulespec.Condition{}, err
	}
	excludedMethods, err := methodSet(raw.ExcludedRequestMethods)
	if err != nil {
		return rulespec.Condition{}, err
	}
	if len(excludedMethods) > 0 {
		out.ExcludedRequestMethods = excludedMethods
	} else {
		out.RequestMethods = methods
	}

	domainFields := []struct {
		name string
		src  []string
		dst  *[]string
	}{
		{"initiatorDomains", raw.InitiatorDomains, &out.InitiatorDomains},
		{"excludedInitiatorDomains", raw.ExcludedInitiatorDomains, &out.ExcludedInitiatorDomains},
		{"requestDomains", raw.RequestDomains, &out.RequestDomains},
		{"excludedRequestDomains", raw.ExcludedRequestDomains, &out.ExcludedRequestDomains},
	}
	for _, f := range domainFields {
		set, err := domainSet(f.name, f.src)
		if err != nil {
			return rulespec.Condition{}, err
		}
		*f.dst = set
	}

	return out, nil
}

// NewCondition 规范化新建规则的条件
// 未给出任何资源类型约束时在包含侧填入全集，随后按全集规则折叠为不限制
func NewCondition(raw rulespec.Condition) (rulespec.Condition, error) {
	if len(raw.ResourceTypes) == 0 && len(raw.ExcludedResourceTypes) == 0 {
		raw.ResourceTypes = rulespec.AllResourceTypes()
	}
	return Condition(raw)
}

// resourceTypeSet 校验并去重资源类型，保持首次出现的顺序
func resourceTypeSet(types []rulespec.ResourceType) ([]rulespec.ResourceType, error) {
	if len(types) == 0 {
		return nil, nil
	}
	out := make([]rulespec.ResourceType, 0, len(types))
	seen := make(map[rulespec.ResourceType]bool, len(types))
	for _, t := range types {
		if !t.IsValid() {
			return nil, errx.Invalid(errx.CodeInvalidResourceType, "未知的资源类型: %q", t)
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// methodSet 不区分大小写校验并去重请求方法，保留首次出现的原始写法
func methodSet(methods []string) ([]string, error) {
	if len(methods) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(methods))
	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		if !rulespec.IsKnownMethod(m) {
			return nil, errx.Invalid(errx.CodeInvalidMethod, "未知的请求方法: %q", m)
		}
		key := strings.ToUpper(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out, nil
}

// domainSet 校验、规范化并去重域名，空字符串条目被忽略
// 结果为小写 punycode，与规则引擎接受的形式一致
func domainSet(field string, domains []string) ([]string, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(domains))
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d == "" {
			continue
		}
		canon, err := CanonicalDomain(d)
		if err != nil {
			return nil, errx.Invalid(errx.CodeInvalidDomain, "%s 中的域名 %q 无效: %v", field, d, err)
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// ValidateDomain 校验单个域名
func ValidateDomain(d string) error {
	_, err := CanonicalDomain(d)
	return err
}

// CanonicalDomain 返回域名的小写 ASCII 形式
// 允许国际化域名，要求可转换为 ASCII 形式且每个标签符合 DNS 长度限制
func CanonicalDomain(d string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", err
	}
	ascii = strings.ToLower(ascii)
	if len(ascii) > maxDomainLength {
		return "", errx.New(errx.CodeInvalidDomain, "域名过长")
	}
	for _, label := range strings.Split(ascii, ".") {
		if label == "" {
			return "", errx.New(errx.CodeInvalidDomain, "域名包含空标签")
		}
		if len(label) > maxLabelLength {
			return "", errx.New(errx.CodeInvalidDomain, "域名标签过长")
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", errx.New(errx.CodeInvalidDomain, "域名标签不能以连字符开头或结尾")
		}
		for _, c := range label {
			if !isLabelChar(c) {
				return "", errx.New(errx.CodeInvalidDomain, "域名包含非法字符")
			}
		}
	}
	return ascii, nil
}

func isLabelChar(c rune) bool {
	return c == '-' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
