// Package matcher 在本地对规则做试匹配，语义与浏览器 declarativeNetRequest 引擎一致
package matcher

import (
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"

	"rulekeeper/internal/regexutil"
	"rulekeeper/internal/transformer"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/rulespec"
)

// Engine 规则试匹配引擎
type Engine struct {
	regex   *regexutil.Cache
	mu      sync.RWMutex
	rules   []*compiledRule
	total   int64
	matched int64
	byRule  map[domain.RuleID]int64
}

// compiledRule 预编译后的规则
type compiledRule struct {
	rule    rulespec.Rule
	pattern urlPattern // nil 表示不限 URL
}

// New 创建试匹配引擎，cache 为 nil 时使用进程级共享缓存
func New(cache *regexutil.Cache) *Engine {
	if cache == nil {
		cache = regexutil.Shared()
	}
	return &Engine{
		regex:  cache,
		byRule: make(map[domain.RuleID]int64),
	}
}

// Update 替换参与匹配的规则集合，无法编译的 regexFilter 规则不会命中
func (e *Engine) Update(rules []rulespec.Rule) {
	compiled := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, e.compile(r))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = compiled
}

func (e *Engine) compile(r rulespec.Rule) *compiledRule {
	cr := &compiledRule{rule: r.Clone()}
	cond := r.Condition
	switch {
	case cond.URLFilter != "":
		cr.pattern = newFilterPattern(cond.URLFilter, cond.IsURLFilterCaseSensitive)
	case cond.RegexFilter != "":
		re, err := e.regex.GetFold(cond.RegexFilter, cond.IsURLFilterCaseSensitive)
		if err != nil {
			cr.pattern = neverPattern{}
		} else {
			cr.pattern = re
		}
	}
	return cr
}

// Match 对请求做试匹配，返回命中规则与最终裁决
func (e *Engine) Match(req domain.MatchRequest) domain.MatchOutcome {
	e.mu.Lock()
	e.total++
	rules := e.rules
	e.mu.Unlock()

	in := newInput(req)
	outcome := domain.MatchOutcome{
		Matched:      []domain.RuleMatch{},
		ResourceType: string(in.resourceType),
	}

	var hits []rulespec.Rule
	for _, cr := range rules {
		if cr.matches(in) {
			hits = append(hits, cr.rule)
		}
	}
	if len(hits) == 0 {
		return outcome
	}

	// 优先级从大到小，同优先级按行为裁决顺序
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority > hits[j].Priority
		}
		return hits[i].Action.Type.Precedence() < hits[j].Action.Type.Precedence()
	})

	for _, r := range hits {
		outcome.Matched = append(outcome.Matched, toMatch(r))
	}
	outcome.Winner, outcome.HeaderRules = decide(hits)
	if len(outcome.HeaderRules) > 0 {
		outcome.RequestHeaders = transformer.ApplyRequestHeaders(req.Headers, headerRules(hits, outcome.HeaderRules))
	}

	e.mu.Lock()
	e.matched++
	for _, r := range hits {
		e.byRule[domain.RuleID(r.ID)]++
	}
	e.mu.Unlock()

	return outcome
}

// decide 选出生效的非 modifyHeaders 规则，以及仍然生效的 modifyHeaders 规则
// allow 只屏蔽不高于自身优先级的请求头规则；block、redirect、upgradeScheme 命中后请求头修改不再生效
func decide(sorted []rulespec.Rule) (*domain.RuleMatch, []domain.RuleMatch) {
	var winner *rulespec.Rule
	for i := range sorted {
		if sorted[i].Action.Type != rulespec.ActionModifyHeaders {
			winner = &sorted[i]
			break
		}
	}

	var headers []domain.RuleMatch
	for _, r := range sorted {
		if r.Action.Type != rulespec.ActionModifyHeaders {
			continue
		}
		switch {
		case winner == nil:
		case winner.Action.Type == rulespec.ActionAllow && r.Priority > winner.Priority:
		default:
			continue
		}
		headers = append(headers, toMatch(r))
	}

	if winner == nil {
		return nil, headers
	}
	m := toMatch(*winner)
	return &m, headers
}

// headerRules 按生效顺序取出 modifyHeaders 规则本身
func headerRules(sorted []rulespec.Rule, matches []domain.RuleMatch) []rulespec.Rule {
	ids := make(map[domain.RuleID]bool, len(matches))
	for _, m := range matches {
		ids[m.RuleID] = true
	}
	out := make([]rulespec.Rule, 0, len(matches))
	for _, r := range sorted {
		if ids[domain.RuleID(r.ID)] {
			out = append(out, r)
		}
	}
	return out
}

func toMatch(r rulespec.Rule) domain.RuleMatch {
	return domain.RuleMatch{
		RuleID:   domain.RuleID(r.ID),
		Priority: r.Priority,
		Action:   string(r.Action.Type),
	}
}

// input 预处理后的请求信息
type input struct {
	url           string
	host          string
	method        string
	resourceType  rulespec.ResourceType
	initiatorHost string
}

func newInput(req domain.MatchRequest) input {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "GET"
	} else if !rulespec.IsKnownMethod(method) {
		method = rulespec.MethodOther
	}
	return input{
		url:           req.URL,
		host:          hostOf(req.URL),
		method:        method,
		resourceType:  rulespec.GuessResourceType(req.ResourceType, req.URL),
		initiatorHost: hostOf(req.Initiator),
	}
}

// hostOf 提取小写主机名，入参可以是 URL 或裸域名
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func (cr *compiledRule) matches(in input) bool {
	c := &cr.rule.Condition

	if cr.pattern != nil && !cr.pattern.MatchString(in.url) {
		return false
	}
	if len(c.ResourceTypes) > 0 && !slices.Contains(c.ResourceTypes, in.resourceType) {
		return false
	}
	if slices.Contains(c.ExcludedResourceTypes, in.resourceType) {
		return false
	}
	if len(c.RequestMethods) > 0 && !containsFold(c.RequestMethods, in.method) {
		return false
	}
	if containsFold(c.ExcludedRequestMethods, in.method) {
		return false
	}
	if !domainsAllow(c.RequestDomains, c.ExcludedRequestDomains, in.host) {
		return false
	}
	return domainsAllow(c.InitiatorDomains, c.ExcludedInitiatorDomains, in.initiatorHost)
}

// domainsAllow 排除列表优先；包含列表非空时主机必须命中，未知主机不命中
func domainsAllow(include, exclude []string, host string) bool {
	if host != "" {
		for _, d := range exclude {
			if matchDomain(host, d) {
				return false
			}
		}
	}
	if len(include) == 0 {
		return true
	}
	if host == "" {
		return false
	}
	for _, d := range include {
		if matchDomain(host, d) {
			return true
		}
	}
	return false
}

// matchDomain 主机等于该域名或是其子域名
func matchDomain(host, d string) bool {
	d = strings.ToLower(strings.TrimSuffix(d, "."))
	if host == d {
		return true
	}
	return strings.HasSuffix(host, "."+d)
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}

// Stats 返回统计信息
func (e *Engine) Stats() domain.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byRule := make(map[domain.RuleID]int64, len(e.byRule))
	for k, v := range e.byRule {
		byRule[k] = v
	}
	return domain.EngineStats{
		Total:   e.total,
		Matched: e.matched,
		ByRule:  byRule,
	}
}

// ResetStats 重置统计信息，返回重置前的统计
func (e *Engine) ResetStats() domain.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := domain.EngineStats{Total: e.total, Matched: e.matched, ByRule: e.byRule}
	e.total = 0
	e.matched = 0
	e.byRule = make(map[domain.RuleID]int64)
	return prev
}
