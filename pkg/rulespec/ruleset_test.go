package rulespec_test

import (
	"encoding/json"
	"testing"

	"rulekeeper/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseRuleSet_ChromeArray 解析浏览器静态规则集数组格式
func TestParseRuleSet_ChromeArray(t *testing.T) {
	data := []byte(`[
	  {"id": 1, "priority": 1, "action": {"type": "block"}, "condition": {"urlFilter": "||tracker.com^", "resourceTypes": ["script"]}},
	  {"id": 5001, "priority": 1, "action": {"type": "modifyHeaders", "requestHeaders": [{"header": "Sec-GPC", "operation": "set", "value": "1"}]},
	   "condition": {"resourceTypes": ["main_frame", "sub_frame"]}}
	]`)

	rs, err := rulespec.ParseRuleSet(data)
	require.NoError(t, err)
	assert.NotEmpty(t, rs.ID)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, "||tracker.com^", rs.Rules[0].Condition.URLFilter)
	assert.Equal(t, rulespec.HeaderSet, rs.Rules[1].Action.RequestHeaders[0].Operation)
}

// TestParseRuleSet_Object 解析带元信息的对象格式
func TestParseRuleSet_Object(t *testing.T) {
	rs, err := rulespec.ParseRuleSet([]byte(`{"id":"abc","name":"demo","rules":[{"id":2,"priority":3,"action":{"type":"allow"},"condition":{}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", rs.ID)
	assert.Equal(t, "demo", rs.Name)
	assert.Equal(t, 3, rs.Rules[0].Priority)

	_, err = rulespec.ParseRuleSet([]byte(`{"name":"no rules"}`))
	assert.Error(t, err)

	_, err = rulespec.ParseRuleSet([]byte(`   `))
	assert.Error(t, err)
}

// TestRuleSet_EncodeRoundTrip 三种格式导出后可重新导入
func TestRuleSet_EncodeRoundTrip(t *testing.T) {
	rules := []rulespec.Rule{
		{
			ID:       1,
			Priority: 2,
			Action: rulespec.Action{
				Type:     rulespec.ActionRedirect,
				Redirect: &rulespec.Redirect{URL: "https://example.org/"},
			},
			Condition: rulespec.Condition{URLFilter: "example.com", ExcludedRequestMethods: []string{"HEAD"}},
		},
	}
	rs := rulespec.NewRuleSet("导出", rules)

	for _, format := range []rulespec.Format{rulespec.FormatJSON, rulespec.FormatChrome, rulespec.FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := rs.Encode(format)
			require.NoError(t, err)

			parsed, err := rulespec.ParseRuleSet(data)
			require.NoError(t, err)
			assert.Equal(t, rules, parsed.Rules)
			if format != rulespec.FormatChrome {
				assert.Equal(t, rs.ID, parsed.ID)
			}
		})
	}

	_, err := rs.Encode("toml")
	assert.Error(t, err)
}

// TestRuleSet_EncodeChrome 浏览器格式导出与动态规则下发形式一致
func TestRuleSet_EncodeChrome(t *testing.T) {
	rs := rulespec.NewRuleSet("", []rulespec.Rule{
		{ID: 1, Priority: 1, Action: rulespec.Action{Type: rulespec.ActionBlock},
			Condition: rulespec.Condition{URLFilter: "||ads.", RequestMethods: []string{"GET", "POST"}}},
		{ID: 2, Priority: 1, Action: rulespec.Action{Type: rulespec.ActionAllow},
			Condition: rulespec.Condition{ExcludedResourceTypes: []rulespec.ResourceType{rulespec.ResourceImage}}},
	})

	data, err := rs.Encode(rulespec.FormatChrome)
	require.NoError(t, err)
	var rules []rulespec.Rule
	require.NoError(t, json.Unmarshal(data, &rules))
	require.Len(t, rules, 2)

	assert.Equal(t, rulespec.AllResourceTypes(), rules[0].Condition.ResourceTypes)
	assert.Equal(t, []string{"get", "post"}, rules[0].Condition.RequestMethods)
	assert.Nil(t, rules[1].Condition.ResourceTypes, "已有排除项时不展开")
	assert.Equal(t, []string{"GET", "POST"}, rs.Rules[0].Condition.RequestMethods, "原规则集不应被修改")
	assert.Nil(t, rs.Rules[0].Condition.ResourceTypes)
}

func TestToChrome_FromChrome(t *testing.T) {
	rule := rulespec.Rule{ID: 3, Priority: 2, Action: rulespec.Action{Type: rulespec.ActionBlock},
		Condition: rulespec.Condition{ExcludedRequestMethods: []string{"HEAD", "OTHER"}}}

	wire := rulespec.ToChrome(rule)
	assert.Len(t, wire.Condition.ResourceTypes, len(rulespec.AllResourceTypes()))
	assert.Equal(t, []string{"head", "other"}, wire.Condition.ExcludedRequestMethods)
	assert.Equal(t, rule, rulespec.FromChrome(wire))
}

func TestValidateRuleIDs(t *testing.T) {
	assert.NoError(t, rulespec.ValidateRuleIDs([]rulespec.Rule{{ID: 1}, {ID: 3}}))
	assert.Error(t, rulespec.ValidateRuleIDs([]rulespec.Rule{{ID: 1}, {ID: 1}}))
	assert.Error(t, rulespec.ValidateRuleIDs([]rulespec.Rule{{ID: 0}}))
}
