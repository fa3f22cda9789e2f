package editor_test

import (
	"testing"

	"rulekeeper/internal/editor"
	"rulekeeper/internal/normalize"
	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func baseRule() rulespec.Rule {
	return rulespec.Rule{
		ID:       1,
		Priority: 2,
		Action:   rulespec.Action{Type: rulespec.ActionBlock},
		Condition: rulespec.Condition{
			URLFilter:             "example.com",
			ExcludedResourceTypes: []rulespec.ResourceType{rulespec.ResourceImage},
			RequestMethods:        []string{"GET"},
		},
	}
}

// apply 将编辑应用到规则并规范化
func apply(t *testing.T, r rulespec.Rule, e editor.Edit) rulespec.Rule {
	t.Helper()
	p, err := e.Patch()
	require.NoError(t, err)
	out, err := normalize.Rule(p.Apply(r))
	require.NoError(t, err)
	return out
}

// TestURLFilterEdit 切换到正则过滤清空 urlFilter
func TestURLFilterEdit(t *testing.T) {
	out := apply(t, baseRule(), editor.URLFilterEdit{Mode: editor.FilterRegex, Filter: `^https://a\.com/`, CaseSensitive: true})

	assert.Empty(t, out.Condition.URLFilter)
	assert.Equal(t, `^https://a\.com/`, out.Condition.RegexFilter)
	assert.True(t, out.Condition.IsURLFilterCaseSensitive)
	assert.Equal(t, []string{"GET"}, out.Condition.RequestMethods, "其他字段保持不变")
}

// TestResourceTypesEdit 切换模式时清空另一侧
func TestResourceTypesEdit(t *testing.T) {
	out := apply(t, baseRule(), editor.ResourceTypesEdit{Mode: editor.ModeInclude, Types: []rulespec.ResourceType{"script"}})
	assert.Equal(t, []rulespec.ResourceType{"script"}, out.Condition.ResourceTypes)
	assert.Nil(t, out.Condition.ExcludedResourceTypes)

	out = apply(t, baseRule(), editor.ResourceTypesEdit{Mode: editor.ModeInclude, Types: rulespec.AllResourceTypes()})
	assert.Nil(t, out.Condition.ResourceTypes, "全选等价于不限制")
	assert.Nil(t, out.Condition.ExcludedResourceTypes)
}

func TestRequestMethodsEdit(t *testing.T) {
	out := apply(t, baseRule(), editor.RequestMethodsEdit{Mode: editor.ModeExclude, Methods: []string{"OPTIONS"}})
	assert.Nil(t, out.Condition.RequestMethods)
	assert.Equal(t, []string{"OPTIONS"}, out.Condition.ExcludedRequestMethods)
}

func TestDomainsEdit(t *testing.T) {
	out := apply(t, baseRule(), editor.DomainsEdit{Field: editor.KindRequestDomains, Domains: []string{"a.com", "b.com"}})
	assert.Equal(t, []string{"a.com", "b.com"}, out.Condition.RequestDomains)

	out = apply(t, out, editor.DomainsEdit{Field: editor.KindRequestDomains})
	assert.Nil(t, out.Condition.RequestDomains, "空列表清空字段")
}

// TestActionEdit 选择一种替换方式会清空另一种
func TestActionEdit(t *testing.T) {
	r := baseRule()
	r.Condition.URLFilter = ""
	r.Condition.RegexFilter = `^https://(\w+)\.old/`

	out := apply(t, r, editor.ActionEdit{Type: rulespec.ActionRedirect, Replacement: editor.ReplaceRegex, RedirectValue: `https://\1.new/`})
	assert.Equal(t, &rulespec.Redirect{RegexSubstitution: `https://\1.new/`}, out.Action.Redirect)

	out = apply(t, out, editor.ActionEdit{Type: rulespec.ActionRedirect, Replacement: editor.ReplaceURL, RedirectValue: "https://new.example/"})
	assert.Equal(t, &rulespec.Redirect{URL: "https://new.example/"}, out.Action.Redirect)

	headers := []rulespec.ModifyHeaderInfo{{Header: "X-A", Operation: rulespec.HeaderRemove}}
	out = apply(t, out, editor.ActionEdit{Type: rulespec.ActionModifyHeaders, Headers: headers})
	assert.Nil(t, out.Action.Redirect)
	assert.Equal(t, headers, out.Action.RequestHeaders)
}

func TestPriorityEdit(t *testing.T) {
	out := apply(t, baseRule(), editor.PriorityEdit{Priority: 10})
	assert.Equal(t, 10, out.Priority)

	_, err := editor.PriorityEdit{Priority: 0}.Patch()
	assert.True(t, errx.Is(err, errx.CodeInvalidEdit))
}

// TestPatch_InvalidMode 未知模式返回编辑错误
func TestPatch_InvalidMode(t *testing.T) {
	edits := []editor.Edit{
		editor.URLFilterEdit{Mode: "glob"},
		editor.ResourceTypesEdit{Mode: "only"},
		editor.RequestMethodsEdit{Mode: "only"},
		editor.DomainsEdit{Field: editor.KindAction},
		editor.ActionEdit{Type: "rewrite"},
		editor.ActionEdit{Type: rulespec.ActionRedirect, Replacement: "glob"},
	}
	for _, e := range edits {
		_, err := e.Patch()
		assert.True(t, errx.Is(err, errx.CodeInvalidEdit), "%T 应返回编辑错误", e)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		data string
		want editor.Edit
	}{
		{"urlFilter", `{"kind":"urlFilter","mode":"regex","filter":"^a","caseSensitive":true}`, editor.URLFilterEdit{Mode: editor.FilterRegex, Filter: "^a", CaseSensitive: true}},
		{"resourceTypes", `{"kind":"resourceTypes","mode":"exclude","types":["font"]}`, editor.ResourceTypesEdit{Mode: editor.ModeExclude, Types: []rulespec.ResourceType{"font"}}},
		{"requestMethods", `{"kind":"requestMethods","mode":"include","methods":["GET"]}`, editor.RequestMethodsEdit{Mode: editor.ModeInclude, Methods: []string{"GET"}}},
		{"domains", `{"kind":"initiatorDomains","domains":["a.com"]}`, editor.DomainsEdit{Field: editor.KindInitiatorDomains, Domains: []string{"a.com"}}},
		{"action", `{"kind":"action","type":"redirect","replacement":"url","redirectValue":"https://a.com/"}`, editor.ActionEdit{Type: rulespec.ActionRedirect, Replacement: editor.ReplaceURL, RedirectValue: "https://a.com/"}},
		{"priority", `{"kind":"priority","priority":3}`, editor.PriorityEdit{Priority: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := editor.Decode([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{`{"kind":"color"}`, `not json`, `{"kind":"priority","priority":"high"}`} {
		_, err := editor.Decode([]byte(bad))
		assert.True(t, errx.Is(err, errx.CodeInvalidEdit), bad)
	}
}

// TestCurrent 当前编辑状态，排除侧非空时以排除模式打开
func TestCurrent(t *testing.T) {
	r := baseRule()

	e, err := editor.Current(r, editor.KindResourceTypes)
	require.NoError(t, err)
	assert.Equal(t, editor.ResourceTypesEdit{Mode: editor.ModeExclude, Types: []rulespec.ResourceType{rulespec.ResourceImage}}, e)

	e, err = editor.Current(r, editor.KindRequestMethods)
	require.NoError(t, err)
	assert.Equal(t, editor.RequestMethodsEdit{Mode: editor.ModeInclude, Methods: []string{"GET"}}, e)

	e, err = editor.Current(r, editor.KindURLFilter)
	require.NoError(t, err)
	assert.Equal(t, editor.URLFilterEdit{Mode: editor.FilterURL, Filter: "example.com"}, e)

	r.Condition.ExcludedResourceTypes = nil
	e, err = editor.Current(r, editor.KindResourceTypes)
	require.NoError(t, err)
	assert.Equal(t, rulespec.AllResourceTypes(), e.(editor.ResourceTypesEdit).Types, "无约束时全选")

	_, err = editor.Current(r, "color")
	assert.True(t, errx.Is(err, errx.CodeInvalidEdit))
}

// TestCurrent_RoundTrip 当前状态原样提交不改变规则
func TestCurrent_RoundTrip(t *testing.T) {
	r, err := normalize.Rule(baseRule())
	require.NoError(t, err)

	for _, kind := range editor.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			e, err := editor.Current(r, kind)
			require.NoError(t, err)
			assert.Equal(t, r, apply(t, r, e))
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := editor.Encode(editor.PriorityEdit{Priority: 4})
	require.NoError(t, err)
	assert.Equal(t, "priority", gjson.GetBytes(data, "kind").String())
	assert.Equal(t, int64(4), gjson.GetBytes(data, "priority").Int())

	back, err := editor.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, editor.PriorityEdit{Priority: 4}, back)
}
