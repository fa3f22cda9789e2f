package normalize_test

import (
	"testing"

	"rulekeeper/internal/normalize"
	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleHeaders = []rulespec.ModifyHeaderInfo{
	{Header: "A", Operation: rulespec.HeaderSet, Value: "1"},
	{Header: "B", Operation: rulespec.HeaderRemove, Value: "ignored"},
}

// TestAction_DropsInapplicableFields 非 redirect 类型不输出 redirect，非 modifyHeaders 不输出请求头
func TestAction_DropsInapplicableFields(t *testing.T) {
	for _, typ := range []rulespec.ActionType{
		rulespec.ActionBlock, rulespec.ActionAllow, rulespec.ActionUpgradeScheme,
	} {
		t.Run(string(typ), func(t *testing.T) {
			out, err := normalize.Action(rulespec.Action{
				Type:           typ,
				Redirect:       &rulespec.Redirect{URL: "https://example.com"},
				RequestHeaders: sampleHeaders,
			})
			require.NoError(t, err)
			assert.Equal(t, rulespec.Action{Type: typ}, out)
		})
	}

	out, err := normalize.Action(rulespec.Action{
		Type:           rulespec.ActionModifyHeaders,
		Redirect:       &rulespec.Redirect{URL: "https://example.com"},
		RequestHeaders: sampleHeaders,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Redirect)
}

// TestAction_Redirect redirect 类型恰好保留一种替换方式
func TestAction_Redirect(t *testing.T) {
	out, err := normalize.Action(rulespec.Action{
		Type:           rulespec.ActionRedirect,
		Redirect:       &rulespec.Redirect{URL: "https://example.com/new"},
		RequestHeaders: sampleHeaders,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Redirect)
	assert.Equal(t, "https://example.com/new", out.Redirect.URL)
	assert.Empty(t, out.Redirect.RegexSubstitution)
	assert.Nil(t, out.RequestHeaders)

	out, err = normalize.Action(rulespec.Action{
		Type:     rulespec.ActionRedirect,
		Redirect: &rulespec.Redirect{RegexSubstitution: `https://\1.example.com`},
	})
	require.NoError(t, err)
	assert.Equal(t, &rulespec.Redirect{RegexSubstitution: `https://\1.example.com`}, out.Redirect)
}

// TestAction_Headers 请求头保持顺序，不去重，remove 丢弃 value
func TestAction_Headers(t *testing.T) {
	in := []rulespec.ModifyHeaderInfo{
		{Header: "X-B", Operation: rulespec.HeaderAppend, Value: "2"},
		{Header: "X-A", Operation: rulespec.HeaderSet, Value: "1"},
		{Header: "X-B", Operation: rulespec.HeaderAppend, Value: "2"},
		{Header: "Cookie", Operation: rulespec.HeaderRemove, Value: "x"},
	}
	out, err := normalize.Action(rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: in})
	require.NoError(t, err)

	require.Len(t, out.RequestHeaders, 4)
	assert.Equal(t, []string{"X-B", "X-A", "X-B", "Cookie"}, []string{
		out.RequestHeaders[0].Header, out.RequestHeaders[1].Header,
		out.RequestHeaders[2].Header, out.RequestHeaders[3].Header,
	})
	assert.Empty(t, out.RequestHeaders[3].Value)
	assert.Equal(t, "x", in[3].Value, "入参不应被修改")
}

// TestAction_Invalid 非法行为返回校验错误
func TestAction_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		action rulespec.Action
		code   errx.Code
	}{
		{"未知类型", rulespec.Action{Type: "rewrite"}, errx.CodeInvalidAction},
		{"缺少重定向", rulespec.Action{Type: rulespec.ActionRedirect}, errx.CodeInvalidRedirect},
		{"重定向为空", rulespec.Action{Type: rulespec.ActionRedirect, Redirect: &rulespec.Redirect{}}, errx.CodeInvalidRedirect},
		{"两种替换同时设置", rulespec.Action{Type: rulespec.ActionRedirect, Redirect: &rulespec.Redirect{URL: "https://a.com", RegexSubstitution: `\0`}}, errx.CodeInvalidRedirect},
		{"相对地址", rulespec.Action{Type: rulespec.ActionRedirect, Redirect: &rulespec.Redirect{URL: "/path"}}, errx.CodeInvalidRedirect},
		{"请求头为空", rulespec.Action{Type: rulespec.ActionModifyHeaders}, errx.CodeInvalidHeader},
		{"请求头名称为空", rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: []rulespec.ModifyHeaderInfo{{Operation: rulespec.HeaderRemove}}}, errx.CodeInvalidHeader},
		{"请求头名称非法", rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: []rulespec.ModifyHeaderInfo{{Header: "X A", Operation: rulespec.HeaderRemove}}}, errx.CodeInvalidHeader},
		{"操作非法", rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: []rulespec.ModifyHeaderInfo{{Header: "X-A", Operation: "replace", Value: "1"}}}, errx.CodeInvalidHeader},
		{"set 缺少 value", rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: []rulespec.ModifyHeaderInfo{{Header: "X-A", Operation: rulespec.HeaderSet}}}, errx.CodeInvalidHeader},
		{"value 含换行", rulespec.Action{Type: rulespec.ActionModifyHeaders, RequestHeaders: []rulespec.ModifyHeaderInfo{{Header: "X-A", Operation: rulespec.HeaderAppend, Value: "a\nb"}}}, errx.CodeInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalize.Action(tt.action)
			require.Error(t, err)
			assert.True(t, errx.Is(err, tt.code), "期望错误码 %s，实际 %v", tt.code, err)
		})
	}
}
