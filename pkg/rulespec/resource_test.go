package rulespec_test

import (
	"testing"

	"rulekeeper/pkg/rulespec"

	"github.com/stretchr/testify/assert"
)

func TestGuessResourceType(t *testing.T) {
	tests := []struct {
		name       string
		typeName   string
		url        string
		wantType   rulespec.ResourceType
		wantReason string
	}{
		// 规则枚举值原样返回
		{"Rule enum value", "sub_frame", "https://example.com/frame.html", rulespec.ResourceSubFrame, "已是规则枚举值应原样返回"},
		{"Rule enum csp_report", "csp_report", "", rulespec.ResourceCSPReport, "csp_report 应原样返回"},

		// CDP 标准类型映射
		{"CDP Document type", "Document", "https://example.com/index.html", rulespec.ResourceMainFrame, "CDP Document 应该映射为 main_frame"},
		{"CDP Script type", "Script", "https://example.com/app.js", rulespec.ResourceScript, "CDP Script 应该映射为 script"},
		{"CDP XHR type", "XHR", "https://api.example.com/data", rulespec.ResourceXMLHTTPRequest, "CDP XHR 应该映射为 xmlhttprequest"},
		{"CDP Fetch type", "Fetch", "https://api.example.com/v1/users", rulespec.ResourceXMLHTTPRequest, "Fetch 应该映射为 xmlhttprequest"},
		{"CDP type uppercase", "DOCUMENT", "https://example.com/", rulespec.ResourceMainFrame, "CDP 类型应该大小写不敏感"},

		// 无法识别时通过 URL 扩展名推断
		{"Other with .js extension", "Other", "https://example.com/vendor.js", rulespec.ResourceScript, "有 .js 扩展名应该归类为 script"},
		{"Empty with .png extension", "", "https://example.com/logo.png", rulespec.ResourceImage, ".png 应该归类为 image"},
		{"JS file with query params", "", "https://example.com/app.js?v=1.0.0", rulespec.ResourceScript, "带查询参数的 .js 文件应该归类为 script"},
		{"CSS file with hash", "", "https://example.com/style.css#section", rulespec.ResourceStylesheet, "带哈希的 .css 文件应该归类为 stylesheet"},
		{"Font file (.woff2)", "", "https://example.com/fonts/roboto.woff2", rulespec.ResourceFont, ".woff2 文件应该归类为 font"},
		{"Media file (.mp4)", "", "https://example.com/video.mp4", rulespec.ResourceMedia, ".mp4 文件应该归类为 media"},
		{"URL extension uppercase", "", "https://example.com/APP.JS", rulespec.ResourceScript, "URL 扩展名应该大小写不敏感"},
		{"No extension", "", "https://example.com/path/to/resource", rulespec.ResourceOther, "无扩展名应回落到 other"},
		{"Unknown extension", "", "https://example.com/app.tsx", rulespec.ResourceOther, "不支持的扩展名应回落到 other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rulespec.GuessResourceType(tt.typeName, tt.url)
			assert.Equal(t, tt.wantType, got, tt.wantReason)
		})
	}
}

// TestResourceUniverse 资源类型全集固定为 13 种
func TestResourceUniverse(t *testing.T) {
	all := rulespec.AllResourceTypes()
	assert.Len(t, all, 13)
	for _, rt := range all {
		assert.True(t, rt.IsValid(), "%s 应为合法类型", rt)
	}
	assert.False(t, rulespec.ResourceType("document").IsValid())

	// 返回副本，修改不影响全集
	all[0] = "bogus"
	assert.Equal(t, rulespec.ResourceMainFrame, rulespec.AllResourceTypes()[0])
}

func TestIsFullResourceSet(t *testing.T) {
	full := rulespec.AllResourceTypes()
	assert.True(t, rulespec.IsFullResourceSet(full))

	reversed := rulespec.AllResourceTypes()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	assert.True(t, rulespec.IsFullResourceSet(reversed), "顺序不影响全集判断")

	assert.False(t, rulespec.IsFullResourceSet(full[1:]))
	assert.False(t, rulespec.IsFullResourceSet(nil))

	// 数量足够但有重复且缺失一种
	dup := append(full[1:], rulespec.ResourceScript)
	assert.False(t, rulespec.IsFullResourceSet(dup))
}

func TestIsKnownMethod(t *testing.T) {
	assert.True(t, rulespec.IsKnownMethod("GET"))
	assert.True(t, rulespec.IsKnownMethod("post"))
	assert.False(t, rulespec.IsKnownMethod("TRACE"))
	assert.True(t, rulespec.IsKnownMethod("other"))
	assert.Contains(t, rulespec.AllRequestMethods(), rulespec.MethodOther)
}

func TestActionTypePrecedence(t *testing.T) {
	assert.Less(t, rulespec.ActionAllow.Precedence(), rulespec.ActionBlock.Precedence())
	assert.Less(t, rulespec.ActionBlock.Precedence(), rulespec.ActionUpgradeScheme.Precedence())
	assert.Less(t, rulespec.ActionUpgradeScheme.Precedence(), rulespec.ActionRedirect.Precedence())
	assert.False(t, rulespec.ActionType("drop").IsValid())
}
