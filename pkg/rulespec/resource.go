package rulespec

import (
	"path"
	"slices"
	"strings"
)

// ResourceType 资源类型，取值为浏览器规则引擎可识别的枚举
type ResourceType string

const (
	ResourceMainFrame      ResourceType = "main_frame"     // 顶层文档
	ResourceSubFrame       ResourceType = "sub_frame"      // iframe 文档
	ResourceStylesheet     ResourceType = "stylesheet"     // CSS
	ResourceScript         ResourceType = "script"         // JavaScript
	ResourceImage          ResourceType = "image"          // 图片
	ResourceFont           ResourceType = "font"           // 字体
	ResourceObject         ResourceType = "object"         // 插件对象
	ResourceXMLHTTPRequest ResourceType = "xmlhttprequest" // XHR 与 fetch
	ResourcePing           ResourceType = "ping"           // sendBeacon / <a ping>
	ResourceCSPReport      ResourceType = "csp_report"     // CSP 违规报告
	ResourceMedia          ResourceType = "media"          // 音视频
	ResourceWebSocket      ResourceType = "websocket"      // WebSocket
	ResourceOther          ResourceType = "other"          // 其他
)

var resourceTypes = []ResourceType{
	ResourceMainFrame,
	ResourceSubFrame,
	ResourceStylesheet,
	ResourceScript,
	ResourceImage,
	ResourceFont,
	ResourceObject,
	ResourceXMLHTTPRequest,
	ResourcePing,
	ResourceCSPReport,
	ResourceMedia,
	ResourceWebSocket,
	ResourceOther,
}

// AllResourceTypes 返回完整资源类型集合的副本
func AllResourceTypes() []ResourceType {
	return slices.Clone(resourceTypes)
}

// IsValid 判断资源类型是否在枚举范围内
func (t ResourceType) IsValid() bool {
	return slices.Contains(resourceTypes, t)
}

// IsFullResourceSet 判断集合是否覆盖全部资源类型（忽略顺序与重复）
func IsFullResourceSet(types []ResourceType) bool {
	if len(types) < len(resourceTypes) {
		return false
	}
	for _, t := range resourceTypes {
		if !slices.Contains(types, t) {
			return false
		}
	}
	return true
}

// MethodOther 表示未单独列出的请求方法，如 TRACE 或自定义方法
const MethodOther = "OTHER"

var requestMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD", "CONNECT", MethodOther}

// AllRequestMethods 返回可选请求方法的副本
func AllRequestMethods() []string {
	return slices.Clone(requestMethods)
}

// IsKnownMethod 不区分大小写判断请求方法
func IsKnownMethod(m string) bool {
	return slices.Contains(requestMethods, strings.ToUpper(m))
}

// cdpResourceTypes CDP Network.ResourceType 到规则资源类型的映射
var cdpResourceTypes = map[string]ResourceType{
	"document":           ResourceMainFrame,
	"stylesheet":         ResourceStylesheet,
	"image":              ResourceImage,
	"media":              ResourceMedia,
	"font":               ResourceFont,
	"script":             ResourceScript,
	"xhr":                ResourceXMLHTTPRequest,
	"fetch":              ResourceXMLHTTPRequest,
	"websocket":          ResourceWebSocket,
	"ping":               ResourcePing,
	"cspviolationreport": ResourceCSPReport,
}

// extResourceTypes 按 URL 扩展名推断资源类型
var extResourceTypes = map[string]ResourceType{
	".js":    ResourceScript,
	".mjs":   ResourceScript,
	".css":   ResourceStylesheet,
	".png":   ResourceImage,
	".jpg":   ResourceImage,
	".jpeg":  ResourceImage,
	".gif":   ResourceImage,
	".svg":   ResourceImage,
	".webp":  ResourceImage,
	".ico":   ResourceImage,
	".woff":  ResourceFont,
	".woff2": ResourceFont,
	".ttf":   ResourceFont,
	".mp4":   ResourceMedia,
	".mp3":   ResourceMedia,
}

// GuessResourceType 将外部给出的类型名归一为规则资源类型
// 已是规则枚举值时原样返回；CDP 类型名按映射转换；无法识别时根据 URL 扩展名推断，最终回落到 other
func GuessResourceType(name, rawURL string) ResourceType {
	if rt := ResourceType(name); rt.IsValid() {
		return rt
	}
	if rt, ok := cdpResourceTypes[strings.ToLower(name)]; ok {
		return rt
	}
	return guessTypeFromURL(rawURL)
}

// guessTypeFromURL 根据 URL 扩展名推断资源类型
func guessTypeFromURL(rawURL string) ResourceType {
	u := rawURL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if rt, ok := extResourceTypes[strings.ToLower(path.Ext(u))]; ok {
		return rt
	}
	return ResourceOther
}
