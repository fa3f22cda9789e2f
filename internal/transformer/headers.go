// Package transformer 将 modifyHeaders 规则应用到请求头
package transformer

import (
	"strings"

	"rulekeeper/pkg/rulespec"
)

// ApplyRequestHeaders 按规则顺序对请求头副本应用修改，返回修改后的请求头
// rules 需已按生效顺序排列。某个请求头被高优先级规则 set 或 remove 后，后续规则不再修改它；
// 被 append 过的请求头只允许继续 append
func ApplyRequestHeaders(headers map[string]string, rules []rulespec.Rule) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}

	locked := make(map[string]rulespec.HeaderOperation)
	for _, r := range rules {
		touched := make(map[string]rulespec.HeaderOperation)
		for _, h := range r.Action.RequestHeaders {
			name := strings.ToLower(h.Header)
			if prev, ok := locked[name]; ok {
				if prev != rulespec.HeaderAppend || h.Operation != rulespec.HeaderAppend {
					continue
				}
			}

			switch h.Operation {
			case rulespec.HeaderSet:
				removeHeader(out, h.Header)
				out[h.Header] = h.Value
			case rulespec.HeaderRemove:
				removeHeader(out, h.Header)
			case rulespec.HeaderAppend:
				appendHeader(out, h.Header, h.Value)
			default:
				continue
			}
			if _, ok := touched[name]; !ok {
				touched[name] = h.Operation
			}
		}
		for name, op := range touched {
			if _, ok := locked[name]; !ok {
				locked[name] = op
			}
		}
	}
	return out
}

// removeHeader 不区分大小写删除请求头
func removeHeader(headers map[string]string, name string) {
	for k := range headers {
		if strings.EqualFold(k, name) {
			delete(headers, k)
		}
	}
}

// appendHeader 追加请求头取值，Cookie 以分号连接，其余以逗号连接
func appendHeader(headers map[string]string, name, value string) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			sep := ", "
			if strings.EqualFold(name, "cookie") {
				sep = "; "
			}
			headers[k] = v + sep + value
			return
		}
	}
	headers[name] = value
}
