package normalize

import (
	"net/url"

	"rulekeeper/pkg/errx"
	"rulekeeper/pkg/rulespec"

	"golang.org/x/net/http/httpguts"
)

// Action 规范化行为，丢弃与类型无关的字段，返回新值
func Action(raw rulespec.Action) (rulespec.Action, error) {
	if !raw.Type.IsValid() {
		return rulespec.Action{}, errx.Invalid(errx.CodeInvalidAction, "未知的行为类型: %q", raw.Type)
	}
	out := rulespec.Action{Type: raw.Type}

	switch raw.Type {
	case rulespec.ActionRedirect:
		rd, err := redirect(raw.Redirect)
		if err != nil {
			return rulespec.Action{}, err
		}
		out.Redirect = rd
	case rulespec.ActionModifyHeaders:
		headers, err := requestHeaders(raw.RequestHeaders)
		if err != nil {
			return rulespec.Action{}, err
		}
		out.RequestHeaders = headers
	}
	return out, nil
}

// redirect 校验重定向目标，url 与 regexSubstitution 必须恰好设置一个
func redirect(rd *rulespec.Redirect) (*rulespec.Redirect, error) {
	if rd == nil || (rd.URL == "" && rd.RegexSubstitution == "") {
		return nil, errx.Invalid(errx.CodeInvalidRedirect, "重定向需要 url 或 regexSubstitution")
	}
	if rd.URL != "" && rd.RegexSubstitution != "" {
		return nil, errx.Invalid(errx.CodeInvalidRedirect, "url 与 regexSubstitution 不能同时设置")
	}
	if rd.URL != "" {
		u, err := url.Parse(rd.URL)
		if err != nil {
			return nil, errx.Invalid(errx.CodeInvalidRedirect, "重定向 url 无效: %v", err)
		}
		if !u.IsAbs() {
			return nil, errx.Invalid(errx.CodeInvalidRedirect, "重定向 url 必须为绝对地址: %q", rd.URL)
		}
		return &rulespec.Redirect{URL: rd.URL}, nil
	}
	return &rulespec.Redirect{RegexSubstitution: rd.RegexSubstitution}, nil
}

// requestHeaders 校验请求头修改列表，保持原有顺序，不去重
func requestHeaders(headers []rulespec.ModifyHeaderInfo) ([]rulespec.ModifyHeaderInfo, error) {
	if len(headers) == 0 {
		return nil, errx.Invalid(errx.CodeInvalidHeader, "modifyHeaders 至少需要一条请求头修改")
	}
	out := make([]rulespec.ModifyHeaderInfo, 0, len(headers))
	for i, h := range headers {
		if h.Header == "" {
			return nil, errx.Invalid(errx.CodeInvalidHeader, "第 %d 条请求头名称为空", i+1)
		}
		if !httpguts.ValidHeaderFieldName(h.Header) {
			return nil, errx.Invalid(errx.CodeInvalidHeader, "请求头名称无效: %q", h.Header)
		}
		switch h.Operation {
		case rulespec.HeaderAppend, rulespec.HeaderSet:
			if h.Value == "" {
				return nil, errx.Invalid(errx.CodeInvalidHeader, "%s 操作 %s 需要 value", h.Header, h.Operation)
			}
			if !httpguts.ValidHeaderFieldValue(h.Value) {
				return nil, errx.Invalid(errx.CodeInvalidHeader, "请求头 %s 的值无效", h.Header)
			}
			out = append(out, rulespec.ModifyHeaderInfo{Header: h.Header, Operation: h.Operation, Value: h.Value})
		case rulespec.HeaderRemove:
			out = append(out, rulespec.ModifyHeaderInfo{Header: h.Header, Operation: h.Operation})
		default:
			return nil, errx.Invalid(errx.CodeInvalidHeader, "请求头 %s 的操作无效: %q", h.Header, h.Operation)
		}
	}
	return out, nil
}
