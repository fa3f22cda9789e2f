package devtools

import (
	"encoding/json"
	"fmt"
	"strings"

	"rulekeeper/pkg/rulespec"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	listExpression   = "chrome.declarativeNetRequest.getDynamicRules()"
	updateExpression = "chrome.declarativeNetRequest.updateDynamicRules(%s).then(() => true)"
)

// EncodeRule 将规范化规则转换为浏览器可接受的 JSON
func EncodeRule(rule rulespec.Rule) ([]byte, error) {
	return json.Marshal(rulespec.ToChrome(rule))
}

// DecodeRules 解析 getDynamicRules 的返回值并还原为规范形式
func DecodeRules(raw []byte) ([]rulespec.Rule, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("devtools: 规则列表不是合法 JSON")
	}
	root := gjson.ParseBytes(raw)
	if root.Type == gjson.Null {
		return []rulespec.Rule{}, nil
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("devtools: 规则列表应为数组，实际为 %s", root.Type)
	}

	rules := make([]rulespec.Rule, 0)
	var decodeErr error
	root.ForEach(func(_, item gjson.Result) bool {
		var rule rulespec.Rule
		if err := json.Unmarshal([]byte(item.Raw), &rule); err != nil {
			decodeErr = fmt.Errorf("devtools: 解析规则失败: %w", err)
			return false
		}
		rules = append(rules, rulespec.FromChrome(rule))
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return rules, nil
}

// UpdateExpression 构造 updateDynamicRules 调用表达式，同一次调用内先删除后添加
func UpdateExpression(removeIDs []int, add []rulespec.Rule) (string, error) {
	if removeIDs == nil {
		removeIDs = []int{}
	}
	payload, err := sjson.SetBytes([]byte(`{}`), "removeRuleIds", removeIDs)
	if err != nil {
		return "", err
	}

	addRaw := make([]string, 0, len(add))
	for _, r := range add {
		data, err := EncodeRule(r)
		if err != nil {
			return "", err
		}
		addRaw = append(addRaw, string(data))
	}
	payload, err = sjson.SetRawBytes(payload, "addRules", []byte("["+strings.Join(addRaw, ",")+"]"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(updateExpression, payload), nil
}
