package rulespec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Format 规则集文件格式
type Format string

const (
	FormatJSON   Format = "json"   // 带元信息的 JSON 对象
	FormatChrome Format = "chrome" // 浏览器静态规则集格式（规则数组）
	FormatYAML   Format = "yaml"   // 带元信息的 YAML 对象
)

// RuleSet 规则集文件根结构
type RuleSet struct {
	ID    string `json:"id" yaml:"id"`                         // 规则集唯一标识符
	Name  string `json:"name,omitempty" yaml:"name,omitempty"` // 规则集名称
	Rules []Rule `json:"rules" yaml:"rules"`                   // 规则列表
}

// NewRuleSet 创建带 UUID 的规则集
func NewRuleSet(name string, rules []Rule) *RuleSet {
	if rules == nil {
		rules = []Rule{}
	}
	return &RuleSet{
		ID:    uuid.New().String(),
		Name:  name,
		Rules: rules,
	}
}

// ParseRuleSet 解析规则集文件
// 支持规则数组、带 rules 字段的 JSON 对象以及 YAML，规则数组按浏览器格式读取
func ParseRuleSet(data []byte) (*RuleSet, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("规则集为空")
	}

	if gjson.ValidBytes(data) {
		root := gjson.ParseBytes(data)
		switch {
		case root.IsArray():
			var rules []Rule
			if err := json.Unmarshal(data, &rules); err != nil {
				return nil, fmt.Errorf("解析规则数组失败: %w", err)
			}
			for i := range rules {
				rules[i] = FromChrome(rules[i])
			}
			return NewRuleSet("", rules), nil
		case root.IsObject():
			if !root.Get("rules").IsArray() {
				return nil, fmt.Errorf("规则集缺少 rules 数组")
			}
			var rs RuleSet
			if err := json.Unmarshal(data, &rs); err != nil {
				return nil, fmt.Errorf("解析规则集失败: %w", err)
			}
			return rs.withDefaults(), nil
		default:
			return nil, fmt.Errorf("不支持的规则集 JSON 类型: %s", root.Type)
		}
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("解析 YAML 规则集失败: %w", err)
	}
	return rs.withDefaults(), nil
}

func (rs *RuleSet) withDefaults() *RuleSet {
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}
	if rs.Rules == nil {
		rs.Rules = []Rule{}
	}
	return rs
}

// Encode 按指定格式序列化规则集
func (rs *RuleSet) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(rs, "", "  ")
	case FormatChrome:
		return json.MarshalIndent(ChromeRules(rs.Rules), "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(rs); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("不支持的格式: %s", format)
	}
}

// ValidateRuleIDs 校验规则 ID 大于 0 且唯一
func ValidateRuleIDs(rules []Rule) error {
	seen := make(map[int]bool, len(rules))
	for _, r := range rules {
		if r.ID <= 0 {
			return fmt.Errorf("规则 ID %d 必须大于 0", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("规则 ID %d 重复", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
