package store

import "rulekeeper/pkg/rulespec"

// nextID 分配新规则 ID，为现有最大 ID 加一，空集合从 1 开始
func nextID(rules []rulespec.Rule) int {
	maxID := 0
	for _, r := range rules {
		maxID = max(maxID, r.ID)
	}
	return maxID + 1
}
