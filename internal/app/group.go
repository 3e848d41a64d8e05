package app

import "strings"

// GroupSKUs 对输入 SKU 去重（第一次出现的位置胜出）。
//
// - unique 保持输入顺序
// - dups 按出现顺序记录被丢弃的重复值（用于日志告警）
// - 比较前裁掉两端空白；空值直接丢弃
func GroupSKUs(skus []string) (unique []string, dups []string) {
	seen := make(map[string]struct{}, len(skus))
	unique = make([]string, 0, len(skus))
	for _, s := range skus {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			dups = append(dups, s)
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}
	return unique, dups
}
