package planner

import (
	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/skufmt"
)

// ShopKey 是某个 SKU 在某个店铺上的搜索 key。
type ShopKey struct {
	ShopID       string
	SearchKey    string
	FormatFailed bool
}

// ItemPlan 是单个 SKU 的确定性执行计划（不做任何网络调用/写入）。
type ItemPlan struct {
	SKU string
	// Skip=true 表示该 SKU 已在 progress 中完成，直接复用 Saved。
	Skip  bool
	Saved domain.ProductRecord
	// Keys 按店铺注册顺序排列。
	Keys []ShopKey
}

// Plan 基于去重后的 SKU 列表与 progress 生成执行计划，顺序与输入一致。
func Plan(skus []string, profiles []domain.ShopProfile, done map[string]domain.ProductRecord) []ItemPlan {
	plans := make([]ItemPlan, 0, len(skus))
	for _, sku := range skus {
		p := ItemPlan{SKU: sku, Keys: Keys(sku, profiles)}
		if rec, ok := done[sku]; ok {
			p.Skip = true
			p.Saved = rec
		}
		plans = append(plans, p)
	}
	return plans
}

// Keys 计算 SKU 在每个店铺上的搜索 key；规则不满足时退回原始 SKU。
func Keys(sku string, profiles []domain.ShopProfile) []ShopKey {
	out := make([]ShopKey, 0, len(profiles))
	for _, p := range profiles {
		key, ok := skufmt.Format(sku, p.Rule)
		out = append(out, ShopKey{ShopID: p.ID, SearchKey: key, FormatFailed: !ok})
	}
	return out
}

// Count 返回需要抓取与可跳过的数量。
func Count(plans []ItemPlan) (todo, skip int) {
	for _, p := range plans {
		if p.Skip {
			skip++
		} else {
			todo++
		}
	}
	return todo, skip
}
