package domain

// ShopEntry 是 ProductRecord 中单个店铺的落盘形态。
//
// Listing 为 nil 表示该店铺没有可用 listing（not_found 或 failed），
// 与“找到了但字段为空”可区分。
type ShopEntry struct {
	SearchKey     string           `json:"search_key"`
	FormatFailed  bool             `json:"format_failed,omitempty"`
	Outcome       Outcome          `json:"outcome"`
	Reason        string           `json:"reason,omitempty"`
	DetailOutcome Outcome          `json:"detail_outcome,omitempty"`
	Listing       *RawListing      `json:"listing,omitempty"`
	Variants      []VariantListing `json:"variants,omitempty"`
}

// ProductRecord 是一次运行中某个内部 SKU 的聚合结果。
//
// 约束：
// - InternalSKU 从不改写
// - PerShop 的 key 必须是注册表中的店铺
// - 不包含任何随时间变化的字段（时间戳等放在 run report），保证上游不变时记录相等
type ProductRecord struct {
	InternalSKU    string               `json:"internal_sku"`
	SearchKeyUsed  string               `json:"search_key_used"`
	CanonicalName  string               `json:"canonical_name"`
	ReferencePrice *int64               `json:"reference_price,omitempty"`
	StandardPrice  *int64               `json:"standard_price,omitempty"`
	PriceExTax     *int64               `json:"price_ex_tax,omitempty"`
	PerShop        map[string]ShopEntry `json:"per_shop"`
}
