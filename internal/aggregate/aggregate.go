package aggregate

import (
	"github.com/shopspring/decimal"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// DefaultTaxRate 是含税价 -> 不含税价的换算系数。
var DefaultTaxRate = decimal.RequireFromString("1.1")

type Options struct {
	TaxRate decimal.Decimal
}

// Aggregate 把一个 SKU 在各店铺的解析结果合并为一条 ProductRecord。
//
// 约束：
// - profiles 的顺序即“店铺优先级”（名称/价格的回退都按这个顺序，结果与完成先后无关）
// - 每个店铺只选一条 listing：身份匹配优先，其次第一条
// - 详情接口对标题/定价/售价权威；搜索结果对实时价格/库存/URL 权威
// - 不含税价：详情售价 / 税率；无售价时用第一个有价格的店铺 / 税率（均向下取整）
// - 定价（ReferencePrice）只用于展示，不参与不含税价计算
// - 不在 profiles 中的结果被忽略（PerShop 的 key 只会是注册表中的店铺）
func Aggregate(sku string, profiles []domain.ShopProfile, results map[string]domain.ShopResult, opts Options) domain.ProductRecord {
	rate := opts.TaxRate
	if !rate.IsPositive() {
		rate = DefaultTaxRate
	}

	rec := domain.ProductRecord{
		InternalSKU: sku,
		PerShop:     make(map[string]domain.ShopEntry, len(profiles)),
	}

	var (
		detailName string
		firstName  string
		firstPrice *int64
	)
	for _, p := range profiles {
		res, ok := results[p.ID]
		if !ok {
			continue
		}
		if rec.SearchKeyUsed == "" {
			rec.SearchKeyUsed = res.SearchKey
		}

		entry := domain.ShopEntry{
			SearchKey:     res.SearchKey,
			FormatFailed:  res.FormatFailed,
			Outcome:       res.Outcome,
			Reason:        res.Reason,
			DetailOutcome: res.DetailOutcome,
		}
		if res.Outcome == domain.OutcomeFound {
			if sel, ok := p.SelectListing(res.Listings); ok {
				l := sel
				if res.Detail != nil {
					if res.Detail.Name != "" {
						l.Name = res.Detail.Name
					}
					l.ReferencePrice = res.Detail.ReferencePrice
					l.StandardPrice = res.Detail.StandardPrice
				}
				entry.Listing = &l
			}
			if len(res.Variants) > 0 {
				entry.Variants = append([]domain.VariantListing(nil), res.Variants...)
			}
		}
		rec.PerShop[p.ID] = entry

		if res.Detail != nil && res.Detail.Name != "" && detailName == "" {
			detailName = res.Detail.Name
		}
		if rec.ReferencePrice == nil && res.Detail != nil && res.Detail.ReferencePrice != nil {
			v := *res.Detail.ReferencePrice
			rec.ReferencePrice = &v
		}
		if rec.StandardPrice == nil && res.Detail != nil && res.Detail.StandardPrice != nil {
			v := *res.Detail.StandardPrice
			rec.StandardPrice = &v
		}
		if firstName == "" {
			firstName = entryName(entry)
		}
		if firstPrice == nil {
			firstPrice = entryPrice(entry)
		}
	}

	rec.CanonicalName = firstName
	if detailName != "" {
		rec.CanonicalName = detailName
	}
	if rec.SearchKeyUsed == "" {
		rec.SearchKeyUsed = sku
	}

	switch {
	case rec.StandardPrice != nil:
		v := ExTax(*rec.StandardPrice, rate)
		rec.PriceExTax = &v
	case firstPrice != nil:
		v := ExTax(*firstPrice, rate)
		rec.PriceExTax = &v
	}
	return rec
}

// ExTax 计算 floor(price / rate)，使用十进制避免 1100/1.1 = 999.999... 这类误差。
func ExTax(price int64, rate decimal.Decimal) int64 {
	if !rate.IsPositive() {
		rate = DefaultTaxRate
	}
	return decimal.NewFromInt(price).DivRound(rate, 8).Floor().IntPart()
}

func entryName(e domain.ShopEntry) string {
	if e.Listing != nil && e.Listing.Name != "" {
		return e.Listing.Name
	}
	for _, v := range e.Variants {
		if v.Name != "" {
			return v.Name
		}
	}
	return ""
}

func entryPrice(e domain.ShopEntry) *int64 {
	if e.Listing != nil && e.Listing.Price != nil {
		return e.Listing.Price
	}
	for _, v := range e.Variants {
		if v.Price != nil {
			return v.Price
		}
	}
	return nil
}
