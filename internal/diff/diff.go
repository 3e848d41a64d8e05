package diff

import (
	"sort"
	"strconv"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Classify 把本轮记录与上一轮 snapshot 比较。
//
// 约束：
// - 比较的是“扁平化后的字段路径 -> 值”，与 map 遍历顺序无关
// - 字段缺失与空字符串是两种不同状态
// - reason 只用于诊断，不参与比较
// - 输出顺序与 records 一致
func Classify(records []domain.ProductRecord, prev domain.Snapshot) []domain.DiffResult {
	out := make([]domain.DiffResult, 0, len(records))
	for _, r := range records {
		out = append(out, ClassifyOne(r, prev))
	}
	return out
}

func ClassifyOne(r domain.ProductRecord, prev domain.Snapshot) domain.DiffResult {
	old, ok := prev.Get(r.InternalSKU)
	if !ok {
		return domain.DiffResult{InternalSKU: r.InternalSKU, Classification: domain.ClassNew}
	}
	changed := ChangedFields(old, r)
	if len(changed) == 0 {
		return domain.DiffResult{InternalSKU: r.InternalSKU, Classification: domain.ClassUnchanged}
	}
	return domain.DiffResult{InternalSKU: r.InternalSKU, Classification: domain.ClassChanged, ChangedFields: changed}
}

// ChangedFields 返回两条记录之间不同的字段路径（已排序）。
func ChangedFields(a, b domain.ProductRecord) []string {
	fa, fb := Flatten(a), Flatten(b)
	var out []string
	for k, va := range fa {
		if vb, ok := fb[k]; !ok || vb != va {
			out = append(out, k)
		}
	}
	for k := range fb {
		if _, ok := fa[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Flatten 把记录展开为 "path -> value"。缺失的字段不会出现在结果中。
func Flatten(r domain.ProductRecord) map[string]string {
	m := map[string]string{
		"search_key_used": r.SearchKeyUsed,
		"canonical_name":  r.CanonicalName,
	}
	putInt(m, "reference_price", r.ReferencePrice)
	putInt(m, "standard_price", r.StandardPrice)
	putInt(m, "price_ex_tax", r.PriceExTax)

	for id, e := range r.PerShop {
		pre := "per_shop." + id + "."
		m[pre+"search_key"] = e.SearchKey
		m[pre+"outcome"] = string(e.Outcome)
		if e.FormatFailed {
			m[pre+"format_failed"] = "true"
		}
		if e.DetailOutcome != "" {
			m[pre+"detail_outcome"] = string(e.DetailOutcome)
		}
		if e.Listing != nil {
			putListing(m, pre, *e.Listing)
		}
		for _, v := range e.Variants {
			vp := pre + "variants." + v.Key() + "."
			putListing(m, vp, v.RawListing)
			for _, ax := range v.Axes {
				m[vp+"axis."+ax.Name] = ax.Value
			}
		}
	}
	return m
}

func putListing(m map[string]string, pre string, l domain.RawListing) {
	m[pre+"manage_number"] = l.ManageNumber
	m[pre+"display_name"] = l.Name
	m[pre+"availability"] = string(l.Availability)
	m[pre+"canonical_url"] = l.URL
	m[pre+"raw_source_shop_id"] = l.ShopID
	putInt(m, pre+"price", l.Price)
	putInt(m, pre+"points", l.Points)
	putInt(m, pre+"coupon", l.Coupon)
	putInt(m, pre+"reference_price", l.ReferencePrice)
	putInt(m, pre+"standard_price", l.StandardPrice)
}

func putInt(m map[string]string, k string, v *int64) {
	if v != nil {
		m[k] = strconv.FormatInt(*v, 10)
	}
}
