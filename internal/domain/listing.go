package domain

import "strings"

// Availability 是三态库存：有货 / 缺货 / 未知。
type Availability string

const (
	AvailabilityUnknown    Availability = "unknown"
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// RawListing 是某个数据源返回的一条“原始”商品信息。
//
// 约束：数值字段使用指针，nil 表示“未获取到”，与 0 区分。
type RawListing struct {
	ManageNumber   string       `json:"manage_number"`
	Name           string       `json:"display_name"`
	Price          *int64       `json:"price,omitempty"`
	Points         *int64       `json:"points,omitempty"`
	Coupon         *int64       `json:"coupon,omitempty"`
	Availability   Availability `json:"availability"`
	URL            string       `json:"canonical_url"`
	ShopID         string       `json:"raw_source_shop_id"`
	ReferencePrice *int64       `json:"reference_price,omitempty"`
	StandardPrice  *int64       `json:"standard_price,omitempty"`
}

type VariantAxis struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// VariantListing 是同一商品在某个变体组合下的 listing。
type VariantListing struct {
	VariantID string        `json:"variant_id"`
	Axes      []VariantAxis `json:"variant_axes"`
	RawListing
}

// Key 是变体在 diff 路径中的稳定标识：优先 variant_id，否则用轴值拼接。
func (v VariantListing) Key() string {
	if strings.TrimSpace(v.VariantID) != "" {
		return v.VariantID
	}
	parts := make([]string, 0, len(v.Axes))
	for _, a := range v.Axes {
		parts = append(parts, a.Name+"="+a.Value)
	}
	return strings.Join(parts, "/")
}

// Outcome 是单个店铺在一次解析中的结果分类。
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// ShopResult 是某个 SKU 在某个店铺上的一次解析结果（运行期临时对象，不落盘）。
type ShopResult struct {
	ShopID       string
	SearchKey    string
	FormatFailed bool

	Outcome Outcome
	Reason  string // Outcome=failed 时的失败类别
	Err     error

	Listings []RawListing
	Variants []VariantListing

	// Detail 来自鉴权详情接口；仅 api_auth_detail 店铺会填写。
	Detail        *RawListing
	DetailOutcome Outcome
}

// Canceled 表示该结果是被取消打断的（应当丢弃，而不是记为 failed）。
func (r ShopResult) Canceled() bool { return r.Reason == ReasonCanceled }

// 失败类别（写入 ShopEntry.Reason 与 report）。
const (
	ReasonRateLimited       = "rate_limited"
	ReasonHTTPStatus        = "http_status"
	ReasonMalformed         = "malformed"
	ReasonNetwork           = "network"
	ReasonCredentialMissing = "credential_missing"
	ReasonCanceled          = "canceled"
	ReasonPanic             = "panic"
	ReasonUnsupported       = "unsupported"
)
