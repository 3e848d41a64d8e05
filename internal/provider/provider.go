package provider

import (
	"context"
	"errors"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Fetcher 把“数据源差异”限制在 provider 子包内部；核心流程只依赖统一接口与 Result。
//
// 约束：
// - Resolve 不返回 error、不 panic：所有失败都以 Result 的形式表达
// - key 的含义由策略决定：搜索/抓取是店铺搜索 key，详情接口是 manage number
// - Fetcher 不做缓存；调用间隔由共享的 http client / browser loader 负责
type Fetcher interface {
	Strategy() domain.FetchStrategy
	// Ready 报告当前是否具备调用条件（例如凭据是否齐全）。凭据在调用时读取，因此结果可能变化。
	Ready() error
	Resolve(ctx context.Context, key string, p domain.ShopProfile) Result
}

// PageLoader 加载商品页 HTML（纯 HTTP 或无头浏览器）。
type PageLoader interface {
	Load(ctx context.Context, url string) ([]byte, error)
}

var (
	ErrRateLimited       = errors.New("触发限流（HTTP 429），退避重试后仍失败")
	ErrCredentialMissing = errors.New("缺少 API 凭据")
	ErrMalformed         = errors.New("响应格式无法解析")
	ErrNotFound          = errors.New("未找到商品")
)

// Result 是单次 Resolve 的结果：found / not_found / failed 三选一。
type Result struct {
	Outcome  domain.Outcome
	Listings []domain.RawListing
	Variants []domain.VariantListing
	Err      error
}

func Found(listings []domain.RawListing, variants []domain.VariantListing) Result {
	return Result{Outcome: domain.OutcomeFound, Listings: listings, Variants: variants}
}

// NotFound 可以携带“默认值 listing”（例如详情接口 404 时）。
func NotFound(listings ...domain.RawListing) Result {
	return Result{Outcome: domain.OutcomeNotFound, Listings: listings, Err: ErrNotFound}
}

func Failed(err error) Result {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Result{Outcome: domain.OutcomeFailed, Err: err}
}

// Reason 把失败归类为稳定的 reason code（写入记录与 report）。
// ctx 已结束时一律视为 canceled：这类结果会被上层丢弃而不是记为失败。
func Reason(ctx context.Context, err error) string {
	if err == nil {
		return ""
	}
	if ctx != nil && ctx.Err() != nil {
		return domain.ReasonCanceled
	}
	var hs *HTTPStatusError
	switch {
	case errors.Is(err, context.Canceled):
		return domain.ReasonCanceled
	case errors.Is(err, ErrRateLimited):
		return domain.ReasonRateLimited
	case errors.Is(err, ErrCredentialMissing):
		return domain.ReasonCredentialMissing
	case errors.Is(err, ErrMalformed):
		return domain.ReasonMalformed
	case errors.As(err, &hs):
		return domain.ReasonHTTPStatus
	default:
		return domain.ReasonNetwork
	}
}
