package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/skufmt"
)

// Attempt 记录一次数据源调用（用于解释失败/降级原因）。
// 注意：这是内部执行轨迹，不直接写入记录（由上层决定如何呈现）。
type Attempt struct {
	Stage   string // "search" / "detail" / "scrape"
	Key     string
	Outcome domain.Outcome
	Err     error
}

// Error 是某个店铺某个阶段的可追溯错误。
type Error struct {
	Shop  string
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("shop=%s stage=%s: %v", e.Shop, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver 负责“SKU -> 店铺 key -> 按策略调用 fetcher”。
type Resolver struct {
	reg    Registry
	logger *zap.Logger
}

func NewResolver(reg Registry, logger *zap.Logger) *Resolver {
	return &Resolver{reg: reg, logger: logx.OrNop(logger)}
}

// Usable 报告某个店铺在当前配置下能否抓取。
// api_auth_detail 只要求前置的搜索可用；详情不可用时降级为只有搜索数据。
func (r *Resolver) Usable(p domain.ShopProfile) error {
	s := p.Strategy
	if s == domain.StrategyAPIAuthDetail {
		s = domain.StrategyAPISearch
	}
	f, ok := r.reg.Get(s)
	if !ok {
		return fmt.Errorf("shop %q：未注册 %s fetcher", p.ID, s)
	}
	if err := f.Ready(); err != nil {
		return fmt.Errorf("shop %q：%w", p.ID, err)
	}
	return nil
}

// ResolveShop 解析单个 SKU 在单个店铺上的结果。
//
// 约束：
// - 不返回 error、不 panic（panic 会被转换为 failed/panic）
// - SKU 不满足派生规则时使用原始 SKU 作为 key，并标记 FormatFailed
func (r *Resolver) ResolveShop(ctx context.Context, sku string, p domain.ShopProfile) (res domain.ShopResult) {
	res, _ = r.ResolveShopTrace(ctx, sku, p)
	return res
}

// ResolveShopTrace 与 ResolveShop 相同，但额外返回调用轨迹。
func (r *Resolver) ResolveShopTrace(ctx context.Context, sku string, p domain.ShopProfile) (res domain.ShopResult, attempts []Attempt) {
	log := r.logger.With(zap.String("shop", p.ID), zap.String("sku", sku))

	key, ferr := skufmt.Derive(sku, p.Rule)
	res = domain.ShopResult{ShopID: p.ID, SearchKey: key}
	if ferr != nil {
		log.Warn("SKU 不满足派生规则，使用原始 SKU 搜索", zap.Error(ferr))
		res.SearchKey = sku
		res.FormatFailed = true
	}

	defer func() {
		if v := recover(); v != nil {
			log.Error("fetcher panic", zap.Any("panic", v))
			res.Outcome = domain.OutcomeFailed
			res.Reason = domain.ReasonPanic
			res.Err = &Error{Shop: p.ID, Stage: "panic", Err: fmt.Errorf("%v", v)}
			res.Listings, res.Variants, res.Detail = nil, nil, nil
		}
	}()

	switch p.Strategy {
	case domain.StrategyAPISearch, domain.StrategyAPIAuthDetail:
		out, a := r.call(ctx, "search", domain.StrategyAPISearch, res.SearchKey, p)
		attempts = append(attempts, a)
		r.fill(ctx, &res, out, p, "search")
		if p.Strategy == domain.StrategyAPIAuthDetail && res.Outcome == domain.OutcomeFound {
			attempts = append(attempts, r.detail(ctx, &res, p, log))
		}
	case domain.StrategyHTMLScrape:
		out, a := r.call(ctx, "scrape", domain.StrategyHTMLScrape, res.SearchKey, p)
		attempts = append(attempts, a)
		r.fill(ctx, &res, out, p, "scrape")
	default:
		res.Outcome = domain.OutcomeFailed
		res.Reason = domain.ReasonUnsupported
		res.Err = &Error{Shop: p.ID, Stage: "dispatch", Err: fmt.Errorf("未知 fetch_strategy：%q", p.Strategy)}
	}

	if res.Outcome == domain.OutcomeFailed && res.Reason != domain.ReasonCanceled {
		log.Warn("店铺抓取失败", zap.String("key", res.SearchKey), zap.String("reason", res.Reason), zap.Error(res.Err))
	}
	return res, attempts
}

func (r *Resolver) call(ctx context.Context, stage string, s domain.FetchStrategy, key string, p domain.ShopProfile) (Result, Attempt) {
	f, ok := r.reg.Get(s)
	if !ok {
		err := fmt.Errorf("未注册 %s fetcher", s)
		return Failed(err), Attempt{Stage: stage, Key: key, Outcome: domain.OutcomeFailed, Err: err}
	}
	out := f.Resolve(ctx, key, p)
	return out, Attempt{Stage: stage, Key: key, Outcome: out.Outcome, Err: out.Err}
}

func (r *Resolver) fill(ctx context.Context, res *domain.ShopResult, out Result, p domain.ShopProfile, stage string) {
	res.Outcome = out.Outcome
	res.Listings = out.Listings
	res.Variants = out.Variants
	if out.Outcome == domain.OutcomeFailed {
		res.Reason = Reason(ctx, out.Err)
		res.Err = &Error{Shop: p.ID, Stage: stage, Err: out.Err}
	}
}

// detail 用搜索得到的 manage number 调用鉴权详情接口。
// 详情失败不影响店铺的 found 结果，只记录 DetailOutcome。
func (r *Resolver) detail(ctx context.Context, res *domain.ShopResult, p domain.ShopProfile, log *zap.Logger) Attempt {
	sel, _ := p.SelectListing(res.Listings)
	if sel.ManageNumber == "" {
		res.DetailOutcome = domain.OutcomeNotFound
		return Attempt{Stage: "detail", Outcome: domain.OutcomeNotFound}
	}

	out, a := r.call(ctx, "detail", domain.StrategyAPIAuthDetail, sel.ManageNumber, p)
	res.DetailOutcome = out.Outcome
	switch out.Outcome {
	case domain.OutcomeFound, domain.OutcomeNotFound:
		if len(out.Listings) > 0 {
			d := out.Listings[0]
			res.Detail = &d
		}
	case domain.OutcomeFailed:
		if Reason(ctx, out.Err) == domain.ReasonCanceled {
			res.Outcome = domain.OutcomeFailed
			res.Reason = domain.ReasonCanceled
			res.Err = &Error{Shop: p.ID, Stage: "detail", Err: out.Err}
			return a
		}
		log.Warn("详情接口失败，仅使用搜索数据", zap.String("manage_number", sel.ManageNumber), zap.Error(out.Err))
	}
	return a
}
