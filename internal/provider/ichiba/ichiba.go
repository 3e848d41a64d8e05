package ichiba

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/provider"
)

const (
	DefaultEndpoint = "https://app.rakuten.co.jp/services/api/IchibaItem/Search/20220601"
	DefaultHits     = 10
	DefaultBackoff  = 60 * time.Second

	EnvAppID       = "RAKUTEN_APP_ID"
	EnvAffiliateID = "RAKUTEN_AFFILIATE_ID"
)

type Config struct {
	Endpoint    string
	AppID       string // 环境变量优先，此处为回退值
	AffiliateID string
	Hits        int
	// Backoff 是收到 429 后的固定等待时长，之后只重试一次。
	Backoff time.Duration
	Client  *http.Client
	Logger  *zap.Logger
	// Getenv 默认 os.Getenv；测试可替换。
	Getenv func(string) string
}

// Fetcher 实现关键字搜索 API（api_search）。
//
// 约束：
// - 凭据在每次调用时读取；缺失时返回 failed/credential_missing
// - 429：等待 Backoff 后重试一次；再次 429 视为 failed/rate_limited
// - 其它非 2xx：failed/http_status（记录日志，不中断运行）
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Fetcher {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Hits <= 0 {
		cfg.Hits = DefaultHits
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	return &Fetcher{cfg: cfg, logger: logx.OrNop(cfg.Logger).Named("ichiba"), sleep: sleepCtx}
}

func (*Fetcher) Strategy() domain.FetchStrategy { return domain.StrategyAPISearch }

func (f *Fetcher) Ready() error {
	if f.appID() == "" {
		return fmt.Errorf("%w：%s", provider.ErrCredentialMissing, EnvAppID)
	}
	return nil
}

func (f *Fetcher) appID() string {
	if v := strings.TrimSpace(f.cfg.Getenv(EnvAppID)); v != "" {
		return v
	}
	return strings.TrimSpace(f.cfg.AppID)
}

func (f *Fetcher) affiliateID() string {
	if v := strings.TrimSpace(f.cfg.Getenv(EnvAffiliateID)); v != "" {
		return v
	}
	return strings.TrimSpace(f.cfg.AffiliateID)
}

func (f *Fetcher) Resolve(ctx context.Context, key string, p domain.ShopProfile) provider.Result {
	if err := f.Ready(); err != nil {
		return provider.Failed(err)
	}
	return f.search(ctx, key, p, true)
}

func (f *Fetcher) search(ctx context.Context, key string, p domain.ShopProfile, retry bool) provider.Result {
	u := f.searchURL(key, p)
	b, err := provider.Get(ctx, f.cfg.Client, u, nil)
	if err != nil {
		switch provider.StatusCode(err) {
		case http.StatusTooManyRequests:
			if !retry {
				return provider.Failed(fmt.Errorf("%w：%v", provider.ErrRateLimited, err))
			}
			f.logger.Warn("触发限流，等待后重试一次",
				zap.String("shop", p.ID), zap.String("key", key), zap.Duration("backoff", f.cfg.Backoff))
			if err := f.sleep(ctx, f.cfg.Backoff); err != nil {
				return provider.Failed(err)
			}
			return f.search(ctx, key, p, false)
		case 0:
			return provider.Failed(err)
		default:
			f.logger.Warn("搜索接口返回非 2xx",
				zap.String("shop", p.ID), zap.String("key", key), zap.Error(err), zap.ByteString("body", truncate(b, 256)))
			return provider.Failed(err)
		}
	}

	listings, err := parseSearch(b, p)
	if err != nil {
		return provider.Failed(fmt.Errorf("%w：%v", provider.ErrMalformed, err))
	}
	if len(listings) == 0 {
		return provider.NotFound()
	}
	return provider.Found(listings, nil)
}

func (f *Fetcher) searchURL(key string, p domain.ShopProfile) string {
	q := url.Values{}
	q.Set("applicationId", f.appID())
	if a := f.affiliateID(); a != "" {
		q.Set("affiliateId", a)
	}
	q.Set("shopCode", p.BaseIdentifier)
	q.Set("keyword", key)
	q.Set("hits", strconv.Itoa(f.cfg.Hits))
	q.Set("format", "json")
	q.Set("availability", "1")
	return f.cfg.Endpoint + "?" + q.Encode()
}

type searchResponse struct {
	Items []struct {
		Item item `json:"Item"`
	} `json:"Items"`
}

type item struct {
	ItemName     string `json:"itemName"`
	ItemCode     string `json:"itemCode"`
	ItemPrice    *int64 `json:"itemPrice"`
	ItemURL      string `json:"itemUrl"`
	ShopCode     string `json:"shopCode"`
	Availability *int   `json:"availability"`
	PointRate    *int64 `json:"pointRate"`
	Points       *int64 `json:"points"`
	CouponPrice  *int64 `json:"couponPrice"`
}

// parseSearch 是纯函数：相同输入 => 相同输出。
func parseSearch(b []byte, p domain.ShopProfile) ([]domain.RawListing, error) {
	var r searchResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	out := make([]domain.RawListing, 0, len(r.Items))
	for _, it := range r.Items {
		x := it.Item
		if strings.TrimSpace(x.ItemCode) == "" && strings.TrimSpace(x.ItemURL) == "" {
			continue
		}
		l := domain.RawListing{
			ManageNumber: strings.TrimSpace(x.ItemCode),
			Name:         strings.TrimSpace(x.ItemName),
			Price:        x.ItemPrice,
			Coupon:       x.CouponPrice,
			Availability: domain.AvailabilityUnknown,
			URL:          strings.TrimSpace(x.ItemURL),
			ShopID:       p.ID,
		}
		switch {
		case x.Points != nil:
			l.Points = x.Points
		case x.PointRate != nil && x.ItemPrice != nil:
			// pointRate 是倍率（1 = 1%）。
			v := *x.ItemPrice * *x.PointRate / 100
			l.Points = &v
		}
		if x.Availability != nil {
			if *x.Availability == 1 {
				l.Availability = domain.AvailabilityInStock
			} else {
				l.Availability = domain.AvailabilityOutOfStock
			}
		}
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
