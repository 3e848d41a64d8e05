package rms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/provider"
)

const (
	DefaultEndpoint = "https://api.rms.rakuten.co.jp/es/2.0/items/manage-numbers/"

	EnvServiceSecret = "RAKUTEN_SERVICE_SECRET"
	EnvLicenseKey    = "RAKUTEN_LICENSE_KEY"
)

type Config struct {
	Endpoint      string
	ServiceSecret string // 环境变量优先，此处为回退值
	LicenseKey    string
	Client        *http.Client
	Logger        *zap.Logger
	Getenv        func(string) string
}

// Fetcher 实现店铺管理 API 的商品详情查询（api_auth_detail）。
//
// 约束：
// - key 是 "shop:item" 形式的 manage number；请求路径只使用 item 部分
// - 404 返回 not_found + 默认值 listing，而不是错误
// - 只负责标题、定价与售价；实时价格/库存以搜索结果为准
type Fetcher struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config) *Fetcher {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	return &Fetcher{cfg: cfg, logger: logx.OrNop(cfg.Logger).Named("rms")}
}

func (*Fetcher) Strategy() domain.FetchStrategy { return domain.StrategyAPIAuthDetail }

func (f *Fetcher) credentials() (secret, license string) {
	secret = strings.TrimSpace(f.cfg.Getenv(EnvServiceSecret))
	if secret == "" {
		secret = strings.TrimSpace(f.cfg.ServiceSecret)
	}
	license = strings.TrimSpace(f.cfg.Getenv(EnvLicenseKey))
	if license == "" {
		license = strings.TrimSpace(f.cfg.LicenseKey)
	}
	return secret, license
}

func (f *Fetcher) Ready() error {
	s, l := f.credentials()
	if s == "" || l == "" {
		return fmt.Errorf("%w：%s/%s", provider.ErrCredentialMissing, EnvServiceSecret, EnvLicenseKey)
	}
	return nil
}

func (f *Fetcher) Resolve(ctx context.Context, manageNumber string, p domain.ShopProfile) provider.Result {
	secret, license := f.credentials()
	if secret == "" || license == "" {
		return provider.Failed(fmt.Errorf("%w：%s/%s", provider.ErrCredentialMissing, EnvServiceSecret, EnvLicenseKey))
	}

	item := itemPart(manageNumber)
	if item == "" {
		return provider.Failed(fmt.Errorf("manage number 为空"))
	}

	h := http.Header{}
	h.Set("Authorization", "ESA "+base64.StdEncoding.EncodeToString([]byte(secret+":"+license)))
	h.Set("Accept", "application/json")

	b, err := provider.Get(ctx, f.cfg.Client, f.cfg.Endpoint+url.PathEscape(item), h)
	if err != nil {
		if provider.StatusCode(err) == http.StatusNotFound {
			return provider.NotFound(domain.RawListing{
				ManageNumber: manageNumber,
				Availability: domain.AvailabilityUnknown,
				ShopID:       p.ID,
			})
		}
		if provider.StatusCode(err) != 0 {
			f.logger.Warn("详情接口返回非 2xx", zap.String("shop", p.ID), zap.String("manage_number", manageNumber), zap.Error(err))
		}
		return provider.Failed(err)
	}

	l, err := parseItem(b)
	if err != nil {
		return provider.Failed(fmt.Errorf("%w：%v", provider.ErrMalformed, err))
	}
	l.ManageNumber = manageNumber
	l.ShopID = p.ID
	return provider.Found([]domain.RawListing{l}, nil)
}

func itemPart(manageNumber string) string {
	mn := strings.TrimSpace(manageNumber)
	if i := strings.Index(mn, ":"); i >= 0 {
		mn = mn[i+1:]
	}
	return strings.TrimSpace(mn)
}

// amount 同时接受 JSON 数字与字符串（"1,100"）。
type amount struct {
	v  int64
	ok bool
}

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("无效金额：%q", s)
	}
	a.v, a.ok = int64(f), true
	return nil
}

type itemResponse struct {
	Title    string             `json:"title"`
	Variants map[string]variant `json:"variants"`
}

type variant struct {
	ReferencePrice *struct {
		Value amount `json:"value"`
	} `json:"referencePrice"`
	StandardPrice amount `json:"standardPrice"`
}

// parseItem 取标题、定价（referencePrice）与售价（standardPrice）。
//
// 约束：
// - 两个价格独立取值：各自取 variant id 字典序下第一个有值的 variant
// - 定价只用于展示；不含税价由售价换算（见 aggregate）
func parseItem(b []byte) (domain.RawListing, error) {
	var r itemResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return domain.RawListing{}, err
	}
	l := domain.RawListing{
		Name:         strings.TrimSpace(r.Title),
		Availability: domain.AvailabilityUnknown,
	}

	ids := make([]string, 0, len(r.Variants))
	for id := range r.Variants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		v := r.Variants[id]
		if l.ReferencePrice == nil && v.ReferencePrice != nil && v.ReferencePrice.Value.ok {
			x := v.ReferencePrice.Value.v
			l.ReferencePrice = &x
		}
		if l.StandardPrice == nil && v.StandardPrice.ok {
			x := v.StandardPrice.v
			l.StandardPrice = &x
		}
	}
	return l, nil
}
