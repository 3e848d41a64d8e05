package itempage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/provider"
)

// 价格/积分选择器按顺序尝试，第一个命中的生效。店铺前端改版时只需要在这里追加。
var (
	priceSelectors = []string{
		"div.value--1oSD_.layout-inline--2z490.size-x-large--DyMl5.style-bold500--1X0Xl.color-crimson--2uc0e.align-right--3POGa",
		"span.price--OX_YW",
		"span[data-test='price']",
		"span.price--3xbIC",
		"span.price_color",
		"span.price",
	}
	pointSelectors = []string{
		"div.point-summary__total___3rYYD span",
		"span.price--point-badge_item",
		"span[data-test='points']",
		"span.points--3A8tR",
		"span.point_value",
		"div.point-summary span",
	}
	nameSelectors = []string{
		"span.item_name",
		"h1.item_name",
		"h1",
	}
	couponSelector      = "div.coupon"
	colorButtonSelector = "div.grid-cols-2--1uI00 button.type-sku-button--BJoVv"
	sizeButtonSelector  = "div.grid-cols-5--3wKbc button.type-sku-button--BJoVv"
)

const (
	markOutOfStock = "売り切れ"
	markInStock    = "在庫あり"
)

type Config struct {
	Loader provider.PageLoader
	Logger *zap.Logger
}

// Fetcher 实现商品页 HTML 抓取（html_scrape）。
//
// 约束：
// - 抓取是 best-effort：选择器全部未命中时字段保持未设置，不视为失败
// - 变体逐个加载；单个变体失败只影响该变体（字段为空），不影响整个店铺
// - Parse 部分是纯函数（依赖输入 html）
type Fetcher struct {
	loader provider.PageLoader
	logger *zap.Logger
}

func New(cfg Config) *Fetcher {
	return &Fetcher{loader: cfg.Loader, logger: logx.OrNop(cfg.Logger).Named("itempage")}
}

func (*Fetcher) Strategy() domain.FetchStrategy { return domain.StrategyHTMLScrape }

func (f *Fetcher) Ready() error {
	if f.loader == nil {
		return fmt.Errorf("未配置页面加载器")
	}
	return nil
}

func (f *Fetcher) Resolve(ctx context.Context, key string, p domain.ShopProfile) provider.Result {
	if err := f.Ready(); err != nil {
		return provider.Failed(err)
	}
	base, err := PageURL(p, key)
	if err != nil {
		return provider.Failed(err)
	}

	html, err := f.loader.Load(ctx, base)
	if err != nil {
		if provider.StatusCode(err) == http.StatusNotFound {
			return provider.NotFound()
		}
		return provider.Failed(err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return provider.Failed(fmt.Errorf("%w：%v", provider.ErrMalformed, err))
	}

	page := parsePage(doc)
	listing := page.listing(p, key, base)

	var variants []domain.VariantListing
	switch p.Variants.Mode {
	case domain.VariantMatrix:
		variants, err = f.loadVariants(ctx, p, base, matrixVariants(doc))
	case domain.VariantFixed:
		variants, err = f.loadVariants(ctx, p, base, fixedVariants(p.Variants))
	}
	if err != nil {
		return provider.Failed(err)
	}

	if len(variants) == 0 && !page.hasData() {
		return provider.NotFound()
	}
	return provider.Found([]domain.RawListing{listing}, variants)
}

type variantRef struct {
	id   string
	axes []domain.VariantAxis
}

func (f *Fetcher) loadVariants(ctx context.Context, p domain.ShopProfile, base string, refs []variantRef) ([]domain.VariantListing, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make([]domain.VariantListing, 0, len(refs))
	for _, ref := range refs {
		u, err := variantURL(base, ref.id)
		if err != nil {
			return nil, err
		}
		v := domain.VariantListing{
			VariantID: ref.id,
			Axes:      ref.axes,
			RawListing: domain.RawListing{
				ManageNumber: p.BaseIdentifier + ":" + ref.id,
				Availability: domain.AvailabilityUnknown,
				URL:          u,
				ShopID:       p.ID,
			},
		}

		html, err := f.loader.Load(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("变体页面加载失败", zap.String("shop", p.ID), zap.String("url", u), zap.Error(err))
			out = append(out, v)
			continue
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
		if err != nil {
			out = append(out, v)
			continue
		}
		pg := parsePage(doc)
		v.Name = pg.name
		v.Price, v.Points, v.Coupon = pg.price, pg.points, pg.coupon
		v.Availability = pg.availability
		out = append(out, v)
	}
	return out, nil
}

// PageURL 拼出商品页 URL：BaseURL + key + "/"（可选附加 PageQuery）。
func PageURL(p domain.ShopProfile, key string) (string, error) {
	base := strings.TrimSpace(p.BaseURL)
	if base == "" {
		return "", fmt.Errorf("shop %q 缺少 base_url", p.ID)
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(strings.TrimSpace(key)) + "/"
	if q := strings.TrimLeft(strings.TrimSpace(p.PageQuery), "?"); q != "" {
		u += "?" + q
	}
	return u, nil
}

func variantURL(base, id string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("variantId", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// matrixVariants 从颜色/尺码按钮生成笛卡尔积，variantId 为 r-sku%08d（从 1 开始）。
func matrixVariants(doc *goquery.Document) []variantRef {
	colors := buttonLabels(doc, colorButtonSelector)
	sizes := buttonLabels(doc, sizeButtonSelector)
	if len(colors) == 0 && len(sizes) == 0 {
		return nil
	}

	var refs []variantRef
	n := 0
	add := func(axes ...domain.VariantAxis) {
		n++
		refs = append(refs, variantRef{id: fmt.Sprintf("r-sku%08d", n), axes: axes})
	}
	switch {
	case len(colors) == 0:
		for _, s := range sizes {
			add(domain.VariantAxis{Name: "size", Value: s})
		}
	case len(sizes) == 0:
		for _, c := range colors {
			add(domain.VariantAxis{Name: "color", Value: c})
		}
	default:
		for _, c := range colors {
			for _, s := range sizes {
				add(domain.VariantAxis{Name: "color", Value: c}, domain.VariantAxis{Name: "size", Value: s})
			}
		}
	}
	return refs
}

func fixedVariants(spec domain.VariantSpec) []variantRef {
	refs := make([]variantRef, 0, len(spec.Sizes))
	for i, size := range spec.Sizes {
		refs = append(refs, variantRef{
			id:   strconv.Itoa(spec.StartID + i),
			axes: []domain.VariantAxis{{Name: "size", Value: size}},
		})
	}
	return refs
}

func buttonLabels(doc *goquery.Document, sel string) []string {
	seen := map[string]struct{}{}
	var out []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		label, ok := s.Attr("aria-label")
		if !ok {
			label = s.Text()
		}
		label = normSpace(label)
		if label == "" {
			return
		}
		if _, ok := seen[label]; ok {
			return
		}
		seen[label] = struct{}{}
		out = append(out, label)
	})
	return out
}
