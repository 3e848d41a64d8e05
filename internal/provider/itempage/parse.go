package itempage

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

type pageData struct {
	name         string
	price        *int64
	points       *int64
	coupon       *int64
	availability domain.Availability
}

func (d pageData) hasData() bool {
	return d.name != "" || d.price != nil
}

func (d pageData) listing(p domain.ShopProfile, key, pageURL string) domain.RawListing {
	return domain.RawListing{
		ManageNumber: p.BaseIdentifier + ":" + key,
		Name:         d.name,
		Price:        d.price,
		Points:       d.points,
		Coupon:       d.coupon,
		Availability: d.availability,
		URL:          pageURL,
		ShopID:       p.ID,
	}
}

func parsePage(doc *goquery.Document) pageData {
	d := pageData{availability: domain.AvailabilityUnknown}

	for _, sel := range nameSelectors {
		if v := normSpace(doc.Find(sel).First().Text()); v != "" {
			d.name = v
			break
		}
	}
	if d.name == "" {
		if v, ok := doc.Find("meta[property='og:title']").First().Attr("content"); ok {
			d.name = normSpace(v)
		}
	}

	if txt, ok := firstText(doc, priceSelectors); ok {
		d.price = yen(txt)
	}
	if txt, ok := firstText(doc, pointSelectors); ok {
		d.points = points(txt, d.price)
	}
	if txt := normSpace(doc.Find(couponSelector).First().Text()); txt != "" {
		d.coupon = yen(txt)
	}

	body := visibleText(doc)
	switch {
	case strings.Contains(body, markOutOfStock):
		d.availability = domain.AvailabilityOutOfStock
	case strings.Contains(body, markInStock):
		d.availability = domain.AvailabilityInStock
	}
	return d
}

// visibleText 返回 body 中用户可见的文本（不含 script/style 等内嵌数据）。
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return body.Text()
}

// firstText 返回第一个命中选择器（且含数字）的文本。
func firstText(doc *goquery.Document, sels []string) (string, bool) {
	for _, sel := range sels {
		txt := normSpace(doc.Find(sel).First().Text())
		if txt != "" && strings.ContainsAny(txt, "0123456789") {
			return txt, true
		}
	}
	return "", false
}

// points 支持两种写法："120ポイント" 或 "10%"（按价格换算，向下取整）。
func points(txt string, price *int64) *int64 {
	if strings.ContainsAny(txt, "%％") {
		pct := yen(txt)
		if pct == nil || price == nil {
			return nil
		}
		v := *price * *pct / 100
		return &v
	}
	return yen(txt)
}

// yen 取文本中的第一段数字（忽略千分位逗号）。
func yen(s string) *int64 {
	s = strings.NewReplacer(",", "", "，", "").Replace(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		return nil
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
