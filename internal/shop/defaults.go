package shop

import "github.com/John-Robertt/shoprecon/internal/domain"

const itemBaseURL = "https://item.rakuten.co.jp/"

// kougushop 的商品页用固定 variantId（8021 起）表示尺码。
var kouguSizes = []string{
	"22.5", "23.0", "23.5", "24.0", "24.5", "25.0", "25.5",
	"26.0", "26.5", "27.0", "27.5", "28.0", "29.0", "30.0",
}

// Defaults 返回内置的 4 个店铺配置（未在配置文件中声明 shops 时使用）。
func Defaults() []domain.ShopProfile {
	return []domain.ShopProfile{
		{
			ID:             "waste",
			DisplayName:    "e-life＆work shop",
			BaseIdentifier: "waste",
			BaseURL:        itemBaseURL + "waste/",
			Rule:           domain.FieldRule("-", 2),
			Strategy:       domain.StrategyAPIAuthDetail,
			Variants:       domain.VariantSpec{Mode: domain.VariantNone},
		},
		{
			ID:             "kougushop",
			DisplayName:    "工具ショップ",
			BaseIdentifier: "kougushop",
			BaseURL:        itemBaseURL + "kougushop/",
			Rule:           domain.JoinRule("-", "-", 2, 3),
			Strategy:       domain.StrategyHTMLScrape,
			Variants: domain.VariantSpec{
				Mode:    domain.VariantFixed,
				StartID: 8021,
				Sizes:   kouguSizes,
			},
		},
		{
			ID:             "kouei-sangyou",
			DisplayName:    "晃栄産業",
			BaseIdentifier: "kouei-sangyou",
			BaseURL:        itemBaseURL + "kouei-sangyou/",
			Rule:           domain.ConstantRule("fcp209"),
			Strategy:       domain.StrategyHTMLScrape,
			Variants:       domain.VariantSpec{Mode: domain.VariantMatrix},
		},
		{
			ID:             "dear-worker",
			DisplayName:    "dear-worker",
			BaseIdentifier: "dear-worker",
			BaseURL:        itemBaseURL + "dear-worker/",
			Rule:           domain.ConstantRule("cp209boa"),
			Strategy:       domain.StrategyHTMLScrape,
			Variants:       domain.VariantSpec{Mode: domain.VariantMatrix},
		},
	}
}
