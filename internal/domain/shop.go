package domain

import (
	"fmt"
	"strings"
)

// FetchStrategy 决定某个店铺使用哪一种数据源。
type FetchStrategy string

const (
	StrategyAPISearch     FetchStrategy = "api_search"
	StrategyAPIAuthDetail FetchStrategy = "api_auth_detail"
	StrategyHTMLScrape    FetchStrategy = "html_scrape"
)

// ParseFetchStrategy 解析配置中的 fetch_strategy（大小写/连字符不敏感）。
func ParseFetchStrategy(s string) (FetchStrategy, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch FetchStrategy(v) {
	case StrategyAPISearch, StrategyAPIAuthDetail, StrategyHTMLScrape:
		return FetchStrategy(v), nil
	default:
		return "", fmt.Errorf("未知 fetch_strategy：%q", s)
	}
}

// RuleKind 是派生规则的标签。
type RuleKind string

const (
	RuleIdentity RuleKind = "identity"
	RuleField    RuleKind = "field"
	RuleJoin     RuleKind = "join"
	RuleConstant RuleKind = "constant"
)

// DerivationRule 描述“内部 SKU -> 店铺搜索 key”的派生方式。
//
// 约束：
// - 规则是数据而不是代码，可以直接写进配置文件
// - Fields 从 1 开始计数（field 1 是第一个分段）
// - Kind=field 只看 Fields[0]；Kind=join 使用全部 Fields，并用 Separator 连接
type DerivationRule struct {
	Kind      RuleKind `json:"kind" mapstructure:"kind"`
	Delimiter string   `json:"delimiter,omitempty" mapstructure:"delimiter"`
	Fields    []int    `json:"fields,omitempty" mapstructure:"fields"`
	Separator string   `json:"separator,omitempty" mapstructure:"separator"`
	Value     string   `json:"value,omitempty" mapstructure:"value"`
}

func IdentityRule() DerivationRule { return DerivationRule{Kind: RuleIdentity} }

func FieldRule(delim string, n int) DerivationRule {
	return DerivationRule{Kind: RuleField, Delimiter: delim, Fields: []int{n}}
}

func JoinRule(delim string, sep string, fields ...int) DerivationRule {
	return DerivationRule{Kind: RuleJoin, Delimiter: delim, Fields: fields, Separator: sep}
}

func ConstantRule(v string) DerivationRule { return DerivationRule{Kind: RuleConstant, Value: v} }

// Validate 只检查规则本身是否自洽；输入 SKU 是否满足规则由 formatter 在运行期降级处理。
func (r DerivationRule) Validate() error {
	switch r.Kind {
	case RuleIdentity:
		return nil
	case RuleConstant:
		if strings.TrimSpace(r.Value) == "" {
			return fmt.Errorf("constant 规则缺少 value")
		}
		return nil
	case RuleField, RuleJoin:
		if r.Delimiter == "" {
			return fmt.Errorf("%s 规则缺少 delimiter", r.Kind)
		}
		if len(r.Fields) == 0 {
			return fmt.Errorf("%s 规则缺少 fields", r.Kind)
		}
		if r.Kind == RuleJoin && len(r.Fields) < 2 {
			return fmt.Errorf("join 规则至少需要 2 个 field")
		}
		for _, n := range r.Fields {
			if n < 1 {
				return fmt.Errorf("field 下标必须从 1 开始：%d", n)
			}
		}
		return nil
	default:
		return fmt.Errorf("未知派生规则：%q", r.Kind)
	}
}

// VariantMode 决定 HTML 抓取时如何枚举商品变体。
type VariantMode string

const (
	VariantNone   VariantMode = "none"
	VariantMatrix VariantMode = "matrix" // 颜色 x 尺码按钮的笛卡尔积
	VariantFixed  VariantMode = "fixed"  // 固定的 variantId -> 尺码 对照表
)

type VariantSpec struct {
	Mode    VariantMode `json:"mode" mapstructure:"mode"`
	StartID int         `json:"start_id,omitempty" mapstructure:"start_id"`
	Sizes   []string    `json:"sizes,omitempty" mapstructure:"sizes"`
}

// ShopProfile 是单个店铺的静态配置；启动后只读。
type ShopProfile struct {
	ID          string
	DisplayName string
	// BaseIdentifier 是店铺在平台上的 shop code（同时作为 URL/manage number 的身份标记）。
	BaseIdentifier string
	BaseURL        string
	// PageQuery 追加在商品页 URL 上（例如 rafcid=...），可为空。
	PageQuery string
	Rule      DerivationRule
	Strategy  FetchStrategy
	Variants  VariantSpec
}

func (p ShopProfile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("shop.id 不能为空")
	}
	if strings.TrimSpace(p.BaseIdentifier) == "" {
		return fmt.Errorf("shop %q 缺少 base_identifier", p.ID)
	}
	if _, err := ParseFetchStrategy(string(p.Strategy)); err != nil {
		return fmt.Errorf("shop %q：%w", p.ID, err)
	}
	if err := p.Rule.Validate(); err != nil {
		return fmt.Errorf("shop %q：%w", p.ID, err)
	}
	if p.Strategy == StrategyHTMLScrape && strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("shop %q 使用 html_scrape 但 base_url 为空", p.ID)
	}
	switch p.Variants.Mode {
	case "", VariantNone, VariantMatrix:
	case VariantFixed:
		if p.Variants.StartID <= 0 || len(p.Variants.Sizes) == 0 {
			return fmt.Errorf("shop %q 的 fixed 变体表不完整", p.ID)
		}
	default:
		return fmt.Errorf("shop %q 未知 variants.mode：%q", p.ID, p.Variants.Mode)
	}
	return nil
}

// IdentityMarker 返回用于识别“本店商品”的 URL 片段。
func (p ShopProfile) IdentityMarker() string {
	return "/" + strings.Trim(p.BaseIdentifier, "/") + "/"
}

// Owns 判断 listing 是否属于本店：URL 含 "/<shop code>/" 或 manage number 以 "<shop code>:" 开头。
func (p ShopProfile) Owns(l RawListing) bool {
	code := strings.Trim(p.BaseIdentifier, "/")
	if code == "" {
		return false
	}
	if strings.Contains(l.URL, p.IdentityMarker()) {
		return true
	}
	return strings.HasPrefix(l.ManageNumber, code+":")
}

// SelectListing 在多条候选中选出本店的 listing；没有身份匹配时退回第一条。
func (p ShopProfile) SelectListing(ls []RawListing) (RawListing, bool) {
	if len(ls) == 0 {
		return RawListing{}, false
	}
	for _, l := range ls {
		if p.Owns(l) {
			return l, true
		}
	}
	return ls[0], true
}
