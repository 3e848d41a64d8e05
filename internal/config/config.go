package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/shop"
)

const (
	// ErrCodeNotFound 表示无参运行但 cwd 下没有 shoprecon.{toml,yaml,json}。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeMissingPath 表示无参运行但配置文件缺少 path 字段。
	ErrCodeMissingPath = domain.ErrCodeConfigMissingPath
)

const (
	// FileName 是配置文件名（不含扩展名；toml/yaml/json 均可）。
	FileName = "shoprecon"
	// EnvPrefix 是环境变量前缀：SHOPRECON_FETCH_DELAY 覆盖 fetch.delay。
	EnvPrefix = "SHOPRECON"

	DefaultConcurrency = 4
	MaxConcurrency     = 32
)

// CLIArgs 只包含 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --dry-run=false 必须能覆盖 config.dry_run=true。
type CLIArgs struct {
	Path  string
	Input string

	Concurrency    int
	ConcurrencySet bool

	DryRun    bool
	DryRunSet bool
}

type FetchConfig struct {
	Delay            time.Duration
	RateLimitBackoff time.Duration
	Timeout          time.Duration
}

type IchibaConfig struct {
	Endpoint    string
	AppID       string
	AffiliateID string
	Hits        int
}

type RMSConfig struct {
	Endpoint      string
	ServiceSecret string
	LicenseKey    string
}

type ScrapeConfig struct {
	// Browser=true 时 html_scrape 走 headless 浏览器，否则走普通 HTTP。
	Browser     bool
	BrowserPool int
	RemoteURL   string
	PageTimeout time.Duration
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Path     string
	Input    string
	StateDir string

	Concurrency     int
	ShopConcurrency int // 0 表示“等于店铺数”
	MaxInFlight     int
	FlushEvery      int

	TaxRate      decimal.Decimal
	HeaderLabels []string
	DryRun       bool

	ProxyURL string
	Fetch    FetchConfig
	Ichiba   IchibaConfig
	RMS      RMSConfig
	Scrape   ScrapeConfig

	// ArchivePath 为空表示不写 SQLite 归档。
	ArchivePath string
	Log         logx.Config

	Shops []domain.ShopProfile
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingPath:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 path", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// shopFile 是配置文件中 [[shops]] 的解码结构。
type shopFile struct {
	ID             string                `mapstructure:"id"`
	DisplayName    string                `mapstructure:"display_name"`
	BaseIdentifier string                `mapstructure:"base_identifier"`
	BaseURL        string                `mapstructure:"base_url"`
	PageQuery      string                `mapstructure:"page_query"`
	Strategy       string                `mapstructure:"fetch_strategy"`
	Rule           domain.DerivationRule `mapstructure:"rule"`
	Variants       domain.VariantSpec    `mapstructure:"variants"`
}

// LoadEffective 发现并读取配置文件，然后与环境变量、CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 path：尝试读取 <path>/shoprecon.*（可选）
// 2) CLI 未提供 path：必须读取 <cwd>/shoprecon.*（必选），且其中必须包含 path
//
// 覆盖优先级（固定）：
// - path/input：CLI > 环境变量 > config
// - concurrency/dry_run：CLI 显式指定 > 环境变量 > config > 默认
// - 其他字段：环境变量 > config > 默认
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	dir := cwdAbs
	cliPath := strings.TrimSpace(cli.Path) != ""
	if cliPath {
		dir = absCleanFrom(cwdAbs, cli.Path)
	}

	v := newViper(dir)
	cfgPath := filepath.Join(dir, FileName+".*")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !cliPath {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: err}
		}
	} else {
		cfgPath = v.ConfigFileUsed()
	}

	root := dir
	if !cliPath {
		p := strings.TrimSpace(v.GetString("path"))
		if p == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingPath, Path: cfgPath}
		}
		root = absCleanFrom(cwdAbs, p)
	}

	eff, err := build(v, root, cli)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return eff, nil
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(FileName)
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "skus.csv")
	v.SetDefault("state_dir", ".shoprecon")
	v.SetDefault("concurrency", DefaultConcurrency)
	v.SetDefault("shop_concurrency", 0)
	v.SetDefault("max_in_flight", 8)
	v.SetDefault("flush_every", 10)
	v.SetDefault("tax_rate", "1.1")
	v.SetDefault("header_labels", []string{"SKUコード", "sku"})
	v.SetDefault("dry_run", false)

	v.SetDefault("proxy.url", "")

	v.SetDefault("fetch.delay", "1s")
	v.SetDefault("fetch.rate_limit_backoff", "60s")
	v.SetDefault("fetch.timeout", "20s")

	v.SetDefault("ichiba.endpoint", "")
	v.SetDefault("ichiba.app_id", "")
	v.SetDefault("ichiba.affiliate_id", "")
	v.SetDefault("ichiba.hits", 10)

	v.SetDefault("rms.endpoint", "")
	v.SetDefault("rms.service_secret", "")
	v.SetDefault("rms.license_key", "")

	v.SetDefault("scrape.browser", false)
	v.SetDefault("scrape.browser_pool", 2)
	v.SetDefault("scrape.remote_url", "")
	v.SetDefault("scrape.page_timeout", "30s")

	v.SetDefault("archive.sqlite", "")

	def := logx.DefaultConfig()
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.output", def.Output)
}

func build(v *viper.Viper, root string, cli CLIArgs) (EffectiveConfig, error) {
	input := v.GetString("input")
	if strings.TrimSpace(cli.Input) != "" {
		input = cli.Input
	}

	concurrency := v.GetInt("concurrency")
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	// 范围 [1, 32]；超出截断。
	concurrency = clamp(concurrency, 1, MaxConcurrency)

	dryRun := v.GetBool("dry_run")
	if cli.DryRunSet {
		dryRun = cli.DryRun
	}

	taxRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString("tax_rate")))
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("tax_rate 无效：%w", err)
	}
	if !taxRate.IsPositive() {
		return EffectiveConfig{}, fmt.Errorf("tax_rate 必须大于 0：%s", taxRate)
	}

	proxyURL := strings.TrimSpace(v.GetString("proxy.url"))
	if proxyURL != "" {
		if err := validateHTTPURL("proxy.url", proxyURL); err != nil {
			return EffectiveConfig{}, err
		}
	}
	for _, k := range []string{"ichiba.endpoint", "rms.endpoint"} {
		if s := strings.TrimSpace(v.GetString(k)); s != "" {
			if err := validateHTTPURL(k, s); err != nil {
				return EffectiveConfig{}, err
			}
		}
	}

	shops, err := loadShops(v)
	if err != nil {
		return EffectiveConfig{}, err
	}

	archivePath := strings.TrimSpace(v.GetString("archive.sqlite"))
	if archivePath != "" {
		archivePath = absCleanFrom(root, archivePath)
	}

	eff := EffectiveConfig{
		Path:     root,
		Input:    absCleanFrom(root, input),
		StateDir: absCleanFrom(root, v.GetString("state_dir")),

		Concurrency:     concurrency,
		ShopConcurrency: v.GetInt("shop_concurrency"),
		MaxInFlight:     v.GetInt("max_in_flight"),
		FlushEvery:      v.GetInt("flush_every"),

		TaxRate:      taxRate,
		HeaderLabels: append([]string(nil), v.GetStringSlice("header_labels")...),
		DryRun:       dryRun,

		ProxyURL: proxyURL,
		Fetch: FetchConfig{
			Delay:            v.GetDuration("fetch.delay"),
			RateLimitBackoff: v.GetDuration("fetch.rate_limit_backoff"),
			Timeout:          v.GetDuration("fetch.timeout"),
		},
		Ichiba: IchibaConfig{
			Endpoint:    strings.TrimSpace(v.GetString("ichiba.endpoint")),
			AppID:       v.GetString("ichiba.app_id"),
			AffiliateID: v.GetString("ichiba.affiliate_id"),
			Hits:        v.GetInt("ichiba.hits"),
		},
		RMS: RMSConfig{
			Endpoint:      strings.TrimSpace(v.GetString("rms.endpoint")),
			ServiceSecret: v.GetString("rms.service_secret"),
			LicenseKey:    v.GetString("rms.license_key"),
		},
		Scrape: ScrapeConfig{
			Browser:     v.GetBool("scrape.browser"),
			BrowserPool: v.GetInt("scrape.browser_pool"),
			RemoteURL:   strings.TrimSpace(v.GetString("scrape.remote_url")),
			PageTimeout: v.GetDuration("scrape.page_timeout"),
		},
		ArchivePath: archivePath,
		Log: logx.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Shops: shops,
	}
	if err := validate(&eff); err != nil {
		return EffectiveConfig{}, err
	}
	return eff, nil
}

func validate(c *EffectiveConfig) error {
	if c.ShopConcurrency < 0 {
		return fmt.Errorf("shop_concurrency 不能为负数：%d", c.ShopConcurrency)
	}
	if c.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight 必须 >= 1：%d", c.MaxInFlight)
	}
	if c.FlushEvery < 1 {
		return fmt.Errorf("flush_every 必须 >= 1：%d", c.FlushEvery)
	}
	if c.Fetch.Delay < 0 || c.Fetch.RateLimitBackoff < 0 {
		return fmt.Errorf("fetch.delay / fetch.rate_limit_backoff 不能为负数")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout 必须大于 0")
	}
	if c.Ichiba.Hits < 1 || c.Ichiba.Hits > 30 {
		return fmt.Errorf("ichiba.hits 范围是 [1, 30]：%d", c.Ichiba.Hits)
	}
	if c.Scrape.BrowserPool < 1 {
		return fmt.Errorf("scrape.browser_pool 必须 >= 1：%d", c.Scrape.BrowserPool)
	}
	if c.Scrape.RemoteURL != "" && !c.Scrape.Browser {
		return fmt.Errorf("设置了 scrape.remote_url 但 scrape.browser=false")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format 只能是 console 或 json：%q", c.Log.Format)
	}
	return nil
}

// loadShops 解析 [[shops]]；未配置时使用内置店铺。
func loadShops(v *viper.Viper) ([]domain.ShopProfile, error) {
	if !v.IsSet("shops") {
		return shop.Defaults(), nil
	}
	var raw []shopFile
	if err := v.UnmarshalKey("shops", &raw); err != nil {
		return nil, fmt.Errorf("shops 解析失败：%w", err)
	}
	if len(raw) == 0 {
		return shop.Defaults(), nil
	}
	out := make([]domain.ShopProfile, 0, len(raw))
	for i, s := range raw {
		strategy, err := domain.ParseFetchStrategy(s.Strategy)
		if err != nil {
			return nil, fmt.Errorf("shops[%d]：%w", i, err)
		}
		out = append(out, domain.ShopProfile{
			ID:             strings.TrimSpace(s.ID),
			DisplayName:    strings.TrimSpace(s.DisplayName),
			BaseIdentifier: strings.TrimSpace(s.BaseIdentifier),
			BaseURL:        strings.TrimSpace(s.BaseURL),
			PageQuery:      strings.TrimSpace(s.PageQuery),
			Rule:           s.Rule,
			Strategy:       strategy,
			Variants:       s.Variants,
		})
	}
	// 尽早暴露重复/非法店铺，而不是等到运行期。
	if _, err := shop.NewRegistry(out...); err != nil {
		return nil, err
	}
	return out, nil
}

func validateHTTPURL(key, s string) error {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s 无效：%q", key, s)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
		return nil
	default:
		return fmt.Errorf("%s 必须是 http/https/socks5：%q", key, s)
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return base
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
