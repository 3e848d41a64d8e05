package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/infra/httpx"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/infra/pool"
)

const (
	defaultPoolSize    = 2
	defaultPageTimeout = 30 * time.Second
)

// Config 描述无头浏览器页面加载器。
type Config struct {
	// PoolSize 是同时打开的 tab 上限。
	PoolSize int
	// RemoteURL 非空时连接已有的 Chrome（例如 ws://127.0.0.1:9222），否则本地启动。
	RemoteURL   string
	PageTimeout time.Duration
	NoSandbox   bool
	Pacer       *httpx.Pacer
	Logger      *zap.Logger
}

// Loader 用 chromedp 渲染商品页并返回渲染后的 HTML。
//
// 约束：
// - tab 通过有界池借出/归还；同一时间最多 PoolSize 个页面在加载
// - tab 出错且自身 ctx 已失效时销毁，下次按需重建
// - 每次导航前同样遵守 Pacer 的调用间隔
type Loader struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	tabs *pool.Pool[tab]
}

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) (*Loader, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
	}
	l := &Loader{cfg: cfg, logger: logx.OrNop(cfg.Logger).Named("browser")}

	var allocCtx context.Context
	if cfg.RemoteURL != "" {
		allocCtx, l.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("blink-settings", "imagesEnabled=false"),
		)
		if cfg.NoSandbox {
			opts = append(opts, chromedp.Flag("no-sandbox", true))
		}
		allocCtx, l.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	l.browserCtx, l.browserCancel = chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			l.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(l.browserCtx); err != nil {
		l.Close()
		return nil, fmt.Errorf("启动浏览器失败：%w", err)
	}

	l.tabs = pool.New(cfg.PoolSize, l.newTab, func(t tab) { t.cancel() })
	return l, nil
}

func (l *Loader) newTab(context.Context) (tab, error) {
	ctx, cancel := chromedp.NewContext(l.browserCtx)
	err := chromedp.Run(ctx, emulation.SetUserAgentOverride(httpx.RandomUA()))
	if err != nil {
		cancel()
		return tab{}, fmt.Errorf("创建 tab 失败：%w", err)
	}
	return tab{ctx: ctx, cancel: cancel}, nil
}

// Load 打开 rawURL 并返回渲染后的 outerHTML。
func (l *Loader) Load(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if err := l.cfg.Pacer.Wait(ctx, u.Host); err != nil {
		return nil, err
	}

	var html string
	err = l.tabs.Do(ctx, func(t tab) error {
		runCtx, cancel := context.WithTimeout(t.ctx, l.cfg.PageTimeout)
		defer cancel()
		// 调用方取消时同步打断导航。
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		err := chromedp.Run(runCtx,
			chromedp.Navigate(rawURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil && t.ctx.Err() != nil {
			return pool.Discard(err)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(ctx.Err(), err)
		}
		return nil, err
	}
	return []byte(html), nil
}

func (l *Loader) Close() {
	if l.tabs != nil {
		l.tabs.Close()
	}
	if l.browserCancel != nil {
		l.browserCancel()
	}
	if l.allocCancel != nil {
		l.allocCancel()
	}
}
