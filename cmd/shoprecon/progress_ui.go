package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/shoprecon/internal/app/run"
	"github.com/John-Robertt/shoprecon/internal/config"
	"github.com/John-Robertt/shoprecon/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端的进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无条目完成时也会定期输出一行
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	workers int
	total   int
	done    int
	ok      int
	fail    int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "run"
	if eff.DryRun {
		mode = "dry-run"
	}

	fmt.Fprintf(p.w, "[%s] shoprecon %s\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  input: %s\n", eff.Input)
	fmt.Fprintf(p.w, "  state_dir: %s\n", eff.StateDir)
	fmt.Fprintf(p.w, "  shops: %s\n", formatShopList(eff.Shops))
	fmt.Fprintf(p.w, "  concurrency: %d (max_in_flight=%d)\n", eff.Concurrency, eff.MaxInFlight)
	fmt.Fprintf(p.w, "  delay: %s (429 backoff=%s)\n", eff.Fetch.Delay, eff.Fetch.RateLimitBackoff)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  browser: %s\n", onOff(eff.Scrape.Browser))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "input":
		fmt.Fprintf(p.w, "输入: skus=%d duplicates=%d (%s)\n",
			intField(fields, "skus"), intField(fields, "duplicates"), formatShortDuration(dur),
		)
	case "plan":
		fmt.Fprintf(p.w, "规划: skus=%d todo=%d skip=%d shops=%d (%s)\n",
			intField(fields, "skus"), intField(fields, "todo"), intField(fields, "skip"),
			intField(fields, "shops"), formatShortDuration(dur),
		)
	case "exec":
		p.workers = intField(fields, "workers")
		p.total = intField(fields, "total_items")
		fmt.Fprintf(p.w, "执行: workers=%d shop_limit=%d max_in_flight=%d total_items=%d\n\n",
			p.workers, intField(fields, "shop_limit"), intField(fields, "max_in_flight"), p.total,
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "diff":
		fmt.Fprintf(p.w, "\n比较: records=%d new=%d changed=%d unchanged=%d snapshot=%d (%s)\n",
			intField(fields, "records"), intField(fields, "new"), intField(fields, "changed"),
			intField(fields, "unchanged"), intField(fields, "snapshot"), formatShortDuration(dur),
		)
	default:
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, sku string, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StateFailed:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s shops=%s (%s)\n",
			idx, total, sku, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShops(res.Shops), formatShortDuration(dur),
		)
	default:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] %s OK shops=%s (%s)\n",
			idx, total, sku, formatShops(res.Shops), formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()

	// 最后一条完成：停止 ticker，避免在结束打印后又冒出 keepalive。
	if p.tickerStarted && p.done >= p.total {
		close(p.stopCh)
		p.tickerStarted = false
	}
}

func (p *progressUI) OnProgress(done, total, ok, fail, skip, active int, activeSKUs []string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d skip=%d active=%d%s elapsed=%s (progress 已保存)\n",
		done, total, ok, fail, skip, active, formatActive(activeSKUs, 3), formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && p.done >= p.total {
					p.mu.Unlock()
					return
				}
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					active := p.workers
					if remain := p.total - p.done; remain < active {
						active = remain
					}
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d active=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.fail, active, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// formatShops 按店铺 ID 排序输出 "a:found,b:failed(rate_limited)"。
func formatShops(shops map[string]domain.ShopStatus) string {
	if len(shops) == 0 {
		return "-"
	}
	ids := make([]string, 0, len(shops))
	for id := range shops {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		s := shops[id]
		part := id + ":" + string(s.Outcome)
		if s.Reason != "" {
			part += "(" + s.Reason + ")"
		}
		if s.FormatFailed {
			part += "!"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}

func formatShopList(shops []domain.ShopProfile) string {
	if len(shops) == 0 {
		return "[]"
	}
	parts := make([]string, 0, len(shops))
	for _, s := range shops {
		parts = append(parts, s.ID+"("+string(s.Strategy)+")")
	}
	return strings.Join(parts, " ")
}

func formatActive(skus []string, max int) string {
	if len(skus) == 0 {
		return ""
	}
	shown := skus
	if len(shown) > max {
		shown = shown[:max]
	}
	s := " [" + strings.Join(shown, " ")
	if len(skus) > max {
		s += fmt.Sprintf(" +%d", len(skus)-max)
	}
	return s + "]"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
