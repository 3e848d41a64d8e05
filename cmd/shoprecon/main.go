package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/app/run"
	"github.com/John-Robertt/shoprecon/internal/config"
	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/archive"
	"github.com/John-Robertt/shoprecon/internal/infra/browser"
	"github.com/John-Robertt/shoprecon/internal/infra/httpx"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/infra/store"
	"github.com/John-Robertt/shoprecon/internal/provider"
	"github.com/John-Robertt/shoprecon/internal/provider/ichiba"
	"github.com/John-Robertt/shoprecon/internal/provider/itempage"
	"github.com/John-Robertt/shoprecon/internal/provider/rms"
)

// exitInterrupted 是被 SIGINT/SIGTERM 打断时的退出码（progress 已落盘）。
const exitInterrupted = 130

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	case "history":
		if code := historyCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Path:           ra.Path,
		Input:          ra.Input,
		Concurrency:    ra.Concurrency,
		ConcurrencySet: ra.ConcurrencySet,
		DryRun:         ra.DryRun,
		DryRunSet:      ra.DryRunSet,
	})
	if err != nil {
		emitReport(reportForError(ra.DryRun, config.Code(err), err))
		return 1
	}

	logger, err := logx.New(eff.Log)
	if err != nil {
		emitReport(reportForError(eff.DryRun, domain.ErrCodeConfigInvalid, err))
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, closeEnv, err := buildEnv(ctx, eff, logger)
	if err != nil {
		emitReport(reportForError(eff.DryRun, domain.ErrCodeConfigInvalid, err))
		return 1
	}
	defer closeEnv()

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.ExecuteWithObserver(ctx, eff, env, obs)

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	switch {
	case rr.Interrupted:
		return exitInterrupted
	case rr.Summary.Failed == 0:
		return 0
	default:
		return 1
	}
}

// buildEnv 组装 fetcher / 页面加载器 / sink。返回的 close 函数释放浏览器与数据库。
func buildEnv(ctx context.Context, eff config.EffectiveConfig, logger *zap.Logger) (run.Env, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pacer := httpx.NewPacer(eff.Fetch.Delay)
	client, err := httpx.NewClient(httpx.Options{
		ProxyURL: eff.ProxyURL,
		Timeout:  eff.Fetch.Timeout,
		Pacer:    pacer,
	})
	if err != nil {
		return run.Env{}, closeAll, err
	}

	var loader provider.PageLoader = provider.HTTPLoader{Client: client}
	if eff.Scrape.Browser {
		bl, err := browser.New(browser.Config{
			PoolSize:    eff.Scrape.BrowserPool,
			RemoteURL:   eff.Scrape.RemoteURL,
			PageTimeout: eff.Scrape.PageTimeout,
			NoSandbox:   os.Geteuid() == 0,
			Pacer:       pacer,
			Logger:      logger,
		})
		if err != nil {
			return run.Env{}, closeAll, fmt.Errorf("启动浏览器失败：%w", err)
		}
		loader = bl
		closers = append(closers, bl.Close)
	}

	reg, err := provider.NewRegistry(
		ichiba.New(ichiba.Config{
			Endpoint:    eff.Ichiba.Endpoint,
			AppID:       eff.Ichiba.AppID,
			AffiliateID: eff.Ichiba.AffiliateID,
			Hits:        eff.Ichiba.Hits,
			Backoff:     eff.Fetch.RateLimitBackoff,
			Client:      client,
			Logger:      logger,
		}),
		rms.New(rms.Config{
			Endpoint:      eff.RMS.Endpoint,
			ServiceSecret: eff.RMS.ServiceSecret,
			LicenseKey:    eff.RMS.LicenseKey,
			Client:        client,
			Logger:        logger,
		}),
		itempage.New(itempage.Config{Loader: loader, Logger: logger}),
	)
	if err != nil {
		closeAll()
		return run.Env{}, func() {}, err
	}

	env := run.Env{Fetchers: reg, Logger: logger}
	if eff.ArchivePath != "" && !eff.DryRun {
		a, err := archive.Open(ctx, eff.ArchivePath)
		if err != nil {
			closeAll()
			return run.Env{}, func() {}, fmt.Errorf("打开 archive 失败：%w", err)
		}
		closers = append(closers, func() { _ = a.Close() })
		env.Sinks = append(env.Sinks, a)
	}
	return env, closeAll, nil
}

type runArgs struct {
	Path  string
	Input string

	Concurrency    int
	ConcurrencySet bool

	DryRun    bool
	DryRunSet bool
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--input":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--input 需要一个值")
			}
			i++
			ra.Input = args[i]
		case strings.HasPrefix(a, "--input="):
			ra.Input = strings.TrimPrefix(a, "--input=")
		case a == "--concurrency":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("--concurrency 需要一个值")
			}
			i++
			n, err := parseConcurrency(args[i])
			if err != nil {
				return runArgs{}, err
			}
			ra.Concurrency, ra.ConcurrencySet = n, true
		case strings.HasPrefix(a, "--concurrency="):
			n, err := parseConcurrency(strings.TrimPrefix(a, "--concurrency="))
			if err != nil {
				return runArgs{}, err
			}
			ra.Concurrency, ra.ConcurrencySet = n, true
		case a == "--dry-run":
			ra.DryRun = true
			ra.DryRunSet = true
		case strings.HasPrefix(a, "--dry-run="):
			v := strings.TrimPrefix(a, "--dry-run=")
			switch v {
			case "true":
				ra.DryRun = true
			case "false":
				ra.DryRun = false
			default:
				return runArgs{}, fmt.Errorf("--dry-run 只能是 true 或 false，实际是 %q", v)
			}
			ra.DryRunSet = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ra.Path != "" {
				return runArgs{}, fmt.Errorf("重复的 path：%q 与 %q", ra.Path, a)
			}
			ra.Path = a
		}
	}

	if ra.Input != "" && strings.TrimSpace(ra.Input) == "" {
		return runArgs{}, fmt.Errorf("--input 不能为空")
	}
	return ra, nil
}

func parseConcurrency(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("--concurrency 必须是正整数，实际是 %q", s)
	}
	return n, nil
}

// historyCmd 打印某个 SKU 在 SQLite 归档中的历史（每行一个 JSON）。
func historyCmd(args []string) int {
	if len(args) == 0 || isHelp(args[0]) {
		printHistoryUsage()
		return 0
	}
	sku := strings.TrimSpace(args[0])
	path := ""
	if len(args) > 1 {
		path = args[1]
	}
	if sku == "" || len(args) > 2 {
		printHistoryUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	eff, err := config.LoadEffective(cwd, config.CLIArgs{Path: path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if eff.ArchivePath == "" {
		fmt.Fprintln(os.Stderr, "未配置 archive.sqlite")
		return 1
	}
	if _, err := os.Stat(eff.ArchivePath); err != nil {
		fmt.Fprintf(os.Stderr, "archive 不可用：%v\n", err)
		return 1
	}

	ctx := context.Background()
	a, err := archive.Open(ctx, eff.ArchivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开 archive 失败：%v\n", err)
		return 1
	}
	defer a.Close()

	entries, err := a.History(ctx, sku)
	if err != nil {
		fmt.Fprintf(os.Stderr, "查询失败：%v\n", err)
		return 1
	}
	if err := writeHistory(os.Stdout, entries); err != nil {
		fmt.Fprintf(os.Stderr, "输出失败：%v\n", err)
		return 1
	}
	return 0
}

func writeHistory(w io.Writer, entries []archive.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(map[string]any{
			"run_id":         e.RunID,
			"classification": e.Classification,
			"changed_fields": nonNil(e.ChangedFields),
			"price_ex_tax":   e.PriceExTax,
		}); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  shoprecon run [path] [--input FILE] [--concurrency N] [--dry-run[=true|false]]
  shoprecon history <sku> [path]

命令：
  run      抓取全部店铺、聚合、与上一轮 snapshot 比较
  history  查询某个 SKU 在 SQLite 归档中的历史

使用 "shoprecon run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  shoprecon run [path] [--input FILE] [--concurrency N] [--dry-run[=true|false]]

参数：
  --input        SKU 列表文件（.csv 取每行第一个非空列；其他按行读取）
  --concurrency  同时处理的 SKU 数（1-32）
  --dry-run      只抓取与比较，不写 snapshot/progress/archive；支持 --dry-run=false 覆盖配置
  -h, --help     显示帮助

凭据从环境变量读取：RAKUTEN_APP_ID、RAKUTEN_AFFILIATE_ID、RAKUTEN_SERVICE_SECRET、RAKUTEN_LICENSE_KEY。
`)
}

func printHistoryUsage() {
	fmt.Fprint(os.Stdout, `用法：
  shoprecon history <sku> [path]
`)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintln(os.Stdout, summaryLine(rr))
		if rr.Summary.Failed > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StateFailed {
					continue
				}
				key := it.SKU
				if key == "" {
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(os.Stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	line := fmt.Sprintf("完成：done=%d skipped=%d failed=%d pending=%d new=%d changed=%d unchanged=%d",
		s.Done, s.Skipped, s.Failed, s.Pending, s.New, s.Changed, s.Unchanged,
	)
	if rr.Interrupted {
		line += "（已中断，progress 已保存）"
	}
	return line
}

func reportForError(dryRun bool, code string, err error) domain.RunReport {
	if code == "" {
		code = domain.ErrCodeConfigInvalid
	}
	now := time.Now().UTC()
	rr := domain.RunReport{
		DryRun:     dryRun,
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.ItemResult{{
			Status:    domain.StateFailed,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		}},
	}
	var ce *config.Error
	if errors.As(err, &ce) {
		rr.Input = ce.Path
	}
	rr.Finalize()
	return rr
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if eff.DryRun {
		fmt.Fprintln(w, "dry-run：未写入任何状态文件")
		return
	}
	fmt.Fprintf(w, "snapshot: %s\n", filepath.Join(eff.StateDir, store.SnapshotFile))
	fmt.Fprintf(w, "results: %s\n", filepath.Join(eff.StateDir, store.ResultsFile))
	if eff.ArchivePath != "" {
		fmt.Fprintf(w, "archive: %s\n", eff.ArchivePath)
	}
}
