package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/shoprecon/internal/aggregate"
	"github.com/John-Robertt/shoprecon/internal/app"
	"github.com/John-Robertt/shoprecon/internal/app/planner"
	"github.com/John-Robertt/shoprecon/internal/config"
	"github.com/John-Robertt/shoprecon/internal/diff"
	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/logx"
	"github.com/John-Robertt/shoprecon/internal/infra/store"
	"github.com/John-Robertt/shoprecon/internal/provider"
	"github.com/John-Robertt/shoprecon/internal/scan"
	"github.com/John-Robertt/shoprecon/internal/shop"
)

// Env 是一次运行的外部依赖（由 CLI 组装；测试注入 stub）。
type Env struct {
	Fetchers provider.Registry
	Sinks    []Sink
	Logger   *zap.Logger
}

// Execute 执行一次 run，并返回对外稳定的 RunReport。
// 该函数尽量把错误“降级”为 SKU/店铺级失败（单条失败不影响其他）。
func Execute(ctx context.Context, eff config.EffectiveConfig, env Env) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, env, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息（由上层决定是否启用）。
//
// 约束：
// - snapshot 只在整轮未被中断时替换；中断时只写 progress（下次运行据此跳过已完成的 SKU）
// - dry-run：抓取 + 聚合 + diff 照常进行，但不写任何状态文件、不投递 sink
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, env Env, obs Observer) domain.RunReport {
	started := time.Now().UTC()
	log := logx.OrNop(env.Logger)

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		RunID:        uuid.NewString(),
		Input:        eff.Input,
		DryRun:       eff.DryRun,
		StartedAt:    started,
		ItemsPerShop: map[string]int{},
		Items:        make([]domain.ItemResult, 0, 128),
	}
	abort := func(code, msg string) domain.RunReport {
		log.Error("运行中止", zap.String("error_code", code), zap.String("error", msg))
		rr.Items = append(rr.Items, syntheticFailed(code, msg))
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		return rr
	}

	shops, err := shop.NewRegistry(eff.Shops...)
	if err != nil {
		return abort(domain.ErrCodeConfigInvalid, fmt.Sprintf("店铺配置无效：%v", err))
	}
	resolver := provider.NewResolver(env.Fetchers, log)
	if err := Preflight(shops, resolver, log); err != nil {
		return abort(domain.ErrCodeConfigInvalid, err.Error())
	}

	st := store.New(eff.StateDir, eff.DryRun)
	prev, dups, err := st.LoadSnapshot()
	if err != nil {
		return abort(domain.ErrCodeIOFailed, fmt.Sprintf("读取 snapshot 失败：%v", err))
	}
	if len(dups) > 0 {
		log.Warn("snapshot 中存在重复 SKU，只保留第一次出现", zap.Strings("skus", dups))
	}

	saved, resumed, err := st.LoadProgress()
	if err != nil {
		return abort(domain.ErrCodeIOFailed, fmt.Sprintf("读取 progress 失败：%v", err))
	}
	progress := store.Progress{RunID: rr.RunID, StartedAt: started}
	done := make(map[string]domain.ProductRecord, len(saved.Records))
	if resumed {
		if saved.RunID != "" {
			rr.RunID = saved.RunID
			progress.RunID = saved.RunID
		}
		if !saved.StartedAt.IsZero() {
			progress.StartedAt = saved.StartedAt
		}
		for _, r := range saved.Records {
			if _, ok := done[r.InternalSKU]; ok {
				continue
			}
			done[r.InternalSKU] = r
			progress.Records = append(progress.Records, r)
		}
		log.Info("发现未完成的运行，继续执行", zap.String("run_id", rr.RunID), zap.Int("completed", len(done)))
	}

	inputStarted := time.Now()
	raw, err := scan.ReadSKUs(eff.Input, eff.HeaderLabels)
	if err != nil {
		return abort(domain.ErrCodeIOFailed, fmt.Sprintf("读取输入失败：%v", err))
	}
	skus, inputDups := app.GroupSKUs(raw)
	for _, d := range inputDups {
		log.Warn("输入中存在重复 SKU，只保留第一次出现", zap.String("sku", d))
	}
	if obs != nil {
		obs.OnPhaseDone("input", map[string]any{
			"skus":       len(skus),
			"duplicates": len(inputDups),
		}, time.Since(inputStarted))
	}

	planStarted := time.Now()
	profiles := shops.Profiles()
	plans := planner.Plan(skus, profiles, done)
	todo, skip := planner.Count(plans)
	if obs != nil {
		obs.OnPhaseDone("plan", map[string]any{
			"skus":  len(plans),
			"todo":  todo,
			"skip":  skip,
			"shops": len(profiles),
		}, time.Since(planStarted))
	}

	tracker := NewTracker(skus)
	fresh := make(map[string]domain.ProductRecord, len(skus))
	for _, p := range plans {
		if !p.Skip {
			continue
		}
		if err := tracker.Transition(p.SKU, domain.StateSkipped); err != nil {
			log.Error("状态迁移失败", zap.Error(err))
		}
		fresh[p.SKU] = p.Saved
		rr.Items = append(rr.Items, skippedItem(p))
	}

	flush := func() {
		if eff.DryRun {
			return
		}
		if err := st.SaveProgress(progress); err != nil {
			log.Error("写入 progress 失败", zap.String("dir", st.Dir), zap.Error(err))
			return
		}
		log.Debug("progress 已写入", zap.Int("records", len(progress.Records)))
	}

	x := newExecutor(eff, profiles, resolver, log)
	if obs != nil {
		obs.OnPhaseDone("exec", map[string]any{
			"workers":       x.workers,
			"shop_limit":    x.shopLimit,
			"max_in_flight": x.maxInFlight,
			"total_items":   todo,
		}, 0)
	}

	jobs := make(chan planner.ItemPlan)
	results := make(chan execResult, todo)

	go func() {
		defer close(jobs)
		for _, p := range plans {
			if p.Skip {
				continue
			}
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < x.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if ctx.Err() != nil {
					results <- execResult{plan: p, dropped: true}
					continue
				}
				if err := tracker.Transition(p.SKU, domain.StateInFlight); err != nil {
					log.Error("状态迁移失败", zap.Error(err))
				}
				oneStarted := time.Now()
				r := x.execOne(ctx, p)
				r.dur = time.Since(oneStarted)
				results <- r
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// collector：唯一写 progress / fresh / rr.Items 的 goroutine。
	var (
		seen       = make(map[string]bool, todo)
		completed  int
		sinceFlush int
		ctxDone    = ctx.Done()
	)
	notify := func() {
		if obs == nil {
			return
		}
		c := tracker.Counts()
		active := tracker.InFlight()
		obs.OnProgress(c[domain.StateDone]+c[domain.StateFailed], todo,
			c[domain.StateDone], c[domain.StateFailed], c[domain.StateSkipped],
			len(active), active, time.Since(started))
	}
collect:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break collect
			}
			sku := r.plan.SKU
			seen[sku] = true
			if r.dropped {
				if tracker.State(sku) == domain.StateInFlight {
					if err := tracker.Transition(sku, domain.StatePending); err != nil {
						log.Error("状态迁移失败", zap.Error(err))
					}
				}
				rr.Items = append(rr.Items, pendingItem(r.plan))
				continue
			}

			if err := tracker.Transition(sku, r.item.Status); err != nil {
				log.Error("状态迁移失败", zap.Error(err))
			}
			r.item.DurationMS = r.dur.Milliseconds()
			rr.Items = append(rr.Items, r.item)
			completed++
			if obs != nil {
				obs.OnItemDone(completed, todo, sku, r.item, r.dur)
			}

			if r.item.Status != domain.StateDone {
				continue
			}
			fresh[sku] = r.rec
			progress.Records = append(progress.Records, r.rec)
			sinceFlush++
			if sinceFlush >= x.flushEvery {
				flush()
				notify()
				sinceFlush = 0
			}
		case <-ctxDone:
			// 中断：立即落盘，然后继续收集（被打断的 SKU 会以 dropped 形式回来）。
			ctxDone = nil
			log.Warn("收到中断，立即写入 progress", zap.Int("records", len(progress.Records)))
			flush()
			notify()
			sinceFlush = 0
		}
	}

	for _, p := range plans {
		if !p.Skip && !seen[p.SKU] {
			rr.Items = append(rr.Items, pendingItem(p))
		}
	}

	records := make([]domain.ProductRecord, 0, len(fresh))
	for _, sku := range skus {
		if r, ok := fresh[sku]; ok {
			records = append(records, r)
		}
	}
	for _, r := range records {
		for id, e := range r.PerShop {
			if e.Outcome == domain.OutcomeFound {
				rr.ItemsPerShop[id]++
			}
		}
	}
	rr.Records = records

	if ctx.Err() != nil {
		rr.Interrupted = true
		if sinceFlush > 0 {
			flush()
		}
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
		saveResults(st, rr, log)
		log.Warn("运行被中断，下次运行将跳过已完成的 SKU",
			zap.Int("completed", len(progress.Records)), zap.Int("pending", rr.Summary.Pending))
		return rr
	}

	diffStarted := time.Now()
	diffs := diff.Classify(records, prev)
	byIdx := make(map[string]int, len(rr.Items))
	for i := range rr.Items {
		byIdx[rr.Items[i].SKU] = i
	}
	for _, d := range diffs {
		if i, ok := byIdx[d.InternalSKU]; ok {
			rr.Items[i].Classification = d.Classification
			rr.Items[i].ChangedFields = d.ChangedFields
		}
	}
	next := prev.Merge(skus, fresh)

	if !eff.DryRun {
		if err := st.SaveSnapshot(next); err != nil {
			rr.Items = append(rr.Items, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("写入 snapshot 失败：%v", err)))
			flush()
		} else if err := st.ClearProgress(); err != nil {
			log.Error("删除 progress 失败", zap.Error(err))
		}
	}

	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	if obs != nil {
		obs.OnPhaseDone("diff", map[string]any{
			"records":   len(records),
			"snapshot":  next.Len(),
			"new":       rr.Summary.New,
			"changed":   rr.Summary.Changed,
			"unchanged": rr.Summary.Unchanged,
		}, time.Since(diffStarted))
	}
	saveResults(st, rr, log)

	if !eff.DryRun && len(env.Sinks) > 0 {
		if n := deliver(ctx, env.Sinks, rr, records, diffs, log); n > 0 {
			log.Warn("部分 sink 投递失败", zap.Int("sinks", n))
		}
	}
	return rr
}

func saveResults(st store.Store, rr domain.RunReport, log *zap.Logger) {
	if st.ReadOnly {
		return
	}
	if err := st.SaveResults(rr); err != nil {
		log.Error("写入 results 失败", zap.Error(err))
	}
}

// Preflight 在处理任何 SKU 之前检查致命配置错误：
// 至少要有一个店铺的 fetcher 可用。单个店铺不可用只告警（运行期记为 failed）。
func Preflight(shops shop.Registry, r *provider.Resolver, log *zap.Logger) error {
	if shops.Len() == 0 {
		return fmt.Errorf("没有配置任何店铺")
	}
	log = logx.OrNop(log)
	usable := 0
	for _, p := range shops.Profiles() {
		if err := r.Usable(p); err != nil {
			log.Warn("店铺不可用，本轮将记为 failed", zap.String("shop", p.ID), zap.Error(err))
			continue
		}
		usable++
	}
	if usable == 0 {
		return fmt.Errorf("没有可用的店铺：请检查 API 凭据与抓取配置")
	}
	return nil
}

type execResult struct {
	plan    planner.ItemPlan
	item    domain.ItemResult
	rec     domain.ProductRecord
	dropped bool
	dur     time.Duration
}

// executor 负责单个 SKU 的店铺扇出与聚合。
//
// 两级并发：
// - SKU 级：workers 个 worker 消费 jobs
// - 店铺级：每个 SKU 内 errgroup.SetLimit(shopLimit)
// - 全局：semaphore 限制同时进行中的店铺请求总数
type executor struct {
	profiles []domain.ShopProfile
	resolver *provider.Resolver
	sem      *semaphore.Weighted
	agg      aggregate.Options
	log      *zap.Logger

	workers     int
	shopLimit   int
	maxInFlight int
	flushEvery  int
}

func newExecutor(eff config.EffectiveConfig, profiles []domain.ShopProfile, resolver *provider.Resolver, log *zap.Logger) *executor {
	x := &executor{
		profiles:    profiles,
		resolver:    resolver,
		agg:         aggregate.Options{TaxRate: eff.TaxRate},
		log:         log,
		workers:     eff.Concurrency,
		shopLimit:   eff.ShopConcurrency,
		maxInFlight: eff.MaxInFlight,
		flushEvery:  eff.FlushEvery,
	}
	if x.workers < 1 {
		x.workers = 1
	}
	if x.shopLimit < 1 || x.shopLimit > len(profiles) {
		x.shopLimit = len(profiles)
	}
	if x.maxInFlight < 1 {
		x.maxInFlight = x.workers * x.shopLimit
	}
	if x.flushEvery < 1 {
		x.flushEvery = 1
	}
	x.sem = semaphore.NewWeighted(int64(x.maxInFlight))
	return x
}

func (x *executor) execOne(ctx context.Context, p planner.ItemPlan) (out execResult) {
	out.plan = p
	out.item = domain.ItemResult{SKU: p.SKU, Status: domain.StateDone}

	defer func() {
		if v := recover(); v != nil {
			x.log.Error("SKU worker panic", zap.String("sku", p.SKU), zap.Any("panic", v))
			out.rec = domain.ProductRecord{}
			out.dropped = false
			out.item.Status = domain.StateFailed
			out.item.ErrorCode = domain.ErrCodeWorkerPanic
			out.item.ErrorMsg = fmt.Sprintf("panic: %v", v)
		}
	}()

	// 每个店铺 goroutine 只写自己的槽位。
	slots := make([]domain.ShopResult, len(x.profiles))
	var g errgroup.Group
	g.SetLimit(x.shopLimit)
	for i, prof := range x.profiles {
		g.Go(func() error {
			if err := x.sem.Acquire(ctx, 1); err != nil {
				slots[i] = domain.ShopResult{ShopID: prof.ID, Outcome: domain.OutcomeFailed, Reason: domain.ReasonCanceled, Err: err}
				return nil
			}
			defer x.sem.Release(1)
			slots[i] = x.resolver.ResolveShop(ctx, p.SKU, prof)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]domain.ShopResult, len(slots))
	out.item.Shops = make(map[string]domain.ShopStatus, len(slots))
	failed := 0
	for _, r := range slots {
		if r.Canceled() {
			out.dropped = true
			return out
		}
		results[r.ShopID] = r
		out.item.Shops[r.ShopID] = shopStatus(r)
		if r.Outcome == domain.OutcomeFailed {
			failed++
		}
	}
	if failed == len(slots) {
		out.item.Status = domain.StateFailed
		out.item.ErrorCode = domain.ErrCodeAllShopsFailed
		out.item.ErrorMsg = fmt.Sprintf("全部 %d 个店铺抓取失败", failed)
		return out
	}

	out.rec = aggregate.Aggregate(p.SKU, x.profiles, results, x.agg)
	return out
}

func shopStatus(r domain.ShopResult) domain.ShopStatus {
	return domain.ShopStatus{
		SearchKey:    r.SearchKey,
		FormatFailed: r.FormatFailed,
		Outcome:      r.Outcome,
		Reason:       r.Reason,
		Listings:     len(r.Listings) + len(r.Variants),
	}
}

func skippedItem(p planner.ItemPlan) domain.ItemResult {
	item := domain.ItemResult{
		SKU:    p.SKU,
		Status: domain.StateSkipped,
		Shops:  make(map[string]domain.ShopStatus, len(p.Saved.PerShop)),
	}
	for id, e := range p.Saved.PerShop {
		n := len(e.Variants)
		if e.Listing != nil {
			n++
		}
		item.Shops[id] = domain.ShopStatus{
			SearchKey:    e.SearchKey,
			FormatFailed: e.FormatFailed,
			Outcome:      e.Outcome,
			Reason:       e.Reason,
			Listings:     n,
		}
	}
	return item
}

func pendingItem(p planner.ItemPlan) domain.ItemResult {
	return domain.ItemResult{SKU: p.SKU, Status: domain.StatePending}
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		SKU:       "",
		Status:    domain.StateFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}
