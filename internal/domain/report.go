package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	ErrCodeAllShopsFailed    = "all_shops_failed"
	ErrCodeWorkerPanic       = "worker_panic"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeConfigMissingPath = "config_missing_path"
)

// RunReport 是对外稳定输出（results.json / stdout JSON）的结构。
type RunReport struct {
	RunID       string `json:"run_id"`
	Input       string `json:"input"`
	DryRun      bool   `json:"dry_run"`
	Interrupted bool   `json:"interrupted"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	TotalSeconds  float64         `json:"total_time_seconds"`
	AvgSecondsPer float64         `json:"average_time_per_sku"`
	ItemsPerShop  map[string]int  `json:"items_per_shop"`
	Summary       ReportSummary   `json:"summary"`
	Items         []ItemResult    `json:"items"`
	Records       []ProductRecord `json:"records,omitempty"`
}

type ReportSummary struct {
	Done    int `json:"done"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`

	New       int `json:"new"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

type ShopStatus struct {
	SearchKey    string  `json:"search_key"`
	FormatFailed bool    `json:"format_failed,omitempty"`
	Outcome      Outcome `json:"outcome"`
	Reason       string  `json:"reason,omitempty"`
	Listings     int     `json:"listings"`
}

type ItemResult struct {
	SKU    string   `json:"internal_sku"`
	Status SKUState `json:"status"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	DurationMS int64                 `json:"duration_ms"`
	Shops      map[string]ShopStatus `json:"shops,omitempty"`

	Classification Classification `json:"classification,omitempty"`
	ChangedFields  []string       `json:"changed_fields,omitempty"`
}

// Finalize 做四件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) items 稳定排序：按 SKU 字典序；SKU=="" 的条目（配置错误等合成项）排在最后
// 3) summary 由 items 计算得出
// 4) 计算总耗时与每个 SKU 的平均耗时（只统计真正抓取过的 done/failed）
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		a := r.Items[i].SKU
		b := r.Items[j].SKU
		if a == "" && b == "" {
			return false
		}
		if a == "" {
			return false
		}
		if b == "" {
			return true
		}
		return a < b
	})

	var (
		s       ReportSummary
		fetched int
	)
	for _, it := range r.Items {
		switch it.Status {
		case StateDone:
			s.Done++
			fetched++
		case StateSkipped:
			s.Skipped++
		case StateFailed:
			s.Failed++
			fetched++
		case StatePending, StateInFlight:
			s.Pending++
		}
		switch it.Classification {
		case ClassNew:
			s.New++
		case ClassChanged:
			s.Changed++
		case ClassUnchanged:
			s.Unchanged++
		}
	}
	r.Summary = s

	if !r.FinishedAt.IsZero() && r.FinishedAt.After(r.StartedAt) {
		r.TotalSeconds = r.FinishedAt.Sub(r.StartedAt).Seconds()
	}
	r.AvgSecondsPer = 0
	if fetched > 0 {
		r.AvgSecondsPer = r.TotalSeconds / float64(fetched)
	}
	if r.ItemsPerShop == nil {
		r.ItemsPerShop = map[string]int{}
	}
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
// 当前只是透传 encoding/json 的默认行为。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
