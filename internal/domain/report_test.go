package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		Input:      "/abs/skus.csv",
		DryRun:     true,
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 4, 0, time.FixedZone("X", 8*3600)),
		Items: []ItemResult{
			{SKU: "B-02", Status: StateSkipped, Classification: ClassUnchanged},
			{SKU: "", Status: StateFailed}, // config 等合成项
			{SKU: "A-01", Status: StateDone, Classification: ClassNew},
			{SKU: "C-03", Status: StatePending},
		},
	}

	r.Finalize()

	// SKU=="" 必须排在最后；其内部顺序保持稳定（SliceStable）。
	if r.Items[0].SKU != "A-01" || r.Items[1].SKU != "B-02" || r.Items[2].SKU != "C-03" || r.Items[3].SKU != "" {
		t.Fatalf("items 排序不符合契约：%v", []string{r.Items[0].SKU, r.Items[1].SKU, r.Items[2].SKU, r.Items[3].SKU})
	}
	s := r.Summary
	if s.Done != 1 || s.Skipped != 1 || s.Failed != 1 || s.Pending != 1 || s.New != 1 || s.Unchanged != 1 {
		t.Fatalf("summary 统计不正确：%+v", s)
	}
	if r.TotalSeconds != 4 || r.AvgSecondsPer != 2 {
		t.Fatalf("耗时统计不正确：total=%v avg=%v", r.TotalSeconds, r.AvgSecondsPer)
	}
	if r.ItemsPerShop == nil {
		t.Fatalf("items_per_shop 不应为 nil")
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	// time.Time 在 UTC 下应输出 'Z' 后缀。
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}
