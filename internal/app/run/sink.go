package run

import (
	"context"

	"go.uber.org/zap"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Sink 接收一轮完整运行的最终结果（每条记录 + 对应 diff）。
//
// 约束：只在运行未被中断、且不是 dry-run 时调用；调用顺序与输入顺序一致。
type Sink interface {
	Deliver(ctx context.Context, runID string, rec domain.ProductRecord, d domain.DiffResult) error
}

// RunRecorder 是可选扩展：Sink 同时实现它时，会在全部记录投递后收到运行汇总。
type RunRecorder interface {
	RecordRun(ctx context.Context, rr domain.RunReport) error
}

// deliver 把结果投递给所有 sink；单个 sink 失败不影响其他 sink。
func deliver(ctx context.Context, sinks []Sink, rr domain.RunReport, records []domain.ProductRecord, diffs []domain.DiffResult, log *zap.Logger) (failed int) {
	for i, s := range sinks {
		sinkFailed := false
		for j := range records {
			if err := s.Deliver(ctx, rr.RunID, records[j], diffs[j]); err != nil {
				log.Error("sink 投递失败", zap.Int("sink", i), zap.String("sku", records[j].InternalSKU), zap.Error(err))
				sinkFailed = true
				break
			}
		}
		if rec, ok := s.(RunRecorder); ok && !sinkFailed {
			if err := rec.RecordRun(ctx, rr); err != nil {
				log.Error("sink 写入运行汇总失败", zap.Int("sink", i), zap.Error(err))
				sinkFailed = true
			}
		}
		if sinkFailed {
			failed++
		}
	}
	return failed
}
