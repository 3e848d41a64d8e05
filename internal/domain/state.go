package domain

import "fmt"

// SKUState 是单个 SKU 在一次运行中的状态。
//
//	pending -> in_flight -> done | failed
//	pending -> skipped（已在本轮 progress 中）
type SKUState string

const (
	StatePending  SKUState = "pending"
	StateInFlight SKUState = "in_flight"
	StateDone     SKUState = "done"
	StateSkipped  SKUState = "skipped"
	StateFailed   SKUState = "failed"
)

func (s SKUState) Terminal() bool {
	return s == StateDone || s == StateSkipped || s == StateFailed
}

// CanTransition 判断 from -> to 是否是合法迁移。
// in_flight -> pending 用于“被取消打断、结果丢弃”的 SKU。
func CanTransition(from, to SKUState) bool {
	switch from {
	case StatePending:
		return to == StateInFlight || to == StateSkipped
	case StateInFlight:
		return to == StateDone || to == StateFailed || to == StatePending
	default:
		return false
	}
}

type TransitionError struct {
	SKU  string
	From SKUState
	To   SKUState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("非法状态迁移：%s %s -> %s", e.SKU, e.From, e.To)
}
