package run

import (
	"sort"
	"sync"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Tracker 记录本轮每个 SKU 的状态，并拒绝非法迁移。
// 并发安全：worker 写 in_flight，collector 写终态。
type Tracker struct {
	mu     sync.Mutex
	states map[string]domain.SKUState
}

func NewTracker(skus []string) *Tracker {
	t := &Tracker{states: make(map[string]domain.SKUState, len(skus))}
	for _, s := range skus {
		t.states[s] = domain.StatePending
	}
	return t
}

func (t *Tracker) Transition(sku string, to domain.SKUState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[sku]
	if !ok || !domain.CanTransition(from, to) {
		return &domain.TransitionError{SKU: sku, From: from, To: to}
	}
	t.states[sku] = to
	return nil
}

func (t *Tracker) State(sku string) domain.SKUState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[sku]
}

func (t *Tracker) Counts() map[domain.SKUState]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[domain.SKUState]int, 5)
	for _, s := range t.states {
		out[s]++
	}
	return out
}

// InFlight 返回正在处理中的 SKU（字典序）。
func (t *Tracker) InFlight() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for sku, s := range t.states {
		if s == domain.StateInFlight {
			out = append(out, sku)
		}
	}
	sort.Strings(out)
	return out
}
