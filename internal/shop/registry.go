package shop

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Registry 是店铺配置的只读注册表。
//
// 约束：
// - 启动时构建一次，之后只读（可被多个 worker 并发读取）
// - 按 ID 索引（小写），同时保留注册顺序；“第一个店铺”之类的语义都以该顺序为准
type Registry struct {
	order []domain.ShopProfile
	byID  map[string]int
}

func NewRegistry(profiles ...domain.ShopProfile) (Registry, error) {
	if len(profiles) == 0 {
		return Registry{}, fmt.Errorf("至少需要配置一个店铺")
	}
	byID := make(map[string]int, len(profiles))
	order := make([]domain.ShopProfile, 0, len(profiles))
	for _, p := range profiles {
		p.ID = normID(p.ID)
		if p.Variants.Mode == "" {
			p.Variants.Mode = domain.VariantNone
		}
		if err := p.Validate(); err != nil {
			return Registry{}, err
		}
		if _, ok := byID[p.ID]; ok {
			return Registry{}, fmt.Errorf("重复的店铺：%q", p.ID)
		}
		byID[p.ID] = len(order)
		order = append(order, p)
	}
	return Registry{order: order, byID: byID}, nil
}

func (r Registry) Get(id string) (domain.ShopProfile, bool) {
	if r.byID == nil {
		return domain.ShopProfile{}, false
	}
	i, ok := r.byID[normID(id)]
	if !ok {
		return domain.ShopProfile{}, false
	}
	return r.order[i], true
}

// Profiles 按注册顺序返回全部店铺（副本）。
func (r Registry) Profiles() []domain.ShopProfile {
	out := make([]domain.ShopProfile, len(r.order))
	copy(out, r.order)
	return out
}

func (r Registry) IDs() []string {
	out := make([]string, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, p.ID)
	}
	return out
}

func (r Registry) Len() int { return len(r.order) }

func normID(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
