package provider

import (
	"fmt"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// Registry 是 fetcher 的只读注册表（按 fetch strategy 索引）。
type Registry struct {
	byStrategy map[domain.FetchStrategy]Fetcher
}

func NewRegistry(fetchers ...Fetcher) (Registry, error) {
	by := make(map[domain.FetchStrategy]Fetcher, len(fetchers))
	for _, f := range fetchers {
		if f == nil {
			return Registry{}, fmt.Errorf("fetcher 不能为空")
		}
		s, err := domain.ParseFetchStrategy(string(f.Strategy()))
		if err != nil {
			return Registry{}, err
		}
		if _, ok := by[s]; ok {
			return Registry{}, fmt.Errorf("重复的 fetcher：%q", s)
		}
		by[s] = f
	}
	return Registry{byStrategy: by}, nil
}

func (r Registry) Get(s domain.FetchStrategy) (Fetcher, bool) {
	if r.byStrategy == nil {
		return nil, false
	}
	f, ok := r.byStrategy[s]
	return f, ok
}
