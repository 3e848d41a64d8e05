package domain

import (
	"encoding/json"
	"fmt"
)

const SnapshotVersion = 1

// Snapshot 是按 InternalSKU 索引、保持插入顺序的记录集合。
//
// 约束：同一个 SKU 只保留第一次出现的记录；后续重复由调用方决定是否告警。
type Snapshot struct {
	records []ProductRecord
	index   map[string]int
}

// NewSnapshot 按顺序构建 Snapshot，返回被丢弃的重复 SKU（按出现顺序）。
func NewSnapshot(records []ProductRecord) (Snapshot, []string) {
	s := Snapshot{index: make(map[string]int, len(records))}
	var dups []string
	for _, r := range records {
		if !s.add(r) {
			dups = append(dups, r.InternalSKU)
		}
	}
	return s, dups
}

func (s *Snapshot) add(r ProductRecord) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if _, ok := s.index[r.InternalSKU]; ok {
		return false
	}
	s.index[r.InternalSKU] = len(s.records)
	s.records = append(s.records, r)
	return true
}

func (s Snapshot) Len() int { return len(s.records) }

func (s Snapshot) Get(sku string) (ProductRecord, bool) {
	i, ok := s.index[sku]
	if !ok {
		return ProductRecord{}, false
	}
	return s.records[i], true
}

// Records 返回记录的副本（调用方修改不影响 Snapshot）。
func (s Snapshot) Records() []ProductRecord {
	out := make([]ProductRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Merge 生成新一轮的 Snapshot：
// - order 中的 SKU 依次取 fresh 的记录，没有则沿用旧记录
// - 其余旧记录按原顺序追加在后面
func (s Snapshot) Merge(order []string, fresh map[string]ProductRecord) Snapshot {
	out := Snapshot{index: make(map[string]int, len(s.records)+len(fresh))}
	for _, sku := range order {
		if r, ok := fresh[sku]; ok {
			out.add(r)
			continue
		}
		if r, ok := s.Get(sku); ok {
			out.add(r)
		}
	}
	for _, r := range s.records {
		out.add(r)
	}
	return out
}

type snapshotFile struct {
	Version int             `json:"version"`
	Records []ProductRecord `json:"records"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	recs := s.records
	if recs == nil {
		recs = []ProductRecord{}
	}
	return json.Marshal(snapshotFile{Version: SnapshotVersion, Records: recs})
}

func (s *Snapshot) UnmarshalJSON(b []byte) error {
	v, _, err := DecodeSnapshot(b)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DecodeSnapshot 解析 snapshot.json，并返回被丢弃的重复 SKU。
func DecodeSnapshot(b []byte) (Snapshot, []string, error) {
	var f snapshotFile
	if err := json.Unmarshal(b, &f); err != nil {
		return Snapshot{}, nil, err
	}
	if f.Version != 0 && f.Version != SnapshotVersion {
		return Snapshot{}, nil, fmt.Errorf("不支持的 snapshot 版本：%d", f.Version)
	}
	s, dups := NewSnapshot(f.Records)
	return s, dups, nil
}
