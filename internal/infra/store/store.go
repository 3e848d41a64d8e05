package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/fsx"
)

const (
	SnapshotFile = "snapshot.json"
	ProgressFile = "progress.json"
	ResultsFile  = "results.json"
)

// Store 管理 <state_dir>/ 下的运行状态文件。
//
// 约束：
// - 所有写入都是“同目录临时文件 + rename”，任何时刻读到的都是完整文件
// - dry-run：只允许读（ReadOnly=true）
type Store struct {
	Dir      string
	ReadOnly bool
}

var ErrReadOnly = errors.New("store: read-only")

func New(dir string, readOnly bool) Store {
	return Store{
		Dir:      filepath.Clean(strings.TrimSpace(dir)),
		ReadOnly: readOnly,
	}
}

func (s Store) path(name string) string { return filepath.Join(s.Dir, name) }

// LoadSnapshot 读取上一轮 snapshot；文件不存在时返回空 snapshot。
// dups 是文件中被丢弃的重复 SKU（只保留第一次出现）。
func (s Store) LoadSnapshot() (snap domain.Snapshot, dups []string, err error) {
	b, ok, err := s.read(SnapshotFile)
	if err != nil || !ok {
		return domain.Snapshot{}, nil, err
	}
	snap, dups, err = domain.DecodeSnapshot(b)
	if err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("解析 %s 失败：%w", s.path(SnapshotFile), err)
	}
	return snap, dups, nil
}

func (s Store) SaveSnapshot(snap domain.Snapshot) error {
	return s.writeJSON(SnapshotFile, snap)
}

// Progress 是本轮运行的中间结果（用于中断后续跑）。
type Progress struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Records   []domain.ProductRecord `json:"records"`
}

// LoadProgress 读取未完成运行的 progress；不存在时 ok=false。
func (s Store) LoadProgress() (p Progress, ok bool, err error) {
	b, ok, err := s.read(ProgressFile)
	if err != nil || !ok {
		return Progress{}, false, err
	}
	if err := json.Unmarshal(b, &p); err != nil {
		return Progress{}, false, fmt.Errorf("解析 %s 失败：%w", s.path(ProgressFile), err)
	}
	return p, true, nil
}

func (s Store) SaveProgress(p Progress) error {
	if p.Records == nil {
		p.Records = []domain.ProductRecord{}
	}
	return s.writeJSON(ProgressFile, p)
}

// ClearProgress 在整轮运行成功结束后删除 progress。
func (s Store) ClearProgress() error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	err := os.Remove(s.path(ProgressFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s Store) SaveResults(rr domain.RunReport) error {
	return s.writeJSON(ResultsFile, rr)
}

func (s Store) read(name string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) writeJSON(name string, v any) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(s.Dir, name, b)
}
