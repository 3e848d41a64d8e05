package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func i64(v int64) *int64 { return &v }

func rec(sku string) domain.ProductRecord {
	return domain.ProductRecord{
		InternalSKU:   sku,
		SearchKeyUsed: "k",
		PriceExTax:    i64(1000),
		PerShop: map[string]domain.ShopEntry{
			"waste": {SearchKey: "k", Outcome: domain.OutcomeFound, Listing: &domain.RawListing{Price: i64(1100), Availability: domain.AvailabilityUnknown}},
		},
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := New(t.TempDir(), false)

	empty, dups, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, dups)

	snap, _ := domain.NewSnapshot([]domain.ProductRecord{rec("A1"), rec("B1")})
	require.NoError(t, s.SaveSnapshot(snap))

	back, _, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Records(), back.Records())

	// 再保存一次，文件内容不变（序列化稳定）。
	b1, _ := os.ReadFile(filepath.Join(s.Dir, SnapshotFile))
	require.NoError(t, s.SaveSnapshot(back))
	b2, _ := os.ReadFile(filepath.Join(s.Dir, SnapshotFile))
	assert.Equal(t, string(b1), string(b2))
}

func TestStore_LoadSnapshotReportsDuplicates(t *testing.T) {
	dir := t.TempDir()
	data := `{"version":1,"records":[{"internal_sku":"A1","search_key_used":"x","canonical_name":"","per_shop":{}},{"internal_sku":"A1","search_key_used":"y","canonical_name":"","per_shop":{}}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte(data), 0o644))

	snap, dups, err := New(dir, false).LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, dups)
	r, _ := snap.Get("A1")
	assert.Equal(t, "x", r.SearchKeyUsed)
}

func TestStore_ProgressLifecycle(t *testing.T) {
	s := New(t.TempDir(), false)

	_, ok, err := s.LoadProgress()
	require.NoError(t, err)
	assert.False(t, ok)

	p := Progress{RunID: "run-1", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Records: []domain.ProductRecord{rec("A1")}}
	require.NoError(t, s.SaveProgress(p))

	got, ok, err := s.LoadProgress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, got)

	require.NoError(t, s.ClearProgress())
	require.NoError(t, s.ClearProgress(), "重复删除不报错")
	_, ok, _ = s.LoadProgress()
	assert.False(t, ok)
}

func TestStore_ReadOnlyRejectWrite(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)

	err := s.SaveProgress(Progress{RunID: "x"})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("期望 ErrReadOnly，实际：%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ProgressFile)); !os.IsNotExist(err) {
		t.Fatalf("期望文件不存在，但 Stat err=%v", err)
	}
	assert.ErrorIs(t, s.SaveResults(domain.RunReport{}), ErrReadOnly)
}

func TestStore_CorruptSnapshotIsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SnapshotFile), []byte("{"), 0o644))
	_, _, err := New(dir, false).LoadSnapshot()
	require.Error(t, err)
}
