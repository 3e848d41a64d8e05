package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/config"
	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/infra/archive"
)

func TestParseRunArgs(t *testing.T) {
	ra, err := parseRunArgs([]string{"data", "--input", "a.csv", "--concurrency=8", "--dry-run"})
	require.NoError(t, err)
	assert.Equal(t, runArgs{
		Path: "data", Input: "a.csv",
		Concurrency: 8, ConcurrencySet: true,
		DryRun: true, DryRunSet: true,
	}, ra)

	ra, err = parseRunArgs([]string{"--dry-run=false"})
	require.NoError(t, err)
	assert.True(t, ra.DryRunSet)
	assert.False(t, ra.DryRun)
}

func TestParseRunArgs_Errors(t *testing.T) {
	for _, args := range [][]string{
		{"--concurrency", "0"},
		{"--concurrency"},
		{"--dry-run=maybe"},
		{"--nope"},
		{"a", "b"},
		{"--input"},
	} {
		if _, err := parseRunArgs(args); err == nil {
			t.Fatalf("期望错误：%v", args)
		}
	}
}

func TestReportForError_CarriesCode(t *testing.T) {
	err := &config.Error{Code: config.ErrCodeNotFound, Path: "/x/shoprecon.*"}
	rr := reportForError(false, config.Code(err), err)

	require.Len(t, rr.Items, 1)
	assert.Equal(t, domain.ErrCodeConfigNotFound, rr.Items[0].ErrorCode)
	assert.Equal(t, 1, rr.Summary.Failed)
	assert.Equal(t, "/x/shoprecon.*", rr.Input)

	rr2 := reportForError(true, "", errors.New("x"))
	assert.Equal(t, domain.ErrCodeConfigInvalid, rr2.Items[0].ErrorCode)
}

func TestWriteHistory_JSONLines(t *testing.T) {
	v := int64(1000)
	var buf bytes.Buffer
	require.NoError(t, writeHistory(&buf, []archive.Entry{
		{RunID: "r1", Classification: domain.ClassNew, PriceExTax: &v},
		{RunID: "r2", Classification: domain.ClassChanged, ChangedFields: []string{"price_ex_tax"}},
	}))

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Equal(t, "NEW", first["classification"])
	assert.Equal(t, []any{}, first["changed_fields"])
	assert.Nil(t, second["price_ex_tax"])
}

func TestSummaryLine_Interrupted(t *testing.T) {
	rr := domain.RunReport{Interrupted: true, Summary: domain.ReportSummary{Done: 1, Pending: 2}}
	assert.Contains(t, summaryLine(rr), "pending=2")
	assert.Contains(t, summaryLine(rr), "已中断")
}
