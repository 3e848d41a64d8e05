package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func TestLoadEffective_ConfigNotFound(t *testing.T) {
	cwd := t.TempDir()

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoadEffective_ConfigMissingPath(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "shoprecon.json"), []byte(`{"concurrency":2}`))

	_, err := LoadEffective(cwd, CLIArgs{})
	if Code(err) != ErrCodeMissingPath {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingPath, err, Code(err))
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "shoprecon.toml"), []byte("path = \"data\"\n"))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	root := filepath.Join(cwd, "data")
	assert.Equal(t, root, eff.Path)
	assert.Equal(t, filepath.Join(root, "skus.csv"), eff.Input)
	assert.Equal(t, filepath.Join(root, ".shoprecon"), eff.StateDir)
	assert.Equal(t, DefaultConcurrency, eff.Concurrency)
	assert.Equal(t, 8, eff.MaxInFlight)
	assert.Equal(t, 10, eff.FlushEvery)
	assert.Equal(t, "1.1", eff.TaxRate.String())
	assert.Equal(t, time.Second, eff.Fetch.Delay)
	assert.Equal(t, 60*time.Second, eff.Fetch.RateLimitBackoff)
	assert.Equal(t, 10, eff.Ichiba.Hits)
	assert.False(t, eff.DryRun)
	assert.Empty(t, eff.ArchivePath)
	assert.Len(t, eff.Shops, 4, "未配置 shops 时使用内置店铺")
}

func TestLoadEffective_CLIOverrides(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "shoprecon.yaml"), []byte("path: p\ndry_run: true\nconcurrency: 3\ninput: a.txt\n"))

	eff, err := LoadEffective(cwd, CLIArgs{
		DryRun:         false,
		DryRunSet:      true, // --dry-run=false
		Concurrency:    100,
		ConcurrencySet: true,
		Input:          "/abs/b.csv",
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	assert.False(t, eff.DryRun)
	assert.Equal(t, MaxConcurrency, eff.Concurrency, "超出范围应截断")
	assert.Equal(t, "/abs/b.csv", eff.Input)

	eff2, err := LoadEffective(cwd, CLIArgs{})
	require.NoError(t, err)
	assert.True(t, eff2.DryRun)
	assert.Equal(t, 3, eff2.Concurrency)
	assert.Equal(t, filepath.Join(cwd, "p", "a.txt"), eff2.Input)
}

func TestLoadEffective_EnvOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "shoprecon.toml"), []byte("path = \"p\"\n[fetch]\ndelay = \"2s\"\n"))
	t.Setenv("SHOPRECON_FETCH_DELAY", "250ms")

	eff, err := LoadEffective(cwd, CLIArgs{})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, eff.Fetch.Delay)
}

func TestLoadEffective_CLIPath_ConfigOptional(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	eff, err := LoadEffective(cwd, CLIArgs{Path: root})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Path != root {
		t.Fatalf("期望 path=%q，实际=%q", root, eff.Path)
	}
}

func TestLoadEffective_CLIPath_InvalidConfig(t *testing.T) {
	cwd := t.TempDir()
	root := filepath.Join(cwd, "root")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(root, "shoprecon.json"), []byte(`{`))

	_, err := LoadEffective(cwd, CLIArgs{Path: root})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoadEffective_Shops(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "shoprecon.toml"), []byte(`
path = "p"

[[shops]]
id = "Waste"
base_identifier = "waste"
fetch_strategy = "api-search"
[shops.rule]
kind = "join"
delimiter = "-"
separator = "-"
fields = [1, 2]

[[shops]]
id = "dear"
base_identifier = "dear-worker"
base_url = "https://item.example.jp/dear-worker/"
fetch_strategy = "html_scrape"
[shops.rule]
kind = "constant"
value = "cp209boa"
[shops.variants]
mode = "matrix"
`))

	eff, err := LoadEffective(cwd, CLIArgs{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	require.Len(t, eff.Shops, 2)
	assert.Equal(t, domain.StrategyAPISearch, eff.Shops[0].Strategy)
	assert.Equal(t, domain.JoinRule("-", "-", 1, 2), eff.Shops[0].Rule)
	assert.Equal(t, domain.VariantMatrix, eff.Shops[1].Variants.Mode)
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := map[string]string{
		"tax_rate":      `{"path":"p","tax_rate":"abc"}`,
		"proxy":         `{"path":"p","proxy":{"url":"http://[::1"}}`,
		"flush_every":   `{"path":"p","flush_every":0}`,
		"remote_url":    `{"path":"p","scrape":{"remote_url":"ws://127.0.0.1:9222"}}`,
		"strategy":      `{"path":"p","shops":[{"id":"a","base_identifier":"a","fetch_strategy":"ftp","rule":{"kind":"identity"}}]}`,
		"duplicateShop": `{"path":"p","shops":[{"id":"a","base_identifier":"a","fetch_strategy":"api_search","rule":{"kind":"identity"}},{"id":"A","base_identifier":"b","fetch_strategy":"api_search","rule":{"kind":"identity"}}]}`,
		"badRule":       `{"path":"p","shops":[{"id":"a","base_identifier":"a","fetch_strategy":"api_search","rule":{"kind":"field","delimiter":"-","fields":[0]}}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cwd := t.TempDir()
			writeFile(t, filepath.Join(cwd, "shoprecon.json"), []byte(body))

			_, err := LoadEffective(cwd, CLIArgs{})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}
