package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func TestCLI_NoTTY_StdoutOnlyRunReportJSON(t *testing.T) {
	if testing.Short() {
		t.Skip("需要 go run")
	}
	// 锁定对外契约：stdout 非 TTY 时只能输出一个 RunReport JSON。
	// 配置里唯一的店铺缺少凭据，运行在 preflight 阶段中止，不会产生任何网络请求。
	root := t.TempDir()
	cfg := `{
  "input": "skus.txt",
  "shops": [{"id": "waste", "base_identifier": "waste", "fetch_strategy": "api_search", "rule": {"kind": "identity"}}]
}`
	if err := os.WriteFile(filepath.Join(root, "shoprecon.json"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "skus.txt"), []byte("A-1\n"), 0o644); err != nil {
		t.Fatalf("写入输入失败：%v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("读取 cwd 失败：%v", err)
	}
	repoRoot := filepath.Clean(filepath.Join(wd, "..", ".."))

	cmd := exec.Command("go", "run", "./cmd/shoprecon", "run", root)
	cmd.Dir = repoRoot
	cmd.Env = cleanEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		t.Fatalf("命令执行失败：%v\nstderr=%s", err, stderr.String())
	}

	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("期望 preflight 失败（config_invalid），实际 %+v", rr.Items)
	}
	if _, err := os.Stat(filepath.Join(root, ".shoprecon", "snapshot.json")); !os.IsNotExist(err) {
		t.Fatalf("preflight 失败时不应写 snapshot：%v", err)
	}
	if !strings.Contains(stderr.String(), "完成：done=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
}

// cleanEnv 去掉可能让测试访问真实 API 的凭据与配置覆盖。
func cleanEnv() []string {
	out := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "RAKUTEN_") || strings.HasPrefix(kv, "SHOPRECON_") {
			continue
		}
		out = append(out, kv)
	}
	return out
}
