package scan

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadSKUs 读取输入文件中的内部 SKU 列表（保持文件顺序，不去重）。
//
// 规则（硬约束）：
// - .csv/.tsv：每行取第一个非空单元格
// - 其他扩展名：一行一个 SKU
// - 与 headerLabels 中任一项相等（大小写不敏感）的值视为表头并丢弃
// - 空白行丢弃；值两端空白被裁掉；UTF-8 BOM 被剥离
//
// 去重由上层（app.GroupSKUs）负责，这里只做“读出原始顺序”。
func ReadSKUs(path string, headerLabels []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		raw, err = readTable(f, ',')
	case ".tsv":
		raw, err = readTable(f, '\t')
	default:
		raw, err = readLines(f)
	}
	if err != nil {
		return nil, fmt.Errorf("读取 %q 失败：%w", path, err)
	}
	return filter(raw, headerLabels), nil
}

func readTable(r io.Reader, comma rune) ([]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var out []string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, cell := range rec {
			if v := clean(cell); v != "" {
				out = append(out, v)
				break
			}
		}
	}
}

func readLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	var out []string
	for sc.Scan() {
		out = append(out, clean(sc.Text()))
	}
	return out, sc.Err()
}

func filter(raw []string, headerLabels []string) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v == "" || isHeader(v, headerLabels) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func isHeader(v string, labels []string) bool {
	for _, l := range labels {
		if strings.EqualFold(v, strings.TrimSpace(l)) {
			return true
		}
	}
	return false
}

func clean(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
