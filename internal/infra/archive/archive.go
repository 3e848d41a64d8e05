package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

// SQLiteSink 把每轮运行的记录与 diff 追加写入 SQLite，作为可查询的运行历史。
//
// 约束：
// - 只追加，不修改历史行
// - 每条记录一个事务：records 一行 + listings 若干行（店铺 listing 与变体）
type SQLiteSink struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id      TEXT PRIMARY KEY,
		input       TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		interrupted INTEGER NOT NULL,
		done        INTEGER NOT NULL,
		skipped     INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		new         INTEGER NOT NULL,
		changed     INTEGER NOT NULL,
		unchanged   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS records (
		run_id         TEXT NOT NULL,
		internal_sku   TEXT NOT NULL,
		classification TEXT NOT NULL,
		changed_fields TEXT NOT NULL,
		canonical_name TEXT NOT NULL,
		price_ex_tax   INTEGER,
		record_json    TEXT NOT NULL,
		PRIMARY KEY (run_id, internal_sku)
	)`,
	`CREATE TABLE IF NOT EXISTS listings (
		run_id        TEXT NOT NULL,
		internal_sku  TEXT NOT NULL,
		shop_id       TEXT NOT NULL,
		variant_key   TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		price         INTEGER,
		points        INTEGER,
		coupon        INTEGER,
		availability  TEXT NOT NULL,
		canonical_url TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_sku ON records(internal_sku)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_sku ON listings(internal_sku, shop_id)`,
}

func Open(ctx context.Context, path string) (*SQLiteSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("archive 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单连接：SQLite 写入串行，避免 database is locked。
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("初始化 archive 失败：%w", err)
		}
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) Deliver(ctx context.Context, runID string, rec domain.ProductRecord, d domain.DiffResult) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	changed, err := json.Marshal(nonNil(d.ChangedFields))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (run_id, internal_sku, classification, changed_fields, canonical_name, price_ex_tax, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.InternalSKU, string(d.Classification), string(changed), rec.CanonicalName, nullInt(rec.PriceExTax), string(body),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE run_id = ? AND internal_sku = ?`, runID, rec.InternalSKU); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO listings (run_id, internal_sku, shop_id, variant_key, outcome, price, points, coupon, availability, canonical_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for shopID, e := range rec.PerShop {
		if e.Listing == nil && len(e.Variants) == 0 {
			if _, err := stmt.ExecContext(ctx, runID, rec.InternalSKU, shopID, "", string(e.Outcome), nil, nil, nil, string(domain.AvailabilityUnknown), ""); err != nil {
				return err
			}
			continue
		}
		if l := e.Listing; l != nil {
			if _, err := stmt.ExecContext(ctx, runID, rec.InternalSKU, shopID, "", string(e.Outcome),
				nullInt(l.Price), nullInt(l.Points), nullInt(l.Coupon), string(l.Availability), l.URL); err != nil {
				return err
			}
		}
		for _, v := range e.Variants {
			if _, err := stmt.ExecContext(ctx, runID, rec.InternalSKU, shopID, v.Key(), string(e.Outcome),
				nullInt(v.Price), nullInt(v.Points), nullInt(v.Coupon), string(v.Availability), v.URL); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RecordRun 写入（或覆盖）一轮运行的汇总。
func (s *SQLiteSink) RecordRun(ctx context.Context, rr domain.RunReport) error {
	sum := rr.Summary
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, input, started_at, finished_at, interrupted, done, skipped, failed, new, changed, unchanged)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rr.RunID, rr.Input, rr.StartedAt.UTC().Format(time.RFC3339), rr.FinishedAt.UTC().Format(time.RFC3339), rr.Interrupted,
		sum.Done, sum.Skipped, sum.Failed, sum.New, sum.Changed, sum.Unchanged,
	)
	return err
}

// Runs 按开始时间返回全部运行 id。
func (s *SQLiteSink) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY started_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Entry 是某个 SKU 在某一轮运行中的归档摘要。
type Entry struct {
	RunID          string
	Classification domain.Classification
	ChangedFields  []string
	PriceExTax     *int64
}

// History 按写入顺序返回某个 SKU 的全部归档。
func (s *SQLiteSink) History(ctx context.Context, sku string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, classification, changed_fields, price_ex_tax FROM records WHERE internal_sku = ? ORDER BY rowid`, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			class   string
			changed string
			price   sql.NullInt64
		)
		if err := rows.Scan(&e.RunID, &class, &changed, &price); err != nil {
			return nil, err
		}
		e.Classification = domain.Classification(class)
		if err := json.Unmarshal([]byte(changed), &e.ChangedFields); err != nil {
			return nil, err
		}
		if len(e.ChangedFields) == 0 {
			e.ChangedFields = nil
		}
		if price.Valid {
			v := price.Int64
			e.PriceExTax = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountListings 返回某轮运行写入的 listing 行数（按店铺）。
func (s *SQLiteSink) CountListings(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shop_id, COUNT(*) FROM listings WHERE run_id = ? GROUP BY shop_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			shop string
			n    int
		)
		if err := rows.Scan(&shop, &n); err != nil {
			return nil, err
		}
		out[shop] = n
	}
	return out, rows.Err()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
