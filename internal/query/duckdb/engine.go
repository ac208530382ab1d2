// Package duckdb executes read-only SQL against a dataset's Parquet
// file using an ephemeral in-process DuckDB instance.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/dataomen/dataomen/internal/observability"
	"github.com/dataomen/dataomen/internal/query"
	"github.com/dataomen/dataomen/internal/storage"
)

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

// Execute downloads the dataset's Parquet file, exposes it as the
// virtual table and runs the statement. The SQL must already pass the
// read-only gate; Execute checks it again so no caller can skip it.
func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.Store == nil {
		return query.Result{}, fmt.Errorf("object store is required")
	}
	if request.File.ObjectPath == "" {
		return query.Result{}, fmt.Errorf("dataset file is required")
	}
	if !storage.TenantOwnsPath(request.File.TenantID, request.File.ObjectPath) {
		return query.Result{}, fmt.Errorf("object path %q does not belong to tenant %q", request.File.ObjectPath, request.File.TenantID)
	}
	if err := query.ValidateReadOnly(request.SQL); err != nil {
		return query.Result{}, err
	}

	start := time.Now()
	workDir, err := os.MkdirTemp("", "dataomen-query-")
	if err != nil {
		return query.Result{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	reader, err := e.Store.Get(ctx, request.File.ObjectPath)
	if err != nil {
		return query.Result{}, fmt.Errorf("get object %q: %w", request.File.ObjectPath, err)
	}
	localPath := filepath.Join(workDir, "data.parquet")
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return query.Result{}, fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return query.Result{}, fmt.Errorf("close object %q: %w", request.File.ObjectPath, err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.Result{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`,
		quoteIdent(query.VirtualTable), quoteString(localPath))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return query.Result{}, fmt.Errorf("create dataset view: %w", err)
	}

	sqlText := query.StripTrailingSemicolons(request.SQL)
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	elapsed := time.Since(start)
	observability.ObserveQueryDuration(elapsed)

	return query.Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedBytes: request.File.FileSizeBytes,
		Duration:     elapsed,
	}, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
