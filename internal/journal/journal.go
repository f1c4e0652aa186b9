// Package journal records engine operations and style load events in DuckDB
// so that a session can be inspected with SQL.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-mapstyle/internal/engine/memory"
	"github.com/joeblew999/plat-mapstyle/internal/logger"
	"github.com/joeblew999/plat-mapstyle/internal/stylemanager"
)

var (
	instance *Journal
	once     sync.Once
	initErr  error
	mu       sync.Mutex
)

// Config holds database configuration. An empty DataDir keeps the journal in
// memory.
type Config struct {
	DataDir string
	DBName  string
}

const schema = `
CREATE TABLE IF NOT EXISTS engine_ops (
	seq      BIGINT,
	at       TIMESTAMP,
	category VARCHAR,
	op       VARCHAR,
	id       VARCHAR,
	error    VARCHAR
);
CREATE TABLE IF NOT EXISTS style_events (
	seq        BIGINT,
	at         TIMESTAMP,
	kind       VARCHAR,
	request_id VARCHAR,
	style      VARCHAR,
	phase      VARCHAR,
	operations INTEGER,
	error      VARCHAR
);`

// Journal is a DuckDB backed session log.
type Journal struct {
	db  *sql.DB
	seq atomic.Int64
	log *zap.SugaredLogger
}

// Get returns the shared journal, opening it on first use.
func Get(cfg Config) (*Journal, error) {
	mu.Lock()
	defer mu.Unlock()
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Close closes the shared journal.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// Reset closes the shared journal so the next Get opens a new one.
func Reset() error {
	mu.Lock()
	defer mu.Unlock()
	var err error
	if instance != nil {
		err = instance.Close()
	}
	instance, initErr, once = nil, nil, sync.Once{}
	return err
}

// Open opens a journal that is not shared.
func Open(cfg Config) (*Journal, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "journal"
		}
		dsn = filepath.Join(duckdbDir, name+".duckdb")
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal tables: %w", err)
	}

	j := &Journal{db: db, log: logger.For(logger.ComponentJournal)}
	var last sql.NullInt64
	if err := db.QueryRow("SELECT max(seq) FROM (SELECT seq FROM engine_ops UNION ALL SELECT seq FROM style_events)").Scan(&last); err == nil && last.Valid {
		j.seq.Store(last.Int64)
	}
	return j, nil
}

// DB exposes the underlying connection.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the connection.
func (j *Journal) Close() error { return j.db.Close() }

func errString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}

// RecordOp appends an engine operation.
func (j *Journal) RecordOp(ctx context.Context, op memory.Op) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO engine_ops VALUES (?, ?, ?, ?, ?, ?)",
		j.seq.Add(1), time.Now().UTC(), op.Category, op.Name, op.ID, errString(op.Err),
	)
	if err != nil {
		j.log.Warnw("failed to record engine op", "category", op.Category, "op", op.Name, "id", op.ID, "error", err)
	}
	return err
}

// RecordEvent appends a style lifecycle event.
func (j *Journal) RecordEvent(ctx context.Context, e stylemanager.Event) error {
	ops := 0
	if e.Report != nil {
		ops = len(e.Report.Operations)
	}
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO style_events VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		j.seq.Add(1), time.Now().UTC(), string(e.Kind), e.RequestID.String(), e.Identity.String(), string(e.Phase), ops, errString(e.Err),
	)
	if err != nil {
		j.log.Warnw("failed to record style event", "kind", e.Kind, "error", err)
	}
	return err
}

// Result is a materialised query result.
type Result struct {
	Columns []string         `json:"columns" doc:"Column names"`
	Rows    []map[string]any `json:"rows" doc:"Query results"`
}

// Query runs q and reads every row.
func (j *Journal) Query(ctx context.Context, q string, args ...any) (*Result, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	res := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

// Exec runs a statement.
func (j *Journal) Exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return j.db.ExecContext(ctx, q, args...)
}

// Tables lists the tables of the journal database.
func (j *Journal) Tables(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// OpRecord is one journaled engine operation.
type OpRecord struct {
	Seq      int64     `json:"seq" doc:"Journal sequence number"`
	At       time.Time `json:"at" doc:"When the operation ran"`
	Category string    `json:"category" doc:"Node category" example:"layer"`
	Op       string    `json:"op" doc:"Engine operation" example:"add"`
	ID       string    `json:"id" doc:"Node id" example:"roads"`
	Error    string    `json:"error,omitempty" doc:"Engine error"`
}

// Ops pages through engine operations in journal order and returns the total
// number of operations.
func (j *Journal) Ops(ctx context.Context, offset, limit int) ([]OpRecord, int, error) {
	var total int
	if err := j.db.QueryRowContext(ctx, "SELECT count(*) FROM engine_ops").Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, at, category, op, id, error FROM engine_ops ORDER BY seq LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	ops := []OpRecord{}
	for rows.Next() {
		var (
			rec    OpRecord
			errStr sql.NullString
		)
		if err := rows.Scan(&rec.Seq, &rec.At, &rec.Category, &rec.Op, &rec.ID, &errStr); err != nil {
			return nil, 0, err
		}
		rec.Error = errStr.String
		ops = append(ops, rec)
	}
	return ops, total, rows.Err()
}
