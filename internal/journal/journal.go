// Package journal keeps a local DuckDB table of completed calls.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS calls (
	call_id      VARCHAR PRIMARY KEY,
	proc_name    VARCHAR NOT NULL,
	signature    VARCHAR,
	source       VARCHAR,
	started_at   TIMESTAMP NOT NULL,
	duration_us  BIGINT NOT NULL,
	outcome      VARCHAR NOT NULL,
	error_code   VARCHAR,
	error_text   VARCHAR,
	field_count  INTEGER NOT NULL
)`

const selectColumns = `call_id, proc_name, signature, source, started_at, duration_us, outcome, error_code, error_text, field_count`

// Journal is an internal.CallJournal stored in DuckDB.
type Journal struct {
	mu            sync.Mutex
	db            *sql.DB
	slowThreshold time.Duration
}

var _ internal.CallJournal = (*Journal)(nil)

// ProcedureStats aggregates the journal for one procedure.
type ProcedureStats struct {
	Procedure   string
	Calls       int64
	Errors      int64
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// Open opens or creates the journal at cfg.Path. ":memory:" keeps it in memory.
func Open(ctx context.Context, cfg orcall.JournalConfig) (*Journal, error) {
	dsn := cfg.Path
	if dsn == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}
	zap.S().Debugw("call journal opened", "path", cfg.Path)
	return &Journal{db: db, slowThreshold: cfg.SlowCallThreshold}, nil
}

// Append stores rec. Calls slower than the configured threshold are logged.
func (j *Journal) Append(ctx context.Context, rec internal.CallRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO calls (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.Procedure, rec.Signature, string(rec.Source), rec.StartedAt.UTC(),
		rec.Duration.Microseconds(), rec.Outcome, rec.ErrorCode, rec.ErrorText, rec.FieldCount)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.CallID, err)
	}
	if j.slowThreshold > 0 && rec.Duration >= j.slowThreshold {
		zap.S().Warnw("slow call", "call_id", rec.CallID, "procedure", rec.Procedure,
			"duration_ms", rec.Duration.Milliseconds())
	}
	return nil
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]internal.CallRecord, error) {
	return j.query(ctx, `SELECT `+selectColumns+` FROM calls ORDER BY started_at DESC, call_id DESC LIMIT ?`, n)
}

// SlowCalls returns the records that took at least threshold, slowest first.
func (j *Journal) SlowCalls(ctx context.Context, threshold time.Duration) ([]internal.CallRecord, error) {
	return j.query(ctx, `SELECT `+selectColumns+` FROM calls WHERE duration_us >= ? ORDER BY duration_us DESC`, threshold.Microseconds())
}

// Stats summarises the journal per procedure, ordered by procedure name.
func (j *Journal) Stats(ctx context.Context) ([]ProcedureStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, `SELECT proc_name,
			count(*),
			count(*) FILTER (WHERE outcome = 'error'),
			avg(duration_us),
			max(duration_us)
		FROM calls GROUP BY proc_name ORDER BY proc_name`)
	if err != nil {
		return nil, fmt.Errorf("query call stats: %w", err)
	}
	defer rows.Close()

	var out []ProcedureStats
	for rows.Next() {
		var (
			st       ProcedureStats
			avg      float64
			maxMicro int64
		)
		if err := rows.Scan(&st.Procedure, &st.Calls, &st.Errors, &avg, &maxMicro); err != nil {
			return nil, fmt.Errorf("scan call stats: %w", err)
		}
		st.AvgDuration = time.Duration(avg) * time.Microsecond
		st.MaxDuration = time.Duration(maxMicro) * time.Microsecond
		out = append(out, st)
	}
	return out, rows.Err()
}

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]internal.CallRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []internal.CallRecord
	for rows.Next() {
		var (
			rec                              internal.CallRecord
			signature, source, code, errText sql.NullString
			micros                           int64
			fields                           int32
		)
		if err := rows.Scan(&rec.CallID, &rec.Procedure, &signature, &source, &rec.StartedAt,
			&micros, &rec.Outcome, &code, &errText, &fields); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Signature = signature.String
		rec.Source = orcall.SignatureSource(source.String)
		rec.ErrorCode = code.String
		rec.ErrorText = errText.String
		rec.Duration = time.Duration(micros) * time.Microsecond
		rec.FieldCount = int(fields)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
