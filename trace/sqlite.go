package trace

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLiteSink inserts records into a task_events table, one transaction per
// batch.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the database at path, applying
// the schema. Use ":memory:" for a transient database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open(`sqlite`, path)
	if err != nil {
		return nil, fmt.Errorf(`trace: open sqlite %s: %w`, path, err)
	}
	// also keeps a :memory: database alive, and shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	x := &SQLiteSink{db: db}
	if err := x.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}

func (x *SQLiteSink) init(ctx context.Context) error {
	for _, pragma := range [...]string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := x.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf(`trace: %s: %w`, pragma, err)
		}
	}
	b, err := migrationsFS.ReadFile(`migrations.sql`)
	if err != nil {
		return err
	}
	if _, err := x.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf(`trace: migrate: %w`, err)
	}
	return nil
}

// DB exposes the underlying database, e.g. for querying.
func (x *SQLiteSink) DB() *sql.DB { return x.db }

func (x *SQLiteSink) Close() error { return x.db.Close() }

func (x *SQLiteSink) WriteRecords(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO task_events
		(run_id, time, task_id, kind, priority, status, err, delay_ns, elapsed_ns, run_ns, preempt, persistent, reusable, async)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		var errText sql.NullString
		if r.Err != `` {
			errText = sql.NullString{String: r.Err, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			r.RunID,
			r.Time.Format(time.RFC3339Nano),
			int64(r.TaskID),
			r.Kind,
			r.Priority,
			r.Status,
			errText,
			int64(r.Delay),
			int64(r.Elapsed),
			int64(r.RunDuration),
			r.Preempt,
			r.Persistent,
			r.Reusable,
			r.Async,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RunSummary aggregates the stored records of a run.
type RunSummary struct {
	Kinds map[string]int
	Tasks int
}

// Summary counts the records of runID by kind, along with the number of
// distinct tasks.
func (x *SQLiteSink) Summary(ctx context.Context, runID string) (*RunSummary, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM task_events WHERE run_id = ? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s := RunSummary{Kinds: make(map[string]int)}
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		s.Kinds[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT task_id) FROM task_events WHERE run_id = ?`, runID).Scan(&s.Tasks); err != nil {
		return nil, err
	}
	return &s, nil
}
