package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Runner applies SQL migration and seed files stored on disk, tracking what
// ran in bookkeeping tables so reruns are no-ops.
type Runner struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"
)

// NewRunner constructs a Runner over the given directories.
func NewRunner(db *sql.DB, migrationsDir, seedsDir string) *Runner {
	return &Runner{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies all pending migrations in filename order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, migrationsTable)
	if err != nil {
		return err
	}
	files, err := listSQL(r.migrationsDir, ".up.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[filepath.Base(f)] {
			continue
		}
		if err := r.execFile(ctx, f); err != nil {
			return fmt.Errorf("apply migration %s: %w", filepath.Base(f), err)
		}
		if err := r.record(ctx, migrationsTable, filepath.Base(f)); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	history, err := r.history(ctx, migrationsTable)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("no migrations applied")
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(filepath.Join(r.migrationsDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := r.execFile(ctx, down); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, migrationsTable), last)
	return err
}

// Seed applies pending seed files (demo providers, fee schedules, templates).
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx, seedsTable)
	if err != nil {
		return err
	}
	files, err := listSQL(r.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		if applied[filepath.Base(f)] {
			continue
		}
		if err := r.execFile(ctx, f); err != nil {
			return fmt.Errorf("apply seed %s: %w", filepath.Base(f), err)
		}
		if err := r.record(ctx, seedsTable, filepath.Base(f)); err != nil {
			return err
		}
	}
	return nil
}

// Status returns applied migrations in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureTables(ctx); err != nil {
		return nil, err
	}
	return r.history(ctx, migrationsTable)
}

func (r *Runner) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) applied(ctx context.Context, table string) (map[string]bool, error) {
	history, err := r.history(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(history))
	for _, name := range history {
		out[name] = true
	}
	return out, nil
}

func (r *Runner) history(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Runner) record(ctx context.Context, table, name string) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`insert into %s(name) values($1)`, table), name)
	return err
}

func (r *Runner) execFile(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	return tx.Commit()
}

func listSQL(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
