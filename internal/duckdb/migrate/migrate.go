package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Runner applies the embedded, versioned account schema to a DuckDB database.
type Runner struct{ db *sql.DB }

// NewRunner creates a migration runner for the given database connection.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

type step struct {
	version int
	name    string
	sql     string
}

// loadSteps reads NNN_name.sql files in version order.
func loadSteps() ([]step, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate: read embedded migrations: %w", err)
	}

	steps := make([]step, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migrate: version of %s: %w", e.Name(), err)
		}
		body, err := migrations.ReadFile(path.Join("migrations", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", e.Name(), err)
		}
		steps = append(steps, step{version: version, name: e.Name(), sql: string(body)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func (r *Runner) ensureTable() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	return nil
}

func (r *Runner) currentVersion() (int, error) {
	var v sql.NullInt64
	if err := r.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("migrate: read current version: %w", err)
	}
	return int(v.Int64), nil
}

// Run applies every step newer than the recorded version, one transaction per step.
func (r *Runner) Run() error {
	if err := r.ensureTable(); err != nil {
		return err
	}
	steps, err := loadSteps()
	if err != nil {
		return err
	}
	current, err := r.currentVersion()
	if err != nil {
		return err
	}

	for _, s := range steps {
		if s.version <= current {
			continue
		}
		if err := r.apply(s); err != nil {
			return err
		}
		log.Printf("migrate: applied %s", s.name)
	}
	return nil
}

func (r *Runner) apply(s step) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin %s: %w", s.name, err)
	}
	if _, err := tx.Exec(s.sql); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrate: execute %s: %w", s.name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.version, s.name); err != nil {
		tx.Rollback()
		return fmt.Errorf("migrate: record %s: %w", s.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", s.name, err)
	}
	return nil
}

// Status returns the applied version and how many steps are still pending.
func (r *Runner) Status() (current int, pending int, err error) {
	if err = r.ensureTable(); err != nil {
		return 0, 0, err
	}
	if current, err = r.currentVersion(); err != nil {
		return 0, 0, err
	}
	steps, err := loadSteps()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range steps {
		if s.version > current {
			pending++
		}
	}
	return current, pending, nil
}
