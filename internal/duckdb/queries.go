package duckdb

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/tinytelemetry/capmigrate/internal/model"
)

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// accountFilter builds a WHERE clause for the non-empty fields of opts.
func accountFilter(opts QueryOpts) (string, []any) {
	var conds []string
	var args []any
	if opts.Source != "" {
		conds = append(conds, "migration_source = ?")
		args = append(args, opts.Source)
	}
	if opts.Player != "" {
		conds = append(conds, "player_name = ?")
		args = append(args, strings.ToLower(opts.Player))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// TotalAccountCount returns the number of migrated accounts matching opts.
func (s *Store) TotalAccountCount(opts QueryOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := accountFilter(opts)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrated_accounts "+where, args...).Scan(&count)
	return count, err
}

// SourceTotals returns account counts and balance sums per migration source.
func (s *Store) SourceTotals() ([]SourceTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT migration_source, COUNT(*), CAST(COALESCE(SUM(CAST(balance AS HUGEINT)), 0) AS VARCHAR)
		FROM migrated_accounts
		GROUP BY migration_source
		ORDER BY migration_source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []SourceTotal
	for rows.Next() {
		var t SourceTotal
		var sum string
		if err := rows.Scan(&t.Source, &t.Accounts, &sum); err != nil {
			log.Printf("duckdb scan error (SourceTotals): %v", err)
			continue
		}
		t.Balance = saturatingInt64(sum)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// saturatingInt64 parses a decimal sum, clamping it to the int64 range.
func saturatingInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		log.Printf("duckdb: bad balance sum %q: %v", s, err)
		return 0
	}
	return n
}

// ListAccounts returns up to limit accounts matching opts, ordered by source
// then player name.
func (s *Store) ListAccounts(opts QueryOpts, limit int) ([]AccountRecord, error) {
	if limit <= 0 {
		limit = model.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	where, args := accountFilter(opts)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, player_name, migration_source, balance, CAST(labels AS VARCHAR), migrated_at
		FROM migrated_accounts `+where+`
		ORDER BY migration_source, player_name, id
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []AccountRecord
	for rows.Next() {
		var a AccountRecord
		var labels string
		if err := rows.Scan(&a.EventID, &a.PlayerName, &a.MigrationSource, &a.Balance, &labels, &a.MigratedAt); err != nil {
			log.Printf("duckdb scan error (ListAccounts): %v", err)
			continue
		}
		if labels != "" {
			if err := json.Unmarshal([]byte(labels), &a.Labels); err != nil {
				log.Printf("duckdb: bad labels for %s: %v", a.EventID, err)
			}
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListSources returns every migration source that has at least one account.
func (s *Store) ListSources() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT migration_source FROM migrated_accounts ORDER BY migration_source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			continue
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
