package roadsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"fleetopt/internal/opt"
)

// SQLiteCache persists road estimates across optimization calls.
type SQLiteCache struct {
	DB *sql.DB
}

// OpenSQLiteCache opens (or creates) the cache database at path.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open road cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS road_cache (
		origin TEXT NOT NULL,
		destination TEXT NOT NULL,
		km REAL NOT NULL,
		minutes REAL NOT NULL,
		PRIMARY KEY (origin, destination)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create road cache table: %w", err)
	}
	return &SQLiteCache{DB: db}, nil
}

func (s *SQLiteCache) Close() error { return s.DB.Close() }

// GetMany fetches cached estimates for one origin and many destinations.
func (s *SQLiteCache) GetMany(ctx context.Context, origin string, destinations []string) (map[string]opt.Estimate, error) {
	if s.DB == nil {
		return nil, errors.New("road cache: db is nil")
	}
	seen := map[string]struct{}{}
	args := []any{origin}
	ph := make([]string, 0, len(destinations))
	for _, d := range destinations {
		if _, ok := seen[d]; ok || d == "" {
			continue
		}
		seen[d] = struct{}{}
		args = append(args, d)
		ph = append(ph, "?")
	}
	if len(ph) == 0 {
		return map[string]opt.Estimate{}, nil
	}
	// only the placeholder list is interpolated
	q := fmt.Sprintf(`SELECT destination, km, minutes FROM road_cache WHERE origin = ? AND destination IN (%s)`, strings.Join(ph, ","))
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("road cache query: %w", err)
	}
	defer rows.Close()
	out := make(map[string]opt.Estimate, len(ph))
	for rows.Next() {
		var dest string
		var e opt.Estimate
		if err := rows.Scan(&dest, &e.Km, &e.Minutes); err != nil {
			return nil, fmt.Errorf("road cache scan: %w", err)
		}
		out[dest] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("road cache rows: %w", err)
	}
	return out, nil
}

// PutMany upserts estimates for a single origin in one transaction.
func (s *SQLiteCache) PutMany(ctx context.Context, origin string, results map[string]opt.Estimate) error {
	if s.DB == nil {
		return errors.New("road cache: db is nil")
	}
	if len(results) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("road cache begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO road_cache (origin, destination, km, minutes) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("road cache prepare: %w", err)
	}
	defer stmt.Close()
	for dest, e := range results {
		if _, err := stmt.ExecContext(ctx, origin, dest, e.Km, e.Minutes); err != nil {
			return fmt.Errorf("road cache insert dest=%q: %w", dest, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("road cache commit: %w", err)
	}
	return nil
}
