// Package db opens the DuckDB connection used to read tabular point sources.
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration. An empty DataDir opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
}

// Get returns the singleton DuckDB connection.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Open creates a new DuckDB connection.
func Open(cfg Config) (*sql.DB, error) {
	dsn := ""
	if cfg.DataDir != "" {
		duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(duckdbDir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create duckdb directory")
		}
		dsn = filepath.Join(duckdbDir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening duckdb")
	}

	// parquet ships with most builds, a failed INSTALL only matters for
	// .parquet sources
	if _, err := conn.Exec("INSTALL parquet; LOAD parquet;"); err != nil {
		slog.Debug("duckdb extension unavailable", "extension", "parquet", "err", err)
	}
	return conn, nil
}

// Close closes the singleton connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// Query executes a query and returns rows.
func Query(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, query, args...)
}

// QuoteLiteral renders s as a SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
