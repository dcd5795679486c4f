// Package db opens the DuckDB database holding station tables.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	mu       sync.Mutex
	instance *sql.DB
	opened   string
)

// Open returns the shared DuckDB connection for path, opening it on first
// use. The database is opened read-only when the file already exists; the
// core never writes station data.
func Open(path string) (*sql.DB, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		if opened != path {
			return nil, fmt.Errorf("duckdb already open at %s, requested %s", opened, path)
		}
		return instance, nil
	}

	dsn := path
	if _, err := os.Stat(path); err == nil {
		dsn += "?access_mode=read_only"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping duckdb %s: %w", path, err)
	}
	instance, opened = conn, path
	return instance, nil
}

// Close closes the shared connection, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance, opened = nil, ""
	return err
}
