package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			service TEXT PRIMARY KEY,
			watermark DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cache_blocks (
			service TEXT NOT NULL,
			position INTEGER NOT NULL,
			block TEXT NOT NULL,
			PRIMARY KEY(service, position),
			UNIQUE(service, block)
		);`,
		`CREATE TABLE IF NOT EXISTS cache_locks (
			service TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			acquired_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_blocks_service ON cache_blocks(service, position);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
