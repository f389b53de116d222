package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:cortexsoc.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer avoids SQLITE_BUSY between the pipeline and the API
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			type TEXT,
			username TEXT,
			ip TEXT,
			origin TEXT,
			source TEXT,
			raw_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_user ON logs(username)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			username TEXT,
			reason TEXT NOT NULL,
			severity TEXT NOT NULL,
			alert_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id INTEGER PRIMARY KEY,
			alert_id TEXT NOT NULL,
			alert_reason TEXT NOT NULL,
			username TEXT,
			ip TEXT,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			actions_json TEXT NOT NULL
		)`,
	})
}
