package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/cortexsoc?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, bind: dollarPlaceholders}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	return s.exec(ctx, []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id BIGSERIAL PRIMARY KEY,
			ts VARCHAR(64) NOT NULL,
			type VARCHAR(64),
			username VARCHAR(128),
			ip VARCHAR(64),
			origin VARCHAR(128),
			source VARCHAR(64),
			raw_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_user ON logs(username)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			username VARCHAR(128),
			reason VARCHAR(64) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			alert_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id BIGINT PRIMARY KEY,
			alert_id VARCHAR(64) NOT NULL,
			alert_reason VARCHAR(64) NOT NULL,
			username VARCHAR(128),
			ip VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(16) NOT NULL,
			actions_json JSONB NOT NULL
		)`,
	})
}
