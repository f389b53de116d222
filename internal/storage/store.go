package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveLog(ctx context.Context, rec model.LogRecord) (int64, error)
	RecentLogs(ctx context.Context, limit int) ([]model.LogRecord, error)
	ClearLogs(ctx context.Context) error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveIncident(ctx context.Context, incident model.Incident) error
	LastIncidentID(ctx context.Context) (int64, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, ErrUnsupportedDriver
	}
}

// baseStore holds the queries shared by both drivers. Queries are written
// with ? placeholders; bind rewrites them for drivers that need $n.
type baseStore struct {
	db   *sql.DB
	bind func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) q(query string) string {
	if b.bind == nil {
		return query
	}
	return b.bind(query)
}

func (b *baseStore) exec(ctx context.Context, stmts []string) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) SaveLog(ctx context.Context, rec model.LogRecord) (int64, error) {
	if b.db == nil {
		return 0, nil
	}
	var id int64
	err := b.db.QueryRowContext(ctx,
		b.q(`INSERT INTO logs (ts, type, username, ip, origin, source, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		rec.Timestamp,
		rec.Type,
		rec.User,
		rec.IP,
		rec.Origin,
		rec.Source,
		encodeJSON(rec.Raw),
	).Scan(&id)
	return id, err
}

// RecentLogs returns up to limit of the newest records, oldest first.
func (b *baseStore) RecentLogs(ctx context.Context, limit int) ([]model.LogRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx,
		b.q(`SELECT id, ts, type, username, ip, origin, source, raw_json
		FROM logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.LogRecord, 0, limit)
	for rows.Next() {
		var rec model.LogRecord
		var raw sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Type, &rec.User, &rec.IP, &rec.Origin, &rec.Source, &raw); err != nil {
			return nil, err
		}
		if raw.Valid && raw.String != "" && raw.String != "null" {
			if err := json.Unmarshal([]byte(raw.String), &rec.Raw); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *baseStore) ClearLogs(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM logs`)
	return err
}

func (b *baseStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		b.q(`INSERT INTO alerts (id, created_at, username, reason, severity, alert_json)
		VALUES (?, ?, ?, ?, ?, ?)`),
		alert.ID,
		alert.CreatedAt.UTC(),
		alert.User,
		alert.Reason,
		string(alert.Severity),
		encodeJSON(alert),
	)
	return err
}

// SaveIncident upserts so the action list can be rewritten as it grows.
func (b *baseStore) SaveIncident(ctx context.Context, incident model.Incident) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		b.q(`INSERT INTO incidents (id, alert_id, alert_reason, username, ip, created_at, status, actions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, actions_json = excluded.actions_json`),
		incident.ID,
		incident.AlertID,
		incident.AlertReason,
		incident.User,
		incident.IP,
		incident.CreatedAt.UTC(),
		incident.Status,
		encodeJSON(incident.Actions),
	)
	return err
}

func (b *baseStore) LastIncidentID(ctx context.Context) (int64, error) {
	if b.db == nil {
		return 0, nil
	}
	var id sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT MAX(id) FROM incidents`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

// dollarPlaceholders rewrites ? to $1, $2, ... for postgres.
func dollarPlaceholders(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
