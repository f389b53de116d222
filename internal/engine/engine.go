package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cortexsoc/internal/alerts"
	"cortexsoc/internal/config"
	"cortexsoc/internal/metrics"
	"cortexsoc/internal/model"
	"cortexsoc/internal/storage"
)

// Engine evaluates batches of log records against the detection rules.
// A whole batch is evaluated under one lock, so concurrent callers observe
// each other's state changes batch by batch.
type Engine struct {
	logger *slog.Logger
	alerts *alerts.Store
	store  storage.Store
	cfg    atomic.Value
	mu     sync.Mutex
	state  *DetectionState
	now    func() time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, alertsStore *alerts.Store, store storage.Store) *Engine {
	e := &Engine{
		logger: logger,
		alerts: alertsStore,
		store:  store,
		state:  NewDetectionState(),
		now:    time.Now,
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e.cfg.Store(cfg.Detection)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	e.cfg.Store(cfg.Detection)
}

func (e *Engine) detection() config.DetectionConfig {
	if v := e.cfg.Load(); v != nil {
		return v.(config.DetectionConfig)
	}
	return config.DefaultConfig().Detection
}

// Detect runs all rules over batch and returns alerts ordered high, medium,
// low. It never fails: records missing the fields a rule needs are skipped
// by that rule only.
func (e *Engine) Detect(batch []model.LogRecord) []model.Alert {
	d := e.detection()
	e.mu.Lock()
	out := detectAll(e.state, d, batch)
	e.mu.Unlock()

	now := e.now().UTC()
	for i := range out {
		out[i].ID = uuid.NewString()
		out[i].CreatedAt = now
	}
	return out
}

// Process is Detect plus bookkeeping: alert history, metrics, persistence, logs.
func (e *Engine) Process(ctx context.Context, batch []model.LogRecord) []model.Alert {
	start := time.Now()
	out := e.Detect(batch)
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	metrics.DetectionBatchSize.Observe(float64(len(batch)))

	for _, alert := range out {
		metrics.AlertsGenerated.WithLabelValues(alert.Reason, string(alert.Severity)).Inc()
		if e.alerts != nil {
			e.alerts.Add(alert)
		}
		if e.logger != nil {
			e.logger.Warn("alert triggered",
				"user", alert.User,
				"reason", alert.Reason,
				"severity", alert.Severity,
			)
		}
		if e.store != nil {
			if err := e.store.SaveAlert(ctx, alert); err != nil {
				metrics.StorageErrors.WithLabelValues("save_alert").Inc()
				if e.logger != nil {
					e.logger.Error("persist alert failed", "alert_id", alert.ID, "err", err)
				}
			}
		}
	}
	if e.logger != nil {
		e.logger.Debug("detection pass complete", "records", len(batch), "alerts", len(out))
	}
	return out
}

// Reset drops all accumulated history.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = NewDetectionState()
	e.mu.Unlock()
}

func (e *Engine) UserState(user string) (model.UserState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot(user)
}

// TrackedUsers reports how many users have any recorded history.
func (e *Engine) TrackedUsers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.users()
}
