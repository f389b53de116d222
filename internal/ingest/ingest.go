package ingest

import (
	"context"
	"log/slog"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/metrics"
	"cortexsoc/internal/model"
	"cortexsoc/internal/normalize"
)

// Sink accepts a normalized record synchronously and returns it as stored.
type Sink interface {
	Ingest(ctx context.Context, rec model.LogRecord) (model.LogRecord, error)
}

func SendNonBlocking(ctx context.Context, out chan<- model.LogRecord, rec model.LogRecord, logger *slog.Logger) bool {
	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.RecordsDropped.Inc()
		if logger != nil {
			logger.Warn("record channel full, dropping record", "user", rec.User, "type", rec.Type, "source", rec.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// processLine parses, normalizes and forwards one line from a streaming source.
func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.LogRecord, logger *slog.Logger, source, line string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	rec, err := normalize.Normalize(*fields, cfg.Get(), time.Now())
	if err != nil {
		metrics.RecordsRejected.WithLabelValues(source).Inc()
		if logger != nil {
			logger.Warn("normalize error", "source", source, "err", err)
		}
		return
	}
	rec.Source = source
	SendNonBlocking(ctx, out, rec, logger)
}
