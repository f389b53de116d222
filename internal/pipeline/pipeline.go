package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/engine"
	"cortexsoc/internal/model"
	"cortexsoc/internal/records"
	"cortexsoc/internal/respond"
)

// Pipeline ties ingestion to detection. Every record goes to the journal;
// with streaming enabled records are also batched into the engine.
type Pipeline struct {
	cfg       *config.Manager
	journal   *records.Journal
	engine    *engine.Engine
	responder *respond.Responder
	logger    *slog.Logger

	mu      sync.Mutex
	pending []model.LogRecord
}

func New(cfg *config.Manager, journal *records.Journal, eng *engine.Engine, responder *respond.Responder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		journal:   journal,
		engine:    eng,
		responder: responder,
		logger:    logger,
	}
}

// Ingest implements ingest.Sink.
func (p *Pipeline) Ingest(ctx context.Context, rec model.LogRecord) (model.LogRecord, error) {
	stored := p.journal.Append(ctx, rec)
	stream := p.cfg.Get().Detection.Stream
	if !stream.Enabled {
		return stored, nil
	}
	p.mu.Lock()
	p.pending = append(p.pending, stored)
	var batch []model.LogRecord
	if len(p.pending) >= stream.BatchSize {
		batch = p.pending
		p.pending = nil
	}
	p.mu.Unlock()
	if batch != nil {
		p.process(ctx, batch)
	}
	return stored, nil
}

// Run consumes records from streaming sources until ctx is done, flushing
// partial batches on the configured interval and once more on exit.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.LogRecord) {
	interval := p.cfg.Get().Detection.Stream.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Flush(context.Background())
			return
		case rec, ok := <-in:
			if !ok {
				p.Flush(ctx)
				return
			}
			if _, err := p.Ingest(ctx, rec); err != nil && p.logger != nil {
				p.logger.Warn("ingest failed", "source", rec.Source, "err", err)
			}
		case <-ticker.C:
			p.Flush(ctx)
		}
	}
}

// Flush runs detection over whatever is pending and returns the alerts.
func (p *Pipeline) Flush(ctx context.Context) []model.Alert {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return p.process(ctx, batch)
}

func (p *Pipeline) process(ctx context.Context, batch []model.LogRecord) []model.Alert {
	alerts := p.engine.Process(ctx, batch)
	if p.cfg.Get().Response.AutoRespond {
		p.Respond(ctx, alerts)
	}
	return alerts
}

// Detect runs the engine over the most recent records in the journal.
func (p *Pipeline) Detect(ctx context.Context) []model.Alert {
	limit := p.cfg.Get().Detection.BatchLimit
	return p.engine.Process(ctx, p.journal.Recent(ctx, limit))
}

// DetectAndRespond is Detect followed by the response playbook for every alert.
func (p *Pipeline) DetectAndRespond(ctx context.Context) ([]model.Alert, []model.Incident) {
	alerts := p.Detect(ctx)
	return alerts, p.Respond(ctx, alerts)
}

func (p *Pipeline) Respond(ctx context.Context, alerts []model.Alert) []model.Incident {
	incidents := make([]model.Incident, 0, len(alerts))
	if p.responder == nil {
		return incidents
	}
	for _, alert := range alerts {
		incidents = append(incidents, p.responder.AutoRespond(ctx, alert))
	}
	return incidents
}

// Pending reports how many records wait for the next streaming flush.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
