package ingest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"

	"cortexsoc/internal/config"
	"cortexsoc/internal/metrics"
	"cortexsoc/internal/model"
	"cortexsoc/internal/normalize"
)

// RESTHandler accepts one JSON record or an array of them.
type RESTHandler struct {
	cfg    *config.Manager
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewRESTHandler(cfg *config.Manager, sink Sink, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{cfg: cfg, sink: sink, logger: logger, now: time.Now}
}

// RateLimit wraps next with the configured per-IP limit, if any.
func RateLimit(cfg config.RateLimitConfig, next http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		return next
	}
	return httprate.LimitByIP(cfg.Requests, cfg.Window)(next)
}

func StartREST(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) *http.Server {
	current := cfg.Get().Ingest
	if !current.REST.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.REST.Addr)
	}
	handler := RateLimit(current.RateLimit, NewRESTHandler(cfg, sink, logger))
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/events", handler)
	r.Method(http.MethodPost, "/ingest", handler)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	httpServer := &http.Server{Addr: current.REST.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	if trim[0] != '[' {
		obj, err := decodeObject(trim)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		rec, err := h.ingestMap(r.Context(), obj)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ingested": rec})
		return
	}

	var list []map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(trim))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ingested := make([]model.LogRecord, 0, len(list))
	var errs []string
	for _, obj := range list {
		rec, err := h.ingestMap(r.Context(), obj)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		ingested = append(ingested, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": len(ingested),
		"failed":   len(errs),
		"errors":   errs,
		"ingested": ingested,
	})
}

func (h *RESTHandler) ingestMap(ctx context.Context, obj map[string]interface{}) (model.LogRecord, error) {
	fields := ParseJSONMap(obj)
	rec, err := normalize.Normalize(*fields, h.cfg.Get(), h.now())
	if err != nil {
		metrics.RecordsRejected.WithLabelValues("rest").Inc()
		if h.logger != nil {
			h.logger.Warn("rest normalize error", "err", err)
		}
		return model.LogRecord{}, err
	}
	rec.Source = "rest"
	return h.sink.Ingest(ctx, rec)
}

func decodeObject(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
