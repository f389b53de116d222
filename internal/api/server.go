package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cortexsoc/internal/alerts"
	"cortexsoc/internal/config"
	"cortexsoc/internal/engine"
	"cortexsoc/internal/ingest"
	"cortexsoc/internal/model"
	"cortexsoc/internal/pipeline"
	"cortexsoc/internal/records"
	"cortexsoc/internal/respond"
)

var validate = validator.New()

type Server struct {
	cfg       *config.Manager
	engine    *engine.Engine
	pipeline  *pipeline.Pipeline
	journal   *records.Journal
	responder *respond.Responder
	alerts    *alerts.Store
	logger    *slog.Logger
	version   string
	started   time.Time
}

func NewServer(cfg *config.Manager, eng *engine.Engine, pipe *pipeline.Pipeline, journal *records.Journal, responder *respond.Responder, alertsStore *alerts.Store, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		engine:    eng,
		pipeline:  pipe,
		journal:   journal,
		responder: responder,
		alerts:    alertsStore,
		logger:    logger,
		version:   version,
		started:   time.Now(),
	}
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	Uptime     string          `json:"uptime"`
	ConfigPath string          `json:"config_path"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Storage    storageStatus   `json:"storage"`
	Detection  detectionStatus `json:"detection"`
	Counts     countsStatus    `json:"counts"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	Syslog    bool `json:"syslog"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

type detectionStatus struct {
	config.DetectionConfig
	AutoRespond bool `json:"auto_respond"`
}

type countsStatus struct {
	Records      int `json:"records"`
	Alerts       int `json:"alerts"`
	Incidents    int `json:"incidents"`
	TrackedUsers int `json:"tracked_users"`
	Pending      int `json:"pending"`
}

type respondRequest struct {
	Action string `json:"action" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type clearRequest struct {
	Target string `json:"target" validate:"omitempty,oneof=all alerts logs incidents"`
}

// Routes builds the HTTP surface. It is separate from Start so tests can
// drive it through httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	ingestHandler := ingest.NewRESTHandler(s.cfg, s.pipeline, s.logger)
	r.Method(http.MethodPost, "/ingest", ingest.RateLimit(s.cfg.Get().Ingest.RateLimit, ingestHandler))
	r.Get("/logs", s.handleLogs)

	r.Get("/detect", s.handleDetect)
	r.Post("/detect-and-respond", s.handleDetectAndRespond)
	r.Post("/respond", s.handleRespond)
	r.Get("/incidents", s.handleIncidents)
	r.Get("/incidents/{id}", s.handleIncident)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/state/{user}", s.handleUserState)

	r.Route("/config", func(r chi.Router) {
		r.Get("/detection", s.handleGetDetection)
		r.Post("/detection", s.handleUpdateDetection)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Post("/clear", s.handleClear)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	})
}

func Start(ctx context.Context, server *Server) *http.Server {
	if server == nil || server.cfg == nil {
		return nil
	}
	logger := server.logger
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Routes(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		ConfigPath: s.cfg.Path(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			Syslog:    cfg.Ingest.Syslog.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API:       apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage:   storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Detection: detectionStatus{DetectionConfig: cfg.Detection, AutoRespond: cfg.Response.AutoRespond},
		Counts: countsStatus{
			Records:      s.journal.Len(),
			Alerts:       s.alerts.Len(),
			Incidents:    len(s.responder.Incidents()),
			TrackedUsers: s.engine.TrackedUsers(),
			Pending:      s.pipeline.Pending(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	logs := s.journal.Recent(r.Context(), limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	out := s.pipeline.Detect(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": out,
		"count":  len(out),
	})
}

func (s *Server) handleDetectAndRespond(w http.ResponseWriter, r *http.Request) {
	out, incidents := s.pipeline.DetectAndRespond(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts_generated":  len(out),
		"incidents_created": len(incidents),
		"incidents":         incidents,
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "action and target are required")
		return
	}
	result, err := s.responder.Execute(r.Context(), req.Action, req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	list := s.responder.Incidents()
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": list,
		"count":     len(list),
	})
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	incident, err := s.responder.Incident(id)
	if errors.Is(err, respond.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	var list []model.Alert
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleUserState(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	st, ok := s.engine.UserState(user)
	if !ok {
		writeError(w, http.StatusNotFound, "no history for user")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetDetection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"detection": s.cfg.Get().Detection,
	})
}

// handleUpdateDetection merges the posted fields over the current detection
// settings, persists them and pushes them to the engine.
func (s *Server) handleUpdateDetection(w http.ResponseWriter, r *http.Request) {
	current := s.cfg.Get()
	detection := current.Detection
	if !decodeBody(w, r, &detection) {
		return
	}
	if err := config.ValidateDetection(detection); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next, err := s.cfg.Edit(func(cfg *config.Config) { cfg.Detection = detection })
	if err != nil {
		if s.logger != nil {
			s.logger.Error("config update failed", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "config update failed")
		return
	}
	s.engine.UpdateConfig(next)
	if s.logger != nil {
		s.logger.Info("detection config updated",
			"failed_login_threshold", detection.FailedLoginThreshold,
			"rapid_login_window_seconds", detection.RapidLoginWindowSeconds,
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "detection": detection})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req clearRequest
	_ = json.Unmarshal(body, &req)
	req.Target = strings.ToLower(strings.TrimSpace(req.Target))
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "target must be one of all, alerts, logs, incidents")
		return
	}
	if req.Target == "" {
		req.Target = "all"
	}
	if req.Target == "all" || req.Target == "alerts" {
		s.alerts.Clear()
	}
	if req.Target == "all" || req.Target == "logs" {
		if err := s.journal.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "clear logs failed")
			return
		}
	}
	if req.Target == "all" || req.Target == "incidents" {
		s.responder.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": req.Target})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reset()
	if s.logger != nil {
		s.logger.Warn("detection state reset")
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
