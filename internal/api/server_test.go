package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexsoc/internal/alerts"
	"cortexsoc/internal/config"
	"cortexsoc/internal/engine"
	"cortexsoc/internal/model"
	"cortexsoc/internal/pipeline"
	"cortexsoc/internal/records"
	"cortexsoc/internal/respond"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ingest.RateLimit.Requests = 0
	return newTestServerWith(t, config.NewStaticManager(cfg, ""))
}

func newTestServerWith(t *testing.T, mgr *config.Manager) http.Handler {
	t.Helper()
	cfg := mgr.Get()
	hist := alerts.NewStore(100)
	eng := engine.NewEngine(cfg, nil, hist, nil)
	responder, err := respond.NewResponder(context.Background(), cfg.Response, respond.NewLogNotifier(nil), nil, nil)
	require.NoError(t, err)
	journal := records.NewJournal(records.NewStore(100), nil, nil)
	pipe := pipeline.New(mgr, journal, eng, responder, nil)
	return NewServer(mgr, eng, pipe, journal, responder, hist, nil, "test").Routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

type alertsResponse struct {
	Alerts []model.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestFailedLoginFlow(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 5; i++ {
		rr := do(t, h, http.MethodPost, "/ingest", `{"type":"failed_login","user":"bob","ip":"10.0.0.5","timestamp":"2026-01-01T12:00:00Z"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	var logs struct {
		Logs  []model.LogRecord `json:"logs"`
		Count int               `json:"count"`
	}
	decode(t, do(t, h, http.MethodGet, "/logs", ""), &logs)
	assert.Equal(t, 5, logs.Count)
	assert.Equal(t, int64(1), logs.Logs[0].ID)

	var first alertsResponse
	decode(t, do(t, h, http.MethodGet, "/detect", ""), &first)
	require.Len(t, first.Alerts, 1)
	assert.Equal(t, model.ReasonFailedLoginThreshold, first.Alerts[0].Reason)
	assert.Equal(t, model.SeverityHigh, first.Alerts[0].Severity)
	assert.Equal(t, 5, first.Alerts[0].FailedCount)

	var st model.UserState
	decode(t, do(t, h, http.MethodGet, "/state/bob", ""), &st)
	assert.Equal(t, 5, st.FailedLogins)
}

func TestDetectAndRespond(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodPost, "/ingest", `[{"type":"login","user":"alice","origin":"US","timestamp":"2026-01-01T10:00:00Z"},{"type":"login","user":"alice","origin":"UK","timestamp":"2026-01-01T12:00:00Z"}]`)

	var resp struct {
		AlertsGenerated  int              `json:"alerts_generated"`
		IncidentsCreated int              `json:"incidents_created"`
		Incidents        []model.Incident `json:"incidents"`
	}
	rr := do(t, h, http.MethodPost, "/detect-and-respond", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &resp)
	assert.Equal(t, 2, resp.AlertsGenerated)
	assert.Equal(t, 2, resp.IncidentsCreated)
	require.Len(t, resp.Incidents, 2)
	assert.Equal(t, model.ReasonNewOrigin, resp.Incidents[0].AlertReason)

	var inc model.Incident
	rr = do(t, h, http.MethodGet, "/incidents/2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &inc)
	assert.Equal(t, int64(2), inc.ID)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/incidents/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/incidents/abc", "").Code)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, do(t, h, http.MethodGet, "/incidents", ""), &list)
	assert.Equal(t, 2, list.Count)

	var hist alertsResponse
	decode(t, do(t, h, http.MethodGet, "/alerts?limit=1", ""), &hist)
	assert.Equal(t, 1, hist.Count)
}

func TestRespondEndpoint(t *testing.T) {
	h := newTestServer(t)
	rr := do(t, h, http.MethodPost, "/respond", `{"action":"block_ip","target":"1.2.3.4"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec model.ActionRecord
	decode(t, rr, &rec)
	assert.Equal(t, "block_ip", rec.Action)
	assert.Equal(t, model.ActionSuccess, rec.Status)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/respond", `{"action":"wipe","target":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/respond", `{"action":"alert"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/respond", `nope`).Code)
}

func TestDetectionConfigUpdate(t *testing.T) {
	h := newTestServer(t)
	rr := do(t, h, http.MethodPost, "/config/detection", `{"failed_login_threshold":2}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got struct {
		Detection config.DetectionConfig `json:"detection"`
	}
	decode(t, do(t, h, http.MethodGet, "/config/detection", ""), &got)
	assert.Equal(t, 2, got.Detection.FailedLoginThreshold)
	assert.Equal(t, 60, got.Detection.RapidLoginWindowSeconds)

	do(t, h, http.MethodPost, "/ingest", `[{"type":"failed_login","user":"bob"},{"type":"failed_login","user":"bob"}]`)
	var out alertsResponse
	decode(t, do(t, h, http.MethodGet, "/detect", ""), &out)
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, 2, out.Alerts[0].FailedCount)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/config/detection", `{"failed_login_threshold":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/config/detection", `{"unusual_hours_window":{"start":24,"end":6}}`).Code)
}

func TestAdminClearAndReset(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodPost, "/ingest", `{"type":"login","user":"alice","origin":"US","timestamp":"2026-01-01T10:00:00Z"}`)
	do(t, h, http.MethodPost, "/detect-and-respond", "")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/admin/clear", `{"target":"everything"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/admin/clear", `{"target":"incidents"}`).Code)

	var list struct {
		Count int `json:"count"`
	}
	decode(t, do(t, h, http.MethodGet, "/incidents", ""), &list)
	assert.Equal(t, 0, list.Count)
	decode(t, do(t, h, http.MethodGet, "/logs", ""), &list)
	assert.Equal(t, 1, list.Count)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/admin/clear", "").Code)
	decode(t, do(t, h, http.MethodGet, "/logs", ""), &list)
	assert.Equal(t, 0, list.Count)
	decode(t, do(t, h, http.MethodGet, "/alerts", ""), &list)
	assert.Equal(t, 0, list.Count)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/state/alice", "").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/admin/reset", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/state/alice", "").Code)
}

func TestStatusAndMetrics(t *testing.T) {
	h := newTestServer(t)
	do(t, h, http.MethodPost, "/ingest", `{"type":"login","user":"alice","origin":"US"}`)

	var st struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Counts  struct {
			Records int `json:"records"`
		} `json:"counts"`
		Detection struct {
			FailedLoginThreshold int `json:"failed_login_threshold"`
		} `json:"detection"`
	}
	decode(t, do(t, h, http.MethodGet, "/status", ""), &st)
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "test", st.Version)
	assert.Equal(t, 1, st.Counts.Records)
	assert.Equal(t, 5, st.Detection.FailedLoginThreshold)

	rr := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cortexsoc_records_ingested_total")
}

func TestUnknownTypeIsNotAFailedLogin(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 5; i++ {
		rr := do(t, h, http.MethodPost, "/ingest", `{"type":"failure","user":"svc-backup","ip":"10.0.0.7","timestamp":"2026-01-01T12:00:00Z"}`)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	var logs struct {
		Logs []model.LogRecord `json:"logs"`
	}
	decode(t, do(t, h, http.MethodGet, "/logs", ""), &logs)
	require.Len(t, logs.Logs, 5)
	assert.Equal(t, "failure", logs.Logs[0].Type)

	var out alertsResponse
	decode(t, do(t, h, http.MethodGet, "/detect", ""), &out)
	assert.Empty(t, out.Alerts)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/state/svc-backup", "").Code)
}

func TestDetectionUpdateKeepsEnvOutOfConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexsoc.yaml")
	cfg := config.DefaultConfig()
	cfg.Ingest.RateLimit.Requests = 0
	require.NoError(t, config.Save(path, cfg))
	mgr, err := config.NewManager(path)
	require.NoError(t, err)
	env := map[string]string{"DATABASE_URL": "postgresql://admin:s3cret@db:5432/soc"}
	mgr.SetOverlay(func(c *config.Config) {
		config.ApplyEnv(c, func(k string) string { return env[k] })
	})
	h := newTestServerWith(t, mgr)

	rr := do(t, h, http.MethodPost, "/config/detection", `{"failed_login_threshold":3}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.NotContains(t, string(data), "postgres")

	saved, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, saved.Detection.FailedLoginThreshold)
	assert.Equal(t, "postgres", mgr.Get().Storage.Driver)
	assert.Equal(t, 3, mgr.Get().Detection.FailedLoginThreshold)
}
