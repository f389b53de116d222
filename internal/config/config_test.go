package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigDetection(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Detection.FailedLoginThreshold != 5 {
		t.Fatalf("threshold: %d", cfg.Detection.FailedLoginThreshold)
	}
	if cfg.Detection.UnusualHours != (HoursWindow{Start: 22, End: 6}) {
		t.Fatalf("hours: %+v", cfg.Detection.UnusualHours)
	}
	if cfg.Detection.RapidLoginWindowSeconds != 60 {
		t.Fatalf("rapid window: %d", cfg.Detection.RapidLoginWindowSeconds)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
detection:
  failed_login_threshold: 3
  stream:
    enabled: true
    flush_interval: 2s
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.FailedLoginThreshold != 3 {
		t.Fatalf("threshold: %d", cfg.Detection.FailedLoginThreshold)
	}
	if cfg.Detection.RapidLoginWindowSeconds != 60 {
		t.Fatalf("rapid window should keep default, got %d", cfg.Detection.RapidLoginWindowSeconds)
	}
	if cfg.Detection.UnusualHours.Start != 22 || cfg.Detection.UnusualHours.End != 6 {
		t.Fatalf("hours should keep default: %+v", cfg.Detection.UnusualHours)
	}
	if !cfg.Detection.Stream.Enabled || cfg.Detection.Stream.FlushInterval != 2*time.Second {
		t.Fatalf("stream: %+v", cfg.Detection.Stream)
	}
	if cfg.Detection.Stream.BatchSize != 100 {
		t.Fatalf("batch size default: %d", cfg.Detection.Stream.BatchSize)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"detection": {"unusual_hours_window": {"start": 20, "end": 7}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Detection.UnusualHours != (HoursWindow{Start: 20, End: 7}) {
		t.Fatalf("hours: %+v", cfg.Detection.UnusualHours)
	}
}

func TestParseRejectsInvalidDetection(t *testing.T) {
	cases := []string{
		"detection:\n  failed_login_threshold: 0\n",
		"detection:\n  rapid_login_window_seconds: -1\n",
		"detection:\n  unusual_hours_window: {start: 24, end: 6}\n",
		"storage:\n  driver: oracle\n",
		"ingest:\n  kafka: {enabled: true}\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
	if _, err := Parse([]byte("   ")); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestApplyEnvDatabaseURL(t *testing.T) {
	env := map[string]string{
		"DATABASE_URL":        "sqlite:///./cortexsoc.db",
		"CORTEXSOC_LOG_LEVEL": "debug",
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })
	if !cfg.Storage.Enabled || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Storage.DSN != "file:./cortexsoc.db?_pragma=busy_timeout(5000)" {
		t.Fatalf("dsn: %s", cfg.Storage.DSN)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}

	env = map[string]string{"DATABASE_URL": "postgresql://u:p@db:5432/soc"}
	cfg = DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgresql://u:p@db:5432/soc" {
		t.Fatalf("postgres storage: %+v", cfg.Storage)
	}
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexsoc.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Detection.FailedLoginThreshold = 9
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Detection.FailedLoginThreshold != 9 {
		t.Fatalf("threshold after reload: %d", reloaded.Detection.FailedLoginThreshold)
	}

	bad := *m.Get()
	bad.Detection.FailedLoginThreshold = 0
	if err := m.Update(&bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if m.Get().Detection.FailedLoginThreshold != 9 {
		t.Fatalf("invalid update must not be applied")
	}
}

func TestStaticManagerKeepsUpdatesInMemory(t *testing.T) {
	m := NewStaticManager(nil, "")
	next := *m.Get()
	next.Detection.RapidLoginWindowSeconds = 30
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().Detection.RapidLoginWindowSeconds != 30 {
		t.Fatalf("update not applied")
	}
	if needs, err := m.NeedsReload(); err != nil || needs {
		t.Fatalf("static manager should never reload: %v %v", needs, err)
	}
	if _, err := os.Stat("cortexsoc.yaml"); err == nil {
		t.Fatalf("static manager must not write files")
	}
}

func TestOverlaySurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexsoc.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	env := map[string]string{"CORTEXSOC_API_ADDR": ":9999"}
	m.SetOverlay(func(cfg *Config) {
		ApplyEnv(cfg, func(k string) string { return env[k] })
	})
	if m.Get().API.Addr != ":9999" {
		t.Fatalf("overlay not applied: %s", m.Get().API.Addr)
	}
	reloaded, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.API.Addr != ":9999" {
		t.Fatalf("overlay lost on reload: %s", reloaded.API.Addr)
	}
}

func TestEditKeepsOverlayOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexsoc.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	env := map[string]string{"DATABASE_URL": "postgresql://admin:s3cret@db:5432/soc"}
	m.SetOverlay(func(cfg *Config) {
		ApplyEnv(cfg, func(k string) string { return env[k] })
	})

	next, err := m.Edit(func(cfg *Config) { cfg.Detection.FailedLoginThreshold = 3 })
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if next.Detection.FailedLoginThreshold != 3 || next.Storage.Driver != "postgres" {
		t.Fatalf("effective config: threshold=%d driver=%s", next.Detection.FailedLoginThreshold, next.Storage.Driver)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "s3cret") || strings.Contains(string(data), "postgres") {
		t.Fatalf("overlay values written to config file:\n%s", data)
	}
	saved, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if saved.Detection.FailedLoginThreshold != 3 || saved.Storage.Enabled {
		t.Fatalf("saved config: threshold=%d storage=%v", saved.Detection.FailedLoginThreshold, saved.Storage.Enabled)
	}
}

func TestManagerUpdateWhileWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexsoc.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m.SetOverlay(func(cfg *Config) { cfg.API.Addr = ":9001" })

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		m.Watch(time.Millisecond, nil, nil, stop)
		close(done)
	}()
	for i := 1; i <= 20; i++ {
		threshold := i
		if _, err := m.Edit(func(cfg *Config) { cfg.Detection.FailedLoginThreshold = threshold }); err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}
	close(stop)
	<-done
	if got := m.Get().Detection.FailedLoginThreshold; got != 20 {
		t.Fatalf("threshold after edits: %d", got)
	}
	if m.Get().API.Addr != ":9001" {
		t.Fatalf("overlay lost: %s", m.Get().API.Addr)
	}
}
