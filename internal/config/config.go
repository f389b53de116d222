package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Response  ResponseConfig  `json:"response" yaml:"response"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Records   RecordsConfig   `json:"records" yaml:"records"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Syslog        SyslogConfig    `json:"syslog" yaml:"syslog"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	RateLimit     RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type ParserConfig struct {
	// Timezone applies to timestamps that carry no zone of their own.
	Timezone string `json:"timezone" yaml:"timezone"`
	// TypeAliases folds vendor type names (logon, auth_failure, ...) onto
	// login and failed_login. Off by default: types are taken verbatim.
	TypeAliases bool `json:"type_aliases" yaml:"type_aliases"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// RateLimitConfig bounds ingestion requests per client IP. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int           `json:"requests" yaml:"requests"`
	Window   time.Duration `json:"window" yaml:"window"`
}

type DetectionConfig struct {
	FailedLoginThreshold    int          `json:"failed_login_threshold" yaml:"failed_login_threshold"`
	UnusualHours            HoursWindow  `json:"unusual_hours_window" yaml:"unusual_hours_window"`
	RapidLoginWindowSeconds int          `json:"rapid_login_window_seconds" yaml:"rapid_login_window_seconds"`
	BatchLimit              int          `json:"batch_limit" yaml:"batch_limit"`
	Stream                  StreamConfig `json:"stream" yaml:"stream"`
}

// HoursWindow is the night window used by the unusual login time rule.
// An hour h is inside when h >= Start or h < End.
type HoursWindow struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

type StreamConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

type ResponseConfig struct {
	AutoRespond   bool         `json:"auto_respond" yaml:"auto_respond"`
	IncidentLimit int          `json:"incident_limit" yaml:"incident_limit"`
	Notify        NotifyConfig `json:"notify" yaml:"notify"`
}

type NotifyConfig struct {
	Kafka KafkaNotifyConfig `json:"kafka" yaml:"kafka"`
}

type KafkaNotifyConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type RecordsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	defaultFailedLoginThreshold = 5
	defaultRapidLoginWindow     = 60
	defaultBatchLimit           = 100
	defaultSQLiteDSN            = "file:cortexsoc.db?_pragma=busy_timeout(5000)"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			RateLimit:     RateLimitConfig{Requests: 100, Window: time.Second},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DetectionConfig{
			FailedLoginThreshold:    defaultFailedLoginThreshold,
			UnusualHours:            HoursWindow{Start: 22, End: 6},
			RapidLoginWindowSeconds: defaultRapidLoginWindow,
			BatchLimit:              defaultBatchLimit,
			Stream:                  StreamConfig{Enabled: false, BatchSize: 100, FlushInterval: 5 * time.Second},
		},
		Response: ResponseConfig{
			AutoRespond:   false,
			IncidentLimit: 1000,
			Notify: NotifyConfig{
				Kafka: KafkaNotifyConfig{Enabled: false, Topic: "cortexsoc.alerts"},
			},
		},
		API:     APIConfig{Enabled: true, Addr: ":8000"},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: defaultSQLiteDSN},
		Alerts:  AlertsConfig{StoreLimit: 1000},
		Records: RecordsConfig{StoreLimit: 10000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes YAML or JSON on top of DefaultConfig, then validates.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode config: %w", decodeErr)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Detection.BatchLimit <= 0 {
		cfg.Detection.BatchLimit = defaultBatchLimit
	}
	if cfg.Detection.Stream.BatchSize <= 0 {
		cfg.Detection.Stream.BatchSize = 100
	}
	if cfg.Detection.Stream.FlushInterval <= 0 {
		cfg.Detection.Stream.FlushInterval = 5 * time.Second
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Records.StoreLimit <= 0 {
		cfg.Records.StoreLimit = 10000
	}
	if cfg.Response.IncidentLimit <= 0 {
		cfg.Response.IncidentLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.RateLimit.Window <= 0 {
		cfg.Ingest.RateLimit.Window = time.Second
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Response.Notify.Kafka.Topic == "" {
		cfg.Response.Notify.Kafka.Topic = "cortexsoc.alerts"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Response.Notify.Kafka.Enabled && len(cfg.Response.Notify.Kafka.Brokers) == 0 {
		return errors.New("response.notify.kafka requires brokers")
	}
	if err := ValidateDetection(cfg.Detection); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver unsupported: %q", cfg.Storage.Driver)
	}
	return nil
}

func ValidateDetection(d DetectionConfig) error {
	if d.FailedLoginThreshold <= 0 {
		return errors.New("detection.failed_login_threshold must be > 0")
	}
	if d.RapidLoginWindowSeconds <= 0 {
		return errors.New("detection.rapid_login_window_seconds must be > 0")
	}
	if d.UnusualHours.Start < 0 || d.UnusualHours.Start > 23 {
		return fmt.Errorf("detection.unusual_hours_window.start out of range: %d", d.UnusualHours.Start)
	}
	if d.UnusualHours.End < 0 || d.UnusualHours.End > 23 {
		return fmt.Errorf("detection.unusual_hours_window.end out of range: %d", d.UnusualHours.End)
	}
	return nil
}

// ApplyEnv overlays process environment settings. DATABASE_URL follows the
// SQLAlchemy-style URLs used by earlier deployments.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("CORTEXSOC_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(getenv("CORTEXSOC_API_ADDR")); v != "" {
		cfg.API.Addr = v
	}
	if v := strings.TrimSpace(getenv("DATABASE_URL")); v != "" {
		if driver, dsn, ok := parseDatabaseURL(v); ok {
			cfg.Storage.Enabled = true
			cfg.Storage.Driver = driver
			cfg.Storage.DSN = dsn
		}
	}
}

func parseDatabaseURL(url string) (driver, dsn string, ok bool) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres", url, true
	case strings.HasPrefix(lower, "postgresql+psycopg2://"):
		return "postgres", "postgresql://" + url[len("postgresql+psycopg2://"):], true
	case strings.HasPrefix(lower, "sqlite:///"):
		path := url[len("sqlite:///"):]
		if path == "" {
			return "", "", false
		}
		return "sqlite", "file:" + path + "?_pragma=busy_timeout(5000)", true
	case strings.HasPrefix(lower, "file:"):
		return "sqlite", url, true
	}
	return "", "", false
}

// Manager holds the file config and the effective config. The effective
// config is the file config with the overlay applied; only the file config
// is ever written back to disk.
type Manager struct {
	path string
	cfg  atomic.Value

	mu      sync.Mutex
	base    *Config
	modTime time.Time
	overlay func(*Config)
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, base: cfg}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config. Update keeps it in memory only
// when path is empty.
func NewStaticManager(cfg *Config, path string) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{path: path, base: cfg}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

// effective copies base and runs the overlay on the copy. Caller holds mu.
func (m *Manager) effective(base *Config) *Config {
	if m.overlay == nil {
		return base
	}
	next := *base
	m.overlay(&next)
	return &next
}

// SetOverlay installs fn to run over the current config and over every
// config loaded by Reload. Environment overrides use it so a file edit
// does not drop them, and Update never persists them.
func (m *Manager) SetOverlay(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = fn
	m.cfg.Store(m.effective(m.base))
}

func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.base = cfg
	eff := m.effective(cfg)
	m.cfg.Store(eff)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return eff, nil
}

// Update replaces the file config with cfg. The overlay is applied on top
// for Get, and the saved file holds cfg as given.
func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(cfg)
}

// Edit applies fn to a copy of the file config, validates the result with
// the overlay applied, persists it and returns the new effective config.
// Use it for partial changes so overlay values never reach the file.
func (m *Manager) Edit(fn func(*Config)) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.base
	fn(&next)
	if err := m.commit(&next); err != nil {
		return nil, err
	}
	return m.Get(), nil
}

// commit validates, saves and stores cfg as the new file config. Caller holds mu.
func (m *Manager) commit(cfg *Config) error {
	eff := m.effective(cfg)
	if err := Validate(eff); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.base = cfg
	m.cfg.Store(eff)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
