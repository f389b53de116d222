package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

func waitRecord(t *testing.T, out <-chan model.LogRecord) model.LogRecord {
	t.Helper()
	select {
	case rec := <-out:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for record")
	}
	return model.LogRecord{}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func startTail(t *testing.T, path string) (<-chan model.LogRecord, context.CancelFunc) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Ingest.FileTail = config.FileTailConfig{Enabled: true, StartAtEnd: false, Files: []string{path}}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.LogRecord, 16)
	StartFileTail(ctx, config.NewStaticManager(cfg, ""), out, nil)
	return out, cancel
}

func TestFileTailFollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	if err := os.WriteFile(path, []byte("login user=alice origin=US\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, cancel := startTail(t, path)
	defer cancel()

	if rec := waitRecord(t, out); rec.User != "alice" || rec.Source != "file_tail" {
		t.Fatalf("unexpected first record: %+v", rec)
	}
	appendLine(t, path, "failed_login user=")
	time.Sleep(300 * time.Millisecond)
	appendLine(t, path, "bob\n")
	if rec := waitRecord(t, out); rec.User != "bob" || rec.Type != model.TypeFailedLogin {
		t.Fatalf("split line not joined: %+v", rec)
	}
}

func TestFileTailReopensAfterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	long := "login user=alice origin=US note=" + strings.Repeat("x", 200) + "\n"
	if err := os.WriteFile(path, []byte(long), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, cancel := startTail(t, path)
	defer cancel()
	if rec := waitRecord(t, out); rec.User != "alice" {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	if err := os.WriteFile(path, []byte("failed_login user=bob\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if rec := waitRecord(t, out); rec.User != "bob" {
		t.Fatalf("expected record after truncate, got %+v", rec)
	}
}

func TestFileTailReopensAfterRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.log")
	if err := os.WriteFile(path, []byte("login user=alice origin=US\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, cancel := startTail(t, path)
	defer cancel()
	if rec := waitRecord(t, out); rec.User != "alice" {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	if err := os.Rename(path, filepath.Join(dir, "auth.log.1")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	rotated := "login user=carol origin=FR note=" + strings.Repeat("y", 100) + "\n"
	if err := os.WriteFile(path, []byte(rotated), 0o644); err != nil {
		t.Fatalf("write rotated: %v", err)
	}
	if rec := waitRecord(t, out); rec.User != "carol" || rec.Origin != "FR" {
		t.Fatalf("expected record from rotated file, got %+v", rec)
	}
}
