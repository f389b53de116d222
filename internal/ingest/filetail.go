package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, out, logger)
	}
}

// tailFile follows path from the start, or from the end when startAtEnd is
// set. A file that shrinks below the read offset, or is replaced by a new
// file, is reopened from the start.
func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) {
	parser := NewParser()
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var pending strings.Builder
		for {
			chunk, err := reader.ReadString('\n')
			offset += int64(len(chunk))
			pending.WriteString(chunk)
			if err == nil {
				processLine(ctx, cfg, parser, out, logger, "file_tail", pending.String())
				pending.Reset()
				continue
			}
			if err != io.EOF {
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			if !BackoffSleep(ctx, 200*time.Millisecond) {
				_ = file.Close()
				return
			}
			if tailReset(file, path, offset) {
				if logger != nil {
					logger.Info("tail file truncated or rotated, reopening", "path", path)
				}
				_ = file.Close()
				file = nil
				startAtEnd = false
				break
			}
		}
	}
}

// tailReset reports whether path no longer continues the open file.
func tailReset(file *os.File, path string, offset int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() < offset {
		return true
	}
	current, err := file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(info, current)
}
