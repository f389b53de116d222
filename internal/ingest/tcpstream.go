package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

// StartTCPStream accepts newline delimited records. Each connection gets its
// own parser so CSV headers do not leak between clients.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) net.Listener {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return nil
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go acceptLoop(ctx, ln, "tcp_stream", cfg, out, logger)
	return ln
}

func acceptLoop(ctx context.Context, ln net.Listener, source string, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("accept error", "source", source, "err", err)
			}
			continue
		}
		go handleConn(ctx, conn, source, cfg, out, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, source string, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		processLine(ctx, cfg, parser, out, logger, source, scanner.Text())
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("scanner error", "source", source, "err", err)
	}
}
