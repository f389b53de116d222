package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

// SyslogListeners holds whatever StartSyslog bound. Either may be nil.
type SyslogListeners struct {
	UDP *net.UDPConn
	TCP net.Listener
}

func StartSyslog(ctx context.Context, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) SyslogListeners {
	var bound SyslogListeners
	current := cfg.Get().Ingest.Syslog
	if !current.Enabled {
		if logger != nil {
			logger.Info("syslog ingest disabled")
		}
		return bound
	}
	if logger != nil {
		logger.Info("syslog ingest enabled", "udp_addr", current.UDPAddr, "tcp_addr", current.TCPAddr)
	}
	if current.UDPAddr != "" {
		conn, err := listenUDP(current.UDPAddr)
		if err != nil {
			if logger != nil {
				logger.Error("syslog udp listen error", "err", err)
			}
		} else {
			bound.UDP = conn
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()
			go serveUDP(ctx, conn, cfg, out, logger)
		}
	}
	if current.TCPAddr != "" {
		ln, err := net.Listen("tcp", current.TCPAddr)
		if err != nil {
			if logger != nil {
				logger.Error("syslog tcp listen error", "err", err)
			}
			return bound
		}
		bound.TCP = ln
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		go acceptLoop(ctx, ln, "syslog", cfg, out, logger)
	}
	return bound
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

// serveUDP treats each datagram as one or more newline separated messages.
func serveUDP(ctx context.Context, conn *net.UDPConn, cfg *config.Manager, out chan<- model.LogRecord, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if logger != nil {
				logger.Warn("syslog udp read error", "err", err)
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			processLine(ctx, cfg, parser, out, logger, "syslog", line)
		}
	}
}
