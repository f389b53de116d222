package ingest

import (
	"context"
	"net"
	"testing"

	"cortexsoc/internal/config"
	"cortexsoc/internal/model"
)

func TestSyslogUDPAndTCP(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ingest.Syslog = config.SyslogConfig{Enabled: true, UDPAddr: "127.0.0.1:0", TCPAddr: "127.0.0.1:0"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan model.LogRecord, 8)
	bound := StartSyslog(ctx, config.NewStaticManager(cfg, ""), out, nil)
	if bound.UDP == nil || bound.TCP == nil {
		t.Fatalf("listeners not bound: %+v", bound)
	}

	udp, err := net.Dial("udp", bound.UDP.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	_, _ = udp.Write([]byte("<34>Feb  3 04:05:06 sshd: event=failed_login user=bob src_ip=10.0.0.1"))
	_ = udp.Close()
	rec := waitRecord(t, out)
	if rec.User != "bob" || rec.IP != "10.0.0.1" || rec.Source != "syslog" {
		t.Fatalf("unexpected udp record: %+v", rec)
	}

	tcp, err := net.Dial("tcp", bound.TCP.Addr().String())
	if err != nil {
		t.Fatalf("dial tcp: %v", err)
	}
	_, _ = tcp.Write([]byte("<13>Feb  3 04:05:07 host sshd: event=login user=alice origin=US\n"))
	_ = tcp.Close()
	rec = waitRecord(t, out)
	if rec.User != "alice" || rec.Type != model.TypeLogin || rec.Source != "syslog" {
		t.Fatalf("unexpected tcp record: %+v", rec)
	}
}
