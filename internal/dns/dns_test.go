package dns

import (
	"context"
	"net"
	"testing"
)

func TestLookupIPLiteral(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1"} {
		ip, err := Lookup(context.Background(), host)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", host, err)
		}
		if ip != host {
			t.Errorf("Expected %q unchanged, got %q", host, ip)
		}
	}
}

func TestDialContextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	conn.Close()
}

func TestDialContextRejectsBadAddress(t *testing.T) {
	if _, err := DialContext(context.Background(), "tcp", "no-port"); err == nil {
		t.Error("Expected error for address without port")
	}
}
