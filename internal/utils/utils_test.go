package utils

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.00 KB"},
		{100 * 1024, "100.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.in); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":           "photo.jpg",
		"../../etc/passwd":    "passwd",
		"/abs/path/notes.txt": "notes.txt",
		`..\..\win.ini`:       "win.ini",
		"..":                  "download",
		"":                    "download",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()

	first := UniquePath(dir, "report.pdf")
	if first != filepath.Join(dir, "report.pdf") {
		t.Fatalf("Unexpected first path %q", first)
	}
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	second := UniquePath(dir, "report.pdf")
	if second != filepath.Join(dir, "report (1).pdf") {
		t.Errorf("Expected numbered path, got %q", second)
	}
}

func TestInterfaceNeedsRelay(t *testing.T) {
	tests := []struct {
		name string
		ips  []net.IP
		want bool
	}{
		{"eth0", []net.IP{net.ParseIP("192.168.1.20")}, false},
		{"wlan0", nil, false},
		{"wg0", nil, true},
		{"tun0", []net.IP{net.ParseIP("10.8.0.2")}, true},
		{"CloudflareWARP", nil, true},
		{"eth0", []net.IP{net.ParseIP("100.101.102.103")}, true},
		{"eth0", []net.IP{net.ParseIP("100.128.0.1")}, false},
	}
	for _, tt := range tests {
		if got := interfaceNeedsRelay(tt.name, tt.ips); got != tt.want {
			t.Errorf("interfaceNeedsRelay(%q, %v) = %v, want %v", tt.name, tt.ips, got, tt.want)
		}
	}
}
