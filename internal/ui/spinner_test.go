package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerStopClearsLine(t *testing.T) {
	out := &syncBuffer{}
	sp := newSpinner("Connecting...", spinner.Spinner{Frames: []string{"-", "+"}, FPS: time.Millisecond}, out)
	sp.Start()
	time.Sleep(10 * time.Millisecond)
	sp.Stop()
	sp.Stop()

	got := out.String()
	if !strings.Contains(got, "Connecting...") {
		t.Errorf("Expected message in output, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\033[K") {
		t.Errorf("Expected output to end with a line clear, got %q", got)
	}
}
