package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner draws a one-line activity indicator while a blocking network
// call runs. It is not a bubbletea program, so it can run before the chat
// screen takes over the terminal.
type Spinner struct {
	message  string
	frames   []string
	interval time.Duration
	out      io.Writer

	done    chan struct{}
	exited  chan struct{}
	stopped sync.Once
}

// NewConnectionSpinner creates a spinner for network/connection operations (Globe style)
func NewConnectionSpinner(message string) *Spinner {
	return newSpinner(message, spinner.Globe, os.Stdout)
}

func newSpinner(message string, style spinner.Spinner, out io.Writer) *Spinner {
	return &Spinner{
		message:  message,
		frames:   style.Frames,
		interval: style.FPS,
		out:      out,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

func (s *Spinner) Start() {
	go func() {
		defer close(s.exited)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			frame := SpinnerStyle.Render(s.frames[i%len(s.frames)])
			fmt.Fprintf(s.out, "\r%s %s", frame, s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.stopped.Do(func() {
		close(s.done)
		<-s.exited
		fmt.Fprint(s.out, "\r\033[K")
	})
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
