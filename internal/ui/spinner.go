package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const (
	spinnerTick = 80 * time.Millisecond
	// elapsed seconds are shown once a wait gets this long
	spinnerShowElapsed = 2 * time.Second
)

// Spinner animates on stderr while neuna waits on the model, so a piped
// stdout only ever receives the reply. It does nothing when stderr is not
// a terminal.
type Spinner struct {
	out     io.Writer
	enabled bool

	mu      sync.Mutex
	message string
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner returns a stopped spinner showing message.
func NewSpinner(message string) *Spinner {
	return &Spinner{out: os.Stderr, enabled: stderrTTY, message: message}
}

// Start begins animating. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

func (s *Spinner) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerTick)
	defer ticker.Stop()

	started := time.Now()
	width := 0
	for i := 0; ; i++ {
		select {
		case <-stop:
			fmt.Fprint(s.out, "\r"+strings.Repeat(" ", width)+"\r")
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		line := Color(Cyan, spinnerFrames[i%len(spinnerFrames)]) + " " + s.message
		s.mu.Unlock()
		if waited := time.Since(started); waited >= spinnerShowElapsed {
			line += fmt.Sprintf(" (%ds)", int(waited.Seconds()))
		}
		if len(line) > width {
			width = len(line)
		}
		fmt.Fprint(s.out, "\r"+line)
	}
}

// Stop clears the spinner line and waits for the animation to end.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// SetMessage changes the text shown next to the animation.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}
