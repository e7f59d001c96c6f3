// Package progress provides terminal progress indicators.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chronolog/chronolog/internal/termcolor"
)

var frames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a braille spinner next to a message while a long-running
// operation (opening a repository, walking a large working tree) is in
// progress. The interactivity decision is made once at construction: on a
// non-TTY stderr (piped output, CI) the spinner writes nothing at all.
type Spinner struct {
	msg  string
	out  io.Writer // nil when stderr isn't interactive
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Spinner that will display msg alongside the animation.
func New(msg string) *Spinner {
	s := &Spinner{msg: msg, done: make(chan struct{})}
	if termcolor.IsTerminal(os.Stderr.Fd()) {
		s.out = os.Stderr
	}
	return s
}

// Start begins the spinner animation in a background goroutine. It writes
// to stderr so it never pollutes stdout.
func (s *Spinner) Start() {
	if s.out == nil {
		return
	}
	s.wg.Add(1)
	go s.spin()
}

func (s *Spinner) spin() {
	defer s.wg.Done()
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-s.done:
			fmt.Fprint(s.out, "\r\033[K") // clear the spinner line
			return
		case <-ticker.C:
			fmt.Fprintf(s.out, "\r%s %s", frames[i%len(frames)], s.msg)
		}
	}
}

// Stop halts the spinner animation and clears the line. It is safe to call
// more than once.
func (s *Spinner) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
}
