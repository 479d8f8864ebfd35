// Package progress renders a best-effort activity indicator for long-running
// downloads and decompression. Nothing in it influences control flow: a
// disabled or broken indicator only means less output.
package progress

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Reporter receives progress for one operation at a time.
type Reporter interface {
	// Start begins reporting for a new operation. total may be 0 if unknown.
	Start(label string, total int64)
	// Add records n more processed bytes.
	Add(n int64)
	// Stop ends reporting. It must be safe to call more than once.
	Stop()
}

// Nop is a Reporter that prints nothing.
type Nop struct{}

func (Nop) Start(string, int64) {}
func (Nop) Add(int64)           {}
func (Nop) Stop()               {}

const refreshInterval = 250 * time.Millisecond

// Spinner is a Reporter backed by a terminal spinner whose suffix shows the
// byte count.
type Spinner struct {
	out io.Writer

	mu       sync.Mutex
	spin     *spinner.Spinner
	label    string
	total    int64
	done     atomic.Int64
	lastDraw time.Time
}

// NewSpinner returns a Reporter drawing to out.
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out}
}

// For returns a spinner when f is a terminal and a Nop otherwise.
func For(f *os.File) Reporter {
	if IsTerminal(f) {
		return NewSpinner(f)
	}
	return Nop{}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (s *Spinner) Start(label string, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spin != nil {
		s.spin.Stop()
	}
	s.label = label
	s.total = total
	s.done.Store(0)
	s.lastDraw = time.Time{}

	s.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(s.out),
		spinner.WithColor("green"),
	)
	s.spin.Suffix = " " + label
	s.spin.Start()
}

func (s *Spinner) Add(n int64) {
	done := s.done.Add(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spin == nil || time.Since(s.lastDraw) < refreshInterval {
		return
	}
	s.lastDraw = time.Now()

	suffix := " " + s.label + " " + humanize.IBytes(uint64(done))
	if s.total > 0 {
		suffix += " / " + humanize.IBytes(uint64(s.total))
	}
	s.spin.Lock()
	s.spin.Suffix = suffix
	s.spin.Unlock()
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spin == nil {
		return
	}
	s.spin.Stop()
	s.spin = nil
}

// Done returns the number of bytes recorded since the last Start.
func (s *Spinner) Done() int64 {
	return s.done.Load()
}

// Writer adapts a Reporter into an io.Writer that counts bytes, for use
// with io.TeeReader or io.MultiWriter.
func Writer(r Reporter) io.Writer {
	return countingWriter{r: r}
}

type countingWriter struct {
	r Reporter
}

func (w countingWriter) Write(p []byte) (int, error) {
	w.r.Add(int64(len(p)))
	return len(p), nil
}
