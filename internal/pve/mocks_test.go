package pve

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeResponse is what the fake runner returns for a matching command.
type fakeResponse struct {
	out []byte
	err error
}

// fakeRunner is a Runner that answers from a table keyed by the command
// line prefix and records every call.
type fakeRunner struct {
	mu sync.Mutex

	responses map[string]fakeResponse
	calls     []Command
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]fakeResponse)}
}

// on registers a response for commands whose rendered form starts with prefix.
func (f *fakeRunner) on(prefix string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = fakeResponse{out: []byte(out), err: err}
}

func (f *fakeRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	line := cmd.String()
	best := ""
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, fmt.Errorf("unexpected command: %s", line)
	}
	r := f.responses[best]
	return r.out, r.err
}

func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}
