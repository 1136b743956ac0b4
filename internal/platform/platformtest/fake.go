// Package platformtest provides in-memory stand-ins for platform.Runner and
// platform.System.
package platformtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/pkg/types"
)

// Call is one recorded Runner invocation.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner records calls and answers them from Handler. A nil Handler makes
// every command succeed with no output.
type Runner struct {
	mu      sync.Mutex
	Calls   []Call
	Handler func(name string, args []string) ([]byte, error)
}

func (r *Runner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, Call{Name: name, Args: append([]string(nil), args...)})
	h := r.Handler
	r.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(name, args)
}

// Commands returns the recorded calls rendered as command lines.
func (r *Runner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		out = append(out, c.String())
	}
	return out
}

// Fail builds a ToolError the way platform.ExecRunner would.
func Fail(name string, args []string, output string) error {
	return &platform.ToolError{Tool: name, Args: args, Output: output, Err: fmt.Errorf("exit status 1")}
}

// System is a configurable platform.System.
type System struct {
	UID      int
	Major    int
	User     string
	Homes    map[string]string
	ReadOnly map[string]bool
}

func (s *System) Euid() int { return s.UID }

func (s *System) DarwinMajor() (int, error) {
	if s.Major == 0 {
		return 0, fmt.Errorf("%w: darwin version unknown", types.ErrVersion)
	}
	return s.Major, nil
}

func (s *System) CurrentUser() (string, error) {
	if s.User == "" {
		return "", fmt.Errorf("%w: no current user", types.ErrLookup)
	}
	return s.User, nil
}

func (s *System) HomeDir(username string) (string, error) {
	if h, ok := s.Homes[username]; ok {
		return h, nil
	}
	return "", fmt.Errorf("%w: unknown user %q", types.ErrLookup, username)
}

// Writable reports true for existing paths not listed in ReadOnly.
func (s *System) Writable(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return !s.ReadOnly[path]
}
