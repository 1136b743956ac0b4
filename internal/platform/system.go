package platform

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/privacyservices/psm/pkg/types"
)

// System exposes the host facts the editors depend on.
type System interface {
	Euid() int
	// DarwinMajor returns the major component of the kernel release
	// (e.g. 13 for "13.4.0").
	DarwinMajor() (int, error)
	CurrentUser() (string, error)
	HomeDir(username string) (string, error)
	Writable(path string) bool
}

// Host is the System backed by the running machine.
type Host struct{}

func (Host) Euid() int { return os.Geteuid() }

func (Host) DarwinMajor() (int, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, fmt.Errorf("uname: %w", err)
	}
	return ParseDarwinMajor(unix.ByteSliceToString(uts.Release[:]))
}

func (Host) CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("%w: current user: %v", types.ErrLookup, err)
	}
	return u.Username, nil
}

func (Host) HomeDir(username string) (string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return "", fmt.Errorf("%w: user %q: %v", types.ErrLookup, username, err)
	}
	if u.HomeDir == "" {
		return "", fmt.Errorf("%w: user %q has no home directory", types.ErrLookup, username)
	}
	return u.HomeDir, nil
}

func (Host) Writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// ParseDarwinMajor extracts the major version from a kernel release string.
func ParseDarwinMajor(release string) (int, error) {
	release = strings.TrimSpace(release)
	major, _, _ := strings.Cut(release, ".")
	n, err := strconv.Atoi(major)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: unexpected kernel release %q", types.ErrVersion, release)
	}
	return n, nil
}
