// Package bundle resolves the names users give for applications (short name,
// bundle identifier, or .app path) to the bundle's identity.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/internal/plist"
	"github.com/privacyservices/psm/pkg/types"
)

// ErrAppNotFound is returned when a target cannot be resolved to a bundle.
var ErrAppNotFound = fmt.Errorf("%w: application not found", types.ErrLookup)

// DefaultSearchDirs are scanned for "<name>.app" when resolving short names.
var DefaultSearchDirs = []string{
	"/Applications",
	"/Applications/Utilities",
	"/System/Applications",
	"/System/Applications/Utilities",
}

// Info identifies an application bundle.
type Info struct {
	BundleID   string
	Executable string
	Path       string
	Name       string
}

// Resolver maps a user-supplied target to a bundle.
type Resolver interface {
	Resolve(ctx context.Context, target string) (Info, error)
}

// Finder is the Resolver backed by the filesystem and Spotlight.
type Finder struct {
	Runner     platform.Runner
	Mdfind     string
	SearchDirs []string
}

// NewFinder returns a Finder using mdfind at the given path and the default
// search directories.
func NewFinder(r platform.Runner, mdfind string) *Finder {
	if mdfind == "" {
		mdfind = "/usr/bin/mdfind"
	}
	return &Finder{Runner: r, Mdfind: mdfind, SearchDirs: DefaultSearchDirs}
}

func (f *Finder) Resolve(ctx context.Context, target string) (Info, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Info{}, fmt.Errorf("%w: empty application name", types.ErrLookup)
	}

	if strings.Contains(target, "/") {
		info, err := Load(target)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %s: %v", ErrAppNotFound, target, err)
		}
		return info, nil
	}

	if LooksLikeBundleID(target) {
		if info, ok := f.byIdentifier(ctx, target); ok {
			return info, nil
		}
	}
	if info, ok := f.byName(ctx, target); ok {
		return info, nil
	}
	return Info{}, fmt.Errorf("%w: %s", ErrAppNotFound, target)
}

func (f *Finder) byIdentifier(ctx context.Context, id string) (Info, bool) {
	for _, dir := range f.SearchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.HasSuffix(e.Name(), ".app") {
				continue
			}
			if info, err := Load(filepath.Join(dir, e.Name())); err == nil && info.BundleID == id {
				return info, true
			}
		}
	}
	return f.spotlight(ctx, fmt.Sprintf(`kMDItemCFBundleIdentifier == "%s"`, id), func(i Info) bool {
		return i.BundleID == id
	})
}

func (f *Finder) byName(ctx context.Context, name string) (Info, bool) {
	want := strings.TrimSuffix(name, ".app") + ".app"
	for _, dir := range f.SearchDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.EqualFold(e.Name(), want) {
				if info, err := Load(filepath.Join(dir, e.Name())); err == nil {
					return info, true
				}
			}
		}
	}
	return f.spotlight(ctx, fmt.Sprintf(`kMDItemContentType == "com.apple.application-bundle" && kMDItemFSName == "%s"c`, want), nil)
}

func (f *Finder) spotlight(ctx context.Context, query string, accept func(Info) bool) (Info, bool) {
	if f.Runner == nil {
		return Info{}, false
	}
	out, err := f.Runner.Run(ctx, f.Mdfind, query)
	if err != nil {
		return Info{}, false
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		info, err := Load(line)
		if err != nil {
			continue
		}
		if accept == nil || accept(info) {
			return info, true
		}
	}
	return Info{}, false
}

// Load reads the bundle at path.
func Load(path string) (Info, error) {
	path = filepath.Clean(path)
	infoPlist := filepath.Join(path, "Contents", "Info.plist")
	if _, err := os.Stat(infoPlist); errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%s is not an application bundle", path)
	}
	d, err := plist.ReadDict(infoPlist)
	if err != nil {
		return Info{}, err
	}
	id, _ := d["CFBundleIdentifier"].(string)
	if id == "" {
		return Info{}, fmt.Errorf("%s has no CFBundleIdentifier", infoPlist)
	}
	info := Info{BundleID: id, Path: path}
	if exe, _ := d["CFBundleExecutable"].(string); exe != "" {
		info.Executable = filepath.Join(path, "Contents", "MacOS", exe)
	}
	for _, key := range []string{"CFBundleDisplayName", "CFBundleName"} {
		if name, _ := d[key].(string); name != "" {
			info.Name = name
			break
		}
	}
	if info.Name == "" {
		info.Name = strings.TrimSuffix(filepath.Base(path), ".app")
	}
	return info, nil
}

// LooksLikeBundleID reports whether s has the reverse-DNS shape of a bundle
// identifier.
func LooksLikeBundleID(s string) bool {
	if strings.ContainsAny(s, "/ \t") || strings.HasSuffix(s, ".app") {
		return false
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
