package location

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/privacyservices/psm/internal/platform"
)

const (
	preferencePrefix = "com.apple.locationd."
	plistExt         = ".plist"
	enabledKey       = "LocationServicesEnabled"
)

// candidatePattern matches ByHost preference names (extension removed) with
// a single dot-free suffix after the domain.
var candidatePattern = glob.MustCompile(preferencePrefix+"*", '.')

// SetGlobal turns Location Services on or off for the whole machine by
// writing the per-host locationd preference.
func (e *Editor) SetGlobal(ctx context.Context, enabled bool) error {
	hwUUID, err := platform.HardwareUUID(ctx, e.runner, e.tools.Ioreg)
	if err != nil {
		return fmt.Errorf("set global location services: %w", err)
	}
	file, err := FindPreferenceFile(e.paths.ByHostDir, hwUUID)
	if err != nil {
		return err
	}
	value := "0"
	if enabled {
		value = "1"
	}
	domain := strings.TrimSuffix(file, plistExt)
	if _, err := e.runner.Run(ctx, e.tools.Defaults, "write", domain, enabledKey, "-int", value); err != nil {
		return fmt.Errorf("write %s in %s: %w", enabledKey, file, err)
	}
	e.logger.Info("set global location services", "enabled", enabled, "file", file)
	return nil
}

// FindPreferenceFile returns the ByHost preference file for the machine
// with the given hardware UUID. The exact name is preferred; otherwise the
// single matching candidate is used, and several candidates are narrowed by
// how closely their suffix matches the UUID.
func FindPreferenceFile(dir, hwUUID string) (string, error) {
	exact := filepath.Join(dir, preferencePrefix+hwUUID+plistExt)
	if st, err := os.Stat(exact); err == nil && !st.IsDir() {
		return exact, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", dir, err)
	}
	var suffixes []string
	for _, ent := range entries {
		name, ok := strings.CutSuffix(ent.Name(), plistExt)
		if !ok || ent.IsDir() || !candidatePattern.Match(name) {
			continue
		}
		suffixes = append(suffixes, strings.TrimPrefix(name, preferencePrefix))
	}
	sort.Strings(suffixes)

	pick := func(s string) string { return filepath.Join(dir, preferencePrefix+s+plistExt) }
	switch len(suffixes) {
	case 0:
		return "", fmt.Errorf("%w in %s", ErrNoGlobalPreferenceFile, dir)
	case 1:
		return pick(suffixes[0]), nil
	}

	matchers := []func(string) bool{
		func(s string) bool { return s == hwUUID },
		func(s string) bool { return strings.EqualFold(s, hwUUID) },
		func(s string) bool {
			for _, seg := range strings.Split(hwUUID, "-") {
				if strings.EqualFold(s, seg) {
					return true
				}
			}
			return false
		},
	}
	for _, match := range matchers {
		for _, s := range suffixes {
			if match(s) {
				return pick(s), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %d candidates in %s, none match %s", ErrNoGlobalPreferenceFile, len(suffixes), dir, hwUUID)
}
