// Package bundletest provides a fixed bundle.Resolver for tests.
package bundletest

import (
	"context"
	"fmt"

	"github.com/privacyservices/psm/internal/bundle"
)

// Resolver answers from a map keyed by target.
type Resolver map[string]bundle.Info

func (r Resolver) Resolve(_ context.Context, target string) (bundle.Info, error) {
	info, ok := r[target]
	if !ok {
		return bundle.Info{}, fmt.Errorf("%w: %s", bundle.ErrAppNotFound, target)
	}
	return info, nil
}

// Apps is a small set of well-known applications.
var Apps = Resolver{
	"Safari": {
		BundleID:   "com.apple.Safari",
		Name:       "Safari",
		Path:       "/Applications/Safari.app",
		Executable: "/Applications/Safari.app/Contents/MacOS/Safari",
	},
	"Firefox": {
		BundleID:   "org.mozilla.firefox",
		Name:       "Firefox",
		Path:       "/Applications/Firefox.app",
		Executable: "/Applications/Firefox.app/Contents/MacOS/firefox",
	},
	"Solo": {
		BundleID:   "solo",
		Name:       "Solo",
		Path:       "/Applications/Solo.app",
		Executable: "/Applications/Solo.app/Contents/MacOS/Solo",
	},
}
