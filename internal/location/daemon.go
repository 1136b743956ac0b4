package location

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/privacyservices/psm/internal/platform"
)

// Daemon stops and restarts locationd around edits to its store. locationd
// rewrites clients.plist from memory, so edits made while it runs are lost.
type Daemon struct {
	Runner platform.Runner
	Paths  Paths
	Tools  Tools
	Logger *slog.Logger
}

// Suspend restores ownership of the store to the service account and
// unloads the daemon.
func (d *Daemon) Suspend(ctx context.Context) error {
	owner := d.Paths.ServiceAccount + ":" + d.Paths.ServiceAccount
	if _, err := d.Runner.Run(ctx, d.Tools.Chown, "-R", owner, d.Paths.StoreDir); err != nil {
		return fmt.Errorf("%w: chown %s: %w", ErrDaemon, d.Paths.StoreDir, err)
	}
	if _, err := d.Runner.Run(ctx, d.Tools.Launchctl, "unload", d.Paths.LaunchdPlist); err != nil {
		return fmt.Errorf("%w: unload %s: %w", ErrDaemon, d.Paths.LaunchdPlist, err)
	}
	d.Logger.Debug("locationd suspended", "plist", d.Paths.LaunchdPlist)
	return nil
}

// Resume loads the daemon again.
func (d *Daemon) Resume(ctx context.Context) error {
	if _, err := d.Runner.Run(ctx, d.Tools.Launchctl, "load", d.Paths.LaunchdPlist); err != nil {
		return fmt.Errorf("%w: load %s: %w", ErrDaemon, d.Paths.LaunchdPlist, err)
	}
	d.Logger.Debug("locationd resumed", "plist", d.Paths.LaunchdPlist)
	return nil
}
