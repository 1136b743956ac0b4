// Package location edits the Location Services authorization store kept by
// locationd, and the machine-wide Location Services switch.
package location

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/privacyservices/psm/internal/bundle"
	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/internal/plist"
	"github.com/privacyservices/psm/pkg/types"
)

var (
	ErrNotRoot                = fmt.Errorf("%w: must be root to modify Location Services", types.ErrPrivilege)
	ErrUnsupportedOverride    = fmt.Errorf("%w: Location Services cannot be edited with an application override", types.ErrState)
	ErrDaemon                 = fmt.Errorf("%w: locationd control failed", types.ErrExternalTool)
	ErrNoGlobalPreferenceFile = fmt.Errorf("%w: no locationd ByHost preference file", types.ErrLookup)
	ErrInsertFailed           = fmt.Errorf("%w: failed to add application", types.ErrIO)
	ErrRemoveFailed           = fmt.Errorf("%w: failed to remove application", types.ErrIO)
	ErrDisableFailed          = fmt.Errorf("%w: failed to disable application", types.ErrIO)
)

// Client record keys in clients.plist.
const (
	keyAuthorized  = "Authorized"
	keyBundleID    = "BundleID"
	keyBundleId    = "BundleId"
	keyBundlePath  = "BundlePath"
	keyExecutable  = "Executable"
	keyRegistered  = "Registered"
	keyHide        = "Hide"
	keyRequirement = "Requirement"
	keyWhitelisted = "Whitelisted"
)

type Options struct {
	Override types.OverrideMode
	Logger   *slog.Logger
	System   platform.System
	Runner   platform.Runner
	Resolver bundle.Resolver
	Paths    Paths
	Tools    Tools
}

// Editor holds locationd suspended and its clients store open. Close must be
// called to bring the daemon back.
type Editor struct {
	override types.OverrideMode
	logger   *slog.Logger
	runner   platform.Runner
	resolver bundle.Resolver
	paths    Paths
	tools    Tools
	daemon   *Daemon
	clients  *plist.File
}

// Open suspends locationd and loads its clients store.
func Open(ctx context.Context, opts Options) (*Editor, error) {
	sys := opts.System
	if sys == nil {
		sys = platform.Host{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	runner := opts.Runner
	if runner == nil {
		runner = platform.ExecRunner{Logger: logger}
	}

	if sys.Euid() != 0 {
		return nil, ErrNotRoot
	}
	if opts.Override == types.OverrideApp {
		return nil, ErrUnsupportedOverride
	}

	e := &Editor{
		override: opts.Override,
		logger:   logger,
		runner:   runner,
		resolver: opts.Resolver,
		paths:    opts.Paths.withDefaults(),
		tools:    opts.Tools.withDefaults(),
	}
	e.daemon = &Daemon{Runner: runner, Paths: e.paths, Tools: e.tools, Logger: logger}

	if err := e.daemon.Suspend(ctx); err != nil {
		return nil, err
	}
	clients, err := plist.Open(e.paths.ClientsPlist)
	if err != nil {
		if rerr := e.daemon.Resume(ctx); rerr != nil {
			logger.Error("could not resume locationd", "error", rerr)
		}
		return nil, fmt.Errorf("open location clients: %w", err)
	}
	e.clients = clients
	return e, nil
}

// Insert authorizes target, replacing any record it already has. An empty
// target enables Location Services globally.
func (e *Editor) Insert(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return e.SetGlobal(ctx, true)
	}
	key, err := e.insert(ctx, target)
	if err != nil {
		return err
	}
	e.logger.Info("authorized location services", "client", key)
	return nil
}

// Remove deletes target's record. An empty target disables Location
// Services globally.
func (e *Editor) Remove(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return e.SetGlobal(ctx, false)
	}
	key, _, err := e.clientKey(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoveFailed, target, err)
	}
	if !e.clients.Delete(key) {
		e.logger.Info("no location services record to remove", "client", key)
		return nil
	}
	if err := e.clients.Save(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoveFailed, target, err)
	}
	e.logger.Info("removed location services record", "client", key)
	return nil
}

// Disable keeps (or creates) target's record but denies it access. An empty
// target disables Location Services globally.
func (e *Editor) Disable(ctx context.Context, target string) error {
	if strings.TrimSpace(target) == "" {
		return e.SetGlobal(ctx, false)
	}
	key, _, err := e.clientKey(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDisableFailed, target, err)
	}
	if _, ok := e.clients.Dict(key); !ok {
		if _, err := e.insert(ctx, target); err != nil {
			return fmt.Errorf("%w: %w", ErrDisableFailed, err)
		}
	}
	e.clients.SetDictValue(key, keyAuthorized, false)
	if err := e.clients.Save(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDisableFailed, target, err)
	}
	e.logger.Info("disabled location services", "client", key)
	return nil
}

// Close resumes locationd. It is always attempted; a failure is logged and
// returned.
func (e *Editor) Close(ctx context.Context) error {
	if err := e.daemon.Resume(ctx); err != nil {
		e.logger.Error("could not resume locationd", "error", err)
		return err
	}
	return nil
}

func (e *Editor) insert(ctx context.Context, target string) (string, error) {
	key, info, err := e.clientKey(ctx, target)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInsertFailed, target, err)
	}

	record := map[string]any{
		keyAuthorized:  true,
		keyHide:        0,
		keyWhitelisted: false,
	}
	if e.override == types.OverrideBin {
		record[keyExecutable] = key
		record[keyRegistered] = key
		hash, err := platform.CodeDirectoryHash(ctx, e.runner, e.tools.Codesign, key)
		switch {
		case errors.Is(err, platform.ErrUnsigned):
			e.logger.Warn("executable is not signed; recording it without a requirement", "path", key)
		case err != nil:
			return "", fmt.Errorf("%w: %s: %w", ErrInsertFailed, target, err)
		default:
			record[keyRequirement] = CDHashRequirement(hash)
		}
	} else {
		req, err := BundleRequirement(info.BundleID)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrInsertFailed, target, err)
		}
		record[keyBundleID] = info.BundleID
		record[keyBundleId] = info.BundleID
		record[keyBundlePath] = info.Path
		record[keyExecutable] = info.Executable
		record[keyRegistered] = info.Executable
		record[keyRequirement] = req
	}

	e.clients.Set(key, record)
	if err := e.clients.Save(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInsertFailed, target, err)
	}
	return key, nil
}

// clientKey returns the clients.plist key for target: the bundle identifier,
// or the executable path in binary override mode.
func (e *Editor) clientKey(ctx context.Context, target string) (string, bundle.Info, error) {
	target = strings.TrimSpace(target)
	if e.override == types.OverrideBin {
		if !filepath.IsAbs(target) {
			return "", bundle.Info{}, fmt.Errorf("%q is not an absolute path", target)
		}
		return filepath.Clean(target), bundle.Info{}, nil
	}
	if e.resolver == nil {
		return "", bundle.Info{}, fmt.Errorf("no bundle resolver for %q", target)
	}
	info, err := e.resolver.Resolve(ctx, target)
	if err != nil {
		return "", bundle.Info{}, err
	}
	return info.BundleID, info, nil
}
