// Package manager picks the editor for a service and drives it over a batch
// of targets.
package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/privacyservices/psm/internal/bundle"
	"github.com/privacyservices/psm/internal/location"
	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/internal/services"
	"github.com/privacyservices/psm/internal/tcc"
	"github.com/privacyservices/psm/pkg/types"
)

// Editor is the common surface of the TCC and Location editors.
type Editor interface {
	Service() string
	Insert(ctx context.Context, target string) error
	Remove(ctx context.Context, target string) error
	Disable(ctx context.Context, target string) error
	Close(ctx context.Context) error
}

type Options struct {
	User      string
	Template  bool
	Language  string
	Override  types.OverrideMode
	ForceRoot bool

	Logger   *slog.Logger
	System   platform.System
	Runner   platform.Runner
	Resolver bundle.Resolver

	TCCPaths      tcc.Paths
	LocationPaths location.Paths
	Tools         location.Tools
}

// NewEditor opens the editor that owns service.
func NewEditor(ctx context.Context, service string, opts Options) (Editor, error) {
	d, err := services.Lookup(service)
	if err != nil {
		return nil, err
	}
	if opts.System == nil {
		opts.System = platform.Host{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Runner == nil {
		opts.Runner = platform.ExecRunner{Logger: opts.Logger}
	}
	if opts.Resolver == nil {
		opts.Resolver = bundle.NewFinder(opts.Runner, "")
	}

	switch d.Kind {
	case services.KindTCC:
		ed, err := tcc.Open(ctx, tcc.Options{
			Service:   d.Name,
			User:      opts.User,
			Template:  opts.Template,
			Language:  opts.Language,
			Override:  opts.Override,
			ForceRoot: opts.ForceRoot,
			Logger:    opts.Logger,
			System:    opts.System,
			Resolver:  opts.Resolver,
			Paths:     opts.TCCPaths,
		})
		if err != nil {
			return nil, err
		}
		return tccEditor{name: d.Name, Editor: ed}, nil

	case services.KindLocation:
		major, err := opts.System.DarwinMajor()
		if err != nil {
			return nil, fmt.Errorf("could not acquire the macOS version: %w", err)
		}
		if _, err := services.Resolve(d.Name, major); err != nil {
			return nil, err
		}
		ed, err := location.Open(ctx, location.Options{
			Override: opts.Override,
			Logger:   opts.Logger,
			System:   opts.System,
			Runner:   opts.Runner,
			Resolver: opts.Resolver,
			Paths:    opts.LocationPaths,
			Tools:    opts.Tools,
		})
		if err != nil {
			return nil, err
		}
		return locationEditor{name: d.Name, Editor: ed}, nil
	}
	return nil, fmt.Errorf("%w: %s has no editor", services.ErrUnknownService, d.Name)
}

type tccEditor struct {
	name string
	*tcc.Editor
}

func (e tccEditor) Service() string { return e.name }

func (e tccEditor) Close(context.Context) error { return e.Editor.Close() }

type locationEditor struct {
	name string
	*location.Editor
}

func (e locationEditor) Service() string { return e.name }

// Apply runs action for every target and reports each outcome. A failing
// target does not stop the rest. With no targets, the empty target is
// processed once.
func Apply(ctx context.Context, ed Editor, action types.Action, targets []string, logger *slog.Logger) types.Report {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(targets) == 0 {
		targets = []string{""}
	}

	var op func(context.Context, string) error
	switch action {
	case types.ActionAdd, types.ActionEnable:
		op = ed.Insert
	case types.ActionRemove:
		op = ed.Remove
	case types.ActionDisable:
		op = ed.Disable
	}

	var report types.Report
	for _, target := range targets {
		res := types.Result{Service: ed.Service(), Action: action, Target: target}
		if op == nil {
			res.Err = fmt.Errorf("%w: unsupported action %q", types.ErrLookup, action)
		} else {
			res.Err = op(ctx, target)
		}
		if res.Err != nil {
			logger.Error("operation failed", "service", res.Service, "action", string(action), "target", target, "error", res.Err)
		}
		report.Add(res)
	}
	return report
}
