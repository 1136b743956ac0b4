package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/privacyservices/psm/internal/bundle"
	"github.com/privacyservices/psm/internal/config"
	"github.com/privacyservices/psm/internal/logging"
	"github.com/privacyservices/psm/internal/manager"
	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/internal/services"
	"github.com/privacyservices/psm/pkg/types"
)

type options struct {
	user       string
	template   bool
	language   string
	forceRoot  bool
	noCheckApp bool
	noCheckBin bool
	admin      bool
	logDest    string
	noLog      bool
	configPath string
}

// host is the machine the command acts on. Zero fields use the real one.
type host struct {
	system   platform.System
	runner   platform.Runner
	resolver bundle.Resolver
}

func NewRoot(version string) *cobra.Command {
	return newRoot(version, host{})
}

func newRoot(version string, h host) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "psm [flags] action service [applications...]",
		Short: "psm: manage access to the macOS privacy services",
		Long: `Modify access to the privacy services of macOS.

Actions:
  add       add applications to the service and enable them
  enable    same as add
  remove    remove all traces of the applications from the service
  disable   keep the applications' entries but deny them access

Services: ` + strings.Join(services.Names(), ", ") + `

Applications may be given as a short name (safari), a bundle identifier
(com.apple.Safari) or the path to an .app bundle. With no applications,
location enables or disables Location Services for the whole machine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, version, opts, h, args)
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate("psm, version {{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.user, "user", "u", "", "modify access only for this user")
	f.BoolVar(&opts.template, "template", false, "modify the User Template instead of a user")
	f.StringVar(&opts.language, "language", "English", "User Template language (with --template)")
	f.BoolVar(&opts.forceRoot, "forceroot", false, "allow creating or modifying the root user's own TCC database")
	f.BoolVar(&opts.noCheckApp, "no-check-app", false, "administrative override: take applications as bundle identifiers without checking them")
	f.BoolVar(&opts.noCheckBin, "no-check-bin", false, "administrative override: take applications as paths to executables")
	f.BoolVar(&opts.admin, "admin", false, "alias for --no-check-bin")
	_ = f.MarkHidden("admin")
	f.StringVarP(&opts.logDest, "log-dest", "l", "", "write the log to this file")
	f.BoolVarP(&opts.noLog, "no-log", "n", false, "log to stderr only")
	f.StringVar(&opts.configPath, "config", "", "configuration file (default $PSM_CONFIG or "+config.DefaultPath+")")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{code: ExitUsage, message: err.Error(), err: err}
	})
	return cmd
}

func run(cmd *cobra.Command, version string, opts *options, h host, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	noCheckBin := opts.noCheckBin || opts.admin
	if opts.noCheckApp && noCheckBin {
		return exitErrorf(ExitUsage, "cannot give both --no-check-app and --no-check-bin")
	}
	override := types.OverrideNone
	switch {
	case opts.noCheckApp:
		override = types.OverrideApp
	case noCheckBin:
		override = types.OverrideBin
	}

	var (
		action  types.Action
		service string
		targets []string
	)
	if len(args) > 0 {
		a, err := types.ParseAction(args[0])
		if err != nil {
			return &ExitError{code: ExitUsage, message: err.Error(), err: err}
		}
		action = a
	}
	if len(args) > 1 {
		d, err := services.Lookup(args[1])
		if err != nil {
			return &ExitError{code: ExitUsage, message: err.Error(), err: err}
		}
		service = d.Name
		targets = args[2:]
	}

	sys := h.system
	if sys == nil {
		sys = platform.Host{}
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("PSM_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return exitErrorf(ExitFailed, "%w", err)
	}

	logger, closeLog, err := newLogger(cmd, cfg, opts, sys)
	if err != nil {
		return exitErrorf(ExitFailed, "%w", err)
	}
	defer closeLog()

	user := opts.user
	if user == "" {
		user = cfg.Defaults.User
	}
	language := opts.language
	if !cmd.Flags().Changed("language") {
		language = cfg.Defaults.Language
	}
	if err := config.ValidateLanguage(language); err != nil {
		return &ExitError{code: ExitUsage, message: err.Error(), err: err}
	}

	header := []any{
		"version", version,
		"service", orNA(service),
		"action", orNA(string(action)),
		"apps", targets,
		"user", orNA(user),
		"template", opts.template,
		"language", "N/A",
	}
	if opts.template {
		header[len(header)-1] = language
	}

	if action == "" {
		logger.Error("Must specify an action.", header...)
		return exitErrorf(ExitMissingArgs, "must specify an action")
	}
	if service == "" {
		logger.Error("Must specify a service to modify.", header...)
		return exitErrorf(ExitMissingArgs, "must specify a service to modify")
	}
	if override.Enabled() {
		logger.Warn("Administrative override enabled. Be careful!", "mode", string(override))
	}
	logger.Info("psm run", header...)

	runner := h.runner
	if runner == nil {
		runner = platform.ExecRunner{Logger: logger}
	}
	resolver := h.resolver
	if resolver == nil {
		resolver = bundle.NewFinder(runner, cfg.Tools.Mdfind)
	}

	ed, err := manager.NewEditor(ctx, service, manager.Options{
		User:          user,
		Template:      opts.template,
		Language:      language,
		Override:      override,
		ForceRoot:     opts.forceRoot,
		Logger:        logger,
		System:        sys,
		Runner:        runner,
		Resolver:      resolver,
		TCCPaths:      cfg.TCCPaths(),
		LocationPaths: cfg.LocationPaths(),
		Tools:         cfg.LocationTools(),
	})
	if err != nil {
		logger.Error("could not open editor", "service", service, "error", err)
		return exitErrorf(ExitFailed, "%s: %w", service, err)
	}

	if err := applyAndClose(ctx, ed, action, service, targets, logger); err != nil {
		return err
	}
	logger.Info("Successfully completed.")
	return nil
}

// applyAndClose runs action over targets and closes ed on every path out,
// including a panic. A target failure is reported ahead of a close failure.
func applyAndClose(ctx context.Context, ed manager.Editor, action types.Action, service string, targets []string, logger *slog.Logger) (err error) {
	defer func() {
		if cerr := ed.Close(ctx); cerr != nil && err == nil {
			err = exitErrorf(ExitFailed, "%s: %w", service, cerr)
		}
	}()

	report := manager.Apply(ctx, ed, action, targets, logger)
	if rerr := report.Err(); rerr != nil {
		return exitErrorf(ExitFailed, "%s %s failed: %w", action, service, rerr)
	}
	return nil
}

// newLogger builds the run logger. A log file that cannot be opened falls
// back to stderr only.
func newLogger(cmd *cobra.Command, cfg *config.Config, opts *options, sys platform.System) (*slog.Logger, func(), error) {
	dest := opts.logDest
	if dest == "" {
		dest = cfg.Logging.Dest
	}
	if dest == "" {
		var home string
		if u, err := sys.CurrentUser(); err == nil {
			home, _ = sys.HomeDir(u)
		}
		dest = logging.DefaultDest(sys.Euid(), home)
	}

	lopts := logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dest:   dest,
		NoFile: opts.noLog,
		Stderr: cmd.ErrOrStderr(),
	}
	logger, closer, err := logging.New(lopts)
	if err != nil && !lopts.NoFile {
		lopts.NoFile = true
		var ferr error
		if logger, closer, ferr = logging.New(lopts); ferr != nil {
			return nil, nil, errors.Join(err, ferr)
		}
		logger.Warn("logging to stderr only", "dest", dest, "error", err)
	} else if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = closer.Close() }, nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
