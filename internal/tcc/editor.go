// Package tcc edits the TCC (Transparency, Consent, and Control) permission
// databases: the system-wide database for root-scoped services and each
// user's own database for the rest.
package tcc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/privacyservices/psm/internal/bundle"
	"github.com/privacyservices/psm/internal/platform"
	"github.com/privacyservices/psm/internal/services"
	"github.com/privacyservices/psm/pkg/types"
)

var (
	ErrInvalidService     = fmt.Errorf("%w: invalid TCC service", types.ErrLookup)
	ErrInvalidUser        = fmt.Errorf("%w: invalid username", types.ErrLookup)
	ErrInvalidTarget      = fmt.Errorf("%w: invalid target", types.ErrLookup)
	ErrNotRoot            = fmt.Errorf("%w: must be root", types.ErrPrivilege)
	ErrNotAuthorized      = fmt.Errorf("%w: must be root to modify this service", types.ErrPrivilege)
	ErrPermissionDenied   = fmt.Errorf("%w: no write access to TCC database", types.ErrPrivilege)
	ErrRefusedRootLocalDB = fmt.Errorf("%w: refusing to create or modify the root user's own TCC database", types.ErrState)
)

const dbRelPath = "Library/Application Support/com.apple.TCC/TCC.db"

// Paths locates the databases. Empty fields take DefaultPaths values.
type Paths struct {
	RootDB      string
	TemplateDir string
	UsersDir    string
}

func DefaultPaths() Paths {
	return Paths{
		RootDB:      "/" + dbRelPath,
		TemplateDir: "/System/Library/User Template",
		UsersDir:    "/Users",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.RootDB == "" {
		p.RootDB = d.RootDB
	}
	if p.TemplateDir == "" {
		p.TemplateDir = d.TemplateDir
	}
	if p.UsersDir == "" {
		p.UsersDir = d.UsersDir
	}
	return p
}

type Options struct {
	// Service is the default service for Insert, Remove and Disable.
	Service string
	// User whose database is edited; defaults to the invoking user.
	User string
	// Template edits the User Template for Language instead of a user.
	Template bool
	Language string
	Override types.OverrideMode
	// ForceRoot permits creating and editing root's own local database.
	ForceRoot bool

	Logger   *slog.Logger
	System   platform.System
	Resolver bundle.Resolver
	Paths    Paths
}

// Editor holds the open TCC databases for one session. Close releases them.
type Editor struct {
	service  string
	user     string
	version  int
	schema   Schema
	override types.OverrideMode
	resolver bundle.Resolver
	logger   *slog.Logger

	rootPath  string
	localPath string
	root      *sql.DB
	local     *sql.DB
}

// Open prepares the databases for editing. Missing databases are created
// when the caller may do so; no database is modified otherwise.
func Open(ctx context.Context, opts Options) (*Editor, error) {
	sys := opts.System
	if sys == nil {
		sys = platform.Host{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	paths := opts.Paths.withDefaults()
	lang := opts.Language
	if lang == "" {
		lang = "English"
	}

	version, err := sys.DarwinMajor()
	if err != nil {
		return nil, fmt.Errorf("could not acquire the macOS version: %w", err)
	}
	schema, err := SchemaFor(version)
	if err != nil {
		return nil, err
	}

	var scope services.Scope
	if opts.Service != "" {
		d, err := tccService(opts.Service)
		if err != nil {
			return nil, err
		}
		scope = d.Scope
	}

	caller, err := sys.CurrentUser()
	if err != nil {
		return nil, err
	}
	user := opts.User
	if user == "" {
		user = caller
	}
	euid := sys.Euid()

	e := &Editor{
		service:  opts.Service,
		user:     user,
		version:  version,
		schema:   schema,
		override: opts.Override,
		resolver: opts.Resolver,
		logger:   logger,
		rootPath: paths.RootDB,
	}

	if opts.Template && euid != 0 {
		return nil, fmt.Errorf("%w: only root may modify the User Template", ErrNotRoot)
	}

	useLocal := true
	if user == "root" && !opts.Template {
		switch {
		case scope == services.ScopeRoot:
			// Root-scoped services never touch a local database.
			useLocal = false
		case !opts.ForceRoot:
			return nil, fmt.Errorf("%w: use --user or --template to edit another database, or --forceroot to proceed", ErrRefusedRootLocalDB)
		}
	}

	var home string
	switch {
	case opts.Template:
		e.localPath = filepath.Join(paths.TemplateDir, lang+".lproj", dbRelPath)
	case useLocal:
		if home, err = homeDir(sys, paths.UsersDir, user); err != nil {
			return nil, err
		}
		e.localPath = filepath.Join(home, dbRelPath)
	}

	if euid == 0 && !exists(e.rootPath) {
		logger.Info("creating TCC database", "path", e.rootPath, "schema_version", schema.AdminVersion)
		if err := createDatabase(ctx, e.rootPath, schema); err != nil {
			return nil, err
		}
	}
	if useLocal && !exists(e.localPath) && (euid == 0 || caller == user) {
		logger.Info("creating TCC database", "path", e.localPath, "schema_version", schema.AdminVersion)
		if err := createDatabase(ctx, e.localPath, schema); err != nil {
			return nil, err
		}
		// tccd runs as the user and must be able to open the new file.
		if euid == 0 && home != "" {
			uid, gid, err := chownUnder(home, e.localPath)
			if err != nil {
				return nil, err
			}
			logger.Info("assigned TCC database to user", "path", e.localPath, "user", user, "uid", uid, "gid", gid)
		}
	}
	if useLocal && !sys.Writable(e.localPath) {
		return nil, fmt.Errorf("%w: you do not have permission to modify %s's TCC database", ErrPermissionDenied, user)
	}

	if euid == 0 {
		if e.root, err = openDB(ctx, e.rootPath); err != nil {
			return nil, err
		}
	}
	if useLocal {
		if e.local, err = openDB(ctx, e.localPath); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	logger.Debug("tcc editor ready",
		"darwin", version,
		"user", user,
		"root_db", e.root != nil,
		"local_db", e.localPath,
		"local_open", e.local != nil)
	return e, nil
}

func homeDir(sys platform.System, usersDir, user string) (string, error) {
	home, err := sys.HomeDir(user)
	if err == nil && filepath.IsAbs(home) {
		return home, nil
	}
	// The account may exist on disk without being registered as a user.
	fallback := filepath.Join(usersDir, user)
	if st, statErr := os.Stat(fallback); statErr == nil && st.IsDir() {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidUser, user)
}

func tccService(name string) (services.Descriptor, error) {
	d, err := services.Lookup(strings.ToLower(name))
	if err != nil || d.Kind != services.KindTCC {
		return services.Descriptor{}, fmt.Errorf("%w: %s", ErrInvalidService, name)
	}
	return d, nil
}

func (e *Editor) Schema() Schema { return e.schema }

func (e *Editor) LocalPath() string { return e.localPath }

func (e *Editor) Insert(ctx context.Context, target string) error {
	return e.InsertService(ctx, e.service, target)
}

func (e *Editor) Remove(ctx context.Context, target string) error {
	return e.RemoveService(ctx, e.service, target)
}

func (e *Editor) Disable(ctx context.Context, target string) error {
	return e.DisableService(ctx, e.service, target)
}

// InsertService grants target access to service.
func (e *Editor) InsertService(ctx context.Context, service, target string) error {
	if e.skipGlobal("insert", service, target) {
		return nil
	}
	d, db, err := e.prepare(service, true)
	if err != nil {
		return err
	}
	client, ct, err := e.client(ctx, target)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, e.schema.insertStatement(), e.schema.insertArgs(d.Identifier, client, ct)...); err != nil {
		return fmt.Errorf("%w: insert %s into %s: %v", types.ErrIO, client, d.Name, err)
	}
	e.logger.Info("granted access", "service", d.Name, "client", client, "client_type", int(ct))
	return nil
}

// RemoveService deletes every record of target for service, whatever its
// client type. Removing an absent record is not an error.
func (e *Editor) RemoveService(ctx context.Context, service, target string) error {
	if e.skipGlobal("remove", service, target) {
		return nil
	}
	d, db, err := e.prepare(service, false)
	if err != nil {
		return err
	}
	client, _, err := e.client(ctx, target)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, removeStatement, d.Identifier, client)
	if err != nil {
		return fmt.Errorf("%w: remove %s from %s: %v", types.ErrIO, client, d.Name, err)
	}
	n, _ := res.RowsAffected()
	e.logger.Info("removed access", "service", d.Name, "client", client, "rows", n)
	return nil
}

// DisableService denies target access to service while keeping its record.
// A target with no record is left alone.
func (e *Editor) DisableService(ctx context.Context, service, target string) error {
	if e.skipGlobal("disable", service, target) {
		return nil
	}
	d, db, err := e.prepare(service, true)
	if err != nil {
		return err
	}
	client, ct, err := e.client(ctx, target)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, disableStatement, d.Identifier, client, int(ct))
	if err != nil {
		return fmt.Errorf("%w: disable %s for %s: %v", types.ErrIO, client, d.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		e.logger.Info("no record to disable", "service", d.Name, "client", client)
		return nil
	}
	e.logger.Info("disabled access", "service", d.Name, "client", client)
	return nil
}

// Lookup reads back one record, or nil if there is none.
func (e *Editor) Lookup(ctx context.Context, service, client string, ct ClientType) (*Record, error) {
	d, db, err := e.prepare(service, false)
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(db.QueryRowContext(ctx, e.schema.selectStatement(), d.Identifier, client, int(ct)), e.schema)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", client, d.Name, err)
	}
	return rec, nil
}

// Close releases every open database. It is safe to call more than once.
func (e *Editor) Close() error {
	var errs []error
	if e.root != nil {
		errs = append(errs, e.root.Close())
		e.root = nil
	}
	if e.local != nil {
		errs = append(errs, e.local.Close())
		e.local = nil
	}
	return errors.Join(errs...)
}

func (e *Editor) skipGlobal(op, service, target string) bool {
	if strings.TrimSpace(target) != "" {
		return false
	}
	e.logger.Warn("no application given; TCC services have no global setting", "op", op, "service", service)
	return true
}

func (e *Editor) prepare(service string, checkVersion bool) (services.Descriptor, *sql.DB, error) {
	if service == "" {
		return services.Descriptor{}, nil, fmt.Errorf("%w: no service given", ErrInvalidService)
	}
	d, err := tccService(service)
	if err != nil {
		return d, nil, err
	}
	if checkVersion && !d.Supported(e.version) {
		return d, nil, fmt.Errorf("%w: %s does not exist on Darwin %d", services.ErrUnsupportedOnVersion, d.Name, e.version)
	}
	db := e.local
	if d.Scope == services.ScopeRoot {
		db = e.root
	}
	if db == nil {
		return d, nil, fmt.Errorf("%w: %s", ErrNotAuthorized, d.Name)
	}
	return d, db, nil
}

// client maps target to the access.client value and its type.
func (e *Editor) client(ctx context.Context, target string) (string, ClientType, error) {
	target = strings.TrimSpace(target)
	switch e.override {
	case types.OverrideBin:
		if !filepath.IsAbs(target) {
			return "", 0, fmt.Errorf("%w: %q is not an absolute path", ErrInvalidTarget, target)
		}
		return filepath.Clean(target), ClientPath, nil
	case types.OverrideApp:
		return target, ClientBundle, nil
	}
	if e.resolver == nil {
		return "", 0, fmt.Errorf("%w: no bundle resolver for %q", ErrInvalidTarget, target)
	}
	info, err := e.resolver.Resolve(ctx, target)
	if err != nil {
		return "", 0, err
	}
	return info.BundleID, ClientBundle, nil
}
