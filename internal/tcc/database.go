package tcc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"

	"github.com/privacyservices/psm/pkg/types"
)

// Record is one row of the access table. CSReq and PolicyID are only
// populated on schemas that have those columns.
type Record struct {
	Service     string
	Client      string
	ClientType  ClientType
	Allowed     bool
	PromptCount int
	CSReq       []byte
	PolicyID    *int64
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	// tccd holds its own locks on these files; wait for them rather than
	// failing. The journal mode is left as the OS configured it.
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA foreign_keys = ON;`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure %s: %w", path, err)
		}
	}
	return db, nil
}

// createDatabase lays out a new TCC database at path. A file left behind by
// a failed attempt is removed.
func createDatabase(ctx context.Context, path string, s Schema) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", types.ErrIO, filepath.Dir(path), err)
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin create %s: %v", types.ErrIO, path, err)
	}
	for _, stmt := range s.createStatements() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: create %s: %v", types.ErrIO, path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit create %s: %v", types.ErrIO, path, err)
	}
	return nil
}

// chownUnder gives path, and every directory between home and path, to the
// owner of home. It returns that owner.
func chownUnder(home, path string) (uid, gid int, err error) {
	var st unix.Stat_t
	if err := unix.Stat(home, &st); err != nil {
		return 0, 0, fmt.Errorf("%w: stat %s: %v", types.ErrIO, home, err)
	}
	uid, gid = int(st.Uid), int(st.Gid)
	prefix := filepath.Clean(home) + string(filepath.Separator)
	for p := filepath.Clean(path); strings.HasPrefix(p, prefix); p = filepath.Dir(p) {
		if err := os.Lchown(p, uid, gid); err != nil {
			return 0, 0, fmt.Errorf("%w: chown %s: %v", types.ErrIO, p, err)
		}
	}
	return uid, gid, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func scanRecord(row *sql.Row, s Schema) (*Record, error) {
	var (
		r        Record
		ct       int
		allowed  int
		csreq    []byte
		policyID sql.NullInt64
	)
	dest := []any{&r.Service, &r.Client, &ct, &allowed, &r.PromptCount}
	if s.CSReq {
		dest = append(dest, &csreq)
	}
	if s.Policies {
		dest = append(dest, &policyID)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.ClientType = ClientType(ct)
	r.Allowed = allowed != 0
	r.CSReq = csreq
	if policyID.Valid {
		id := policyID.Int64
		r.PolicyID = &id
	}
	return &r, nil
}
