package tcc

import (
	"fmt"
	"strings"

	"github.com/privacyservices/psm/pkg/types"
)

// MinDarwinVersion is the first Darwin release with TCC databases.
const MinDarwinVersion = 12

var ErrUnsupportedOSVersion = fmt.Errorf("%w: no TCC functionality on this version of macOS", types.ErrVersion)

// ClientType is the access.client_type column.
type ClientType int

const (
	ClientBundle ClientType = 0
	ClientPath   ClientType = 1
)

// Schema is one generation of the TCC database layout. The OS validates
// admin.version against the table layout, so the two must change together.
type Schema struct {
	// FirstDarwin is the lowest Darwin major version using this layout.
	FirstDarwin  int
	AdminVersion int
	// AccessColumns lists the access table columns in table order.
	AccessColumns []string
	CSReq         bool
	Policies      bool
}

var baseAccessColumns = []string{"service", "client", "client_type", "allowed", "prompt_count"}

// schemas is ordered newest first; SchemaFor takes the first match.
var schemas = []Schema{
	{
		FirstDarwin:   15,
		AdminVersion:  8,
		AccessColumns: append(append([]string{}, baseAccessColumns...), "csreq", "policy_id"),
		CSReq:         true,
		Policies:      true,
	},
	{
		FirstDarwin:   13,
		AdminVersion:  7,
		AccessColumns: append(append([]string{}, baseAccessColumns...), "csreq"),
		CSReq:         true,
	},
	{
		FirstDarwin:   12,
		AdminVersion:  7,
		AccessColumns: baseAccessColumns,
	},
}

// SchemaFor returns the layout the OS expects on the given Darwin version.
func SchemaFor(darwinMajor int) (Schema, error) {
	for _, s := range schemas {
		if darwinMajor >= s.FirstDarwin {
			return s, nil
		}
	}
	return Schema{}, fmt.Errorf("%w: darwin %d (need %d or later)", ErrUnsupportedOSVersion, darwinMajor, MinDarwinVersion)
}

const accessKeyConstraint = "CONSTRAINT key PRIMARY KEY (service, client, client_type)"

const policyForeignKey = "FOREIGN KEY (policy_id) REFERENCES policies(id) ON DELETE CASCADE ON UPDATE CASCADE"

func (s Schema) createStatements() []string {
	stmts := []string{
		`CREATE TABLE admin (key TEXT PRIMARY KEY NOT NULL, value INTEGER NOT NULL)`,
		fmt.Sprintf(`INSERT INTO admin VALUES ('version', %d)`, s.AdminVersion),
	}
	if s.Policies {
		stmts = append(stmts,
			`CREATE TABLE policies (id INTEGER NOT NULL PRIMARY KEY, bundle_id TEXT NOT NULL, uuid TEXT NOT NULL, display TEXT NOT NULL, UNIQUE (bundle_id, uuid))`,
			`CREATE TABLE active_policy (client TEXT NOT NULL, client_type INTEGER NOT NULL, policy_id INTEGER NOT NULL, PRIMARY KEY (client, client_type), `+policyForeignKey+`)`,
		)
	}
	stmts = append(stmts, s.accessTable(),
		`CREATE TABLE access_times (service TEXT NOT NULL, client TEXT NOT NULL, client_type INTEGER NOT NULL, last_used_time INTEGER NOT NULL, `+accessKeyConstraint+`)`,
		`CREATE TABLE access_overrides (service TEXT PRIMARY KEY NOT NULL)`,
	)
	if s.Policies {
		stmts = append(stmts, `CREATE INDEX active_policy_id ON active_policy(policy_id)`)
	}
	return stmts
}

func (s Schema) accessTable() string {
	cols := []string{
		"service TEXT NOT NULL",
		"client TEXT NOT NULL",
		"client_type INTEGER NOT NULL",
		"allowed INTEGER NOT NULL",
		"prompt_count INTEGER NOT NULL",
	}
	if s.CSReq {
		cols = append(cols, "csreq BLOB")
	}
	if s.Policies {
		cols = append(cols, "policy_id INTEGER")
	}
	cols = append(cols, accessKeyConstraint)
	if s.Policies {
		cols = append(cols, policyForeignKey)
	}
	return "CREATE TABLE access (" + strings.Join(cols, ", ") + ")"
}

// insertStatement upserts one access row; see insertArgs for the values.
func (s Schema) insertStatement() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(s.AccessColumns)), ", ")
	return "INSERT OR REPLACE INTO access (" + strings.Join(s.AccessColumns, ", ") + ") VALUES (" + marks + ")"
}

// insertArgs grants access: allowed=1, prompt_count=0, optional columns NULL.
func (s Schema) insertArgs(service, client string, ct ClientType) []any {
	args := []any{service, client, int(ct), 1, 0}
	for range s.AccessColumns[len(baseAccessColumns):] {
		args = append(args, nil)
	}
	return args
}

func (s Schema) selectStatement() string {
	return "SELECT " + strings.Join(s.AccessColumns, ", ") + " FROM access WHERE service = ? AND client = ? AND client_type = ?"
}

// removeStatement matches on service and client only, so rows for the same
// client string under either client_type are removed together.
const removeStatement = "DELETE FROM access WHERE service = ? AND client = ?"

// disableStatement keeps the row and its other columns. prompt_count must be
// 1 or the OS prompts the user again.
const disableStatement = "UPDATE access SET allowed = 0, prompt_count = 1 WHERE service = ? AND client = ? AND client_type = ?"
