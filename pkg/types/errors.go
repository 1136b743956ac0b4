package types

import "errors"

// Error categories. Package-level sentinels wrap one of these so callers can
// branch on the category with errors.Is without knowing every specific error.
var (
	ErrPrivilege    = errors.New("insufficient privilege")
	ErrVersion      = errors.New("unsupported os version")
	ErrLookup       = errors.New("lookup failed")
	ErrState        = errors.New("invalid state")
	ErrIO           = errors.New("write failed")
	ErrExternalTool = errors.New("external tool failed")
)

// Category returns the category sentinel err belongs to, or nil.
func Category(err error) error {
	for _, c := range []error{ErrPrivilege, ErrVersion, ErrLookup, ErrState, ErrIO, ErrExternalTool} {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}
