// Package services is the fixed registry of privacy services psm can edit.
package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/privacyservices/psm/pkg/types"
)

type Scope string

const (
	// ScopeRoot services live in the system-wide TCC database.
	ScopeRoot Scope = "root"
	// ScopeLocal services live in each user's own TCC database.
	ScopeLocal Scope = "local"
)

type Kind string

const (
	KindTCC      Kind = "tcc"
	KindLocation Kind = "location"
)

var (
	ErrUnknownService       = fmt.Errorf("%w: unknown service", types.ErrLookup)
	ErrUnsupportedOnVersion = fmt.Errorf("%w: service not available on this version of macOS", types.ErrVersion)
)

// Descriptor describes one privacy service.
type Descriptor struct {
	Name       string
	Identifier string
	Scope      Scope
	// MinVersion is the first Darwin major version that has the service.
	MinVersion int
	Kind       Kind
}

func (d Descriptor) Supported(darwinMajor int) bool { return darwinMajor >= d.MinVersion }

var registry = map[string]Descriptor{
	"accessibility": {Name: "accessibility", Identifier: "kTCCServiceAccessibility", Scope: ScopeRoot, MinVersion: 13, Kind: KindTCC},
	"contacts":      {Name: "contacts", Identifier: "kTCCServiceAddressBook", Scope: ScopeLocal, MinVersion: 12, Kind: KindTCC},
	"icloud":        {Name: "icloud", Identifier: "kTCCServiceUbiquity", Scope: ScopeLocal, MinVersion: 12, Kind: KindTCC},
	"calendar":      {Name: "calendar", Identifier: "kTCCServiceCalendar", Scope: ScopeLocal, MinVersion: 12, Kind: KindTCC},
	"reminders":     {Name: "reminders", Identifier: "kTCCServiceReminders", Scope: ScopeLocal, MinVersion: 12, Kind: KindTCC},
	"location":      {Name: "location", Identifier: "com.apple.locationd", Scope: ScopeRoot, MinVersion: 10, Kind: KindLocation},
}

// Lookup finds a service by name, ignoring case.
func Lookup(name string) (Descriptor, error) {
	d, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return d, nil
}

// Resolve is Lookup plus a check that the service exists on darwinMajor.
func Resolve(name string, darwinMajor int) (Descriptor, error) {
	d, err := Lookup(name)
	if err != nil {
		return Descriptor{}, err
	}
	if !d.Supported(darwinMajor) {
		return Descriptor{}, fmt.Errorf("%w: %s requires Darwin %d, running %d", ErrUnsupportedOnVersion, d.Name, d.MinVersion, darwinMajor)
	}
	return d, nil
}

// Names returns the registered service names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
