package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privacyservices/psm/pkg/types"
)

func TestLookup_CaseInsensitive(t *testing.T) {
	d, err := Lookup("AcCeSsIbILITy")
	require.NoError(t, err)
	assert.Equal(t, "kTCCServiceAccessibility", d.Identifier)
	assert.Equal(t, ScopeRoot, d.Scope)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("camera")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownService))
	assert.True(t, errors.Is(err, types.ErrLookup))
}

func TestResolve_VersionGate(t *testing.T) {
	_, err := Resolve("accessibility", 12)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedOnVersion))
	assert.True(t, errors.Is(err, types.ErrVersion))

	d, err := Resolve("accessibility", 13)
	require.NoError(t, err)
	assert.Equal(t, "accessibility", d.Name)
}

func TestRegistryContents(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		scope Scope
		kind  Kind
	}{
		{"accessibility", "kTCCServiceAccessibility", ScopeRoot, KindTCC},
		{"contacts", "kTCCServiceAddressBook", ScopeLocal, KindTCC},
		{"icloud", "kTCCServiceUbiquity", ScopeLocal, KindTCC},
		{"calendar", "kTCCServiceCalendar", ScopeLocal, KindTCC},
		{"reminders", "kTCCServiceReminders", ScopeLocal, KindTCC},
		{"location", "com.apple.locationd", ScopeRoot, KindLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.id, d.Identifier)
			assert.Equal(t, tt.scope, d.Scope)
			assert.Equal(t, tt.kind, d.Kind)
		})
	}
	assert.Len(t, Names(), len(tests))
	assert.Equal(t, "accessibility", Names()[0])
}
