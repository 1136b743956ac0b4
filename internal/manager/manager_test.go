package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privacyservices/psm/internal/bundle/bundletest"
	"github.com/privacyservices/psm/internal/location"
	"github.com/privacyservices/psm/internal/platform/platformtest"
	"github.com/privacyservices/psm/internal/services"
	"github.com/privacyservices/psm/internal/tcc"
	"github.com/privacyservices/psm/pkg/types"
)

type recordingEditor struct {
	calls  []string
	failOn string
}

func (r *recordingEditor) Service() string { return "contacts" }

func (r *recordingEditor) do(op, target string) error {
	r.calls = append(r.calls, op+":"+target)
	if target == r.failOn {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingEditor) Insert(_ context.Context, t string) error  { return r.do("insert", t) }
func (r *recordingEditor) Remove(_ context.Context, t string) error  { return r.do("remove", t) }
func (r *recordingEditor) Disable(_ context.Context, t string) error { return r.do("disable", t) }
func (r *recordingEditor) Close(context.Context) error               { return nil }

func TestApplyDispatch(t *testing.T) {
	tests := []struct {
		action types.Action
		op     string
	}{
		{types.ActionAdd, "insert"},
		{types.ActionEnable, "insert"},
		{types.ActionRemove, "remove"},
		{types.ActionDisable, "disable"},
	}
	for _, tt := range tests {
		ed := &recordingEditor{}
		report := Apply(context.Background(), ed, tt.action, []string{"A"}, nil)
		assert.NoError(t, report.Err())
		assert.Equal(t, []string{tt.op + ":A"}, ed.calls)
	}
}

func TestApplyContinuesPastFailure(t *testing.T) {
	ed := &recordingEditor{failOn: "B"}
	report := Apply(context.Background(), ed, types.ActionAdd, []string{"A", "B", "C"}, nil)

	assert.Equal(t, []string{"insert:A", "insert:B", "insert:C"}, ed.calls)
	require.Len(t, report.Results, 3)
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "B", failed[0].Target)
	assert.Equal(t, "contacts", failed[0].Service)
	assert.ErrorContains(t, report.Err(), "B: boom")
}

func TestApplyNoTargets(t *testing.T) {
	ed := &recordingEditor{}
	report := Apply(context.Background(), ed, types.ActionDisable, nil, nil)
	assert.Equal(t, []string{"disable:"}, ed.calls)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].OK())
}

func TestNewEditorUnknownService(t *testing.T) {
	_, err := NewEditor(context.Background(), "camera", Options{System: &platformtest.System{Major: 15, User: "alice"}})
	assert.ErrorIs(t, err, services.ErrUnknownService)
}

func TestNewEditorTCC(t *testing.T) {
	dir := t.TempDir()
	home := filepath.Join(dir, "alice")
	require.NoError(t, os.MkdirAll(home, 0o755))
	sys := &platformtest.System{UID: 501, Major: 14, User: "alice", Homes: map[string]string{"alice": home}}

	ed, err := NewEditor(context.Background(), "Calendar", Options{
		System:   sys,
		Resolver: bundletest.Apps,
		TCCPaths: tcc.Paths{RootDB: filepath.Join(dir, "root", "TCC.db")},
	})
	require.NoError(t, err)
	assert.Equal(t, "calendar", ed.Service())

	report := Apply(context.Background(), ed, types.ActionAdd, []string{"Safari", "Missing", ""}, nil)
	require.NoError(t, ed.Close(context.Background()))

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].OK())
	assert.False(t, report.Results[1].OK())
	assert.True(t, report.Results[2].OK(), "empty target is ignored for TCC")
	assert.FileExists(t, filepath.Join(home, "Library", "Application Support", "com.apple.TCC", "TCC.db"))
}

func TestNewEditorLocation(t *testing.T) {
	dir := t.TempDir()
	runner := &platformtest.Runner{}
	sys := &platformtest.System{UID: 0, Major: 15, User: "root"}

	ed, err := NewEditor(context.Background(), "location", Options{
		System:   sys,
		Runner:   runner,
		Resolver: bundletest.Apps,
		LocationPaths: location.Paths{
			StoreDir:     dir,
			ClientsPlist: filepath.Join(dir, "clients.plist"),
			ByHostDir:    filepath.Join(dir, "ByHost"),
		},
		Tools: location.Tools{Launchctl: "launchctl", Chown: "chown"},
	})
	require.NoError(t, err)
	assert.Equal(t, "location", ed.Service())

	report := Apply(context.Background(), ed, types.ActionEnable, []string{"Firefox"}, nil)
	require.NoError(t, report.Err())
	require.NoError(t, ed.Close(context.Background()))

	cmds := runner.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "launchctl load /System/Library/LaunchDaemons/com.apple.locationd.plist", cmds[len(cmds)-1])
}

func TestNewEditorLocationVersionGate(t *testing.T) {
	sys := &platformtest.System{UID: 0, Major: 9, User: "root"}
	runner := &platformtest.Runner{}
	_, err := NewEditor(context.Background(), "location", Options{System: sys, Runner: runner})
	assert.ErrorIs(t, err, services.ErrUnsupportedOnVersion)
	assert.Empty(t, runner.Calls)
}
