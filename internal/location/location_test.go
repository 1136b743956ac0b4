package location

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privacyservices/psm/internal/bundle"
	"github.com/privacyservices/psm/internal/bundle/bundletest"
	"github.com/privacyservices/psm/internal/platform/platformtest"
	"github.com/privacyservices/psm/internal/plist"
	"github.com/privacyservices/psm/pkg/types"
)

const hwUUID = "6A1E3F2C-1B2D-4E5F-8A9B-0C1D2E3F4A5B"

const ioregOutput = `+-o J314sAP  <class IOPlatformExpertDevice, id 0x100000220, registered, matched, active, busy 0 (0 ms), retain 31>
    {
      "IOPlatformSerialNumber" = "C02XXXXXXX"
      "IOPlatformUUID" = "` + hwUUID + `"
      "model" = <"MacBookPro18,3">
    }
`

var testTools = Tools{
	Launchctl: "launchctl",
	Chown:     "chown",
	Ioreg:     "ioreg",
	Defaults:  "defaults",
	Codesign:  "codesign",
}

type fixture struct {
	runner *platformtest.Runner
	sys    *platformtest.System
	paths  Paths
	// failLoad makes `launchctl load` fail.
	failLoad bool
	unsigned bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sys: &platformtest.System{UID: 0, Major: 15, User: "root"},
		paths: Paths{
			StoreDir:     dir,
			ClientsPlist: filepath.Join(dir, "clients.plist"),
			ByHostDir:    filepath.Join(dir, "Library", "Preferences", "ByHost"),
			LaunchdPlist: "/System/Library/LaunchDaemons/com.apple.locationd.plist",
		},
	}
	require.NoError(t, os.MkdirAll(f.paths.ByHostDir, 0o755))
	f.runner = &platformtest.Runner{Handler: func(name string, args []string) ([]byte, error) {
		switch name {
		case "ioreg":
			return []byte(ioregOutput), nil
		case "codesign":
			if f.unsigned {
				out := args[len(args)-1] + ": code object is not signed at all"
				return []byte(out), platformtest.Fail(name, args, out)
			}
			return []byte("Executable=" + args[len(args)-1] + "\nCDHash=ABC123DEF\n"), nil
		case "launchctl":
			if f.failLoad && args[0] == "load" {
				return []byte("load failed"), platformtest.Fail(name, args, "load failed")
			}
		}
		return nil, nil
	}}
	return f
}

func (f *fixture) open(t *testing.T, override types.OverrideMode) (*Editor, error) {
	t.Helper()
	return Open(context.Background(), Options{
		Override: override,
		System:   f.sys,
		Runner:   f.runner,
		Resolver: bundletest.Apps,
		Paths:    f.paths,
		Tools:    testTools,
	})
}

func (f *fixture) stored(t *testing.T, key string) map[string]any {
	t.Helper()
	all, err := plist.ReadDict(f.paths.ClientsPlist)
	require.NoError(t, err)
	rec, _ := all[key].(map[string]any)
	return rec
}

func TestOpenRequiresRoot(t *testing.T) {
	f := newFixture(t)
	f.sys.UID = 501
	_, err := f.open(t, types.OverrideNone)
	require.ErrorIs(t, err, ErrNotRoot)
	assert.ErrorIs(t, err, types.ErrPrivilege)
	assert.Empty(t, f.runner.Calls, "daemon must not be touched")
}

func TestOpenRejectsAppOverride(t *testing.T) {
	f := newFixture(t)
	_, err := f.open(t, types.OverrideApp)
	require.ErrorIs(t, err, ErrUnsupportedOverride)
	assert.Empty(t, f.runner.Calls)
}

func TestDaemonLifecycle(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	require.NoError(t, ed.Insert(context.Background(), "Safari"))
	require.NoError(t, ed.Close(context.Background()))

	assert.Equal(t, []string{
		"chown -R _locationd:_locationd " + f.paths.StoreDir,
		"launchctl unload " + f.paths.LaunchdPlist,
		"launchctl load " + f.paths.LaunchdPlist,
	}, f.runner.Commands())
}

func TestOpenResumesOnCorruptStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.paths.ClientsPlist, []byte("bplist00garbage"), 0o600))

	_, err := f.open(t, types.OverrideNone)
	require.Error(t, err)
	cmds := f.runner.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "launchctl load "+f.paths.LaunchdPlist, cmds[len(cmds)-1])
}

func TestCloseReportsResumeFailure(t *testing.T) {
	f := newFixture(t)
	f.failLoad = true
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)

	err = ed.Close(context.Background())
	require.ErrorIs(t, err, ErrDaemon)
	assert.ErrorIs(t, err, types.ErrExternalTool)
}

func TestInsertRecord(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	require.NoError(t, ed.Insert(context.Background(), "Safari"))

	rec := f.stored(t, "com.apple.Safari")
	require.NotNil(t, rec)
	assert.Equal(t, true, rec["Authorized"])
	assert.Equal(t, "com.apple.Safari", rec["BundleID"])
	assert.Equal(t, "com.apple.Safari", rec["BundleId"])
	assert.Equal(t, "/Applications/Safari.app", rec["BundlePath"])
	assert.Equal(t, "/Applications/Safari.app/Contents/MacOS/Safari", rec["Executable"])
	assert.Equal(t, "/Applications/Safari.app/Contents/MacOS/Safari", rec["Registered"])
	assert.EqualValues(t, 0, rec["Hide"])
	assert.Equal(t, false, rec["Whitelisted"])
	assert.Equal(t, `identifier "com.apple.Safari" and anchor apple`, rec["Requirement"])
}

func TestInsertWithoutAnchorFails(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	err = ed.Insert(context.Background(), "Solo")
	require.ErrorIs(t, err, ErrInsertFailed)
}

func TestInsertUnknownApp(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	err = ed.Insert(context.Background(), "Nope")
	require.ErrorIs(t, err, ErrInsertFailed)
	assert.ErrorIs(t, err, bundle.ErrAppNotFound)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ed.Insert(ctx, "Safari"))
	require.NoError(t, ed.Insert(ctx, "Firefox"))
	require.NoError(t, ed.Remove(ctx, "Safari"))

	assert.Nil(t, f.stored(t, "com.apple.Safari"))
	assert.NotNil(t, f.stored(t, "org.mozilla.firefox"))

	require.NoError(t, ed.Remove(ctx, "Safari"))
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ed.Insert(ctx, "Safari"))
	require.NoError(t, ed.Disable(ctx, "Safari"))
	rec := f.stored(t, "com.apple.Safari")
	assert.Equal(t, false, rec["Authorized"])
	assert.Equal(t, `identifier "com.apple.Safari" and anchor apple`, rec["Requirement"])

	// Absent records are created, then denied.
	require.NoError(t, ed.Disable(ctx, "Firefox"))
	all, err := plist.ReadDict(f.paths.ClientsPlist)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	rec = f.stored(t, "org.mozilla.firefox")
	require.NotNil(t, rec)
	assert.Equal(t, false, rec["Authorized"])
	assert.Equal(t, "org.mozilla.firefox", rec["BundleID"])
}

func TestBinaryOverride(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideBin)
	require.NoError(t, err)
	require.NoError(t, ed.Insert(context.Background(), "/usr/local/bin/tool"))

	rec := f.stored(t, "/usr/local/bin/tool")
	require.NotNil(t, rec)
	assert.Equal(t, true, rec["Authorized"])
	assert.Equal(t, "/usr/local/bin/tool", rec["Executable"])
	assert.Equal(t, `cdhash H"abc123def"`, rec["Requirement"])
	assert.NotContains(t, rec, "BundleID")
	assert.Contains(t, f.runner.Commands(), "codesign -d -vvv /usr/local/bin/tool")
}

func TestBinaryOverrideUnsigned(t *testing.T) {
	f := newFixture(t)
	f.unsigned = true
	ed, err := f.open(t, types.OverrideBin)
	require.NoError(t, err)
	require.NoError(t, ed.Insert(context.Background(), "/opt/tool"))

	rec := f.stored(t, "/opt/tool")
	require.NotNil(t, rec)
	assert.NotContains(t, rec, "Requirement")
}

func TestDisableAbsentCreatesOneRecord(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	require.NoError(t, ed.Disable(context.Background(), "Safari"))

	all, err := plist.ReadDict(f.paths.ClientsPlist)
	require.NoError(t, err)
	require.Len(t, all, 1)
	rec := f.stored(t, "com.apple.Safari")
	assert.Equal(t, false, rec["Authorized"])
}

func TestReinsertReplacesRecord(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideBin)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ed.Insert(ctx, "/opt/tool"))
	require.Equal(t, `cdhash H"abc123def"`, f.stored(t, "/opt/tool")["Requirement"])

	f.unsigned = true
	require.NoError(t, ed.Insert(ctx, "/opt/tool"))
	rec := f.stored(t, "/opt/tool")
	assert.NotContains(t, rec, "Requirement")
	assert.Equal(t, true, rec["Authorized"])
}

func TestBinaryOverrideRelativePath(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideBin)
	require.NoError(t, err)
	assert.ErrorIs(t, ed.Insert(context.Background(), "tool"), ErrInsertFailed)
	assert.ErrorIs(t, ed.Remove(context.Background(), "tool"), ErrRemoveFailed)
	assert.ErrorIs(t, ed.Disable(context.Background(), "tool"), ErrDisableFailed)
}

func writePref(t *testing.T, dir, suffix string) string {
	t.Helper()
	p := filepath.Join(dir, "com.apple.locationd."+suffix+".plist")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	return p
}

func defaultsWrites(r *platformtest.Runner) []string {
	var out []string
	for _, c := range r.Commands() {
		if strings.HasPrefix(c, "defaults ") {
			out = append(out, c)
		}
	}
	return out
}

func TestSetGlobalExactFile(t *testing.T) {
	f := newFixture(t)
	p := writePref(t, f.paths.ByHostDir, hwUUID)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ed.Insert(ctx, ""))
	require.NoError(t, ed.Remove(ctx, ""))
	require.NoError(t, ed.Disable(ctx, " "))

	domain := strings.TrimSuffix(p, ".plist")
	assert.Equal(t, []string{
		"defaults write " + domain + " LocationServicesEnabled -int 1",
		"defaults write " + domain + " LocationServicesEnabled -int 0",
		"defaults write " + domain + " LocationServicesEnabled -int 0",
	}, defaultsWrites(f.runner))
}

func TestSetGlobalNoPreferenceFile(t *testing.T) {
	f := newFixture(t)
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	err = ed.SetGlobal(context.Background(), true)
	require.ErrorIs(t, err, ErrNoGlobalPreferenceFile)
	assert.Empty(t, defaultsWrites(f.runner))
}

func TestSetGlobalDefaultsFailure(t *testing.T) {
	f := newFixture(t)
	writePref(t, f.paths.ByHostDir, hwUUID)
	f.runner.Handler = func(name string, args []string) ([]byte, error) {
		switch name {
		case "ioreg":
			return []byte(ioregOutput), nil
		case "defaults":
			return nil, platformtest.Fail(name, args, "")
		}
		return nil, nil
	}
	ed, err := f.open(t, types.OverrideNone)
	require.NoError(t, err)
	err = ed.SetGlobal(context.Background(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExternalTool))
}

func TestFindPreferenceFile(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
		err   bool
	}{
		{name: "exact", files: []string{hwUUID, "OTHER"}, want: hwUUID},
		{name: "single candidate", files: []string{"SOMETHING"}, want: "SOMETHING"},
		{name: "case-insensitive", files: []string{"X", strings.ToLower(hwUUID)}, want: strings.ToLower(hwUUID)},
		{name: "uuid segment", files: []string{"X", "0c1d2e3f4a5b"}, want: "0c1d2e3f4a5b"},
		{name: "nested suffix ignored", files: []string{"A.B"}, err: true},
		{name: "ambiguous", files: []string{"X", "Y"}, err: true},
		{name: "none", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, s := range tt.files {
				writePref(t, dir, s)
			}
			require.NoError(t, os.WriteFile(filepath.Join(dir, "com.apple.other.plist"), nil, 0o644))

			got, err := FindPreferenceFile(dir, hwUUID)
			if tt.err {
				require.ErrorIs(t, err, ErrNoGlobalPreferenceFile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, "com.apple.locationd."+tt.want+".plist"), got)
		})
	}
}

func TestRequirements(t *testing.T) {
	req, err := BundleRequirement("com.apple.Safari")
	require.NoError(t, err)
	assert.Equal(t, `identifier "com.apple.Safari" and anchor apple`, req)

	req, err = BundleRequirement("org.mozilla.firefox")
	require.NoError(t, err)
	assert.Equal(t, `identifier "org.mozilla.firefox" and anchor mozilla`, req)

	_, err = BundleRequirement("solo")
	assert.Error(t, err)

	assert.Equal(t, `cdhash H"deadbeef"`, CDHashRequirement("DEADBEEF"))
}
