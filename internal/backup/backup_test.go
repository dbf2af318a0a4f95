package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/toolguard/internal/backup/providers"
	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

type fakeServices struct {
	defs      map[string]svcquery.Definition
	fail      error
	installed []svcquery.Definition
}

func (f *fakeServices) Definition(_ context.Context, name string) (svcquery.Definition, error) {
	if f.fail != nil {
		return svcquery.Definition{}, f.fail
	}
	def, ok := f.defs[name]
	if !ok {
		return svcquery.Definition{}, svcquery.ErrNotFound
	}
	return def, nil
}

func (f *fakeServices) Install(_ context.Context, def svcquery.Definition) error {
	f.installed = append(f.installed, def)
	return nil
}

type fixture struct {
	home     string
	config   string
	stateDir string
	exe      string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	home := t.TempDir()
	f := fixture{
		home:     home,
		config:   filepath.Join(home, ".openclaw.json"),
		stateDir: filepath.Join(home, ".openclaw"),
		exe:      filepath.Join(home, "bin", "openclaw"),
	}
	require.NoError(t, os.WriteFile(f.config, []byte(`{"token":"abc"}`), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(f.stateDir, "sessions"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(f.stateDir, "state.db"), []byte("sqlite bytes \x00\x01"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(f.stateDir, "sessions", "a.json"), []byte(`[1,2,3]`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(f.exe), 0o755))
	require.NoError(t, os.WriteFile(f.exe, []byte("#!/bin/sh\n"), 0o755))
	return f
}

func readAll(t *testing.T, paths ...string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, p := range paths {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		out[p] = string(b)
	}
	return out
}

func TestRoundTripIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	files := []string{f.config, filepath.Join(f.stateDir, "state.db"), filepath.Join(f.stateDir, "sessions", "a.json")}
	before := readAll(t, files...)

	m := NewManager(Options{})
	man, err := m.CreateBackup(ctx, []Target{
		{Kind: KindFile, Location: f.exe, Executable: true},
		{Kind: KindFile, Location: f.config},
		{Kind: KindDirectory, Location: f.stateDir},
	}, t.TempDir())
	require.NoError(t, err)
	require.True(t, man.Complete)
	require.Len(t, man.Items, 2)
	assert.Equal(t, KindDirectory, man.Items[1].Kind)
	assert.Equal(t, 2, man.Items[1].Files)

	require.NoError(t, os.Remove(f.config))
	require.NoError(t, os.RemoveAll(f.stateDir))

	loaded, err := LoadManifest(man.Dir())
	require.NoError(t, err)
	res := Restore(ctx, loaded, RestoreOptions{})
	require.NoError(t, res.Err())
	assert.Len(t, res.Restored, 2)
	assert.Equal(t, []string{f.exe}, res.NotRestorable)

	assert.Equal(t, before, readAll(t, files...))
}

func TestExecutablesAreExcluded(t *testing.T) {
	f := newFixture(t)
	man, err := NewManager(Options{}).CreateBackup(context.Background(),
		[]Target{{Kind: KindFile, Location: f.exe, Executable: true}}, t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, man.Items)
	require.Len(t, man.Excluded, 1)
	assert.True(t, man.Excluded[0].Executable)
	assert.Equal(t, []string{f.exe}, man.ExcludedExecutables())
	_, statErr := os.Stat(filepath.Join(man.Dir(), filesDir, mirrorPath(f.exe)))
	assert.True(t, os.IsNotExist(statErr), "executable must not be copied")
}

func TestUnwritableRootFailsBeforeCopying(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	man, err := NewManager(Options{}).CreateBackup(context.Background(),
		[]Target{{Kind: KindFile, Location: f.config}}, filepath.Join(blocker, "backups"))

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Nil(t, man)
}

func TestRootInsideTargetIsRejected(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		target Target
		root   string
	}{
		"under directory":    {Target{Kind: KindDirectory, Location: f.stateDir}, filepath.Join(f.stateDir, "bak")},
		"equal to directory": {Target{Kind: KindDirectory, Location: f.stateDir}, f.stateDir},
		"under file":         {Target{Kind: KindFile, Location: f.config}, filepath.Join(f.config, "bak")},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			man, err := NewManager(Options{}).CreateBackup(context.Background(), []Target{tc.target}, tc.root)
			var bErr *Error
			require.ErrorAs(t, err, &bErr)
			assert.ErrorIs(t, err, ErrRootInsideTarget)
			assert.Nil(t, man)
		})
	}

	_, statErr := os.Stat(filepath.Join(f.stateDir, "bak"))
	assert.True(t, os.IsNotExist(statErr), "nothing may be created inside the target")
}

func TestSiblingRootIsAccepted(t *testing.T) {
	f := newFixture(t)
	man, err := NewManager(Options{}).CreateBackup(context.Background(),
		[]Target{{Kind: KindDirectory, Location: f.stateDir}}, f.stateDir+"-backups")
	require.NoError(t, err)
	assert.True(t, man.Complete)
}

func TestPartialManifestSurvivesFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svcs := &fakeServices{fail: errors.New("systemctl hung")}

	man, err := NewManager(Options{Services: svcs}).CreateBackup(ctx, []Target{
		{Kind: KindFile, Location: f.config},
		{Kind: KindServiceDefinition, Location: "openclaw-gateway"},
		{Kind: KindDirectory, Location: f.stateDir},
	}, t.TempDir())

	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	require.NotNil(t, bErr.Manifest)
	assert.Equal(t, "openclaw-gateway", bErr.Location)

	onDisk, loadErr := LoadManifest(man.Dir())
	require.NoError(t, loadErr)
	assert.False(t, onDisk.Complete)
	require.Len(t, onDisk.Items, 1)
	assert.Equal(t, f.config, onDisk.Items[0].Original)

	require.NoError(t, os.Remove(f.config))
	res := Restore(ctx, onDisk, RestoreOptions{})
	require.NoError(t, res.Err())
	assert.FileExists(t, f.config)
}

func TestVanishedTargetIsSkipped(t *testing.T) {
	f := newFixture(t)
	man, err := NewManager(Options{Services: &fakeServices{}}).CreateBackup(context.Background(), []Target{
		{Kind: KindFile, Location: filepath.Join(f.home, "gone.json")},
		{Kind: KindServiceDefinition, Location: "not-registered"},
		{Kind: KindFile, Location: f.config},
	}, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, man.Items, 1)
	assert.Len(t, man.Excluded, 2)
}

func TestServiceDefinitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	def := svcquery.Definition{
		Name:      "openclaw-gateway",
		Manager:   svcquery.ManagerSystemd,
		UnitPath:  "/etc/systemd/system/openclaw-gateway.service",
		StartType: "enabled",
		Unit:      "[Service]\nExecStart=/usr/local/bin/openclaw gateway\n",
	}
	svcs := &fakeServices{defs: map[string]svcquery.Definition{def.Name: def}}

	man, err := NewManager(Options{Services: svcs}).CreateBackup(ctx,
		[]Target{{Kind: KindServiceDefinition, Location: def.Name}}, t.TempDir())
	require.NoError(t, err)
	require.Len(t, man.Items, 1)
	assert.Equal(t, "services/openclaw-gateway.yaml", man.Items[0].Backup)

	res := Restore(ctx, man, RestoreOptions{Services: svcs})
	require.NoError(t, res.Err())
	require.Len(t, svcs.installed, 1)
	assert.Equal(t, def, svcs.installed[0])
}

func TestRestoreContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	man, err := NewManager(Options{}).CreateBackup(ctx, []Target{
		{Kind: KindFile, Location: f.config},
		{Kind: KindDirectory, Location: f.stateDir},
	}, t.TempDir())
	require.NoError(t, err)

	// Break the first item's backup copy.
	require.NoError(t, os.Remove(man.Path(man.Items[0])))
	require.NoError(t, os.RemoveAll(f.stateDir))

	res := Restore(ctx, man, RestoreOptions{})
	require.Len(t, res.Failed, 1)
	assert.Equal(t, f.config, res.Failed[0].Item.Original)
	require.Len(t, res.Restored, 1)
	assert.DirExists(t, f.stateDir)
}

func TestRebuildFromDisk(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mirror paths differ on windows")
	}
	f := newFixture(t)
	man, err := NewManager(Options{}).CreateBackup(context.Background(), []Target{
		{Kind: KindFile, Location: f.config},
		{Kind: KindDirectory, Location: f.stateDir},
	}, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(man.Dir(), ManifestFile)))

	rebuilt, err := Rebuild(man.Dir())
	require.NoError(t, err)

	var originals []string
	for _, it := range rebuilt.Items {
		assert.Equal(t, KindFile, it.Kind)
		originals = append(originals, it.Original)
	}
	assert.ElementsMatch(t, []string{
		f.config,
		filepath.Join(f.stateDir, "state.db"),
		filepath.Join(f.stateDir, "sessions", "a.json"),
	}, originals)
}

func TestOffloadAndRetrieve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	remote := providers.NewLocalProvider(t.TempDir())

	man, err := NewManager(Options{Provider: remote, OffloadPrefix: "laptop-42"}).CreateBackup(ctx,
		[]Target{{Kind: KindFile, Location: f.config}}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "laptop-42/"+man.ID, man.Offloaded)

	fetched, err := Retrieve(ctx, remote, "laptop-42", man.ID, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, man.ID, fetched.ID)
	require.Len(t, fetched.Items, 1)

	got, err := os.ReadFile(fetched.Path(fetched.Items[0]))
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, string(got))
}

func TestMirrorPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		assert.Equal(t, "C/Users/u/.openclaw", mirrorPath(`C:\Users\u\.openclaw`))
		return
	}
	assert.Equal(t, "home/u/.openclaw", mirrorPath("/home/u/.openclaw"))
	assert.Equal(t, "/home/u/.openclaw", unmirror(mirrorPath("/home/u/.openclaw")))
}

func TestRegFileKey(t *testing.T) {
	text := "Windows Registry Editor Version 5.00\r\n\r\n[HKEY_CURRENT_USER\\Software\\OpenClaw]\r\n\"a\"=\"b\"\r\n"
	assert.Equal(t, `HKEY_CURRENT_USER\Software\OpenClaw`, regFileKey([]byte(text)))

	utf16le := []byte{0xFF, 0xFE}
	for _, r := range text {
		utf16le = append(utf16le, byte(r), 0)
	}
	assert.Equal(t, `HKEY_CURRENT_USER\Software\OpenClaw`, regFileKey(utf16le))
}
