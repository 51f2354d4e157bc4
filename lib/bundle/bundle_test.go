package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/paths"
	"github.com/stackport/stackport/lib/project"
	"github.com/stackport/stackport/lib/stack"
	"github.com/stackport/stackport/lib/volumes"
)

const testComposeFile = `services:
  app:
    image: example.com/flow/app:1.4
  db:
    image: postgres:16
volumes:
  app-data:
    name: app-data
  db-data:
    name: db-data
`

const testEnvFile = `STACK_DOMAIN=flow.example.com
POSTGRES_USER=stack
POSTGRES_PASSWORD=hunter2
STACK_ENCRYPTION_KEY=cafe0123cafe0123
`

type fakeStack struct {
	quiesced int
	resumed  int
	started  int
}

func (f *fakeStack) Quiesce(ctx context.Context) error { f.quiesced++; return nil }
func (f *fakeStack) Resume(ctx context.Context) error  { f.resumed++; return nil }
func (f *fakeStack) Up(ctx context.Context) error      { f.started++; return nil }

type fixture struct {
	cfg     *config.Config
	paths   *paths.Paths
	store   *volumes.DirStore
	stack   *fakeStack
	bundler *Bundler
}

// newFixture builds a full deployment on plain directories: project files,
// seeded volumes and a wired bundler.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	projectRoot := filepath.Join(t.TempDir(), "deploy")
	require.NoError(t, os.MkdirAll(projectRoot, 0755))

	cfg := config.Defaults(projectRoot)
	require.NoError(t, os.WriteFile(cfg.ComposeFile, []byte(testComposeFile), 0644))
	require.NoError(t, os.WriteFile(cfg.EnvFile, []byte(testEnvFile), 0600))

	loaded, err := config.Load(projectRoot)
	require.NoError(t, err)

	store := volumes.NewDirStore(t.TempDir())
	seedVolume(t, store, "app-data", map[string][]byte{"a.txt": []byte("hello")})
	seedVolume(t, store, "db-data", map[string][]byte{"b.bin": {0x01, 0x02}})

	return wire(t, loaded, store)
}

func wire(t *testing.T, cfg *config.Config, store *volumes.DirStore) *fixture {
	t.Helper()

	var names []string
	if cf, err := stack.ParseComposeFile(cfg.ComposeFile); err == nil {
		names = cf.VolumeNames(cfg.ProjectName)
	}

	tar := archive.TarGz{}
	fs := &fakeStack{}
	p := paths.New(cfg.DataDir)
	bundler := New(cfg, p, store,
		volumes.NewSnapshotter(store, tar),
		project.NewPackager(cfg, tar),
		fs, tar, names)

	return &fixture{cfg: cfg, paths: p, store: store, stack: fs, bundler: bundler}
}

func seedVolume(t *testing.T, store *volumes.DirStore, name string, files map[string][]byte) {
	t.Helper()
	ctx := context.Background()
	vol, err := store.Ensure(ctx, name)
	require.NoError(t, err)
	for file, content := range files {
		path := filepath.Join(vol.Mountpoint, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, content, 0644))
	}
}

func volumeFile(t *testing.T, store *volumes.DirStore, volume, file string) []byte {
	t.Helper()
	root, err := store.Root(context.Background(), volume)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, file))
	require.NoError(t, err)
	return data
}

func wipeVolume(t *testing.T, store *volumes.DirStore, name string) {
	t.Helper()
	root, err := store.Root(context.Background(), name)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))
}

func scratchEntries(t *testing.T, p *paths.Paths) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(p.ScratchRoot())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestAssembleRestore_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{})
	require.NoError(t, err)
	assert.FileExists(t, bundlePath)
	assert.Equal(t, 1, f.stack.quiesced)
	assert.Equal(t, 1, f.stack.resumed)

	// Delete both volumes, then restore into the same store.
	wipeVolume(t, f.store, "app-data")
	wipeVolume(t, f.store, "db-data")

	result, err := f.bundler.Restore(ctx, bundlePath, RestoreOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app-data", "db-data"}, result.VolumesRestored)

	assert.Equal(t, []byte("hello"), volumeFile(t, f.store, "app-data", "a.txt"))
	assert.Equal(t, []byte{0x01, 0x02}, volumeFile(t, f.store, "db-data", "b.bin"))
}

func TestAssemble_ScratchRemovedOnAllPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.bundler.Assemble(ctx, AssembleOptions{Name: "good"})
	require.NoError(t, err)
	assert.Empty(t, scratchEntries(t, f.paths), "scratch must be gone after success")

	// Break a volume so the next assemble fails mid-snapshot.
	wipeVolume(t, f.store, "db-data")
	_, err = f.bundler.Assemble(ctx, AssembleOptions{Name: "bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, volumes.ErrSnapshotFailed)
	assert.Empty(t, scratchEntries(t, f.paths), "scratch must be gone after failure too")
	assert.NoFileExists(t, f.paths.BundlePath("bad.tar.gz"), "no partial bundle may be emitted")

	// The stack is resumed even when assembly fails.
	assert.Equal(t, f.stack.quiesced, f.stack.resumed)
}

func TestAssemble_RefusesOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.bundler.Assemble(ctx, AssembleOptions{Name: "weekly"})
	require.NoError(t, err)
	assert.Equal(t, f.paths.BundlePath("weekly.tar.gz"), first)

	_, err = f.bundler.Assemble(ctx, AssembleOptions{Name: "weekly"})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrPrecondition)
}

func TestRestore_MissingSnapshotMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{Name: "complete"})
	require.NoError(t, err)

	broken := rebundleWithout(t, bundlePath, "db-data.tgz")

	wipeVolume(t, f.store, "app-data")
	wipeVolume(t, f.store, "db-data")

	_, err = f.bundler.Restore(ctx, broken, RestoreOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedBundle)

	// Detection precedes mutation: neither volume may have been recreated.
	for _, name := range []string{"app-data", "db-data"} {
		exists, err := f.store.Exists(ctx, name)
		require.NoError(t, err)
		assert.False(t, exists, name)
	}
}

func TestRestore_ScratchPreservedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{Name: "complete"})
	require.NoError(t, err)
	broken := rebundleWithout(t, bundlePath, "app-data.tgz")

	_, err = f.bundler.Restore(ctx, broken, RestoreOptions{})
	require.Error(t, err)
	assert.NotEmpty(t, scratchEntries(t, f.paths), "failed restore keeps scratch for forensics")

	// And a successful restore cleans up after itself.
	_, err = f.bundler.Restore(ctx, bundlePath, RestoreOptions{})
	require.NoError(t, err)

	remaining := scratchEntries(t, f.paths)
	assert.Len(t, remaining, 1, "only the preserved forensic scratch dir remains")
}

func TestRestore_ProjectNotClobberedByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{})
	require.NoError(t, err)

	// Operator has since edited the live compose file.
	edited := []byte(testComposeFile + "# local tweak\n")
	require.NoError(t, os.WriteFile(f.cfg.ComposeFile, edited, 0644))

	result, err := f.bundler.Restore(ctx, bundlePath, RestoreOptions{})
	require.NoError(t, err)
	assert.False(t, result.ProjectExtracted)
	assert.Len(t, result.Warnings, 1)

	got, err := os.ReadFile(f.cfg.ComposeFile)
	require.NoError(t, err)
	assert.Equal(t, edited, got, "live configuration must survive a default restore")
}

func TestRestore_ForceProjectOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.cfg.ComposeFile, []byte(testComposeFile+"# drift\n"), 0644))

	result, err := f.bundler.Restore(ctx, bundlePath, RestoreOptions{ForceProject: true})
	require.NoError(t, err)
	assert.True(t, result.ProjectExtracted)

	got, err := os.ReadFile(f.cfg.ComposeFile)
	require.NoError(t, err)
	assert.Equal(t, testComposeFile, string(got))
}

func TestRestore_RefusesEncryptionKeyChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{})
	require.NoError(t, err)

	// The live deployment now runs on a different key, and data has been
	// written under it. Overwriting either would strand the data.
	rotated := `STACK_DOMAIN=flow.example.com
POSTGRES_USER=stack
POSTGRES_PASSWORD=hunter2
STACK_ENCRYPTION_KEY=ffffffffffffffff
`
	require.NoError(t, os.WriteFile(f.cfg.EnvFile, []byte(rotated), 0600))
	seedVolume(t, f.store, "app-data", map[string][]byte{"a.txt": []byte("written under the rotated key")})

	_, err = f.bundler.Restore(ctx, bundlePath, RestoreOptions{ForceProject: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrPrecondition)

	// The refusal must come before replay: the volumes still hold the data
	// written under the rotated key, not the bundle's.
	assert.Equal(t, []byte("written under the rotated key"), volumeFile(t, f.store, "app-data", "a.txt"))
}

func TestRestore_InterruptedReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{Name: "complete"})
	require.NoError(t, err)
	broken := rebundleCorrupting(t, bundlePath, "app-data.tgz")

	wipeVolume(t, f.store, "app-data")
	wipeVolume(t, f.store, "db-data")

	_, err = f.bundler.Restore(ctx, broken, RestoreOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestoreInterrupted)
	assert.NotEmpty(t, scratchEntries(t, f.paths), "interrupted restore keeps scratch for forensics")

	// The first volume was recreated but its snapshot never replayed; the
	// second was never reached. No rollback is attempted.
	exists, err := f.store.Exists(ctx, "app-data")
	require.NoError(t, err)
	assert.True(t, exists)
	root, err := f.store.Root(ctx, "app-data")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, "a.txt"), "volume is left partial")

	exists, err = f.store.Exists(ctx, "db-data")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRestore_FreshHost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bundlePath, err := f.bundler.Assemble(ctx, AssembleOptions{})
	require.NoError(t, err)

	// A brand new host: empty project root, empty volume store, no known
	// volume set. The bundle itself supplies all three.
	freshRoot := filepath.Join(t.TempDir(), "deploy")
	require.NoError(t, os.MkdirAll(freshRoot, 0755))
	fresh := wire(t, config.Defaults(freshRoot), volumes.NewDirStore(t.TempDir()))

	result, err := fresh.bundler.Restore(ctx, bundlePath, RestoreOptions{Start: true})
	require.NoError(t, err)
	assert.True(t, result.ProjectExtracted)
	assert.ElementsMatch(t, []string{"app-data", "db-data"}, result.VolumesRestored)
	assert.Equal(t, 1, fresh.stack.started)

	assert.Equal(t, []byte("hello"), volumeFile(t, fresh.store, "app-data", "a.txt"))
	assert.Equal(t, []byte{0x01, 0x02}, volumeFile(t, fresh.store, "db-data", "b.bin"))

	// The restored deployment loads with the original encryption key.
	cfg, err := config.Load(freshRoot)
	require.NoError(t, err)
	assert.Equal(t, "cafe0123cafe0123", cfg.EncryptionKey)
}

func TestRestore_NotABundle(t *testing.T) {
	f := newFixture(t)

	_, err := f.bundler.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"), RestoreOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrPrecondition)
}

// rebundleWithout repacks a valid bundle with one inner archive removed,
// producing a structurally plausible but incomplete bundle.
func rebundleWithout(t *testing.T, bundlePath, drop string) string {
	t.Helper()

	tar := archive.TarGz{}
	work := t.TempDir()

	f, err := os.Open(bundlePath)
	require.NoError(t, err)
	defer f.Close()
	_, err = tar.Extract(f, work, 1024*1024*1024)
	require.NoError(t, err)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	topDir := entries[0].Name()

	require.NoError(t, os.Remove(filepath.Join(work, topDir, drop)))

	broken := filepath.Join(t.TempDir(), "broken.tar.gz")
	_, err = tar.Create(broken, work, []archive.Entry{{Path: topDir}})
	require.NoError(t, err)
	return broken
}

// rebundleCorrupting repacks a valid bundle with one inner archive replaced
// by garbage, so the manifest passes but replay fails partway.
func rebundleCorrupting(t *testing.T, bundlePath, corrupt string) string {
	t.Helper()

	tar := archive.TarGz{}
	work := t.TempDir()

	f, err := os.Open(bundlePath)
	require.NoError(t, err)
	defer f.Close()
	_, err = tar.Extract(f, work, 1024*1024*1024)
	require.NoError(t, err)

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	topDir := entries[0].Name()

	require.NoError(t, os.WriteFile(filepath.Join(work, topDir, corrupt), []byte("not a gzip stream"), 0644))

	broken := filepath.Join(t.TempDir(), "broken.tar.gz")
	_, err = tar.Create(broken, work, []archive.Entry{{Path: topDir}})
	require.NoError(t, err)
	return broken
}
