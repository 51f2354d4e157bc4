package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
	"github.com/stackport/stackport/lib/paths"
	"github.com/stackport/stackport/lib/stack"
)

// RestoreOptions controls restore behavior.
type RestoreOptions struct {
	// Start brings the stack up after a successful restore.
	Start bool
	// ForceProject extracts the project package even when configuration is
	// already present at the destination. Without it, live configuration
	// is never clobbered.
	ForceProject bool
}

// RestoreResult reports what a restore actually did.
type RestoreResult struct {
	VolumesRestored  []string
	ProjectExtracted bool
	Warnings         []string
}

// Restore unpacks a bundle and replays it: recreate missing volumes, replay
// each snapshot into its volume, and conditionally extract the project
// package. Volume replay is not transactional: an interrupted replay leaves
// the volume partially overwritten and the scratch directory in place for
// forensic inspection. The remedy is re-running restore from a known-good
// bundle, not rollback.
func (b *Bundler) Restore(ctx context.Context, bundlePath string, opts RestoreOptions) (*RestoreResult, error) {
	log := logger.FromContext(ctx)

	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open bundle %s: %v", config.ErrPrecondition, bundlePath, err)
	}
	defer f.Close()

	scratch := b.paths.ScratchDir(uuid.NewString())
	success := false
	defer func() {
		if success {
			os.RemoveAll(scratch)
			return
		}
		log.Warn("restore failed; scratch directory preserved for inspection", "dir", scratch)
	}()

	maxBytes := int64(b.cfg.MaxBundleSize.Bytes())
	if _, err := b.tar.Extract(f, scratch, maxBytes); err != nil {
		return nil, fmt.Errorf("extract bundle: %w", err)
	}

	inner, err := locateTopDir(scratch)
	if err != nil {
		return nil, err
	}

	projArchive := filepath.Join(inner, paths.ProjectArchiveName)
	if _, err := os.Stat(projArchive); err != nil {
		return nil, fmt.Errorf("%w: no %s inside bundle", ErrMalformedBundle, paths.ProjectArchiveName)
	}

	// Stage the project package inside the scratch dir. The staged copy
	// supplies the compose file on a fresh host (to learn the known volume
	// set) and the incoming env file for the encryption key check.
	stage := filepath.Join(scratch, "project-stage")
	if err := extractFile(b.tar, projArchive, stage, maxBytes); err != nil {
		return nil, fmt.Errorf("%w: project package unreadable: %v", ErrMalformedBundle, err)
	}

	known := b.volumeNames
	if len(known) == 0 {
		cf, err := stack.ParseComposeFile(filepath.Join(stage, config.DefaultComposeFile))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
		}
		known = cf.VolumeNames(b.cfg.ProjectName)
	}
	if len(known) == 0 {
		return nil, fmt.Errorf("%w: no named volumes declared", ErrMalformedBundle)
	}

	// Fail fast on an incomplete manifest before any volume is touched.
	missing := lo.Filter(known, func(name string, _ int) bool {
		_, err := os.Stat(b.paths.SnapshotArchive(inner, name))
		return err != nil
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing snapshots for %s", ErrMalformedBundle, strings.Join(missing, ", "))
	}

	// Decide the project-extract branch up front and run the encryption key
	// check now, while the volumes are still untouched. A key mismatch found
	// after replay would leave the volumes holding data the live key cannot
	// decrypt.
	projectPresent := fileExists(b.cfg.ComposeFile)
	extractProject := !projectPresent || opts.ForceProject
	if extractProject {
		if err := b.checkEncryptionKey(stage); err != nil {
			return nil, err
		}
	}

	result := &RestoreResult{}

	for _, name := range known {
		if _, err := b.store.Ensure(ctx, name); err != nil {
			return nil, fmt.Errorf("%w: ensure volume %s: %v", ErrRestoreInterrupted, name, err)
		}
		root, err := b.store.Root(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve volume %s: %v", ErrRestoreInterrupted, name, err)
		}
		if err := extractFile(b.tar, b.paths.SnapshotArchive(inner, name), root, maxBytes); err != nil {
			return nil, fmt.Errorf("%w: volume %s left in partial state: %v", ErrRestoreInterrupted, name, err)
		}
		result.VolumesRestored = append(result.VolumesRestored, name)
		log.Info("volume restored", "volume", name)
	}

	if !extractProject {
		warning := fmt.Sprintf("project configuration already present at %s; skipping (re-run with --force-project to overwrite)", b.cfg.ProjectRoot)
		result.Warnings = append(result.Warnings, warning)
		log.Warn(warning)
	} else {
		if err := extractFile(b.tar, projArchive, b.cfg.ProjectRoot, maxBytes); err != nil {
			return nil, fmt.Errorf("extract project package: %w", err)
		}
		result.ProjectExtracted = true
		log.Info("project configuration extracted", "dest", b.cfg.ProjectRoot)
	}

	success = true

	if opts.Start {
		if err := b.stack.Up(ctx); err != nil {
			return result, fmt.Errorf("start stack after restore: %w", err)
		}
	}
	return result, nil
}

// checkEncryptionKey enforces key stability before any volume is replayed: the
// bundle must carry a key (a bundle without one would leave the restored
// deployment unable to decrypt its own data), and it must match any key
// already present at the destination. A differing live key is never silently
// overwritten; the operator has to move the old env file aside first.
func (b *Bundler) checkEncryptionKey(stage string) error {
	bundleKey, err := config.EncryptionKeyOf(filepath.Join(stage, config.DefaultEnvFile))
	if err != nil || bundleKey == "" {
		return fmt.Errorf("%w: bundle env file lacks %s", ErrMalformedBundle, config.EncryptionKeyVar)
	}

	if !fileExists(b.cfg.EnvFile) {
		return nil
	}
	destKey, err := config.EncryptionKeyOf(b.cfg.EnvFile)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", b.cfg.EnvFile, err)
	}
	if destKey != "" && destKey != bundleKey {
		return fmt.Errorf("%w: encryption key in %s differs from the bundle's; refusing to overwrite (move the old env file aside to proceed)",
			config.ErrPrecondition, b.cfg.EnvFile)
	}
	return nil
}

// locateTopDir finds the single top-level directory a valid bundle contains.
func locateTopDir(scratch string) (string, error) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return "", fmt.Errorf("read scratch dir: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", fmt.Errorf("%w: expected a single top-level directory, found %d entries", ErrMalformedBundle, len(entries))
	}
	return filepath.Join(scratch, entries[0].Name()), nil
}

// extractFile opens an archive on disk and extracts it into dest.
func extractFile(tar archive.Archiver, src, dest string, maxBytes int64) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	_, err = tar.Extract(f, dest, maxBytes)
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
