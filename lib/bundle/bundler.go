// Package bundle implements the backup/migration core: assembling one
// project package and one snapshot per known volume into a single relocatable
// artifact, and restoring such an artifact onto a host.
//
// The bundle wire format is stable across versions: a tar.gz containing a
// single top-level directory which holds project.tgz plus one <volume>.tgz
// per known volume. The directory listing is the manifest.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
	"github.com/stackport/stackport/lib/paths"
	"github.com/stackport/stackport/lib/project"
	"github.com/stackport/stackport/lib/volumes"
)

// StackControl is the slice of the stack façade the bundler needs: quiesce
// around snapshots, resume afterwards, and bring the stack up after a
// restore when asked to.
type StackControl interface {
	Quiesce(ctx context.Context) error
	Resume(ctx context.Context) error
	Up(ctx context.Context) error
}

// Bundler orchestrates assemble and restore. All work is strictly
// sequential; each step blocks until the tool behind it finishes.
type Bundler struct {
	cfg         *config.Config
	paths       *paths.Paths
	store       volumes.Store
	snapshotter *volumes.Snapshotter
	packager    *project.Packager
	stack       StackControl
	tar         archive.Archiver

	// volumeNames is the known volume set. It may be empty on a fresh
	// host, in which case restore derives it from the compose file inside
	// the bundle being imported.
	volumeNames []string
}

// New wires a Bundler from its collaborators.
func New(cfg *config.Config, p *paths.Paths, store volumes.Store, snapshotter *volumes.Snapshotter,
	packager *project.Packager, stack StackControl, tar archive.Archiver, volumeNames []string) *Bundler {
	return &Bundler{
		cfg:         cfg,
		paths:       p,
		store:       store,
		snapshotter: snapshotter,
		packager:    packager,
		stack:       stack,
		tar:         tar,
		volumeNames: volumeNames,
	}
}

// AssembleOptions controls bundle assembly. An empty Name yields a
// timestamped file name so repeated exports never overwrite each other.
type AssembleOptions struct {
	Name string
}

// Assemble quiesces the stack, snapshots every known volume, packages the
// project configuration and merges everything into a single bundle file.
// The scratch directory is removed on every exit path, success or failure;
// a failed assemble leaves no partial bundle behind.
func (b *Bundler) Assemble(ctx context.Context, opts AssembleOptions) (string, error) {
	log := logger.FromContext(ctx)

	if len(b.volumeNames) == 0 {
		return "", fmt.Errorf("%w: compose file declares no named volumes to snapshot", config.ErrPrecondition)
	}

	name := opts.Name
	if name == "" {
		name = paths.DefaultBundleName(b.cfg.ProjectName, time.Now())
	} else if !strings.HasSuffix(name, paths.BundleSuffix) {
		name += paths.BundleSuffix
	}

	out := b.paths.BundlePath(name)
	if _, err := os.Stat(out); err == nil {
		return "", fmt.Errorf("%w: bundle %s already exists", config.ErrPrecondition, out)
	}

	if err := b.stack.Quiesce(ctx); err != nil {
		return "", err
	}
	defer func() {
		if err := b.stack.Resume(ctx); err != nil {
			log.Warn("failed to resume stack after assemble", "error", err)
		}
	}()

	scratch := b.paths.ScratchDir(uuid.NewString())
	defer os.RemoveAll(scratch)

	topName := paths.BundleTopDir(name)
	top := filepath.Join(scratch, topName)
	if err := os.MkdirAll(top, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	for _, vol := range b.volumeNames {
		if _, err := b.snapshotter.Snapshot(ctx, vol, top); err != nil {
			return "", err
		}
	}

	if _, err := b.packager.Package(ctx, top); err != nil {
		return "", err
	}

	if err := os.MkdirAll(b.paths.BundlesDir(), 0755); err != nil {
		return "", fmt.Errorf("create bundles dir: %w", err)
	}
	if _, err := b.tar.Create(out, scratch, []archive.Entry{{Path: topName}}); err != nil {
		return "", fmt.Errorf("assemble bundle: %w", err)
	}

	log.Info("bundle assembled", "bundle", out, "volumes", len(b.volumeNames))
	return out, nil
}
