package volumes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/logger"
	"github.com/stackport/stackport/lib/paths"
)

// Snapshotter captures the content of a named volume into an immutable
// archive. It only ever reads the volume; consistency is the caller's
// responsibility: quiesce the stack first, since there is no internal
// transactional snapshot.
type Snapshotter struct {
	store Store
	tar   archive.Archiver
}

// NewSnapshotter creates a Snapshotter over the given store.
func NewSnapshotter(store Store, tar archive.Archiver) *Snapshotter {
	return &Snapshotter{store: store, tar: tar}
}

// Snapshot archives the full tree of the named volume into
// outputDir/<name>.tgz and returns the archive path. The volume must already
// exist: snapshot never creates volumes. Any failure wraps ErrSnapshotFailed
// and no partial archive is left in outputDir.
func (s *Snapshotter) Snapshot(ctx context.Context, name, outputDir string) (string, error) {
	log := logger.FromContext(ctx)

	root, err := s.store.Root(ctx, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSnapshotFailed, name, err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s: create output dir: %v", ErrSnapshotFailed, name, err)
	}

	dst := filepath.Join(outputDir, name+paths.SnapshotSuffix)
	n, err := s.tar.Create(dst, root, []archive.Entry{{Path: "."}})
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("%w: %s: %v", ErrSnapshotFailed, name, err)
	}

	log.Debug("volume snapshot complete", "volume", name, "bytes", n, "archive", dst)
	return dst, nil
}
