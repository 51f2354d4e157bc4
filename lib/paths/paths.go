// Package paths provides centralized path construction for the stackport data
// directory.
package paths

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// SnapshotSuffix is the file extension of a single volume snapshot
	// inside a bundle.
	SnapshotSuffix = ".tgz"

	// ProjectArchiveName is the name of the project package inside a
	// bundle's top-level directory.
	ProjectArchiveName = "project.tgz"

	// BundleSuffix is the file extension of an assembled bundle. Part of
	// the stable bundle format; restore accepts only this shape.
	BundleSuffix = ".tar.gz"
)

// Paths provides typed path construction for the stackport data directory.
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// BundlesDir returns the directory where assembled bundles are written.
func (p *Paths) BundlesDir() string {
	return filepath.Join(p.dataDir, "bundles")
}

// BundlePath returns the full path of a bundle by file name.
func (p *Paths) BundlePath(name string) string {
	return filepath.Join(p.BundlesDir(), name)
}

// ScratchRoot returns the directory under which scratch directories are
// created.
func (p *Paths) ScratchRoot() string {
	return filepath.Join(p.dataDir, "scratch")
}

// ScratchDir returns the path of a scratch directory for the given id.
// Callers create and remove it; a scratch directory left behind after a
// failed restore is deliberate (forensic inspection).
func (p *Paths) ScratchDir(id string) string {
	return filepath.Join(p.ScratchRoot(), id)
}

// SnapshotArchive returns the path of a volume snapshot inside dir.
func (p *Paths) SnapshotArchive(dir, volume string) string {
	return filepath.Join(dir, volume+SnapshotSuffix)
}

// ProjectArchive returns the path of the project package inside dir.
func (p *Paths) ProjectArchive(dir string) string {
	return filepath.Join(dir, ProjectArchiveName)
}

// DefaultBundleName returns the timestamped bundle file name used when the
// operator does not supply one, so repeated exports never overwrite each
// other.
func DefaultBundleName(project string, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", project, t.Format("20060102-150405"), BundleSuffix)
}

// BundleTopDir returns the name of the single top-level directory inside a
// bundle, derived from the bundle file name.
func BundleTopDir(bundleName string) string {
	return strings.TrimSuffix(filepath.Base(bundleName), BundleSuffix)
}
