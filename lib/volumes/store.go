package volumes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store is the narrow capability interface over the runtime that owns the
// volumes. The bundling core is written against it so tests can run on plain
// directories instead of a live daemon.
type Store interface {
	List(ctx context.Context) ([]Volume, error)
	Exists(ctx context.Context, name string) (bool, error)

	// Root returns the host path of the volume's content root. Returns
	// ErrNotFound if the volume does not exist.
	Root(ctx context.Context, name string) (string, error)

	// Ensure creates an empty volume if name does not exist yet. Restore
	// is the only caller allowed to create volumes; snapshot never does.
	Ensure(ctx context.Context, name string) (*Volume, error)
}

// DirStore keeps each volume as a directory under a root. It backs tests and
// docker-less development deployments that bind-mount plain directories.
type DirStore struct {
	root string
}

// NewDirStore creates a DirStore rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

func (s *DirStore) List(ctx context.Context) ([]Volume, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read volume root %s: %w", s.root, err)
	}

	var vols []Volume
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat volume %s: %w", entry.Name(), err)
		}
		vols = append(vols, Volume{
			Name:       entry.Name(),
			Mountpoint: filepath.Join(s.root, entry.Name()),
			CreatedAt:  info.ModTime(),
		})
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].Name < vols[j].Name })
	return vols, nil
}

func (s *DirStore) Exists(ctx context.Context, name string) (bool, error) {
	info, err := os.Stat(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat volume %s: %w", name, err)
	}
	return info.IsDir(), nil
}

func (s *DirStore) Root(ctx context.Context, name string) (string, error) {
	dir := filepath.Join(s.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return dir, nil
}

func (s *DirStore) Ensure(ctx context.Context, name string) (*Volume, error) {
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create volume %s: %w", name, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat volume %s: %w", name, err)
	}
	return &Volume{Name: name, Mountpoint: dir, CreatedAt: info.ModTime()}, nil
}
