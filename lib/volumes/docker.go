package volumes

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// DockerStore implements Store over the Docker volume API. Snapshot and
// restore read and write the volume's mountpoint directly, which requires
// running on the daemon host with access to its data root.
type DockerStore struct {
	cli *client.Client
}

// NewDockerStore creates a DockerStore from the environment (DOCKER_HOST and
// friends), negotiating the API version with the daemon.
func NewDockerStore() (*DockerStore, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerStore{cli: cli}, nil
}

func (s *DockerStore) List(ctx context.Context) ([]Volume, error) {
	resp, err := s.cli.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}

	vols := make([]Volume, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		vols = append(vols, fromAPI(v))
	}
	return vols, nil
}

func (s *DockerStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.cli.VolumeInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect volume %s: %w", name, err)
	}
	return true, nil
}

func (s *DockerStore) Root(ctx context.Context, name string) (string, error) {
	v, err := s.cli.VolumeInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("inspect volume %s: %w", name, err)
	}
	return v.Mountpoint, nil
}

func (s *DockerStore) Ensure(ctx context.Context, name string) (*Volume, error) {
	v, err := s.cli.VolumeInspect(ctx, name)
	if err == nil {
		vol := fromAPI(&v)
		return &vol, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("inspect volume %s: %w", name, err)
	}

	created, err := s.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	if err != nil {
		return nil, fmt.Errorf("create volume %s: %w", name, err)
	}
	vol := fromAPI(&created)
	return &vol, nil
}

func fromAPI(v *volume.Volume) Volume {
	createdAt, _ := time.Parse(time.RFC3339, v.CreatedAt)
	return Volume{
		Name:       v.Name,
		Mountpoint: v.Mountpoint,
		CreatedAt:  createdAt,
	}
}
