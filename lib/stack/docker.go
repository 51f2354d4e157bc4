package stack

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// DockerLister implements ContainerLister over the Docker API, matching
// containers by the labels compose stamps on them.
type DockerLister struct {
	cli *client.Client
}

// NewDockerLister creates a lister from the environment.
func NewDockerLister() (*DockerLister, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerLister{cli: cli}, nil
}

func (l *DockerLister) ListProjectContainers(ctx context.Context, project string) ([]ContainerInfo, error) {
	containers, err := l.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		info := ContainerInfo{
			Service: c.Labels[composeServiceLabel],
			State:   c.State,
			Status:  c.Status,
		}

		// Health lives on the inspect payload, not the list summary.
		if inspected, err := l.cli.ContainerInspect(ctx, c.ID); err == nil {
			if inspected.State != nil && inspected.State.Health != nil {
				info.Health = inspected.State.Health.Status
			}
		}

		infos = append(infos, info)
	}
	return infos, nil
}
