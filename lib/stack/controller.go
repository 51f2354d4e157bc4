package stack

import (
	"context"
	"fmt"
	"sort"

	"github.com/distribution/reference"
	"github.com/samber/lo"

	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
)

// ServiceStatus is the per-service view returned by Status.
type ServiceStatus struct {
	Service string
	Running bool
	Health  string
	Detail  string
}

// ContainerInfo is what a lister reports for one container of the project.
type ContainerInfo struct {
	Service string
	State   string
	Status  string
	Health  string
}

// ContainerLister reports the project's containers as the runtime sees them.
type ContainerLister interface {
	ListProjectContainers(ctx context.Context, project string) ([]ContainerInfo, error)
}

// Controller brackets bundle operations around the running services: quiesce
// before snapshotting so no service writes to a volume mid-archive, resume
// afterwards. It delegates all state tracking to the runtime.
type Controller struct {
	cfg     *config.Config
	runner  Runner
	lister  ContainerLister
	compose *ComposeFile
}

// NewController wires a controller for the deployment. lister may be nil when
// status reporting is not needed (e.g. inside bundling tests).
func NewController(cfg *config.Config, compose *ComposeFile, runner Runner, lister ContainerLister) *Controller {
	return &Controller{cfg: cfg, runner: runner, lister: lister, compose: compose}
}

// Quiesce stops the running services so their data volumes go quiet. This is
// the only consistency mechanism the bundler has; there is no internal
// transactional snapshot.
func (c *Controller) Quiesce(ctx context.Context) error {
	logger.FromContext(ctx).Info("quiescing stack", "project", c.cfg.ProjectName)
	if err := c.runner.Stop(ctx); err != nil {
		return fmt.Errorf("quiesce: %w", err)
	}
	return nil
}

// Resume restarts services stopped by Quiesce.
func (c *Controller) Resume(ctx context.Context) error {
	logger.FromContext(ctx).Info("resuming stack", "project", c.cfg.ProjectName)
	if err := c.runner.Start(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// Up creates and starts the full stack. Used by the start command and by
// restore --start, where containers may not exist yet.
func (c *Controller) Up(ctx context.Context) error {
	return c.runner.Up(ctx)
}

// Down stops and removes the stack's containers. Volumes are never removed.
func (c *Controller) Down(ctx context.Context) error {
	return c.runner.Down(ctx)
}

// Restart restarts all services.
func (c *Controller) Restart(ctx context.Context) error {
	return c.runner.Restart(ctx)
}

// Pull validates every image reference in the compose file, then pulls them.
// Validation happens first so a typo fails before any network traffic.
func (c *Controller) Pull(ctx context.Context) error {
	for _, image := range c.compose.Images() {
		if _, err := reference.ParseNormalizedNamed(image); err != nil {
			return fmt.Errorf("%w: invalid image reference %q: %v", config.ErrPrecondition, image, err)
		}
	}
	return c.runner.Pull(ctx)
}

// Status reports every declared service with the runtime's view of it.
// Services with no container yet are reported as not running.
func (c *Controller) Status(ctx context.Context) ([]ServiceStatus, error) {
	if c.lister == nil {
		return nil, fmt.Errorf("no container lister configured")
	}

	containers, err := c.lister.ListProjectContainers(ctx, c.cfg.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("list project containers: %w", err)
	}
	byService := lo.KeyBy(containers, func(ci ContainerInfo) string { return ci.Service })

	services := c.compose.ServiceNames()
	statuses := make([]ServiceStatus, 0, len(services))
	for _, svc := range services {
		st := ServiceStatus{Service: svc, Detail: "not created"}
		if ci, ok := byService[svc]; ok {
			st.Running = ci.State == "running"
			st.Health = ci.Health
			st.Detail = ci.Status
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Service < statuses[j].Service })
	return statuses, nil
}
