package stack

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/stackport/stackport/lib/config"
)

// Runner invokes the compose CLI for the deployment. Each call blocks until
// the underlying tool exits and inherits whatever timeouts that tool applies;
// the core imposes none of its own.
type Runner interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Pull(ctx context.Context) error
	Logs(ctx context.Context, service string, follow bool, tail int) error
	Exec(ctx context.Context, service string, cmd []string, interactive bool) error
}

type execRunner struct {
	cfg *config.Config
}

// NewRunner creates the production Runner, shelling out to
// `docker compose` with the deployment's compose file, env file and project
// name pinned on every invocation.
func NewRunner(cfg *config.Config) Runner {
	return &execRunner{cfg: cfg}
}

func (r *execRunner) compose(ctx context.Context, args ...string) *exec.Cmd {
	base := []string{
		"compose",
		"--project-name", r.cfg.ProjectName,
		"-f", r.cfg.ComposeFile,
		"--env-file", r.cfg.EnvFile,
	}
	cmd := exec.CommandContext(ctx, r.cfg.DockerBin, append(base, args...)...)
	cmd.Dir = r.cfg.ProjectRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

func (r *execRunner) run(ctx context.Context, args ...string) error {
	if err := r.compose(ctx, args...).Run(); err != nil {
		return fmt.Errorf("docker compose %s: %w", args[0], err)
	}
	return nil
}

func (r *execRunner) Up(ctx context.Context) error      { return r.run(ctx, "up", "-d") }
func (r *execRunner) Down(ctx context.Context) error    { return r.run(ctx, "down") }
func (r *execRunner) Stop(ctx context.Context) error    { return r.run(ctx, "stop") }
func (r *execRunner) Start(ctx context.Context) error   { return r.run(ctx, "start") }
func (r *execRunner) Restart(ctx context.Context) error { return r.run(ctx, "restart") }
func (r *execRunner) Pull(ctx context.Context) error    { return r.run(ctx, "pull") }

func (r *execRunner) Logs(ctx context.Context, service string, follow bool, tail int) error {
	args := []string{"logs", "--tail", strconv.Itoa(tail)}
	if follow {
		args = append(args, "--follow")
	}
	if service != "" {
		args = append(args, service)
	}
	return r.run(ctx, args...)
}

func (r *execRunner) Exec(ctx context.Context, service string, cmd []string, interactive bool) error {
	args := []string{"exec"}
	if !interactive {
		args = append(args, "-T")
	}
	args = append(args, service)
	args = append(args, cmd...)

	c := r.compose(ctx, args...)
	if interactive {
		c.Stdin = os.Stdin
	}
	if err := c.Run(); err != nil {
		return fmt.Errorf("docker compose exec %s: %w", service, err)
	}
	return nil
}
