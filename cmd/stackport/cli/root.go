package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/bundle"
	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
	"github.com/stackport/stackport/lib/paths"
	"github.com/stackport/stackport/lib/project"
	"github.com/stackport/stackport/lib/stack"
	"github.com/stackport/stackport/lib/volumes"
)

// Root builds the stackport command tree.
func Root() *Command {
	return &Command{
		Name:    "stackport",
		Summary: "Manage a compose-deployed workflow-automation stack and its backup bundles.",
		Subcommands: []*Command{
			initCommand(),
			upCommand(),
			downCommand(),
			restartCommand(),
			statusCommand(),
			logsCommand(),
			pullCommand(),
			upgradeCommand(),
			shellCommand(),
			dbCommand(),
			execCommand(),
			exportCommand(),
			importCommand(),
		},
	}
}

// globals are the flags shared by every command.
type globals struct {
	projectRoot string
	verbose     bool
}

func (g *globals) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.projectRoot, "project-root", "C", ".", "project root directory")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")
}

func (g *globals) context() (context.Context, string, error) {
	root, err := filepath.Abs(g.projectRoot)
	if err != nil {
		return nil, "", fmt.Errorf("resolve project root: %w", err)
	}
	ctx := logger.AddToContext(context.Background(), logger.New(g.verbose))
	return ctx, root, nil
}

// env is the wired-up collaborator set behind most commands.
type env struct {
	ctx        context.Context
	cfg        *config.Config
	paths      *paths.Paths
	compose    *stack.ComposeFile
	runner     stack.Runner
	controller *stack.Controller
}

// load builds the environment for commands that require an initialized
// deployment: env file, compose file and the docker binary must all exist
// before anything mutating runs.
func (g *globals) load() (*env, error) {
	ctx, root, err := g.context()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if err := config.RequireTools(cfg.DockerBin); err != nil {
		return nil, err
	}

	compose, err := stack.ParseComposeFile(cfg.ComposeFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrPrecondition, err)
	}

	runner := stack.NewRunner(cfg)
	lister, err := stack.NewDockerLister()
	if err != nil {
		return nil, err
	}

	return &env{
		ctx:        ctx,
		cfg:        cfg,
		paths:      paths.New(cfg.DataDir),
		compose:    compose,
		runner:     runner,
		controller: stack.NewController(cfg, compose, runner, lister),
	}, nil
}

// bundler wires the backup/migration core on top of an environment.
func (e *env) bundler() (*bundle.Bundler, error) {
	store, err := volumes.NewDockerStore()
	if err != nil {
		return nil, err
	}

	tar := archive.TarGz{}
	var names []string
	if e.compose != nil {
		names = e.compose.VolumeNames(e.cfg.ProjectName)
	}

	return bundle.New(
		e.cfg,
		e.paths,
		store,
		volumes.NewSnapshotter(store, tar),
		project.NewPackager(e.cfg, tar),
		e.controller,
		tar,
		names,
	), nil
}

// loadForImport is the lenient variant for restoring onto a fresh host: the
// env file and compose file may not exist yet, since both arrive inside the
// bundle being imported.
func (g *globals) loadForImport() (*env, error) {
	ctx, root, err := g.context()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.Defaults(root)
	}
	if err := config.RequireTools(cfg.DockerBin); err != nil {
		return nil, err
	}

	var compose *stack.ComposeFile
	if cf, err := stack.ParseComposeFile(cfg.ComposeFile); err == nil {
		compose = cf
	}

	runner := stack.NewRunner(cfg)
	lister, err := stack.NewDockerLister()
	if err != nil {
		return nil, err
	}

	return &env{
		ctx:        ctx,
		cfg:        cfg,
		paths:      paths.New(cfg.DataDir),
		compose:    compose,
		runner:     runner,
		controller: stack.NewController(cfg, compose, runner, lister),
	}, nil
}
