package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
)

func initCommand() *Command {
	var g globals
	var domain, timezone string

	return &Command{
		Name:    "init",
		Summary: "Create the deployment env file with a fresh encryption key.",
		Usage:   "stackport init --domain DOMAIN [--timezone TZ]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
			g.register(fs)
			fs.StringVar(&domain, "domain", "", "public domain of the deployment")
			fs.StringVar(&timezone, "timezone", "UTC", "deployment timezone")
			return fs
		},
		Run: func(args []string) error {
			ctx, root, err := g.context()
			if err != nil {
				return err
			}
			if domain == "" {
				return fmt.Errorf("%w: --domain is required", config.ErrPrecondition)
			}
			envPath, err := config.Generate(root, domain, timezone)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("deployment initialized", "env", envPath)
			fmt.Println(envPath)
			return nil
		},
	}
}

func upCommand() *Command {
	var g globals
	return &Command{
		Name:    "up",
		Summary: "Create and start the stack.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			return e.controller.Up(e.ctx)
		},
	}
}

func downCommand() *Command {
	var g globals
	return &Command{
		Name:    "down",
		Summary: "Stop and remove the stack's containers (volumes are kept).",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			return e.controller.Down(e.ctx)
		},
	}
}

func restartCommand() *Command {
	var g globals
	return &Command{
		Name:    "restart",
		Summary: "Restart all services.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			return e.controller.Restart(e.ctx)
		},
	}
}

func statusCommand() *Command {
	var g globals
	return &Command{
		Name:    "status",
		Summary: "Show per-service state and health.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			statuses, err := e.controller.Status(e.ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVICE\tRUNNING\tHEALTH\tDETAIL")
			for _, st := range statuses {
				health := st.Health
				if health == "" {
					health = "-"
				}
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", st.Service, st.Running, health, st.Detail)
			}
			return tw.Flush()
		},
	}
}

func logsCommand() *Command {
	var g globals
	var follow bool
	var tail int

	return &Command{
		Name:    "logs",
		Summary: "Show service logs.",
		Usage:   "stackport logs [SERVICE] [--follow] [--tail N]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			g.register(fs)
			fs.BoolVarP(&follow, "follow", "f", false, "follow log output")
			fs.IntVar(&tail, "tail", 100, "number of lines to show from the end")
			return fs
		},
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			service := ""
			if len(args) > 0 {
				service = args[0]
			}
			return e.runner.Logs(e.ctx, service, follow, tail)
		},
	}
}

func pullCommand() *Command {
	var g globals
	return &Command{
		Name:    "pull",
		Summary: "Pull the latest service images.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			return e.controller.Pull(e.ctx)
		},
	}
}

func upgradeCommand() *Command {
	var g globals
	return &Command{
		Name:    "upgrade",
		Summary: "Pull the latest images and recreate the stack on them.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			if err := e.controller.Pull(e.ctx); err != nil {
				return err
			}
			return e.controller.Up(e.ctx)
		},
	}
}

func shellCommand() *Command {
	var g globals
	return &Command{
		Name:    "shell",
		Summary: "Open an interactive shell in a service (default: the app service).",
		Usage:   "stackport shell [SERVICE]",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			service := e.cfg.AppService
			if len(args) > 0 {
				service = args[0]
			}
			return e.runner.Exec(e.ctx, service, []string{"/bin/sh"}, true)
		},
	}
}

func dbCommand() *Command {
	var g globals
	return &Command{
		Name:    "db",
		Summary: "Open a psql session against the database service.",
		Flags:   flagsOnly(&g),
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			cmd := []string{"psql", "-U", e.cfg.DBUser, e.cfg.DBName}
			return e.runner.Exec(e.ctx, e.cfg.DBService, cmd, true)
		},
	}
}

func execCommand() *Command {
	var g globals
	var noTTY bool

	return &Command{
		Name:    "exec",
		Summary: "Run an arbitrary command in a service.",
		Usage:   "stackport exec SERVICE CMD [ARG...]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			g.register(fs)
			fs.BoolVarP(&noTTY, "no-tty", "T", false, "disable pseudo-TTY allocation")
			return fs
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("usage: stackport exec SERVICE CMD [ARG...]")
			}
			e, err := g.load()
			if err != nil {
				return err
			}
			return e.runner.Exec(e.ctx, args[0], args[1:], !noTTY)
		},
	}
}

// flagsOnly builds the minimal flag set carrying just the shared flags.
func flagsOnly(g *globals) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("stackport", pflag.ContinueOnError)
		g.register(fs)
		return fs
	}
}
