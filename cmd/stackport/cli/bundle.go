package cli

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/stackport/stackport/lib/bundle"
	"github.com/stackport/stackport/lib/logger"
)

func exportCommand() *Command {
	var g globals
	var output string

	return &Command{
		Name:    "export",
		Summary: "Quiesce the stack and assemble a backup bundle of all volumes and project files.",
		Usage:   "stackport export [-o NAME]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
			g.register(fs)
			fs.StringVarP(&output, "output", "o", "", "bundle file name (default: timestamped)")
			return fs
		},
		Run: func(args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			b, err := e.bundler()
			if err != nil {
				return err
			}

			path, err := b.Assemble(e.ctx, bundle.AssembleOptions{Name: output})
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}

func importCommand() *Command {
	var g globals
	var start, forceProject bool

	return &Command{
		Name:    "import",
		Summary: "Restore a bundle: recreate volumes, replay snapshots, extract project files.",
		Usage:   "stackport import BUNDLE [--start] [--force-project]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("import", pflag.ContinueOnError)
			g.register(fs)
			fs.BoolVar(&start, "start", false, "bring the stack up after a successful restore")
			fs.BoolVar(&forceProject, "force-project", false, "overwrite project configuration already present at the destination")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: stackport import BUNDLE")
			}

			e, err := g.loadForImport()
			if err != nil {
				return err
			}
			b, err := e.bundler()
			if err != nil {
				return err
			}

			result, err := b.Restore(e.ctx, args[0], bundle.RestoreOptions{
				Start:        start,
				ForceProject: forceProject,
			})
			if err != nil {
				return err
			}

			log := logger.FromContext(e.ctx)
			log.Info("restore complete",
				"volumes", len(result.VolumesRestored),
				"project_extracted", result.ProjectExtracted)
			for _, warning := range result.Warnings {
				fmt.Println("warning:", warning)
			}
			return nil
		},
	}
}
