package main

import (
	"log/slog"
	"os"

	"github.com/stackport/stackport/cmd/stackport/cli"
)

func main() {
	if err := run(); err != nil {
		slog.Error("stackport failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	return cli.Root().Execute(os.Args[1:])
}
