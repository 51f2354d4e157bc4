// Package project captures the configuration surface of a deployment, the
// files needed to reconstruct it on another host, into a single archive.
package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/stackport/stackport/lib/archive"
	"github.com/stackport/stackport/lib/config"
	"github.com/stackport/stackport/lib/logger"
	"github.com/stackport/stackport/lib/paths"
)

// Packager archives a fixed, ordered list of project entries. The compose
// definition and the env file are required; the proxy configuration tree and
// the operator workspace are optional and skipped when absent. Nothing is
// redacted: the env file is packaged as-is, secrets included.
type Packager struct {
	root    string
	entries []archive.Entry
	tar     archive.Archiver
}

// NewPackager derives the entry list from the deployment context.
func NewPackager(cfg *config.Config, tar archive.Archiver) *Packager {
	return &Packager{
		root: cfg.ProjectRoot,
		entries: []archive.Entry{
			{Path: relOrBase(cfg.ProjectRoot, cfg.ComposeFile)},
			{Path: relOrBase(cfg.ProjectRoot, cfg.EnvFile)},
			{Path: cfg.ProxyDir, Optional: true},
			{Path: cfg.WorkspaceDir, Optional: true},
		},
		tar: tar,
	}
}

// Package writes the project archive into outputDir and returns its path.
// A missing required entry fails the whole operation; it is never papered
// over by the archive layer.
func (p *Packager) Package(ctx context.Context, outputDir string) (string, error) {
	log := logger.FromContext(ctx)

	dst := filepath.Join(outputDir, paths.ProjectArchiveName)
	n, err := p.tar.Create(dst, p.root, p.entries)
	if err != nil {
		return "", fmt.Errorf("package project: %w", err)
	}

	log.Debug("project package complete", "bytes", n, "archive", dst)
	return dst, nil
}

func relOrBase(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || filepath.IsAbs(rel) || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return filepath.Base(path)
	}
	return rel
}
