// Package archive implements the tar.gz codec used for volume snapshots,
// project packages and assembled bundles.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
)

var (
	// ErrArchiveTooLarge is returned when extracted content exceeds the size limit
	ErrArchiveTooLarge = errors.New("archive content exceeds size limit")
	// ErrInvalidArchivePath is returned when a tar entry has a malicious path
	ErrInvalidArchivePath = errors.New("invalid archive path")
	// ErrMissingEntry is returned when a non-optional entry is absent at
	// archive creation time. Optional entries are skipped silently.
	ErrMissingEntry = errors.New("required archive entry missing")
)

// Entry names a file or directory to include in an archive, relative to the
// archive root. Path "." means the entire tree under the root.
type Entry struct {
	Path     string
	Optional bool
}

// Archiver is the narrow capability interface the bundling core uses for
// archive creation and extraction, so the core can be exercised against
// plain directories in tests instead of a live container host.
type Archiver interface {
	// Create writes a tar.gz of the named entries (resolved under root) to
	// dst, in the order given. It returns the total regular-file bytes
	// archived. A missing non-optional entry fails with ErrMissingEntry
	// and no archive is left behind.
	Create(dst, root string, entries []Entry) (int64, error)

	// Extract unpacks a tar.gz stream into destDir, aborting once the
	// extracted content exceeds maxBytes. Returns total extracted bytes.
	Extract(r io.Reader, destDir string, maxBytes int64) (int64, error)
}

// TarGz is the production Archiver.
type TarGz struct{}

// validateArchivePath checks if a path from an archive is safe.
// We reject obviously malicious paths rather than silently sanitizing them,
// since a legitimate archive should not contain path traversal attempts.
func validateArchivePath(name string) error {
	cleaned := filepath.Clean(name)

	if filepath.IsAbs(cleaned) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidArchivePath, name)
	}

	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("%w: path traversal in %q", ErrInvalidArchivePath, name)
	}

	return nil
}

// Create implements Archiver. Entry order is preserved and directory trees
// are walked lexically, so the same inputs always produce the same member
// order.
func (TarGz) Create(dst, root string, entries []Entry) (total int64, err error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create archive %s: %w", dst, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dst)
		}
	}()

	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		src := filepath.Join(root, e.Path)
		if _, statErr := os.Lstat(src); statErr != nil {
			if os.IsNotExist(statErr) {
				if e.Optional {
					continue
				}
				return total, fmt.Errorf("%w: %s", ErrMissingEntry, e.Path)
			}
			return total, fmt.Errorf("stat %s: %w", src, statErr)
		}

		n, walkErr := addTree(tw, root, src)
		total += n
		if walkErr != nil {
			return total, walkErr
		}
	}

	if err = tw.Close(); err != nil {
		return total, fmt.Errorf("finalize tar: %w", err)
	}
	if err = gw.Close(); err != nil {
		return total, fmt.Errorf("finalize gzip: %w", err)
	}
	if err = out.Close(); err != nil {
		return total, fmt.Errorf("close archive %s: %w", dst, err)
	}
	return total, nil
}

// addTree writes src (a file or directory under root) into tw with member
// names relative to root. Device nodes and fifos are skipped.
func addTree(tw *tar.Writer, root, src string) (int64, error) {
	var total int64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}

		switch {
		case info.Mode().IsRegular(), info.IsDir(), linkTarget != "":
		default:
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", rel, err)
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header %s: %w", rel, err)
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			n, err := io.Copy(tw, f)
			f.Close()
			total += n
			if err != nil {
				return fmt.Errorf("archive %s: %w", rel, err)
			}
		}
		return nil
	})

	return total, err
}

// Extract implements Archiver.
//
// The extraction side handles archives an operator received from elsewhere,
// so it keeps multiple layers of defense against malicious members: upfront
// path validation, securejoin for symlink-safe path joining, O_NOFOLLOW on
// file creation, a cumulative size limit, and io.LimitReader when copying
// file contents. The destination should be a freshly created directory.
func (TarGz) Extract(r io.Reader, destDir string, maxBytes int64) (int64, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("create dest dir: %w", err)
	}

	gzr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)

	var extractedBytes int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extractedBytes, fmt.Errorf("read tar header: %w", err)
		}

		if err := validateArchivePath(header.Name); err != nil {
			return extractedBytes, err
		}

		targetPath, err := securejoin.SecureJoin(destDir, header.Name)
		if err != nil {
			return extractedBytes, fmt.Errorf("%w: %v", ErrInvalidArchivePath, err)
		}

		if extractedBytes+header.Size > maxBytes {
			return extractedBytes, fmt.Errorf("%w: would exceed %d bytes", ErrArchiveTooLarge, maxBytes)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(header.Mode)); err != nil {
				return extractedBytes, fmt.Errorf("create dir %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir: %w", err)
			}

			// O_NOFOLLOW so a symlink maliciously planted at
			// targetPath during extraction is not followed.
			f, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|syscall.O_NOFOLLOW, os.FileMode(header.Mode))
			if err != nil {
				return extractedBytes, fmt.Errorf("create file %s: %w", header.Name, err)
			}

			remaining := maxBytes - extractedBytes
			limitedReader := io.LimitReader(tr, remaining+1) // +1 to detect overflow

			n, err := io.Copy(f, limitedReader)
			f.Close()

			if err != nil {
				return extractedBytes, fmt.Errorf("write file %s: %w", header.Name, err)
			}

			extractedBytes += n

			if extractedBytes > maxBytes {
				return extractedBytes, fmt.Errorf("%w: exceeded %d bytes", ErrArchiveTooLarge, maxBytes)
			}

		case tar.TypeSymlink:
			if filepath.IsAbs(header.Linkname) {
				return extractedBytes, fmt.Errorf("%w: absolute symlink target %q", ErrInvalidArchivePath, header.Linkname)
			}

			// Checked explicitly because securejoin sanitizes rather
			// than errors.
			cleanedLink := filepath.Clean(header.Linkname)
			if strings.HasPrefix(cleanedLink, ".."+string(filepath.Separator)) || cleanedLink == ".." {
				return extractedBytes, fmt.Errorf("%w: symlink %q escapes destination", ErrInvalidArchivePath, header.Linkname)
			}

			symlinkDir := filepath.Dir(targetPath)
			resolvedTarget, err := securejoin.SecureJoin(symlinkDir, header.Linkname)
			if err != nil {
				return extractedBytes, fmt.Errorf("%w: symlink target unsafe: %v", ErrInvalidArchivePath, err)
			}

			cleanDest := filepath.Clean(destDir)
			if !strings.HasPrefix(resolvedTarget, cleanDest+string(filepath.Separator)) && resolvedTarget != cleanDest {
				return extractedBytes, fmt.Errorf("%w: symlink %q escapes destination", ErrInvalidArchivePath, header.Linkname)
			}

			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for symlink: %w", err)
			}

			// Replay over a previous restore may find the link
			// already present.
			os.Remove(targetPath)

			if err := os.Symlink(header.Linkname, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create symlink %s: %w", header.Name, err)
			}

		case tar.TypeLink:
			linkTarget, err := securejoin.SecureJoin(destDir, header.Linkname)
			if err != nil {
				return extractedBytes, fmt.Errorf("%w: hardlink target unsafe: %v", ErrInvalidArchivePath, err)
			}

			if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
				return extractedBytes, fmt.Errorf("create parent dir for hardlink: %w", err)
			}

			os.Remove(targetPath)

			if err := os.Link(linkTarget, targetPath); err != nil {
				return extractedBytes, fmt.Errorf("create hardlink %s: %w", header.Name, err)
			}

		default:
			// Skip other types (devices, fifos, etc.)
			continue
		}
	}

	return extractedBytes, nil
}
