// Package archive builds and extracts the tar-based backup artifacts.
// An artifact is a tar stream wrapped in gzip or zstd; the checksum returned
// by Build is computed over the final bytes on disk so later verification
// reads exactly what was hashed.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calder-ops/tradevault/internal/checksum"
	"github.com/calder-ops/tradevault/internal/compress"
	"github.com/calder-ops/tradevault/internal/cryptoutil"
)

// BuildResult reports the final artifact as written to disk.
type BuildResult struct {
	SizeBytes int64
	Checksum  string
}

// Build packages the whitelisted paths into a compressed tar artifact at
// destPath. Exclusion patterns are matched against every path element and
// always win over whitelist membership.
func Build(fileList []string, excludes []string, destPath, compression string, level int) (*BuildResult, error) {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}

	comp, err := compress.WrapWriter(compression, out, level)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return nil, err
	}
	tw := tar.NewWriter(comp)

	addErr := func() error {
		for _, src := range fileList {
			if err := addTree(tw, src, excludes); err != nil {
				return err
			}
		}
		return nil
	}()

	// Close in reverse order; a close failure means a truncated artifact.
	closeErr := tw.Close()
	if err := comp.Close(); closeErr == nil {
		closeErr = err
	}
	if err := out.Sync(); closeErr == nil {
		closeErr = err
	}
	if err := out.Close(); closeErr == nil {
		closeErr = err
	}
	if addErr == nil {
		addErr = closeErr
	}
	if addErr != nil {
		os.Remove(destPath)
		return nil, addErr
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, err
	}
	sum, err := checksum.File(destPath)
	if err != nil {
		return nil, err
	}
	return &BuildResult{SizeBytes: info.Size(), Checksum: sum}, nil
}

// addTree writes one whitelisted path (file or directory) into the tar
// stream, rooted at the path's base name.
func addTree(tw *tar.Writer, src string, excludes []string) error {
	src = filepath.Clean(src)
	base := filepath.Base(src)

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", path, err)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.ToSlash(filepath.Join(base, rel))
		}

		if excluded(name, excludes) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and other irregular files are skipped; the deployment
		// tree being backed up is plain files and directories.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive %s: %w", name, err)
		}
		return nil
	})
}

// excluded matches each element of the entry path against the patterns.
func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		for _, elem := range strings.Split(name, "/") {
			if ok, _ := filepath.Match(pattern, elem); ok {
				return true
			}
		}
	}
	return false
}

// CompressionFromPath infers the compression kind from the artifact name,
// ignoring a trailing encryption suffix.
func CompressionFromPath(path string) string {
	name := strings.TrimSuffix(path, cryptoutil.EncSuffix)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return compress.TypeGzip
	case strings.HasSuffix(name, ".tar.zst"):
		return compress.TypeZstd
	default:
		return compress.TypeNone
	}
}

// Extension returns the artifact filename suffix for a compression kind.
func Extension(compression string) string {
	return ".tar" + compress.Extension(compression)
}
