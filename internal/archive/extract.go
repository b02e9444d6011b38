package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/calder-ops/tradevault/internal/compress"
)

// Extract unpacks the artifact into destRoot and returns the extracted
// entry names. Entries that would escape destRoot are rejected.
func Extract(artifactPath, destRoot string) ([]string, error) {
	f, err := os.Open(artifactPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := compress.WrapReader(CompressionFromPath(artifactPath), f)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer dec.Close()

	if err := os.MkdirAll(destRoot, 0o750); err != nil {
		return nil, err
	}

	var extracted []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return extracted, fmt.Errorf("read archive: %w", err)
		}

		target, err := safeJoin(destRoot, hdr.Name)
		if err != nil {
			return extracted, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return extracted, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return extracted, err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return extracted, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return extracted, fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return extracted, err
			}
		default:
			continue
		}
		extracted = append(extracted, hdr.Name)
	}
	return extracted, nil
}

// VerifyStructure confirms the artifact is a readable compressed tar by
// decoding the compression header and the first tar entry. It does not
// materialize the archive contents.
func VerifyStructure(artifactPath string) error {
	f, err := os.Open(artifactPath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := compress.WrapReader(CompressionFromPath(artifactPath), f)
	if err != nil {
		return fmt.Errorf("invalid compression header: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	if _, err := tr.Next(); err != nil {
		return fmt.Errorf("invalid archive structure: %w", err)
	}
	return nil
}

func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("archive entry escapes extraction root: %s", name)
	}
	return filepath.Join(root, cleaned), nil
}
