package bundle

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opdev/chartpack/errors"
)

// writeArchive packages srcDir into a gzip tarball at dest, with entries
// rooted at srcDir's base name. The archive is written to a temporary file
// and renamed into place so an interrupted assembly never leaves a
// partially-written bundle at dest.
func writeArchive(srcDir, dest string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".chartpack-*.tgz")
	if err != nil {
		return fmt.Errorf("unable to create archive staging file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	gzw := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gzw)

	base := filepath.Base(srcDir)
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(filepath.Join(base, rel))

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		_ = tw.Close()
		_ = gzw.Close()
		_ = tmp.Close()
		return fmt.Errorf("unable to write bundle archive: %w", err)
	}

	if err = tw.Close(); err != nil {
		return err
	}
	if err = gzw.Close(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dest)
}

// Extract unpacks the bundle archive to dest and returns the path of the
// single top-level bundle directory it contains. Entries escaping dest are
// rejected.
func Extract(archivePath, dest string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("unable to open bundle: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("%w: not a gzip archive: %s", errors.ErrArchiveCorrupt, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s", errors.ErrArchiveCorrupt, err)
		}

		target, err := securePath(dest, header.Name)
		if err != nil {
			return "", err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return "", err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
			if err != nil {
				return "", err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return "", err
			}
			if err := out.Close(); err != nil {
				return "", err
			}
		}
	}

	return findBundleDir(dest)
}

// securePath joins name under dest, rejecting traversal outside of it.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes the extraction directory", errors.ErrArchiveCorrupt, name)
	}
	return target, nil
}

func findBundleDir(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(dest, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: no bundle directory found in archive", errors.ErrArchiveCorrupt)
}
