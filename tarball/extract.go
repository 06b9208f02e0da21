package tarball

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/ernesto27/npm-bazel/packagejson"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Extract unpacks a gzipped tarball into dest, dropping the first path
// component of every entry. The archive is unpacked into a sibling staging
// directory that is renamed to dest once complete.
func Extract(src, dest string) error {
	staging := stagingDir(dest)
	if err := extractTo(src, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}

func stagingDir(dest string) string {
	return filepath.Join(filepath.Dir(dest), ".staging-"+uuid.NewString())
}

func extractTo(src, dest string) error {
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open tarball: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader for %s: %w", src, err)
	}
	defer gzr.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tarball %s: %w", src, err)
		}

		rel := stripFirst(header.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fs.FileMode(header.Mode).Perm()|0644); err != nil {
				return err
			}
		}
	}
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	_, rest, found := strings.Cut(name, "/")
	if !found {
		return ""
	}
	return strings.TrimSuffix(rest, "/")
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyDir copies a workspace package directory to dest, leaving out its
// node_modules. Like Extract it goes through a staging directory.
func CopyDir(src, dest string) error {
	staging := stagingDir(dest)
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		target := filepath.Join(staging, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		return writeFile(target, in, info.Mode().Perm())
	})
	if err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("failed to move %s into place: %w", dest, err)
	}
	return nil
}

// ReadManifest returns the package.json at the top of a gzipped tarball.
func ReadManifest(src string) (*packagejson.PackageJSON, error) {
	file, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open tarball: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader for %s: %w", src, err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no package.json in %s", packagejson.ErrMalformedManifest, src)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tarball %s: %w", src, err)
		}
		if header.Typeflag != tar.TypeReg || stripFirst(header.Name) != "package.json" {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		return packagejson.ParseBytes(data, src)
	}
}
