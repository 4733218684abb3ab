package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

func excluded(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// archiveTree writes root as a gzipped tarball to dest. Entries whose base name matches
// one of excludes are left out; for directories, so is everything below them.
// Paths in the archive are relative to root's parent, so the tree unpacks under its own name.
func archiveTree(ctx context.Context, root, dest string, excludes []string) error {
	return writeCompressed(dest, func(w io.Writer) error {
		tw := tar.NewWriter(w)
		parent := filepath.Dir(filepath.Clean(root))

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if path != root && excluded(d.Name(), excludes) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			link := ""
			switch {
			case info.Mode()&fs.ModeSymlink != 0:
				if link, err = os.Readlink(path); err != nil {
					return err
				}
			case !info.Mode().IsRegular() && !info.IsDir():
				return nil
			}

			hdr, err := tar.FileInfoHeader(info, link)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if info.IsDir() {
				hdr.Name += "/"
			}
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if !info.Mode().IsRegular() {
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
			return err
		}
		return tw.Close()
	})
}

// writeCompressed creates dest and lets write fill it through a gzip stream.
// dest is removed again when anything fails.
func writeCompressed(dest string, write func(w io.Writer) error) error {
	return writeFile(dest, func(w io.Writer) error {
		gz := gzip.NewWriter(w)
		if err := write(gz); err != nil {
			return err
		}
		return gz.Close()
	})
}

func writeFile(dest string, write func(w io.Writer) error) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	err = write(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("write %s: %w", filepath.Base(dest), err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeFile(dest, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
