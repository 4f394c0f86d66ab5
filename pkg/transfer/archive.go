package transfer

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
)

// Options controls which local files are packed for upload.
type Options struct {
	// IncludeHidden packs dot-files and dot-directories. They are skipped by
	// default.
	IncludeHidden bool

	// Exclude lists doublestar patterns matched against slash-separated paths
	// relative to the uploaded directory (e.g. "**/*.tmp", "build/**").
	Exclude []string
}

// Validate checks that every exclude pattern parses.
func (o Options) Validate() error {
	for _, p := range o.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return nil
}

func (o Options) skip(rel string) bool {
	if !o.IncludeHidden && strings.HasPrefix(path.Base(rel), ".") {
		return true
	}
	for _, p := range o.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Pack writes src as a gzip-compressed tar stream to w. Every entry is stored
// under root, so unpacking in a directory recreates src as <dir>/<root>.
func Pack(w io.Writer, src, root string, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	zw := gzip.NewWriter(w)
	tw := tar.NewWriter(zw)

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := root
		if rel != "." {
			if opts.skip(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			name = path.Join(root, rel)
		}
		return addEntry(tw, p, name, d)
	})
	if err != nil {
		_ = tw.Close()
		_ = zw.Close()
		return fmt.Errorf("pack %s: %w", src, err)
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, p, name string, d fs.DirEntry) error {
	fi, err := d.Info()
	if err != nil {
		return err
	}
	link := ""
	if fi.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(p); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(fi, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if fi.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}

// Unpack extracts a gzip-compressed tar stream into dest. The first path
// element of every entry is replaced by dest, so an archive rooted at "data"
// unpacks "data/a.txt" to "<dest>/a.txt".
func Unpack(r io.Reader, dest string) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	tr := tar.NewReader(zr)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := unpackTarget(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func unpackTarget(dest, name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	rest := ""
	if i := strings.IndexByte(clean, '/'); i >= 0 {
		rest = clean[i+1:]
	}
	return filepath.Join(dest, filepath.FromSlash(rest)), nil
}

func writeEntry(r io.Reader, target string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
