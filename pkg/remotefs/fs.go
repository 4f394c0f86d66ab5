// Package remotefs abstracts the file operations gosbatch performs on the
// cluster side: job records, rendered scripts, staged inputs, and transfer
// archives.
//
// Paths are always slash-separated absolute paths. The SFTP implementation
// talks to the login node over the shared SSH connection; the Local
// implementation works on the host filesystem and backs the local transport.
package remotefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// Entry describes one file or directory.
type Entry struct {
	Name    string      `json:"name"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
	IsDir   bool        `json:"is_dir"`
}

// FS is the set of file operations used against the job and app roots.
type FS interface {
	Stat(ctx context.Context, p string) (Entry, error)

	// ReadDir lists p sorted by name.
	ReadDir(ctx context.Context, p string) ([]Entry, error)

	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Create truncates or creates p for writing.
	Create(ctx context.Context, p string) (io.WriteCloser, error)

	MkdirAll(ctx context.Context, p string) error
	Chmod(ctx context.Context, p string, mode fs.FileMode) error

	// Rename moves oldp to newp, replacing newp if it exists.
	Rename(ctx context.Context, oldp, newp string) error

	Remove(ctx context.Context, p string) error
	RemoveAll(ctx context.Context, p string) error

	Close() error
}

// PathError records a failed file operation.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PathError) Unwrap() error {
	return e.Err
}

// Is maps missing paths onto errdefs.ErrNotFound.
func (e *PathError) Is(target error) bool {
	return target == errdefs.ErrNotFound && errors.Is(e.Err, fs.ErrNotExist)
}

func wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: p, Err: err}
}

// ReadFile reads the whole file at p.
func ReadFile(ctx context.Context, fsys FS, p string) ([]byte, error) {
	r, err := fsys.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, wrap("read", p, err)
	}
	return b, nil
}

// WriteFile creates or truncates p and writes data to it.
func WriteFile(ctx context.Context, fsys FS, p string, data []byte) error {
	w, err := fsys.Create(ctx, p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return wrap("write", p, err)
	}
	return wrap("close", p, w.Close())
}

// WriteFileAtomic writes data next to p under a temporary name and renames it
// over p, so readers see either the previous contents or the new ones.
func WriteFileAtomic(ctx context.Context, fsys FS, p string, data []byte) error {
	tmp := path.Join(path.Dir(p), fmt.Sprintf(".%s.tmp.%s", path.Base(p), uuid.NewString()))
	if err := WriteFile(ctx, fsys, tmp, data); err != nil {
		_ = fsys.Remove(ctx, tmp)
		return err
	}
	if err := fsys.Rename(ctx, tmp, p); err != nil {
		_ = fsys.Remove(ctx, tmp)
		return err
	}
	return nil
}

// Exists reports whether p exists. Errors other than not-found are returned.
func Exists(ctx context.Context, fsys FS, p string) (bool, error) {
	_, err := fsys.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func entryFromInfo(fi fs.FileInfo) Entry {
	return Entry{
		Name:    fi.Name(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
}

func entriesFromInfos(infos []fs.FileInfo) []Entry {
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, entryFromInfo(fi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the entry names in order.
func Names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
