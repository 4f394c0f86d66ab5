package remotefs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements FS on the host filesystem.
type Local struct{}

var _ FS = (*Local)(nil)

func NewLocal() *Local { return &Local{} }

func (l *Local) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	fi, err := os.Stat(filepath.FromSlash(p))
	if err != nil {
		return Entry{}, wrap("stat", p, err)
	}
	return entryFromInfo(fi), nil
}

func (l *Local) ReadDir(ctx context.Context, p string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(filepath.FromSlash(p))
	if err != nil {
		return nil, wrap("readdir", p, err)
	}
	infos := make([]fs.FileInfo, 0, len(dirents))
	for _, d := range dirents {
		fi, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		infos = append(infos, fi)
	}
	return entriesFromInfos(infos), nil
}

func (l *Local) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.FromSlash(p))
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return f, nil
}

func (l *Local) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.FromSlash(p))
	if err != nil {
		return nil, wrap("create", p, err)
	}
	return f, nil
}

func (l *Local) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("mkdir", p, os.MkdirAll(filepath.FromSlash(p), 0o755))
}

func (l *Local) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("chmod", p, os.Chmod(filepath.FromSlash(p), mode))
}

func (l *Local) Rename(ctx context.Context, oldp, newp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("rename", oldp, os.Rename(filepath.FromSlash(oldp), filepath.FromSlash(newp)))
}

func (l *Local) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("remove", p, os.Remove(filepath.FromSlash(p)))
}

func (l *Local) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("remove", p, os.RemoveAll(filepath.FromSlash(p)))
}

func (l *Local) Close() error { return nil }
