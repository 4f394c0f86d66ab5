package remotefs

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP implements FS over an SFTP subsystem session on an existing SSH
// connection.
type SFTP struct {
	client *sftp.Client
}

var _ FS = (*SFTP)(nil)

// NewSFTP starts the sftp subsystem on conn. Closing the returned FS does not
// close conn.
func NewSFTP(conn *ssh.Client) (*SFTP, error) {
	c, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("start sftp subsystem: %w", err)
	}
	return &SFTP{client: c}, nil
}

func (s *SFTP) Stat(ctx context.Context, p string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	fi, err := s.client.Stat(p)
	if err != nil {
		return Entry{}, wrap("stat", p, err)
	}
	return entryFromInfo(fi), nil
}

func (s *SFTP) ReadDir(ctx context.Context, p string) ([]Entry, error) {
	infos, err := s.client.ReadDirContext(ctx, p)
	if err != nil {
		return nil, wrap("readdir", p, err)
	}
	return entriesFromInfos(infos), nil
}

func (s *SFTP) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.client.Open(p)
	if err != nil {
		return nil, wrap("open", p, err)
	}
	return f, nil
}

func (s *SFTP) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.client.Create(p)
	if err != nil {
		return nil, wrap("create", p, err)
	}
	return f, nil
}

func (s *SFTP) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("mkdir", p, s.client.MkdirAll(p))
}

func (s *SFTP) Chmod(ctx context.Context, p string, mode fs.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("chmod", p, s.client.Chmod(p, mode))
}

// Rename uses the posix-rename@openssh.com extension so an existing target is
// replaced in one step.
func (s *SFTP) Rename(ctx context.Context, oldp, newp string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("rename", oldp, s.client.PosixRename(oldp, newp))
}

func (s *SFTP) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("remove", p, s.client.Remove(p))
}

func (s *SFTP) RemoveAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap("remove", p, s.client.RemoveAll(p))
}

func (s *SFTP) Close() error {
	return s.client.Close()
}
