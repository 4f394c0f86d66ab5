// Package transfer moves files and directories between the local machine and
// the cluster.
//
// Single files are streamed directly. Directories are packed into one
// tar.gz archive, sent as a single file, and unpacked by a tar command on the
// other side, which keeps round trips constant regardless of file count.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/remotefs"
)

// Runner runs a shell command on the cluster and waits for it to finish.
// *command.Registry satisfies it.
type Runner interface {
	Run(ctx context.Context, text string) (command.Command, error)
}

type Transfer struct {
	fs     remotefs.FS
	runner Runner
	logger *zap.Logger
}

func New(fsys remotefs.FS, runner Runner, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{fs: fsys, runner: runner, logger: logger}
}

// Upload copies local to remote, whether local is a file or a directory, and
// returns the listing of remote's parent directory.
func (t *Transfer) Upload(ctx context.Context, local, remote string, opts Options) ([]remotefs.Entry, error) {
	fi, err := os.Stat(local)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("local path %s", local)
		}
		return nil, fmt.Errorf("stat %s: %w", local, err)
	}
	remoteDir := path.Dir(remote)

	if fi.IsDir() {
		err = t.uploadDir(ctx, local, remote, opts)
	} else {
		err = t.uploadFile(ctx, local, remote)
	}
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Uploaded", zap.String("local", local), zap.String("remote", remote), zap.Bool("dir", fi.IsDir()))
	return t.fs.ReadDir(ctx, remoteDir)
}

func (t *Transfer) uploadFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer func() { _ = f.Close() }()

	w, err := t.fs.Create(ctx, remote)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", remote, err)
	}
	return nil
}

func (t *Transfer) uploadDir(ctx context.Context, local, remote string, opts Options) error {
	tmp, err := os.CreateTemp("", "gosbatch-upload-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := Pack(tmp, local, path.Base(remote), opts); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp archive: %w", err)
	}

	remoteDir := path.Dir(remote)
	remoteTar := path.Join(remoteDir, tempArchiveName())
	if err := t.uploadFile(ctx, tmpName, remoteTar); err != nil {
		return err
	}

	q := command.Quote
	cmd := fmt.Sprintf("tar -xzf %s -C %s; rc=$?; rm -f %s; exit $rc", q(remoteTar), q(remoteDir), q(remoteTar))
	if _, err := t.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("unpack %s: %w", remote, err)
	}
	return nil
}

// Download copies remote to local, whether remote is a file or a directory.
// A directory lands at local itself, not inside it.
func (t *Transfer) Download(ctx context.Context, remote, local string) error {
	st, err := t.fs.Stat(ctx, remote)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(local), err)
	}

	if st.IsDir {
		err = t.downloadDir(ctx, remote, local)
	} else {
		err = t.downloadFile(ctx, remote, local)
	}
	if err != nil {
		return err
	}
	t.logger.Debug("Downloaded", zap.String("remote", remote), zap.String("local", local), zap.Bool("dir", st.IsDir))
	return nil
}

func (t *Transfer) downloadFile(ctx context.Context, remote, local string) error {
	r, err := t.fs.Open(ctx, remote)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	f, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("download %s: %w", remote, err)
	}
	return f.Close()
}

func (t *Transfer) downloadDir(ctx context.Context, remote, local string) error {
	remoteTar := path.Join(path.Dir(remote), tempArchiveName())
	q := command.Quote
	cmd := fmt.Sprintf("tar -czf %s -C %s %s", q(remoteTar), q(path.Dir(remote)), q(path.Base(remote)))
	if _, err := t.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("pack %s: %w", remote, err)
	}
	defer func() {
		if err := t.fs.Remove(context.WithoutCancel(ctx), remoteTar); err != nil {
			t.logger.Warn("Failed to remove remote archive", zap.String("path", remoteTar), zap.Error(err))
		}
	}()

	r, err := t.fs.Open(ctx, remoteTar)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := Unpack(r, local); err != nil {
		return fmt.Errorf("unpack %s: %w", remote, err)
	}
	return nil
}

func tempArchiveName() string {
	return ".gosbatch_tmp_" + uuid.NewString() + ".tar.gz"
}
