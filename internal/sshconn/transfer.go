package sshconn

// transfer.go implements file staging over SFTP: pushing verification
// payloads and cloud-init artifacts onto droplets, and pulling logs or probe
// output back. Each operation opens its own SFTP client over the existing
// SSH connection; the ones this program performs are too infrequent to be
// worth pooling.

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
)

var ErrTransfer = fmt.Errorf("file transfer failed")

// Upload copies the local file at 'localPath' to 'remotePath', preserving
// its permission bits.
func (c *Client) Upload(localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return c.upload(f, remotePath, info.Mode().Perm())
}

// UploadBytes writes 'data' to 'remotePath' with permissions 'mode'.
func (c *Client) UploadBytes(data []byte, remotePath string, mode fs.FileMode) error {
	return c.upload(bytes.NewReader(data), remotePath, mode)
}

func (c *Client) upload(r io.Reader, remotePath string, mode fs.FileMode) error {
	sc, err := sftp.NewClient(c.ssh)
	if err != nil {
		return fmt.Errorf("%w: opening sftp subsystem: %w", ErrTransfer, err)
	}
	defer sc.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return fmt.Errorf("%w: creating %s: %w", ErrTransfer, dir, err)
		}
	}

	f, err := sc.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrTransfer, remotePath, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrTransfer, remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrTransfer, remotePath, err)
	}
	if err := sc.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("%w: setting mode on %s: %w", ErrTransfer, remotePath, err)
	}
	return nil
}

// Download reads the remote file at 'remotePath' into memory.
func (c *Client) Download(remotePath string) ([]byte, error) {
	sc, err := sftp.NewClient(c.ssh)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sftp subsystem: %w", ErrTransfer, err)
	}
	defer sc.Close()

	f, err := sc.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrTransfer, remotePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrTransfer, remotePath, err)
	}
	return data, nil
}
