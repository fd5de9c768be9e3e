package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// Upload copies a local file to the remote host over SFTP, creating
// parent directories as needed. When executable is set the remote file
// is marked 0755 so it can be launched directly.
func (e *Executor) Upload(ctx context.Context, conn *Connection, localPath, remotePath string, executable bool) error {
	if localPath == "" {
		return fmt.Errorf("local path cannot be empty")
	}
	if remotePath == "" {
		return fmt.Errorf("remote path cannot be empty")
	}

	localInfo, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if localInfo.IsDir() {
		return fmt.Errorf("local path is a directory, not a file")
	}

	if conn == nil || conn.client == nil {
		return fmt.Errorf("connection is nil or closed")
	}

	sftpClient, err := sftp.NewClient(conn.client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	// Remote paths are always slash-separated regardless of the local OS
	remoteDir := path.Dir(remotePath)
	if remoteDir != "" && remoteDir != "." && remoteDir != "/" {
		// Ignore errors, the directories may already exist
		_ = sftpClient.MkdirAll(remoteDir)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	// Copy with context cancellation support
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, localFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			remoteFile.Close()
			_ = sftpClient.Remove(remotePath)
			return fmt.Errorf("failed to copy file: %w", err)
		}
	case <-ctx.Done():
		remoteFile.Close()
		_ = sftpClient.Remove(remotePath)
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}

	if executable {
		if err := sftpClient.Chmod(remotePath, 0755); err != nil {
			return fmt.Errorf("failed to mark remote file executable: %w", err)
		}
	}
	return nil
}
