package cluster

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// CopyDir downloads remoteDir from the worker into localDir by streaming a tar archive
// over exec. Returns the number of files written.
func (c *Client) CopyDir(ctx context.Context, name, remoteDir, localDir string) (int, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", localDir, err)
	}

	reader, writer := io.Pipe()
	var stderr bytes.Buffer
	execErr := make(chan error, 1)
	go func() {
		status, err := c.Exec(ctx, name, []string{"tar", "cf", "-", "-C", remoteDir, "."}, writer, &stderr)
		if err == nil && status.Known && status.Code != 0 {
			err = fmt.Errorf("tar exited with %d: %s", status.Code, strings.TrimSpace(stderr.String()))
		}
		writer.CloseWithError(err)
		execErr <- err
	}()

	files, untarErr := Untar(reader, localDir)
	// Drain so the exec goroutine can finish when untar stopped early
	_, _ = io.Copy(io.Discard, reader)
	err := <-execErr
	if err == nil {
		err = untarErr
	}
	if err != nil {
		return files, fmt.Errorf("failed to copy %s from pod %s: %w", remoteDir, name, err)
	}
	c.logger.Info("downloaded worker results", zap.String("pod", name), zap.String("dir", localDir), zap.Int("files", files))
	return files, nil
}

// Untar extracts regular files and directories from r below dest. Entries escaping dest
// and links are skipped.
func Untar(r io.Reader, dest string) (int, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	tr := tar.NewReader(r)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, err
		}

		target := filepath.Join(dest, filepath.Clean("/"+hdr.Name))
		if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return files, err
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files++
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
