// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CopyExecutable copies src into dir as an executable and returns the new
// path and its inode number. A private copy gives the test an inode no
// other process on the host is executing.
func CopyExecutable(src, dir string) (string, uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	dst := filepath.Join(dir, filepath.Base(src))
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", 0, fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", 0, err
	}

	var st unix.Stat_t
	if err := unix.Stat(dst, &st); err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", dst, err)
	}
	return dst, st.Ino, nil
}
