package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteFileToDir creates dstDir/name and fills it with write. An existing
// file is never overwritten; the new one gets a -<unixnano> suffix instead.
// A failed write removes the partial file.
func WriteFileToDir(dstDir, name string, write func(io.Writer) error) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("dstDir is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(name)
	dstPath := filepath.Join(dstDir, base)

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dstPath = filepath.Join(dstDir, fmt.Sprintf("%s-%d%s", stem, time.Now().UnixNano(), ext))
		out, err = os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", err
	}

	writeErr := write(out)
	closeErr := out.Close()
	if writeErr != nil {
		_ = os.Remove(dstPath)
		return "", writeErr
	}
	if closeErr != nil {
		_ = os.Remove(dstPath)
		return "", closeErr
	}
	return dstPath, nil
}
