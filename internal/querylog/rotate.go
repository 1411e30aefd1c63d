package querylog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// rotatingFile is a size-rotated log file. When the active file would
// exceed maxSize it is compressed to <path>.1.gz and older backups shift
// up, keeping at most backups compressed files. Only the writer goroutine
// touches it, so there is no locking.
type rotatingFile struct {
	path    string
	maxSize int64
	backups int

	f    *os.File
	size int64
}

func openRotating(path string, maxSize int64, backups int) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat query log: %w", err)
	}
	return &rotatingFile{
		path:    path,
		maxSize: maxSize,
		backups: backups,
		f:       f,
		size:    fi.Size(),
	}, nil
}

func (w *rotatingFile) Write(p []byte) error {
	if w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("rotate query log: %w", err)
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return err
}

func (w *rotatingFile) backupName(i int) string {
	return fmt.Sprintf("%s.%d.gz", w.path, i)
}

func (w *rotatingFile) rotate() error {
	if err := w.f.Close(); err != nil {
		return err
	}

	_ = os.Remove(w.backupName(w.backups))
	for i := w.backups - 1; i >= 1; i-- {
		_ = os.Rename(w.backupName(i), w.backupName(i+1))
	}
	if err := compressFile(w.path, w.backupName(1)); err != nil {
		return err
	}
	if err := os.Remove(w.path); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	return nil
}

// compressFile gzips src into dst.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (w *rotatingFile) Close() error {
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
