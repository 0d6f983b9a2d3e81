package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// rotatingFile appends lines to path and renames it aside once it would
// grow past maxBytes. Only the newest maxBackups rotated files are kept.
type rotatingFile struct {
	path       string
	maxBytes   int64
	maxBackups int
	f          *os.File
	size       int64
	now        func() time.Time
}

func newRotatingFile(path string, maxBytes int64, maxBackups int) *rotatingFile {
	return &rotatingFile{path: path, maxBytes: maxBytes, maxBackups: maxBackups, now: time.Now}
}

func (r *rotatingFile) WriteLine(line string) error {
	if err := r.open(); err != nil {
		return err
	}
	n := int64(len(line) + 1)
	if r.size > 0 && r.size+n > r.maxBytes {
		if err := r.rotate(); err != nil {
			return err
		}
	}
	written, err := r.f.WriteString(line + "\n")
	r.size += int64(written)
	return err
}

func (r *rotatingFile) open() error {
	if r.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	r.f, r.size = f, info.Size()
	return nil
}

func (r *rotatingFile) rotate() error {
	if err := r.Close(); err != nil {
		return err
	}
	target, err := backupName(r.path, r.now())
	if err != nil {
		return err
	}
	if err := os.Rename(r.path, target); err != nil {
		return err
	}
	r.prune()
	return r.open()
}

// prune is best effort; a backup that cannot be removed is left behind.
func (r *rotatingFile) prune() {
	if r.maxBackups <= 0 {
		return
	}
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	matches, err := filepath.Glob(base + "-*" + ext)
	if err != nil || len(matches) <= r.maxBackups {
		return
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-r.maxBackups] {
		_ = os.Remove(old)
	}
}

func (r *rotatingFile) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f, r.size = nil, 0
	return err
}

// backupName returns path-<timestamp>.<n><ext> with the first free n. The
// timestamp sorts lexically so pruning can order backups by name.
func backupName(path string, now time.Time) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	stamp := now.UTC().Format("20060102T150405")
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%s.%03d%s", base, stamp, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
