package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"chaos-organizer/internal/idgen"
)

// DiskStore keeps blobs as files in a single directory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (d *DiskStore) Save(_ context.Context, data []byte, originalName, _ string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name, err := idgen.Name()
		if err != nil {
			return "", err
		}

		// O_EXCL guarantees an existing blob is never overwritten.
		f, err := os.OpenFile(filepath.Join(d.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create blob: %w", err)
		}

		if err := writeAndClose(f, data); err != nil {
			os.Remove(f.Name())
			return "", err
		}

		slog.Info("[BLOB] Stored upload", "name", name, "original", originalName, "bytes", len(data))
		return name, nil
	}
	return "", fmt.Errorf("no free blob name after %d attempts", maxNameAttempts)
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync blob: %w", err)
	}
	return f.Close()
}

func (d *DiskStore) Retrieve(_ context.Context, name string) (*Object, error) {
	path, ok := d.resolve(name)
	if !ok {
		slog.Warn("[BLOB] Rejected blob name", "name", name)
		return nil, notFound(name)
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat blob: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, notFound(name)
	}
	return &Object{ReadCloser: f, Size: info.Size()}, nil
}

func (d *DiskStore) Delete(_ context.Context, name string) error {
	path, ok := d.resolve(name)
	if !ok {
		return notFound(name)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	slog.Info("[BLOB] Removed upload", "name", name)
	return nil
}

// resolve maps name to a path inside the storage directory.
func (d *DiskStore) resolve(name string) (string, bool) {
	if !validName(name) {
		return "", false
	}
	root, err := filepath.Abs(d.dir)
	if err != nil {
		return "", false
	}
	path := filepath.Join(root, name)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel != name || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return path, true
}
