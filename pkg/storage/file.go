package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// File keeps each record in its own YAML file under a directory.
type File struct {
	records
	dir string
}

// NewFile creates a file store rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrIO, dir, err)
	}
	f := &File{dir: dir}
	f.records = records{b: fileBackend{dir: dir}}
	return f, nil
}

// Dir returns the store directory.
func (f *File) Dir() string {
	return f.dir
}

// Close implements io.Closer.
func (f *File) Close() error {
	return nil
}

type fileBackend struct {
	dir string
}

func (b fileBackend) path(key string) string {
	return filepath.Join(b.dir, key+".yaml")
}

func (b fileBackend) get(key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, key, err)
	}
	return data, nil
}

// put writes to a temp file first and renames it into place, so a power
// loss leaves either the old or the new record.
func (b fileBackend) put(key string, data []byte) error {
	path := b.path(key)
	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, key, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("%w: write %s: %v", ErrIO, key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("%w: sync %s: %v", ErrIO, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: close %s: %v", ErrIO, key, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: rename %s: %v", ErrIO, key, err)
	}
	return nil
}

func (b fileBackend) del(key string) error {
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, key, err)
	}
	return nil
}
