package filequeue

import (
	"os"
	"path/filepath"
	"sync"
)

// FileSystem is the set of file operations the queue needs.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Glob(pattern string) ([]string, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
}

// DiskFS is FileSystem backed by the os package.
type DiskFS struct{}

func NewDiskFS() *DiskFS {
	return &DiskFS{}
}

func (fs *DiskFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (fs *DiskFS) Glob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

func (fs *DiskFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (fs *DiskFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (fs *DiskFS) Remove(name string) error {
	return os.Remove(name)
}

// MemoryFS keeps files in a map. Directories are implied by file names.
type MemoryFS struct {
	mu    sync.RWMutex
	files map[string][]byte
}

func NewMemoryFS() *MemoryFS {
	return &MemoryFS{
		files: make(map[string][]byte),
	}
}

func (fs *MemoryFS) MkdirAll(string, os.FileMode) error {
	return nil
}

func (fs *MemoryFS) Glob(pattern string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var matches []string
	for name := range fs.files {
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

func (fs *MemoryFS) WriteFile(name string, data []byte, _ os.FileMode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.files[name] = append([]byte(nil), data...)
	return nil
}

func (fs *MemoryFS) ReadFile(name string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, ok := fs.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (fs *MemoryFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.files[name]; !ok {
		return os.ErrNotExist
	}
	delete(fs.files, name)
	return nil
}
