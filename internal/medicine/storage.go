package medicine

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for label photo storage
type Storage interface {
	// Save stores a photo and returns its reference
	Save(name string, data []byte) (string, error)

	// Get retrieves a photo by reference
	Get(ref string) ([]byte, error)

	// Delete removes a photo
	Delete(ref string) error

	// List returns the reference of every stored photo
	List() ([]string, error)
}

// LocalStorage implements the Storage interface using a local directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// path resolves a reference inside the base directory. References are flat
// file names, anything else is rejected.
func (l *LocalStorage) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", fmt.Errorf("invalid storage reference %q", ref)
	}
	return filepath.Join(l.basePath, ref), nil
}

// Save writes a photo to the storage directory
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := l.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads a photo from the storage directory
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a photo from the storage directory
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// List returns the names of the files in the storage directory
func (l *LocalStorage) List() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	refs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			refs = append(refs, entry.Name())
		}
	}
	return refs, nil
}
