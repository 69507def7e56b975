package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samcharles93/wtnt/pkg/wtnt"
)

// ContainerStore serves containers from a directory, keeping them open
// (and mapped) after first use.
type ContainerStore struct {
	dir string

	mu   sync.Mutex
	open map[string]*wtnt.File
}

func NewContainerStore(dir string) *ContainerStore {
	return &ContainerStore{
		dir:  dir,
		open: make(map[string]*wtnt.File),
	}
}

// List returns the container names available in the store directory,
// without the .wtnt extension.
func (s *ContainerStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".wtnt") {
			names = append(names, strings.TrimSuffix(name, ".wtnt"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get opens the named container, or returns the already-open handle.
func (s *ContainerStore) Get(name string) (*wtnt.File, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.open[name]; ok {
		return f, nil
	}
	f, err := wtnt.Open(filepath.Join(s.dir, name+".wtnt"))
	if err != nil {
		return nil, err
	}
	s.open[name] = f
	return f, nil
}

// Close releases every open container.
func (s *ContainerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, f := range s.open {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.open, name)
	}
	return firstErr
}

// validateName rejects names that could escape the store directory.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty model name")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid model name %q", name)
	}
	return nil
}
