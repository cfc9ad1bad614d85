package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRegistryFile is the registry file name inside the run directory.
const DefaultRegistryFile = "workers.pid"

// Registry is the persisted list of worker PIDs: a text file with one PID
// per line. Appends go straight to the end of the file; removals rewrite it
// through a temporary file and a rename so readers never see a partial
// list.
type Registry struct {
	path string
	mu   sync.Mutex
}

// NewRegistry returns a registry stored at path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path}
}

// NewRegistryInDir returns a registry stored at dir/workers.pid.
func NewRegistryInDir(dir string) *Registry {
	return NewRegistry(filepath.Join(dir, DefaultRegistryFile))
}

// Path returns the registry file path.
func (r *Registry) Path() string { return r.path }

// Append records pid at the end of the registry, creating the file and its
// directory if needed.
func (r *Registry) Append(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("supervisor: create run dir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("supervisor: open registry: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		return fmt.Errorf("supervisor: append pid %d: %w", pid, err)
	}
	return f.Close()
}

// ModTime returns when the registry file was last written.
func (r *Registry) ModTime() (time.Time, error) {
	fi, err := os.Stat(r.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("supervisor: stat registry: %w", err)
	}
	return fi.ModTime(), nil
}

// Read returns the recorded PIDs in file order. A missing file is an empty
// registry. Lines that are not positive integers are skipped.
func (r *Registry) Read() ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *Registry) read() ([]int, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("supervisor: open registry: %w", err)
	}
	defer f.Close()

	var pids []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("supervisor: read registry: %w", err)
	}
	return pids, nil
}

// Remove drops the given PIDs from the registry.
func (r *Registry) Remove(pids ...int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(current, func(pid int) bool {
		return slices.Contains(pids, pid)
	})
	if len(kept) == 0 {
		return r.clear()
	}

	var b strings.Builder
	for _, pid := range kept {
		fmt.Fprintf(&b, "%d\n", pid)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("supervisor: write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("supervisor: replace registry: %w", err)
	}
	return nil
}

// Clear deletes the registry file. A missing file is not an error.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clear()
}

func (r *Registry) clear() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("supervisor: clear registry: %w", err)
	}
	return nil
}
