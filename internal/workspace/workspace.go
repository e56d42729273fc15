// Package workspace allocates per-request scratch directories so concurrent
// verifications never share a temp path.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Manager creates workspaces under a root directory.
type Manager struct {
	root string
}

// NewManager returns a Manager rooted at root, creating it if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("cannot create work dir: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the directory holding all workspaces.
func (m *Manager) Root() string { return m.root }

// New creates an empty workspace with a fresh id.
func (m *Manager) New() (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("cannot create workspace: %w", err)
	}
	return &Workspace{ID: id, dir: dir}, nil
}

// Sweep removes leftover workspaces, e.g. from a crash, and returns how many
// were removed.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Workspace is a scratch directory owned by one request.
type Workspace struct {
	ID  string
	dir string

	once     sync.Once
	released atomic.Bool
	err      error
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Path returns name joined to the workspace directory. name must be a plain
// file name.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Save copies r into the workspace as name and returns its path.
func (w *Workspace) Save(name string, r io.Reader) (string, error) {
	path := w.Path(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("cannot create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("cannot write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Release removes the workspace and everything in it. Only the first call
// does any work; it reports true to that caller.
func (w *Workspace) Release() (bool, error) {
	first := false
	w.once.Do(func() {
		first = true
		w.released.Store(true)
		w.err = os.RemoveAll(w.dir)
	})
	return first, w.err
}

// Released reports whether Release has run.
func (w *Workspace) Released() bool {
	return w.released.Load()
}

// UploadName picks a stored file name for an upload, keeping a sane
// extension so ffmpeg can sniff the container.
func UploadName(base, original string, allowed map[string]bool, fallback string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if !allowed[ext] {
		ext = fallback
	}
	return base + ext
}
