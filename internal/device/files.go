package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// writeFileAtomically replaces fpath in one rename. The mode is applied
// before any data is written.
func writeFileAtomically(fpath string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(fpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	t, err := renameio.TempFile(dir, fpath)
	if err != nil {
		return err
	}
	defer func() {
		_ = t.Cleanup()
	}()
	if err := t.Chmod(mode); err != nil {
		return err
	}
	if _, err := t.Write(b); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

// Marker is the permanent "provisioned" flag on local storage.
type Marker struct {
	path string
}

func NewMarker(path string) *Marker {
	return &Marker{path: path}
}

func (m *Marker) Path() string {
	return m.path
}

func (m *Marker) Exists() (bool, error) {
	_, err := os.Stat(m.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat marker: %w", err)
}

func (m *Marker) Write() error {
	if err := writeFileAtomically(m.path, []byte("1"), 0o644); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", m.path, err)
	}
	return nil
}
