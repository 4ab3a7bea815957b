package branding

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/guseggert/sidecarshell/internal/logo"
)

const FileName = "branding.json"

// Store persists the branding config as a single JSON file in the app data dir.
type Store struct {
	Dir string
}

func (s *Store) path() string { return filepath.Join(s.Dir, FileName) }

// Get returns the stored branding config, or nil if none has been saved.
func (s *Store) Get() (json.RawMessage, error) {
	b, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading branding: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%s does not contain valid JSON", s.path())
	}
	return json.RawMessage(b), nil
}

// Save replaces the stored branding config with raw, which must be valid JSON.
func (s *Store) Save(raw string) error {
	if !json.Valid([]byte(raw)) {
		return errors.New("branding is not valid JSON")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating app data dir: %w", err)
	}
	// write to a sibling and rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.Dir, FileName+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing branding: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing branding: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path()); err != nil {
		return fmt.Errorf("replacing branding: %w", err)
	}
	return nil
}

// Clear removes the branding config and the cached logo. Missing files are not an error.
func (s *Store) Clear() error {
	for _, name := range []string{FileName, logo.FileName} {
		err := os.Remove(filepath.Join(s.Dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}
