package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the session file through a temporary file and a rename.
func (s *Store) Save(state *Session) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state file directory: %w", err)
	}

	stateFile, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(stateFile); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, stateFileName)); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
