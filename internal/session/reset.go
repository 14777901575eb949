package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// Forget drops the record of a stack.
func (s *Store) Forget(stack string) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	if _, ok := state.Stacks[stack]; !ok {
		return nil
	}
	delete(state.Stacks, stack)
	return s.Save(state)
}

// Reset removes the session file.
func (s *Store) Reset() error {
	if err := os.RemoveAll(filepath.Join(s.dir, stateFileName)); err != nil {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
