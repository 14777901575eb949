package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/humanitec/oidc-role-manager/internal/message"
)

// Load reads the session file. A missing file is an empty session.
func (s *Store) Load() (*Session, error) {
	state := &Session{Stacks: map[string]StackRecord{}}

	stateFile, err := os.ReadFile(filepath.Join(s.dir, stateFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read state file: %w", err)
		}
		message.Debug("State file not found, creating new state")
		return state, nil
	}

	if err := json.Unmarshal(stateFile, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state file: %w", err)
	}
	if state.Stacks == nil {
		state.Stacks = map[string]StackRecord{}
	}
	return state, nil
}
