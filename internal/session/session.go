// Package session keeps the history of engine runs per stack in the state
// directory, so status and list-stacks can report what was done last.
package session

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

const stateFileName = "session.json"

type Operation string

const (
	OperationDeploy  Operation = "deploy"
	OperationPreview Operation = "preview"
	OperationDestroy Operation = "destroy"
)

type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
)

// StackRecord is the last run recorded for a stack.
type StackRecord struct {
	Stack     string    `json:"stack" yaml:"stack"`
	AccountID string    `json:"accountId" yaml:"accountId"`
	RunID     string    `json:"runId" yaml:"runId"`
	Operation Operation `json:"operation" yaml:"operation"`
	Result    Result    `json:"result" yaml:"result"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	Roles     []string  `json:"roles,omitempty" yaml:"roles,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

type Session struct {
	Stacks map[string]StackRecord `json:"stacks"`
}

// Store reads and writes the session file of a state directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// NewRecord starts a record for a run with a fresh run id.
func (s *Store) NewRecord(stack, accountID string, op Operation, roles []string) StackRecord {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return StackRecord{
		Stack:     stack,
		AccountID: accountID,
		RunID:     uuid.NewString(),
		Operation: op,
		Roles:     sorted,
	}
}

// Record stores the outcome of a run, replacing the previous record of
// its stack.
func (s *Store) Record(record StackRecord, runErr error) error {
	record.Result = ResultSucceeded
	if runErr != nil {
		record.Result = ResultFailed
		record.Error = runErr.Error()
	}
	record.UpdatedAt = s.now().UTC()

	state, err := s.Load()
	if err != nil {
		return err
	}
	state.Stacks[record.Stack] = record
	return s.Save(state)
}

// Get returns the record of a stack, if any.
func (s *Store) Get(stack string) (StackRecord, bool, error) {
	state, err := s.Load()
	if err != nil {
		return StackRecord{}, false, err
	}
	record, ok := state.Stacks[stack]
	return record, ok, nil
}
