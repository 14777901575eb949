package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

const (
	ConfigFileName = "main.tf.json"
	StateFileName  = "terraform.tfstate"
	planFileName   = "tfplan"
	dataDirName    = ".terraform"
)

var ErrStackNotFound = errors.New("stack not found")

// Stack is the Terraform workspace of one account.
type Stack struct {
	Name      string `json:"name" yaml:"name"`
	AccountID string `json:"accountId" yaml:"accountId"`
	Dir       string `json:"dir" yaml:"dir"`
}

func NewStack(stateDir, stackName, accountID string) Stack {
	name := StackName(stackName, accountID)
	return Stack{
		Name:      name,
		AccountID: accountID,
		Dir:       filepath.Join(stateDir, name),
	}
}

// StackName combines the base stack name with the account id.
func StackName(stackName, accountID string) string {
	return fmt.Sprintf("%s-%s", stackName, accountID)
}

func (s Stack) ConfigPath() string {
	return filepath.Join(s.Dir, ConfigFileName)
}

func (s Stack) StatePath() string {
	return filepath.Join(s.Dir, StateFileName)
}

func (s Stack) planPath() string {
	return filepath.Join(s.Dir, planFileName)
}

// Exists reports whether the stack has been applied at least once.
func (s Stack) Exists() bool {
	_, err := os.Stat(s.StatePath())
	return err == nil
}

func (s Stack) initialized() bool {
	info, err := os.Stat(filepath.Join(s.Dir, dataDirName))
	return err == nil && info.IsDir()
}

// LastUpdate is the modification time of the state file.
func (s Stack) LastUpdate() (time.Time, error) {
	info, err := os.Stat(s.StatePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrStackNotFound
		}
		return time.Time{}, fmt.Errorf("failed to stat state file: %w", err)
	}
	return info.ModTime(), nil
}

// ListStacks returns the stacks of stackName found in stateDir, sorted by account id.
func ListStacks(stateDir, stackName string) ([]Stack, error) {
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(stackName) + `-(\d{12})$`)
	var stacks []Stack
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		stacks = append(stacks, NewStack(stateDir, stackName, match[1]))
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].AccountID < stacks[j].AccountID })
	return stacks, nil
}
