package roles

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/humanitec/oidc-role-manager/internal/message"
)

// Discover walks root and returns every role directory matching filter.
// Nothing is returned alongside an error.
func Discover(root string, filter Filter) (*Tree, error) {
	if err := requireDir(root); err != nil {
		return nil, err
	}

	var accountDirs []string
	if filter.AccountID != "" {
		dir := filepath.Join(root, filter.AccountID)
		if err := requireDir(dir); err != nil {
			return nil, err
		}
		if filter.RoleName != "" {
			if err := requireDir(filepath.Join(dir, filter.RoleName)); err != nil {
				return nil, err
			}
		}
		accountDirs = []string{filter.AccountID}
	} else {
		names, err := subdirectories(root)
		if err != nil {
			return nil, err
		}
		accountDirs = names
	}

	tree := &Tree{Root: root}
	for _, accountID := range accountDirs {
		group, err := loadAccount(root, accountID, filter.RoleName)
		if err != nil {
			return nil, err
		}
		if group == nil {
			continue
		}
		tree.Accounts = append(tree.Accounts, *group)
	}

	if filter.RoleName != "" && filter.AccountID == "" && len(tree.Accounts) == 0 {
		return nil, NewConfigNotFound(filepath.Join(root, "*", filter.RoleName), nil)
	}

	return tree, nil
}

func loadAccount(root, accountID, roleName string) (*AccountGroup, error) {
	accountPath := filepath.Join(root, accountID)

	var roleDirs []string
	if roleName != "" {
		dir := filepath.Join(accountPath, roleName)
		err := requireDir(dir)
		if err != nil {
			if errors.Is(err, ErrConfigNotFound) {
				return nil, nil
			}
			return nil, err
		}
		roleDirs = []string{roleName}
	} else {
		names, err := subdirectories(accountPath)
		if err != nil {
			return nil, err
		}
		roleDirs = names
	}

	group := &AccountGroup{AccountID: accountID, Path: accountPath}
	for _, dir := range roleDirs {
		candidate := loadCandidate(accountID, filepath.Join(accountPath, dir))
		if candidate == nil {
			message.Debug("Skipping %s: no %s", filepath.Join(accountPath, dir), DetailsFile)
			continue
		}
		group.Roles = append(group.Roles, *candidate)
	}
	return group, nil
}

// loadCandidate reads the files of one role directory. It returns nil when
// the directory has no details file. Files that cannot be read are recorded
// on the candidate so its siblings still load.
func loadCandidate(accountID, rolePath string) *Candidate {
	detailsPath := filepath.Join(rolePath, DetailsFile)
	c := &Candidate{
		AccountID:   accountID,
		Dir:         filepath.Base(rolePath),
		Path:        rolePath,
		DetailsPath: detailsPath,
	}

	details, found, err := readOptional(detailsPath)
	if err != nil {
		c.Err = NewUnreadable(detailsPath, err)
		return c
	}
	if !found {
		return nil
	}
	c.Details = details

	managedPath := filepath.Join(rolePath, ManagedPoliciesFile)
	managed, found, err := readOptional(managedPath)
	if err != nil {
		c.Err = NewUnreadable(managedPath, err)
		return c
	}
	if found {
		c.ManagedPoliciesPath = managedPath
		c.ManagedPolicies = managed
	}

	entries, err := os.ReadDir(rolePath)
	if err != nil {
		c.Err = NewUnreadable(rolePath, err)
		return c
	}
	for _, entry := range entries {
		if entry.IsDir() || !isInlineFile(entry.Name()) {
			continue
		}
		path := filepath.Join(rolePath, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			c.Err = NewUnreadable(path, err)
			return c
		}
		c.Inline = append(c.Inline, InlineFile{
			Name: InlinePolicyName(entry.Name()),
			Path: path,
			Raw:  raw,
		})
	}
	sort.Slice(c.Inline, func(i, j int) bool { return c.Inline[i].Path < c.Inline[j].Path })

	return c
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewConfigNotFound(path, nil)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return NewConfigNotFound(path, fmt.Errorf("not a directory"))
	}
	return nil
}

func subdirectories(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func readOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}
