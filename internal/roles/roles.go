// Package roles discovers role definitions on disk.
//
// The expected layout is roles/{account-id}/{role-dir}/ with a details.json,
// an optional managed-policies.json and any number of inline-{name}.json files.
package roles

import (
	"encoding/json"
	"strings"
)

const (
	DetailsFile         = "details.json"
	ManagedPoliciesFile = "managed-policies.json"
	InlinePrefix        = "inline-"
	InlineSuffix        = ".json"
)

// Filter narrows discovery to one account and/or one role directory.
type Filter struct {
	AccountID string
	RoleName  string
}

// InlineFile is the raw content of an inline-{name}.json file.
type InlineFile struct {
	Name string
	Path string
	Raw  []byte
}

// Candidate is an unvalidated role directory.
type Candidate struct {
	AccountID string
	Dir       string
	Path      string

	DetailsPath string
	Details     []byte

	// ManagedPoliciesPath is empty when the file does not exist.
	ManagedPoliciesPath string
	ManagedPolicies     []byte

	Inline []InlineFile

	// Err is set when a file of the role could not be read.
	Err error
}

// AccountGroup is the set of candidates found under one account directory.
type AccountGroup struct {
	AccountID string
	Path      string
	Roles     []Candidate
}

// Tree is the read-only snapshot produced by Discover.
type Tree struct {
	Root     string
	Accounts []AccountGroup
}

func (t *Tree) RoleCount() int {
	n := 0
	for _, a := range t.Accounts {
		n += len(a.Roles)
	}
	return n
}

// InlinePolicy is a validated inline policy document.
type InlinePolicy struct {
	Name     string
	Path     string
	Document json.RawMessage
}

// RoleSpec is a validated role definition.
type RoleSpec struct {
	AccountID string
	Dir       string
	Path      string

	RoleName        string
	Description     string
	OIDCProviderURL string
	SubjectClaim    string
	// Audience is empty when details.json does not set it.
	Audience string
	Tags     map[string]string

	ManagedPolicies []string
	InlinePolicies  []InlinePolicy
}

// InlinePolicyName derives the policy name from an inline file name:
// inline-S3Read.json becomes S3Read.
func InlinePolicyName(fileName string) string {
	name := strings.TrimPrefix(fileName, InlinePrefix)
	return strings.TrimSuffix(name, InlineSuffix)
}

func isInlineFile(fileName string) bool {
	return strings.HasPrefix(fileName, InlinePrefix) &&
		strings.HasSuffix(fileName, InlineSuffix) &&
		len(fileName) > len(InlinePrefix)+len(InlineSuffix)
}
