// Package validate checks discovered role candidates and turns them into
// role specs. Every violation of a role is collected; a failing role never
// stops the validation of its siblings.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
	"github.com/humanitec/oidc-role-manager/internal/roles"
)

// RoleResult is the outcome for one candidate. Spec is set only when Err is nil.
type RoleResult struct {
	Candidate roles.Candidate
	// RoleName is the declared roleName, when it could be read.
	RoleName   string
	Spec       *roles.RoleSpec
	Violations []roles.Violation
	Err        error
}

func (r RoleResult) Valid() bool {
	return r.Err == nil
}

// AccountReport groups role results of one account directory.
type AccountReport struct {
	AccountID  string
	Path       string
	Roles      []RoleResult
	Duplicates []roles.Violation
}

func (a AccountReport) isDuplicate(roleName string) bool {
	for _, d := range a.Duplicates {
		if strings.EqualFold(d.Value, roleName) {
			return true
		}
	}
	return false
}

type Report struct {
	Root     string
	Accounts []AccountReport
}

// Validate checks every candidate of the tree.
func Validate(tree *roles.Tree) *Report {
	report := &Report{Root: tree.Root}
	for _, group := range tree.Accounts {
		account := AccountReport{AccountID: group.AccountID, Path: group.Path}
		for _, candidate := range group.Roles {
			account.Roles = append(account.Roles, Role(candidate))
		}
		account.Duplicates = duplicates(account.Roles)
		report.Accounts = append(report.Accounts, account)
	}
	return report
}

// duplicates reports role names declared more than once in an account.
// IAM role names are unique regardless of case.
func duplicates(results []RoleResult) []roles.Violation {
	sources := map[string][]string{}
	declared := map[string]string{}
	for _, r := range results {
		if r.RoleName == "" {
			continue
		}
		key := strings.ToLower(r.RoleName)
		if _, ok := declared[key]; !ok {
			declared[key] = r.RoleName
		}
		sources[key] = append(sources[key], r.Candidate.DetailsPath)
	}

	keys := make([]string, 0, len(sources))
	for key, paths := range sources {
		if len(paths) > 1 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []roles.Violation
	for _, key := range keys {
		out = append(out, roles.Violation{
			Field:   "roleName",
			Rule:    ruleUnique,
			Value:   declared[key],
			Sources: sources[key],
		})
	}
	return out
}

func (r *Report) Valid() bool {
	return r.Err() == nil
}

// Err joins the errors of every failing role and every duplicate role name.
func (r *Report) Err() error {
	var errs []error
	for _, account := range r.Accounts {
		for _, role := range account.Roles {
			if role.Err != nil {
				errs = append(errs, role.Err)
			}
		}
		for _, d := range account.Duplicates {
			errs = append(errs, roles.NewDuplicateRoleName(account.Path, d))
		}
	}
	return errors.Join(errs...)
}

// Specs returns the valid role specs, leaving out roles whose name is
// declared more than once in their account.
func (r *Report) Specs() []roles.RoleSpec {
	var specs []roles.RoleSpec
	for _, account := range r.Accounts {
		for _, role := range account.Roles {
			if role.Spec == nil || account.isDuplicate(role.RoleName) {
				continue
			}
			specs = append(specs, *role.Spec)
		}
	}
	return specs
}

func (r *Report) RoleCount() int {
	n := 0
	for _, account := range r.Accounts {
		n += len(account.Roles)
	}
	return n
}

// Find returns the result for the role directory dir of accountID.
func (r *Report) Find(accountID, dir string) (RoleResult, error) {
	for _, account := range r.Accounts {
		if account.AccountID != accountID {
			continue
		}
		for _, role := range account.Roles {
			if role.Candidate.Dir != dir {
				continue
			}
			if account.isDuplicate(role.RoleName) {
				for _, d := range account.Duplicates {
					if strings.EqualFold(d.Value, role.RoleName) {
						return role, roles.NewDuplicateRoleName(account.Path, d)
					}
				}
			}
			return role, role.Err
		}
	}
	return RoleResult{}, roles.NewConfigNotFound(fmt.Sprintf("%s/%s", accountID, dir), nil)
}

type collector struct {
	violations []roles.Violation
	schema     []*roles.Error
}

func (c *collector) add(field, rule, value string, sources ...string) {
	c.violations = append(c.violations, roles.Violation{Field: field, Rule: rule, Value: value, Sources: sources})
}

func (c *collector) malformed(field, path string, err error) {
	c.schema = append(c.schema, roles.NewSchemaError(path, err))
	c.add(field, ruleJSON, err.Error(), path)
}

// Role validates a single candidate.
func Role(candidate roles.Candidate) RoleResult {
	c := &collector{}
	result := RoleResult{Candidate: candidate}
	spec := &roles.RoleSpec{
		AccountID: candidate.AccountID,
		Dir:       candidate.Dir,
		Path:      candidate.Path,
	}

	if candidate.Err != nil {
		result.Err = candidate.Err
		return result
	}

	if !IsAccountID(candidate.AccountID) {
		c.add("accountId", ruleFormat, candidate.AccountID, candidate.Path)
	}

	var details any
	if err := json.Unmarshal(candidate.Details, &details); err != nil {
		c.malformed("details", candidate.DetailsPath, err)
	} else {
		checkDetails(c, details, candidate.DetailsPath, spec)
		result.RoleName = spec.RoleName
	}

	if candidate.ManagedPoliciesPath != "" {
		var managed any
		if err := json.Unmarshal(candidate.ManagedPolicies, &managed); err != nil {
			c.malformed("managedPolicies", candidate.ManagedPoliciesPath, err)
		} else {
			spec.ManagedPolicies = checkManagedPolicies(c, managed, candidate.ManagedPoliciesPath)
		}
	}

	if len(candidate.Inline) > MaxInlinePolicies {
		c.add("inlinePolicies", ruleMaxItems, fmt.Sprint(len(candidate.Inline)), candidate.Path)
	}
	checkInlineNameCollisions(c, candidate.Inline)
	for _, inline := range candidate.Inline {
		field := "inlinePolicies." + inline.Name
		if !policyNameRegex.MatchString(inline.Name) {
			c.add(field, ruleFormat, inline.Name, inline.Path)
		}
		if spec.RoleName != "" && len(spec.RoleName)+1+len(inline.Name) > MaxInlinePolicyName {
			c.add(field, ruleMaxLength, spec.RoleName+"-"+inline.Name, inline.Path)
		}

		var doc any
		if err := json.Unmarshal(inline.Raw, &doc); err != nil {
			c.malformed(field, inline.Path, err)
			continue
		}
		checkPolicy(c, field, doc, inline.Path)

		compact := &bytes.Buffer{}
		if err := json.Compact(compact, inline.Raw); err != nil {
			c.malformed(field, inline.Path, err)
			continue
		}
		spec.InlinePolicies = append(spec.InlinePolicies, roles.InlinePolicy{
			Name:     inline.Name,
			Path:     inline.Path,
			Document: json.RawMessage(compact.Bytes()),
		})
	}

	if result.RoleName != "" {
		checkMergedTags(c, spec, candidate.DetailsPath)
	}

	result.Violations = c.violations
	switch {
	case len(c.schema) > 0:
		first := c.schema[0]
		first.Violations = c.violations
		result.Err = first
	case len(c.violations) > 0:
		result.Err = roles.NewValidationError(candidate.Path, c.violations)
	default:
		result.Spec = spec
	}
	return result
}

// checkInlineNameCollisions flags inline policies whose names only differ in
// characters that are folded together in resource identifiers.
func checkInlineNameCollisions(c *collector, inline []roles.InlineFile) {
	seen := map[string]roles.InlineFile{}
	for _, f := range inline {
		key := identifierFold.ReplaceAllString(f.Name, "_")
		if first, ok := seen[key]; ok {
			c.add("inlinePolicies."+f.Name, ruleUnique, f.Name, first.Path, f.Path)
			continue
		}
		seen[key] = f
	}
}

func checkDetails(c *collector, details any, source string, spec *roles.RoleSpec) {
	obj, ok := details.(map[string]any)
	if !ok {
		c.add("details", ruleType, describe(details), source)
		return
	}

	if name, ok := requiredString(c, obj, "roleName", source); ok {
		spec.RoleName = name
		if len(name) > MaxRoleNameLength {
			c.add("roleName", ruleMaxLength, name, source)
		}
		if !roleNameRegex.MatchString(name) {
			c.add("roleName", ruleFormat, name, source)
		}
	}

	if description, ok := optionalString(c, obj, "description", source); ok {
		spec.Description = description
		if len(description) > MaxDescriptionLength {
			c.add("description", ruleMaxLength, description, source)
		}
	}

	if url, ok := requiredString(c, obj, "oidcProviderUrl", source); ok {
		spec.OIDCProviderURL = url
		host := strings.TrimSuffix(strings.TrimPrefix(url, "https://"), "/")
		if !providerRegex.MatchString(host) {
			c.add("oidcProviderUrl", ruleFormat, url, source)
		}
	}

	if subject, ok := requiredString(c, obj, "githubSubjectClaim", source); ok {
		spec.SubjectClaim = subject
		if strings.ContainsAny(subject, " \t\r\n") {
			c.add("githubSubjectClaim", ruleFormat, subject, source)
		}
	}

	if audience, ok := optionalString(c, obj, "audience", source); ok {
		if audience == "" {
			c.add("audience", ruleRequired, audience, source)
		}
		spec.Audience = audience
	}

	if raw, present := obj["tags"]; present && raw != nil {
		spec.Tags = checkTags(c, raw, source)
	}
}

// checkMergedTags checks the tags the role is created with, defaults and
// traceability tags included.
func checkMergedTags(c *collector, spec *roles.RoleSpec, source string) {
	if len(spec.Tags) > MaxTags {
		return
	}
	merged := assemble.Tags(*spec)
	if len(merged) > MaxTags {
		c.add("tags", ruleMaxItems, fmt.Sprint(len(merged)), source)
	}
	if value := merged[assemble.TagConfigPath]; len(value) > MaxTagValueLength {
		c.add("tags."+assemble.TagConfigPath, ruleMaxLength, value, source)
	}
}

func checkTags(c *collector, raw any, source string) map[string]string {
	tags, ok := raw.(map[string]any)
	if !ok {
		c.add("tags", ruleType, describe(raw), source)
		return nil
	}
	if len(tags) > MaxTags {
		c.add("tags", ruleMaxItems, fmt.Sprint(len(tags)), source)
	}

	out := make(map[string]string, len(tags))
	for _, key := range sortedKeys(tags) {
		field := "tags." + key
		value, ok := tags[key].(string)
		if !ok {
			c.add(field, ruleType, describe(tags[key]), source)
			continue
		}
		if key == "" || len(key) > MaxTagKeyLength {
			c.add(field, ruleMaxLength, key, source)
		}
		if len(value) > MaxTagValueLength {
			c.add(field, ruleMaxLength, value, source)
		}
		out[key] = value
	}
	return out
}

func checkManagedPolicies(c *collector, raw any, source string) []string {
	list, ok := raw.([]any)
	if !ok {
		c.add("managedPolicies", ruleType, describe(raw), source)
		return nil
	}
	if len(list) > MaxManagedPolicies {
		c.add("managedPolicies", ruleMaxItems, fmt.Sprint(len(list)), source)
	}

	seen := map[string]bool{}
	arns := make([]string, 0, len(list))
	for i, item := range list {
		field := fmt.Sprintf("managedPolicies[%d]", i)
		arn, ok := item.(string)
		if !ok {
			c.add(field, ruleType, describe(item), source)
			continue
		}
		if !IsPolicyARN(arn) {
			c.add(field, ruleFormat, arn, source)
			continue
		}
		if seen[arn] {
			c.add(field, ruleUnique, arn, source)
			continue
		}
		seen[arn] = true
		arns = append(arns, arn)
	}
	return arns
}

func requiredString(c *collector, obj map[string]any, key, source string) (string, bool) {
	raw, present := obj[key]
	if !present || raw == nil {
		c.add(key, ruleRequired, "", source)
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		c.add(key, ruleType, describe(raw), source)
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		c.add(key, ruleRequired, s, source)
		return "", false
	}
	return s, true
}

func optionalString(c *collector, obj map[string]any, key, source string) (string, bool) {
	raw, present := obj[key]
	if !present || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		c.add(key, ruleType, describe(raw), source)
		return "", false
	}
	return s, true
}

func describe(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
