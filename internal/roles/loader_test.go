package roles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailsJSON = `{
  "roleName": "DeployToStaging",
  "oidcProviderUrl": "https://token.actions.githubusercontent.com",
  "githubSubjectClaim": "repo:acme/app:ref:refs/heads/main"
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func fixtureTree(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "roles")

	staging := filepath.Join(root, "123456789012", "DeployToStaging")
	writeFile(t, filepath.Join(staging, DetailsFile), detailsJSON)
	writeFile(t, filepath.Join(staging, ManagedPoliciesFile), `["arn:aws:iam::aws:policy/ReadOnlyAccess"]`)
	writeFile(t, filepath.Join(staging, "inline-S3Write.json"), `{}`)
	writeFile(t, filepath.Join(staging, "inline-Logs.json"), `{}`)
	writeFile(t, filepath.Join(staging, "README.md"), "ignored")

	writeFile(t, filepath.Join(root, "123456789012", "Ops", DetailsFile), `{}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "123456789012", "Empty"), 0755))
	writeFile(t, filepath.Join(root, "210987654321", "Ops", DetailsFile), `{}`)
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755))
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	return root
}

func TestDiscoverAll(t *testing.T) {
	root := fixtureTree(t)

	tree, err := Discover(root, Filter{})
	require.NoError(t, err)

	assert.Equal(t, root, tree.Root)
	require.Len(t, tree.Accounts, 2)
	assert.Equal(t, "123456789012", tree.Accounts[0].AccountID)
	assert.Equal(t, "210987654321", tree.Accounts[1].AccountID)
	assert.Equal(t, 3, tree.RoleCount())

	first := tree.Accounts[0]
	require.Len(t, first.Roles, 2)
	assert.Equal(t, "DeployToStaging", first.Roles[0].Dir)
	assert.Equal(t, "Ops", first.Roles[1].Dir)

	staging := first.Roles[0]
	assert.Equal(t, "123456789012", staging.AccountID)
	assert.Equal(t, filepath.Join(root, "123456789012", "DeployToStaging", DetailsFile), staging.DetailsPath)
	assert.JSONEq(t, detailsJSON, string(staging.Details))
	assert.Equal(t, filepath.Join(staging.Path, ManagedPoliciesFile), staging.ManagedPoliciesPath)
	require.Len(t, staging.Inline, 2)
	assert.Equal(t, "Logs", staging.Inline[0].Name)
	assert.Equal(t, "S3Write", staging.Inline[1].Name)

	ops := first.Roles[1]
	assert.Empty(t, ops.ManagedPoliciesPath)
	assert.Nil(t, ops.ManagedPolicies)
	assert.Empty(t, ops.Inline)
}

func TestDiscoverFilters(t *testing.T) {
	root := fixtureTree(t)

	tests := []struct {
		name      string
		filter    Filter
		wantRoles []string
	}{
		{name: "account", filter: Filter{AccountID: "123456789012"}, wantRoles: []string{"123456789012/DeployToStaging", "123456789012/Ops"}},
		{name: "account and role", filter: Filter{AccountID: "123456789012", RoleName: "Ops"}, wantRoles: []string{"123456789012/Ops"}},
		{name: "role in every account", filter: Filter{RoleName: "Ops"}, wantRoles: []string{"123456789012/Ops", "210987654321/Ops"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Discover(root, tt.filter)
			require.NoError(t, err)

			var got []string
			for _, account := range tree.Accounts {
				for _, role := range account.Roles {
					got = append(got, account.AccountID+"/"+role.Dir)
				}
			}
			assert.Equal(t, tt.wantRoles, got)
		})
	}
}

func TestDiscoverNotFound(t *testing.T) {
	root := fixtureTree(t)

	tests := []struct {
		name   string
		root   string
		filter Filter
	}{
		{name: "missing root", root: filepath.Join(root, "missing")},
		{name: "root is a file", root: filepath.Join(root, "notes.txt")},
		{name: "missing account", root: root, filter: Filter{AccountID: "999999999999"}},
		{name: "missing role", root: root, filter: Filter{AccountID: "123456789012", RoleName: "Missing"}},
		{name: "role in no account", root: root, filter: Filter{RoleName: "Missing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Discover(tt.root, tt.filter)
			assert.Nil(t, tree)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigNotFound))

			kind, ok := KindOf(err)
			assert.True(t, ok)
			assert.Equal(t, KindConfigNotFound, kind)
		})
	}
}

func TestDiscoverEmptyRoot(t *testing.T) {
	tree, err := Discover(t.TempDir(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, tree.Accounts)
	assert.Equal(t, 0, tree.RoleCount())
}

func TestInlinePolicyName(t *testing.T) {
	assert.Equal(t, "S3Read", InlinePolicyName("inline-S3Read.json"))
	assert.True(t, isInlineFile("inline-S3Read.json"))
	assert.False(t, isInlineFile("inline-.json"))
	assert.False(t, isInlineFile("inline-S3Read.yaml"))
	assert.False(t, isInlineFile("managed-policies.json"))
}

func TestDiscoverUnreadableDetails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "roles")
	broken := filepath.Join(root, "123456789012", "Broken")
	require.NoError(t, os.MkdirAll(filepath.Join(broken, DetailsFile), 0755))
	writeFile(t, filepath.Join(root, "123456789012", "Sibling", DetailsFile), detailsJSON)

	tree, err := Discover(root, Filter{})
	require.NoError(t, err)
	require.Equal(t, 2, tree.RoleCount())

	roles := tree.Accounts[0].Roles
	assert.Equal(t, "Broken", roles[0].Dir)
	require.Error(t, roles[0].Err)
	assert.ErrorIs(t, roles[0].Err, ErrSchema)
	var loadErr *Error
	require.ErrorAs(t, roles[0].Err, &loadErr)
	assert.Equal(t, filepath.Join(broken, DetailsFile), loadErr.Path)

	assert.Equal(t, "Sibling", roles[1].Dir)
	assert.NoError(t, roles[1].Err)
	assert.NotEmpty(t, roles[1].Details)
}
