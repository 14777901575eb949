package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanitec/oidc-role-manager/internal/cloud"
	"github.com/humanitec/oidc-role-manager/internal/config"
	"github.com/humanitec/oidc-role-manager/internal/engine"
	"github.com/humanitec/oidc-role-manager/internal/roles"
)

const (
	testAccount = "123456789012"
	testDetails = `{
  "roleName": "DeployToStaging",
  "oidcProviderUrl": "https://token.actions.githubusercontent.com",
  "githubSubjectClaim": "repo:acme/app:*"
}`
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{
		"AWS_REGION", "AWS_PROFILE", "AWS_ACCOUNT_ID",
		"OIDC_ROLES_DIR", "OIDC_STATE_DIR", "OIDC_STACK_NAME", "OIDC_OUTPUT",
		"OIDC_ACCOUNT_ID", "OIDC_ROLE_NAME", "OIDC_AUTO_APPROVE",
	} {
		t.Setenv(key, "")
	}
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--silent"))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeRole(t *testing.T, root, accountID, dir, details string) {
	t.Helper()
	rolePath := filepath.Join(root, accountID, dir)
	require.NoError(t, os.MkdirAll(rolePath, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rolePath, roles.DetailsFile), []byte(details), 0644))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"config not found", roles.NewConfigNotFound("roles", nil), ExitConfigError},
		{"schema", &roles.Error{Kind: roles.KindSchema}, ExitConfigError},
		{"stack not found", fmt.Errorf("%w: dev-123456789012", engine.ErrStackNotFound), ExitConfigError},
		{"invalid config", fmt.Errorf("%w: bad output", config.ErrInvalidConfig), ExitConfigError},
		{"validation", &roles.Error{Kind: roles.KindValidation}, ExitValidationError},
		{"duplicate", &roles.Error{Kind: roles.KindDuplicateRoleName}, ExitValidationError},
		{"config wins", errors.Join(&roles.Error{Kind: roles.KindValidation}, &roles.Error{Kind: roles.KindSchema}), ExitConfigError},
		{"account mismatch", fmt.Errorf("%w: expected a", cloud.ErrAccountMismatch), ExitAWSError},
		{"other", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestHelp(t *testing.T) {
	isolate(t)
	for _, name := range []string{"deploy", "destroy", "status", "validate", "list-stacks", "check-token", "config", "version"} {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, name, "--help")
			require.NoError(t, err)
			assert.Contains(t, out, "Usage:")
			assert.Contains(t, out, name)
		})
	}
}

func TestValidateCommand(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeRole(t, root, testAccount, "deploy-staging", testDetails)

	out, err := execute(t, "validate", "--roles-dir", root, "-o", "json")
	require.NoError(t, err)

	var result validationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "valid", result.Status)
	require.Len(t, result.Roles, 1)
	assert.Equal(t, "DeployToStaging", result.Roles[0].RoleName)
	assert.True(t, result.Roles[0].Valid)
}

func TestValidateCommandErrors(t *testing.T) {
	isolate(t)

	t.Run("invalid account", func(t *testing.T) {
		root := t.TempDir()
		writeRole(t, root, "1234", "deploy-staging", testDetails)

		out, err := execute(t, "validate", "--roles-dir", root, "-o", "json")
		require.Error(t, err)
		assert.Equal(t, ExitValidationError, exitCode(err))

		var result validationOutput
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, "invalid", result.Status)
		assert.Equal(t, roles.KindValidation, result.Roles[0].Kind)
	})

	t.Run("duplicate role name", func(t *testing.T) {
		root := t.TempDir()
		writeRole(t, root, testAccount, "a", testDetails)
		writeRole(t, root, testAccount, "b", testDetails)

		_, err := execute(t, "validate", "--roles-dir", root, "-o", "json")
		require.Error(t, err)
		assert.Equal(t, ExitValidationError, exitCode(err))
	})

	t.Run("malformed details", func(t *testing.T) {
		root := t.TempDir()
		writeRole(t, root, testAccount, "broken", `{"roleName":`)

		_, err := execute(t, "validate", "--roles-dir", root, "-o", "json")
		require.Error(t, err)
		assert.Equal(t, ExitConfigError, exitCode(err))
	})

	t.Run("missing roles directory", func(t *testing.T) {
		_, err := execute(t, "validate", "--roles-dir", filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
		assert.Equal(t, ExitConfigError, exitCode(err))
	})

	t.Run("empty roles directory", func(t *testing.T) {
		_, err := execute(t, "validate", "--roles-dir", t.TempDir())
		require.Error(t, err)
		assert.ErrorIs(t, err, roles.ErrConfigNotFound)
	})

	t.Run("invalid output", func(t *testing.T) {
		_, err := execute(t, "validate", "-o", "xml")
		require.Error(t, err)
		assert.Equal(t, ExitConfigError, exitCode(err))
	})
}

func TestDeployRequiresAccount(t *testing.T) {
	isolate(t)
	_, err := execute(t, "deploy", "--roles-dir", t.TempDir(), "--state-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

func TestDeployInvalidRoles(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeRole(t, root, testAccount, "a", testDetails)
	writeRole(t, root, testAccount, "b", testDetails)

	_, err := execute(t, "deploy", "--roles-dir", root, "--state-dir", t.TempDir(), "--account-id", testAccount, "--auto-approve")
	require.Error(t, err)
	assert.ErrorIs(t, err, roles.ErrDuplicateRoleName)
	assert.Equal(t, ExitValidationError, exitCode(err))
}

func TestDeployNoRoles(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, testAccount), 0755))

	out, err := execute(t, "deploy", "--roles-dir", root, "--state-dir", t.TempDir(), "--account-id", testAccount, "-o", "json")
	require.NoError(t, err)

	var result deployOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "success", result.Status)
	assert.Empty(t, result.Roles)
	assert.Equal(t, "dev-"+testAccount, result.Stack)
}

func TestDestroyMissingStack(t *testing.T) {
	isolate(t)
	_, err := execute(t, "destroy", "--state-dir", t.TempDir(), "--account-id", testAccount, "--auto-approve")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrStackNotFound)
	assert.Equal(t, ExitConfigError, exitCode(err))
}

func TestListStacksCommand(t *testing.T) {
	isolate(t)
	stateDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(stateDir, "dev-"+testAccount), 0755))

	out, err := execute(t, "list-stacks", "--state-dir", stateDir, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, testAccount)
}

func TestCheckTokenCommand(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeRole(t, root, testAccount, "deploy-staging", testDetails)

	sign := func(subject string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iss": "https://token.actions.githubusercontent.com",
			"sub": subject,
			"aud": "sts.amazonaws.com",
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte(token), 0600))
		return path
	}

	out, err := execute(t, "check-token", "--roles-dir", root, "--token-file", sign("repo:acme/app:ref:refs/heads/main"), "-o", "json")
	require.NoError(t, err)

	var result checkTokenOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Roles, 1)
	assert.True(t, result.Roles[0].Allowed)
	assert.False(t, result.Expired)

	_, err = execute(t, "check-token", "--roles-dir", root, "--token-file", sign("repo:other/app:ref:refs/heads/main"), "-o", "json")
	assert.ErrorIs(t, err, errNoMatchingRole)

	_, err = execute(t, "check-token", "--roles-dir", root)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigCommand(t *testing.T) {
	isolate(t)
	t.Setenv("OIDC_STACK_NAME", "prod")

	out, err := execute(t, "config", "--roles-dir", "custom-roles", "-o", "json")
	require.NoError(t, err)

	var settings []config.Setting
	require.NoError(t, json.Unmarshal([]byte(out), &settings))
	values := map[string]string{}
	for _, s := range settings {
		values[s.Key] = s.Value
	}
	assert.Equal(t, "custom-roles", values["roles-dir"])
	assert.Equal(t, "prod", values["stack-name"])
	assert.Equal(t, "json", values["output"])
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version", "-o", "json")
	require.NoError(t, err)

	var result versionOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, Version, result.Version)
	assert.NotEmpty(t, result.GoVersion)
}

func TestStatusMissingStack(t *testing.T) {
	isolate(t)
	_, err := execute(t, "status", "--state-dir", t.TempDir(), "--account-id", testAccount)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrStackNotFound)
	assert.Equal(t, ExitConfigError, exitCode(err))
}
