package assemble

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanitec/oidc-role-manager/internal/roles"
)

func fixtureSpec() roles.RoleSpec {
	return roles.RoleSpec{
		AccountID:       "123456789012",
		Dir:             "DeployToStaging",
		Path:            "roles/123456789012/DeployToStaging",
		RoleName:        "DeployToStaging",
		Description:     "Deploys the app to staging",
		OIDCProviderURL: "https://token.actions.githubusercontent.com",
		SubjectClaim:    "repo:acme/app:ref:refs/heads/main",
		Tags:            map[string]string{"Team": "platform"},
		ManagedPolicies: []string{"arn:aws:iam::aws:policy/ReadOnlyAccess"},
		InlinePolicies: []roles.InlinePolicy{{
			Name: "S3Write",
			Path: "roles/123456789012/DeployToStaging/inline-S3Write.json",
			Document: json.RawMessage(`{
  "Version": "2012-10-17",
  "Statement": [{"Sid": "S3Write", "Effect": "Allow", "Action": "s3:PutObject", "Resource": "arn:aws:s3:::acme-staging/*"}]
}`),
		}},
	}
}

func TestAssembleGolden(t *testing.T) {
	want, err := os.ReadFile(filepath.Join("testdata", "deploy_to_staging.golden.json"))
	require.NoError(t, err)

	first, err := Marshal(Assemble(fixtureSpec()))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(first))

	for i := 0; i < 5; i++ {
		again, err := Marshal(Assemble(fixtureSpec()))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssemble(t *testing.T) {
	req := Assemble(fixtureSpec())

	assert.Equal(t, "123456789012", req.AccountID)
	assert.Equal(t, "123456789012-DeployToStaging-role", req.ResourceName)
	assert.Equal(t, "DeployToStaging", req.RoleName)
	require.Len(t, req.ManagedPolicies, 1)
	assert.Equal(t, "123456789012-DeployToStaging-managed-0", req.ManagedPolicies[0].ResourceName)
	require.Len(t, req.InlinePolicies, 1)
	assert.Equal(t, "DeployToStaging-S3Write", req.InlinePolicies[0].PolicyName)
	assert.Equal(t, "123456789012-DeployToStaging_role_arn", req.Exports.RoleARN)
	assert.Equal(t, "123456789012-DeployToStaging_role_name", req.Exports.RoleName)

	var trust map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.AssumeRolePolicy), &trust))
	assert.Equal(t, PolicyVersion, trust["Version"])
}

func TestAssembleWithoutPolicies(t *testing.T) {
	spec := fixtureSpec()
	spec.ManagedPolicies = nil
	spec.InlinePolicies = nil
	spec.Description = ""

	req := Assemble(spec)
	assert.NotNil(t, req.ManagedPolicies)
	assert.NotNil(t, req.InlinePolicies)

	b, err := Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"managedPolicies": []`)
	assert.Contains(t, string(b), `"inlinePolicies": []`)
	assert.NotContains(t, string(b), `"description"`)
}

func TestBuildTrust(t *testing.T) {
	tests := []struct {
		name          string
		url           string
		subject       string
		audience      string
		wantHost      string
		wantCondition string
		wantAudience  string
	}{
		{
			name:          "exact subject",
			url:           "https://token.actions.githubusercontent.com",
			subject:       "repo:acme/app:ref:refs/heads/main",
			wantHost:      "token.actions.githubusercontent.com",
			wantCondition: ConditionEquals,
			wantAudience:  DefaultAudience,
		},
		{
			name:          "wildcard subject",
			url:           "https://token.actions.githubusercontent.com/",
			subject:       "repo:acme/app:*",
			wantHost:      "token.actions.githubusercontent.com",
			wantCondition: ConditionLike,
			wantAudience:  DefaultAudience,
		},
		{
			name:          "custom audience",
			url:           "https://gitlab.example.com",
			subject:       "project_path:acme/app:ref_type:branch:ref:ma?n",
			audience:      "https://gitlab.example.com",
			wantHost:      "gitlab.example.com",
			wantCondition: ConditionLike,
			wantAudience:  "https://gitlab.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := fixtureSpec()
			spec.OIDCProviderURL = tt.url
			spec.SubjectClaim = tt.subject
			spec.Audience = tt.audience

			trust := BuildTrust(spec)
			assert.Equal(t, tt.wantHost, trust.ProviderHost)
			assert.Equal(t, "arn:aws:iam::123456789012:oidc-provider/"+tt.wantHost, trust.ProviderARN)
			assert.Equal(t, tt.wantCondition, trust.SubjectCondition)
			assert.Equal(t, tt.wantAudience, trust.Audience)
		})
	}
}

func TestTrustPolicyWildcard(t *testing.T) {
	trust := Trust{
		ProviderHost:     "token.actions.githubusercontent.com",
		ProviderARN:      "arn:aws:iam::123456789012:oidc-provider/token.actions.githubusercontent.com",
		SubjectCondition: ConditionLike,
		Subject:          "repo:acme/*",
		Audience:         DefaultAudience,
	}

	assert.JSONEq(t, `{
  "Version": "2012-10-17",
  "Statement": [{
    "Effect": "Allow",
    "Principal": {"Federated": "arn:aws:iam::123456789012:oidc-provider/token.actions.githubusercontent.com"},
    "Action": "sts:AssumeRoleWithWebIdentity",
    "Condition": {
      "StringEquals": {"token.actions.githubusercontent.com:aud": "sts.amazonaws.com"},
      "StringLike": {"token.actions.githubusercontent.com:sub": "repo:acme/*"}
    }
  }]
}`, TrustPolicy(trust))
}

func TestTags(t *testing.T) {
	spec := fixtureSpec()
	spec.Tags = map[string]string{"Environment": "Staging", "ConfigPath": "overridden"}

	tags := Tags(spec)
	assert.Equal(t, "Staging", tags["Environment"])
	assert.Equal(t, "OIDC-Role-Manager", tags["ManagedBy"])
	assert.Equal(t, "roles/123456789012/DeployToStaging", tags[TagConfigPath])
	assert.Equal(t, "123456789012", tags[TagAccountID])

	// Defaults stay untouched.
	assert.Equal(t, "Development", DefaultTags["Environment"])
}

func TestAssembleAll(t *testing.T) {
	second := fixtureSpec()
	second.RoleName = "Ops"

	reqs := AssembleAll([]roles.RoleSpec{fixtureSpec(), second})
	require.Len(t, reqs, 2)
	assert.Equal(t, "DeployToStaging", reqs[0].RoleName)
	assert.Equal(t, "123456789012-Ops-role", reqs[1].ResourceName)

	assert.Empty(t, AssembleAll(nil))
}
