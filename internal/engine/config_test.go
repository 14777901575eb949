package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
	"github.com/humanitec/oidc-role-manager/internal/roles"
)

func testRequest(roleName string) assemble.RoleRequest {
	return assemble.Assemble(roles.RoleSpec{
		AccountID:       "123456789012",
		Dir:             roleName,
		Path:            "roles/123456789012/" + roleName,
		RoleName:        roleName,
		OIDCProviderURL: "https://token.actions.githubusercontent.com",
		SubjectClaim:    "repo:acme/app:*",
		ManagedPolicies: []string{"arn:aws:iam::aws:policy/ReadOnlyAccess"},
		InlinePolicies: []roles.InlinePolicy{{
			Name:     "Home",
			Document: json.RawMessage(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Action":"s3:*","Resource":"arn:aws:s3:::home/${aws:username}/*"}]}`),
		}},
	})
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"role", "role"},
		{"123456789012-Deploy-role", "r_123456789012-Deploy-role"},
		{"a.b@c", "a_b_c"},
		{"_x", "_x"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Identifier(tt.in))
		})
	}
}

func TestRenderConfig(t *testing.T) {
	b, err := RenderConfig([]assemble.RoleRequest{testRequest("Deploy")}, ProviderSettings{Region: "eu-west-1", Profile: "staging"})
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(b, &cfg))

	provider := cfg["provider"].(map[string]any)["aws"].(map[string]any)
	assert.Equal(t, "eu-west-1", provider["region"])
	assert.Equal(t, "staging", provider["profile"])

	required := cfg["terraform"].(map[string]any)["required_providers"].(map[string]any)["aws"].(map[string]any)
	assert.Equal(t, "hashicorp/aws", required["source"])

	resources := cfg["resource"].(map[string]any)
	role := resources["aws_iam_role"].(map[string]any)["r_123456789012-Deploy-role"].(map[string]any)
	assert.Equal(t, "Deploy", role["name"])
	assert.NotContains(t, role, "description")
	assert.Equal(t, "Terraform", role["tags"].(map[string]any)["Tool"])

	attachment := resources["aws_iam_role_policy_attachment"].(map[string]any)["r_123456789012-Deploy-managed-0"].(map[string]any)
	assert.Equal(t, "${aws_iam_role.r_123456789012-Deploy-role.name}", attachment["role"])
	assert.Equal(t, "arn:aws:iam::aws:policy/ReadOnlyAccess", attachment["policy_arn"])

	inline := resources["aws_iam_role_policy"].(map[string]any)["r_123456789012-Deploy-inline-Home"].(map[string]any)
	assert.Equal(t, "Deploy-Home", inline["name"])
	assert.Equal(t, "${aws_iam_role.r_123456789012-Deploy-role.id}", inline["role"])
	assert.Contains(t, inline["policy"], "home/$${aws:username}/*")

	outputs := cfg["output"].(map[string]any)
	arn := outputs["r_123456789012-Deploy_role_arn"].(map[string]any)
	assert.Equal(t, "${aws_iam_role.r_123456789012-Deploy-role.arn}", arn["value"])
	assert.Equal(t, "123456789012-Deploy_role_arn", arn["description"])
	assert.Contains(t, outputs, "r_123456789012-Deploy_role_name")
}

func TestRenderConfigDeterministic(t *testing.T) {
	reqs := []assemble.RoleRequest{testRequest("Deploy"), testRequest("Ops")}
	first, err := RenderConfig(reqs, ProviderSettings{})
	require.NoError(t, err)
	second, err := RenderConfig(reqs, ProviderSettings{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderConfigDuplicateResource(t *testing.T) {
	_, err := RenderConfig([]assemble.RoleRequest{testRequest("Deploy"), testRequest("Deploy")}, ProviderSettings{})
	assert.Error(t, err)
}

func TestRenderConfigInlineCollision(t *testing.T) {
	withInline := func(roleName string, names ...string) assemble.RoleRequest {
		spec := roles.RoleSpec{
			AccountID:       "123456789012",
			RoleName:        roleName,
			OIDCProviderURL: "https://token.actions.githubusercontent.com",
			SubjectClaim:    "repo:acme/app:*",
		}
		for _, name := range names {
			spec.InlinePolicies = append(spec.InlinePolicies, roles.InlinePolicy{
				Name:     name,
				Document: json.RawMessage(`{"Version":"2012-10-17","Statement":[]}`),
			})
		}
		return assemble.Assemble(spec)
	}

	tests := []struct {
		name     string
		requests []assemble.RoleRequest
	}{
		{
			name:     "same role",
			requests: []assemble.RoleRequest{withInline("Deploy", "S3.Read", "S3_Read")},
		},
		{
			name:     "across roles",
			requests: []assemble.RoleRequest{withInline("a", "b-inline-c"), withInline("a-inline-b", "c")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RenderConfig(tt.requests, ProviderSettings{})
			assert.ErrorContains(t, err, "more than one inline policy")
		})
	}
}

func TestRenderConfigEmpty(t *testing.T) {
	b, err := RenderConfig(nil, ProviderSettings{})
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(b, &cfg))
	assert.NotContains(t, cfg, "resource")
	assert.NotContains(t, cfg, "output")
}

func TestAddresses(t *testing.T) {
	assert.Equal(t, []string{
		"aws_iam_role.r_123456789012-Deploy-role",
		"aws_iam_role_policy_attachment.r_123456789012-Deploy-managed-0",
		"aws_iam_role_policy.r_123456789012-Deploy-inline-Home",
	}, Addresses(testRequest("Deploy")))
}
