package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
)

const (
	awsProviderSource  = "hashicorp/aws"
	awsProviderVersion = "~> 5.0"

	roleType       = "aws_iam_role"
	attachmentType = "aws_iam_role_policy_attachment"
	inlineType     = "aws_iam_role_policy"
)

var (
	invalidIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	templateEscaper        = strings.NewReplacer("${", "$${", "%{", "%%{")
)

// ProviderSettings configures the aws provider block.
type ProviderSettings struct {
	Region  string
	Profile string
}

type tfConfig struct {
	Terraform tfSettings            `json:"terraform"`
	Provider  map[string]tfProvider `json:"provider"`
	Resource  *tfResources          `json:"resource,omitempty"`
	Output    map[string]tfOutput   `json:"output,omitempty"`
}

type tfSettings struct {
	RequiredProviders map[string]tfRequiredProvider `json:"required_providers"`
}

type tfRequiredProvider struct {
	Source  string `json:"source"`
	Version string `json:"version"`
}

type tfProvider struct {
	Region  string `json:"region,omitempty"`
	Profile string `json:"profile,omitempty"`
}

type tfResources struct {
	Role       map[string]tfRole       `json:"aws_iam_role,omitempty"`
	Attachment map[string]tfAttachment `json:"aws_iam_role_policy_attachment,omitempty"`
	Inline     map[string]tfInline     `json:"aws_iam_role_policy,omitempty"`
}

type tfRole struct {
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	AssumeRolePolicy string            `json:"assume_role_policy"`
	Tags             map[string]string `json:"tags"`
}

type tfAttachment struct {
	Role      string `json:"role"`
	PolicyARN string `json:"policy_arn"`
}

type tfInline struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Policy string `json:"policy"`
}

type tfOutput struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

// Identifier turns a logical resource name into a valid Terraform identifier.
func Identifier(name string) string {
	id := invalidIdentifierChars.ReplaceAllString(name, "_")
	if id == "" {
		return "_"
	}
	first := id[0]
	if !(first == '_' || (first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		id = "r_" + id
	}
	return id
}

// RenderConfig renders the Terraform JSON configuration for the requests.
func RenderConfig(requests []assemble.RoleRequest, provider ProviderSettings) ([]byte, error) {
	cfg := tfConfig{
		Terraform: tfSettings{
			RequiredProviders: map[string]tfRequiredProvider{
				"aws": {Source: awsProviderSource, Version: awsProviderVersion},
			},
		},
		Provider: map[string]tfProvider{
			"aws": {Region: provider.Region, Profile: provider.Profile},
		},
	}

	if len(requests) > 0 {
		resources := &tfResources{
			Role:       map[string]tfRole{},
			Attachment: map[string]tfAttachment{},
			Inline:     map[string]tfInline{},
		}
		cfg.Output = map[string]tfOutput{}

		for _, req := range requests {
			roleID := Identifier(req.ResourceName)
			if _, taken := resources.Role[roleID]; taken {
				return nil, fmt.Errorf("resource name %s is used by more than one role", req.ResourceName)
			}
			resources.Role[roleID] = tfRole{
				Name:             literal(req.RoleName),
				Description:      literal(req.Description),
				AssumeRolePolicy: literal(req.AssumeRolePolicy),
				Tags:             literalMap(req.Tags),
			}
			for _, m := range req.ManagedPolicies {
				id := Identifier(m.ResourceName)
				if _, taken := resources.Attachment[id]; taken {
					return nil, fmt.Errorf("resource name %s is used by more than one policy attachment", m.ResourceName)
				}
				resources.Attachment[id] = tfAttachment{
					Role:      reference(roleType, roleID, "name"),
					PolicyARN: m.PolicyARN,
				}
			}
			for _, p := range req.InlinePolicies {
				id := Identifier(p.ResourceName)
				if _, taken := resources.Inline[id]; taken {
					return nil, fmt.Errorf("resource name %s is used by more than one inline policy", p.ResourceName)
				}
				resources.Inline[id] = tfInline{
					Name:   literal(p.PolicyName),
					Role:   reference(roleType, roleID, "id"),
					Policy: literal(p.Document),
				}
			}
			cfg.Output[Identifier(req.Exports.RoleARN)] = tfOutput{
				Description: req.Exports.RoleARN,
				Value:       reference(roleType, roleID, "arn"),
			}
			cfg.Output[Identifier(req.Exports.RoleName)] = tfOutput{
				Description: req.Exports.RoleName,
				Value:       reference(roleType, roleID, "name"),
			}
		}
		cfg.Resource = resources
	}

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render terraform configuration: %w", err)
	}
	return append(b, '\n'), nil
}

// Addresses lists the resource addresses of one role, used as apply targets.
func Addresses(req assemble.RoleRequest) []string {
	addresses := []string{roleType + "." + Identifier(req.ResourceName)}
	for _, m := range req.ManagedPolicies {
		addresses = append(addresses, attachmentType+"."+Identifier(m.ResourceName))
	}
	for _, p := range req.InlinePolicies {
		addresses = append(addresses, inlineType+"."+Identifier(p.ResourceName))
	}
	return addresses
}

// literal escapes Terraform template sequences so IAM policy variables such
// as ${aws:username} reach AWS unchanged.
func literal(s string) string {
	return templateEscaper.Replace(s)
}

func literalMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[literal(k)] = literal(v)
	}
	return out
}

func reference(resourceType, id, attribute string) string {
	return fmt.Sprintf("${%s.%s.%s}", resourceType, id, attribute)
}
