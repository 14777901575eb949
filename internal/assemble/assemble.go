// Package assemble turns validated role specs into the request objects the
// deployment engine consumes. Everything here is pure and deterministic.
package assemble

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/humanitec/oidc-role-manager/internal/roles"
)

const (
	DefaultAudience   = "sts.amazonaws.com"
	PolicyVersion     = "2012-10-17"
	AssumeRoleAction  = "sts:AssumeRoleWithWebIdentity"
	ConditionEquals   = "StringEquals"
	ConditionLike     = "StringLike"
	TagConfigPath     = "ConfigPath"
	TagAccountID      = "AccountId"
	providerARNFormat = "arn:aws:iam::%s:oidc-provider/%s"
)

// DefaultTags are applied to every role before its own tags.
var DefaultTags = map[string]string{
	"ManagedBy":   "OIDC-Role-Manager",
	"Environment": "Development",
	"Tool":        "Terraform",
	"Purpose":     "OIDC-GitHub-Integration",
}

// Trust describes who may assume the role.
type Trust struct {
	ProviderHost     string `json:"providerHost" yaml:"providerHost"`
	ProviderARN      string `json:"providerArn" yaml:"providerArn"`
	SubjectCondition string `json:"subjectCondition" yaml:"subjectCondition"`
	Subject          string `json:"subject" yaml:"subject"`
	Audience         string `json:"audience" yaml:"audience"`
}

type AttachRequest struct {
	ResourceName string `json:"resourceName" yaml:"resourceName"`
	PolicyARN    string `json:"policyArn" yaml:"policyArn"`
}

type InlineRequest struct {
	ResourceName string `json:"resourceName" yaml:"resourceName"`
	PolicyName   string `json:"policyName" yaml:"policyName"`
	Document     string `json:"document" yaml:"document"`
}

type Exports struct {
	RoleARN  string `json:"roleArn" yaml:"roleArn"`
	RoleName string `json:"roleName" yaml:"roleName"`
}

// RoleRequest is the normalized form of one role and its policies.
type RoleRequest struct {
	AccountID        string            `json:"accountId" yaml:"accountId"`
	ResourceName     string            `json:"resourceName" yaml:"resourceName"`
	RoleName         string            `json:"roleName" yaml:"roleName"`
	Description      string            `json:"description,omitempty" yaml:"description,omitempty"`
	Trust            Trust             `json:"trust" yaml:"trust"`
	AssumeRolePolicy string            `json:"assumeRolePolicy" yaml:"assumeRolePolicy"`
	Tags             map[string]string `json:"tags" yaml:"tags"`
	ManagedPolicies  []AttachRequest   `json:"managedPolicies" yaml:"managedPolicies"`
	InlinePolicies   []InlineRequest   `json:"inlinePolicies" yaml:"inlinePolicies"`
	Exports          Exports           `json:"exports" yaml:"exports"`
}

// Assemble builds the request for a validated spec.
func Assemble(spec roles.RoleSpec) RoleRequest {
	base := fmt.Sprintf("%s-%s", spec.AccountID, spec.RoleName)
	trust := BuildTrust(spec)

	req := RoleRequest{
		AccountID:        spec.AccountID,
		ResourceName:     base + "-role",
		RoleName:         spec.RoleName,
		Description:      spec.Description,
		Trust:            trust,
		AssumeRolePolicy: TrustPolicy(trust),
		Tags:             Tags(spec),
		ManagedPolicies:  []AttachRequest{},
		InlinePolicies:   []InlineRequest{},
		Exports: Exports{
			RoleARN:  base + "_role_arn",
			RoleName: base + "_role_name",
		},
	}

	for i, arn := range spec.ManagedPolicies {
		req.ManagedPolicies = append(req.ManagedPolicies, AttachRequest{
			ResourceName: fmt.Sprintf("%s-managed-%d", base, i),
			PolicyARN:    arn,
		})
	}

	for _, inline := range spec.InlinePolicies {
		req.InlinePolicies = append(req.InlinePolicies, InlineRequest{
			ResourceName: fmt.Sprintf("%s-inline-%s", base, inline.Name),
			PolicyName:   fmt.Sprintf("%s-%s", spec.RoleName, inline.Name),
			Document:     compact(inline.Document),
		})
	}

	return req
}

// AssembleAll assembles specs in order.
func AssembleAll(specs []roles.RoleSpec) []RoleRequest {
	out := make([]RoleRequest, 0, len(specs))
	for _, spec := range specs {
		out = append(out, Assemble(spec))
	}
	return out
}

// ProviderHost strips the scheme and trailing slash from a provider URL.
func ProviderHost(url string) string {
	return strings.TrimSuffix(strings.TrimPrefix(url, "https://"), "/")
}

func BuildTrust(spec roles.RoleSpec) Trust {
	host := ProviderHost(spec.OIDCProviderURL)
	audience := spec.Audience
	if audience == "" {
		audience = DefaultAudience
	}
	condition := ConditionEquals
	if strings.ContainsAny(spec.SubjectClaim, "*?") {
		condition = ConditionLike
	}
	return Trust{
		ProviderHost:     host,
		ProviderARN:      fmt.Sprintf(providerARNFormat, spec.AccountID, host),
		SubjectCondition: condition,
		Subject:          spec.SubjectClaim,
		Audience:         audience,
	}
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Condition map[string]map[string]string `json:"Condition"`
}

// TrustPolicy renders the assume-role policy document for trust.
func TrustPolicy(trust Trust) string {
	conditions := map[string]map[string]string{
		ConditionEquals: {trust.ProviderHost + ":aud": trust.Audience},
	}
	if trust.SubjectCondition == ConditionLike {
		conditions[ConditionLike] = map[string]string{trust.ProviderHost + ":sub": trust.Subject}
	} else {
		conditions[ConditionEquals][trust.ProviderHost+":sub"] = trust.Subject
	}

	doc := policyDocument{
		Version: PolicyVersion,
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string]string{"Federated": trust.ProviderARN},
			Action:    AssumeRoleAction,
			Condition: conditions,
		}},
	}
	// Only strings and maps of strings, Marshal cannot fail.
	b, _ := json.Marshal(doc)
	return string(b)
}

// Tags merges the default tags, the role tags and the traceability tags.
func Tags(spec roles.RoleSpec) map[string]string {
	tags := make(map[string]string, len(DefaultTags)+len(spec.Tags)+2)
	for k, v := range DefaultTags {
		tags[k] = v
	}
	for k, v := range spec.Tags {
		tags[k] = v
	}
	tags[TagConfigPath] = spec.Path
	tags[TagAccountID] = spec.AccountID
	return tags
}

// Marshal renders a request as indented JSON with a trailing newline.
func Marshal(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return append(b, '\n'), nil
}

func compact(doc json.RawMessage) string {
	buf := &bytes.Buffer{}
	if err := json.Compact(buf, doc); err != nil {
		return string(doc)
	}
	return buf.String()
}
