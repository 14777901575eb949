package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
)

// IAMAPI is the subset of the IAM client used by the Inspector.
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	ListAttachedRolePolicies(ctx context.Context, params *iam.ListAttachedRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedRolePoliciesOutput, error)
	ListRolePolicies(ctx context.Context, params *iam.ListRolePoliciesInput, optFns ...func(*iam.Options)) (*iam.ListRolePoliciesOutput, error)
}

// STSAPI is the subset of the STS client used by the Inspector.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Inspector compares deployed roles with assembled requests.
type Inspector struct {
	iam IAMAPI
	sts STSAPI
}

func NewInspectorWithClients(iamClient IAMAPI, stsClient STSAPI) *Inspector {
	return &Inspector{iam: iamClient, sts: stsClient}
}

// RoleStatus is the live state of a role compared to its request.
type RoleStatus struct {
	RoleName          string   `json:"roleName" yaml:"roleName"`
	Exists            bool     `json:"exists" yaml:"exists"`
	ARN               string   `json:"arn,omitempty" yaml:"arn,omitempty"`
	TrustMatches      bool     `json:"trustMatches" yaml:"trustMatches"`
	MissingManaged    []string `json:"missingManaged,omitempty" yaml:"missingManaged,omitempty"`
	UnexpectedManaged []string `json:"unexpectedManaged,omitempty" yaml:"unexpectedManaged,omitempty"`
	MissingInline     []string `json:"missingInline,omitempty" yaml:"missingInline,omitempty"`
	UnexpectedInline  []string `json:"unexpectedInline,omitempty" yaml:"unexpectedInline,omitempty"`
}

func (s RoleStatus) InSync() bool {
	return s.Exists && s.TrustMatches &&
		len(s.MissingManaged) == 0 && len(s.UnexpectedManaged) == 0 &&
		len(s.MissingInline) == 0 && len(s.UnexpectedInline) == 0
}

// Inspect reads the live role and reports its drift from req.
func (i *Inspector) Inspect(ctx context.Context, req assemble.RoleRequest) (*RoleStatus, error) {
	status := &RoleStatus{RoleName: req.RoleName}

	role, err := i.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(req.RoleName)})
	if err != nil {
		if isNoSuchEntity(err) {
			return status, nil
		}
		return nil, fmt.Errorf("failed to get role, %w", err)
	}
	if role == nil || role.Role == nil {
		return nil, fmt.Errorf("failed to get role: role or role.Role is nil")
	}
	status.Exists = true
	status.ARN = aws.ToString(role.Role.Arn)

	status.TrustMatches, err = samePolicy(aws.ToString(role.Role.AssumeRolePolicyDocument), req.AssumeRolePolicy)
	if err != nil {
		return nil, err
	}

	attached, err := i.attachedPolicies(ctx, req.RoleName)
	if err != nil {
		return nil, err
	}
	var wantManaged []string
	for _, m := range req.ManagedPolicies {
		wantManaged = append(wantManaged, m.PolicyARN)
	}
	status.MissingManaged, status.UnexpectedManaged = diff(wantManaged, attached)

	inline, err := i.inlinePolicies(ctx, req.RoleName)
	if err != nil {
		return nil, err
	}
	var wantInline []string
	for _, p := range req.InlinePolicies {
		wantInline = append(wantInline, p.PolicyName)
	}
	status.MissingInline, status.UnexpectedInline = diff(wantInline, inline)

	return status, nil
}

func (i *Inspector) attachedPolicies(ctx context.Context, roleName string) ([]string, error) {
	var arns []string
	paginator := iam.NewListAttachedRolePoliciesPaginator(i.iam, &iam.ListAttachedRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list attached role policies, %w", err)
		}
		for _, p := range page.AttachedPolicies {
			arns = append(arns, aws.ToString(p.PolicyArn))
		}
	}
	return arns, nil
}

func (i *Inspector) inlinePolicies(ctx context.Context, roleName string) ([]string, error) {
	var names []string
	paginator := iam.NewListRolePoliciesPaginator(i.iam, &iam.ListRolePoliciesInput{
		RoleName: aws.String(roleName),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list role policies, %w", err)
		}
		names = append(names, page.PolicyNames...)
	}
	return names, nil
}

// samePolicy compares two policy documents semantically. IAM returns
// documents URL-encoded.
func samePolicy(live, want string) (bool, error) {
	decoded, err := url.QueryUnescape(live)
	if err != nil {
		return false, fmt.Errorf("failed to decode assume role policy, %w", err)
	}
	var a, b any
	if err := json.Unmarshal([]byte(decoded), &a); err != nil {
		return false, fmt.Errorf("failed to parse live assume role policy, %w", err)
	}
	if err := json.Unmarshal([]byte(want), &b); err != nil {
		return false, fmt.Errorf("failed to parse assume role policy, %w", err)
	}
	return reflect.DeepEqual(a, b), nil
}

// diff returns the entries of want missing from have and the entries of
// have not in want, both sorted.
func diff(want, have []string) (missing, unexpected []string) {
	wantSet := map[string]bool{}
	for _, w := range want {
		wantSet[w] = true
	}
	haveSet := map[string]bool{}
	for _, h := range have {
		haveSet[h] = true
		if !wantSet[h] {
			unexpected = append(unexpected, h)
		}
	}
	for _, w := range want {
		if !haveSet[w] {
			missing = append(missing, w)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}
