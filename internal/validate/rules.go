package validate

import "regexp"

const (
	MaxRoleNameLength    = 64
	MaxDescriptionLength = 1000
	MaxTagKeyLength      = 128
	MaxTagValueLength    = 256
	MaxTags              = 50
	MaxManagedPolicies   = 20
	MaxInlinePolicies    = 10
	MaxInlinePolicyName  = 128
	DefaultPolicyVersion = "2012-10-17"
	LegacyPolicyVersion  = "2008-10-17"
)

const (
	ruleRequired          = "required"
	ruleType              = "type"
	ruleFormat            = "format"
	ruleMaxLength         = "max-length"
	ruleMaxItems          = "max-items"
	ruleEnum              = "enum"
	ruleUnique            = "unique"
	ruleJSON              = "json"
	ruleNotAllowed        = "not-allowed"
	ruleUnknownField      = "unknown-field"
	ruleMutuallyExclusive = "mutually-exclusive"
)

var (
	accountIDRegex  = regexp.MustCompile(`^\d{12}$`)
	roleNameRegex   = regexp.MustCompile(`^[\w+=,.@-]+$`)
	policyNameRegex = regexp.MustCompile(`^[\w+=,.@-]+$`)
	identifierFold  = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	providerRegex   = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)+(?:/[A-Za-z0-9._~-]+)*$`)
	// AWS managed (arn:aws:iam::aws:policy/...) and customer managed policies, any partition.
	policyARNRegex = regexp.MustCompile(`^arn:aws(?:-[a-z]+)*:iam::(?:aws|\d{12}):policy/(?:[\w+=,.@-]+/)*[\w+=,.@-]+$`)
)

func IsAccountID(s string) bool {
	return accountIDRegex.MatchString(s)
}

func IsPolicyARN(s string) bool {
	return policyARNRegex.MatchString(s)
}
