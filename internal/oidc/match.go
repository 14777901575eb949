package oidc

import (
	"regexp"
	"slices"
	"strings"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
)

// MatchResult tells which trust conditions a token satisfies.
type MatchResult struct {
	Issuer   bool `json:"issuer" yaml:"issuer"`
	Subject  bool `json:"subject" yaml:"subject"`
	Audience bool `json:"audience" yaml:"audience"`
}

func (m MatchResult) Allowed() bool {
	return m.Issuer && m.Subject && m.Audience
}

// Match evaluates claims against the conditions of trust.
func Match(claims Claims, trust assemble.Trust) MatchResult {
	result := MatchResult{
		Issuer:   claims.Host() == trust.ProviderHost,
		Audience: slices.Contains(claims.Audience, trust.Audience),
	}
	if trust.SubjectCondition == assemble.ConditionLike {
		result.Subject = globMatch(trust.Subject, claims.Subject)
	} else {
		result.Subject = claims.Subject == trust.Subject
	}
	return result
}

// globMatch implements the IAM StringLike operator: '*' matches any
// sequence, '?' any single character.
func globMatch(pattern, value string) bool {
	var b strings.Builder
	b.WriteString("(?s)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
