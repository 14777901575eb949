package oidc

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims a trust policy conditions on.
type Claims struct {
	Issuer    string     `json:"iss" yaml:"iss"`
	Subject   string     `json:"sub" yaml:"sub"`
	Audience  []string   `json:"aud" yaml:"aud"`
	ExpiresAt *time.Time `json:"exp,omitempty" yaml:"exp,omitempty"`
	// Repository and Ref are set by GitHub Actions.
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	Ref        string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// Host returns the issuer without its scheme, as IAM condition keys use it.
func (c Claims) Host() string {
	return strings.TrimSuffix(strings.TrimPrefix(c.Issuer, "https://"), "/")
}

// Expired reports whether the token expired before now.
func (c Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// ParseToken reads the claims of raw without verifying its signature.
func ParseToken(raw string) (*Claims, error) {
	claims := make(jwt.MapClaims)
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	out := &Claims{}
	var err error
	if out.Issuer, err = claims.GetIssuer(); err != nil {
		return nil, fmt.Errorf("failed to read issuer claim: %w", err)
	}
	if out.Subject, err = claims.GetSubject(); err != nil {
		return nil, fmt.Errorf("failed to read subject claim: %w", err)
	}
	if out.Audience, err = claims.GetAudience(); err != nil {
		return nil, fmt.Errorf("failed to read audience claim: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("failed to read expiration claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = &exp.Time
	}
	out.Repository, _ = claims["repository"].(string)
	out.Ref, _ = claims["ref"].(string)
	return out, nil
}

// ReadTokenFile parses the token stored in path.
func ReadTokenFile(path string) (*Claims, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return ParseToken(string(raw))
}
