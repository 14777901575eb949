// Package oidc inspects OIDC issuers and ID tokens against assembled trust
// policies. Nothing here verifies signatures, it only answers whether a
// token would satisfy the conditions of a role.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/justinrixx/retryhttp"
)

const discoveryPath = "/.well-known/openid-configuration"

var ErrIssuerMismatch = errors.New("issuer does not match the discovery document")

// ProviderMetadata is the subset of the discovery document we look at.
type ProviderMetadata struct {
	Issuer                 string   `json:"issuer" yaml:"issuer"`
	JWKSURI                string   `json:"jwks_uri" yaml:"jwksUri"`
	SupportedClaims        []string `json:"claims_supported,omitempty" yaml:"claimsSupported,omitempty"`
	SigningAlgorithms      []string `json:"id_token_signing_alg_values_supported,omitempty" yaml:"signingAlgorithms,omitempty"`
	SupportedResponseTypes []string `json:"response_types_supported,omitempty" yaml:"responseTypes,omitempty"`
}

// NewClient returns an HTTP client retrying transient failures.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: retryhttp.New(),
		Timeout:   timeout,
	}
}

// IssuerURL returns providerURL with an https scheme and without a trailing
// slash. Role definitions may name the provider by host only.
func IssuerURL(providerURL string) string {
	issuer := strings.TrimSuffix(strings.TrimSpace(providerURL), "/")
	if !strings.Contains(issuer, "://") {
		issuer = "https://" + issuer
	}
	return issuer
}

// Discover fetches the discovery document of issuerURL and checks that it
// advertises the same issuer.
func Discover(ctx context.Context, client *http.Client, issuerURL string) (*ProviderMetadata, error) {
	issuer := IssuerURL(issuerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+discoveryPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document of %s: %w", issuer, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery document of %s: %w", issuer, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch discovery document of %s: unexpected status code %d", issuer, resp.StatusCode)
	}

	var metadata ProviderMetadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document of %s: %w", issuer, err)
	}
	if strings.TrimSuffix(metadata.Issuer, "/") != issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrIssuerMismatch, issuer, metadata.Issuer)
	}
	return &metadata, nil
}
