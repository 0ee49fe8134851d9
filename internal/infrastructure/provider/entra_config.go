package provider

import (
	"errors"
	"fmt"
)

// EntraConfig holds configuration for the Microsoft Graph API
type EntraConfig struct {
	// BaseURL is the Graph endpoint, default https://graph.microsoft.com
	BaseURL string
	// TenantID is the Entra directory (tenant) id
	TenantID string
	// ClientID is the app registration's client id
	ClientID string
	// ClientSecret is the app registration's client secret
	ClientSecret string
	// TokenURL overrides the token endpoint, empty derives it from the
	// tenant id
	TokenURL string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

const (
	// EntraGraphBaseURL is the production Graph endpoint
	EntraGraphBaseURL = "https://graph.microsoft.com"
	// EntraGraphScope is the OAuth2 scope for client-credential Graph access
	EntraGraphScope = "https://graph.microsoft.com/.default"
)

// Errors for Entra configuration
var (
	ErrEntraConfigMissingTenantID     = errors.New("entra: tenant ID is required")
	ErrEntraConfigMissingClientID     = errors.New("entra: client ID is required")
	ErrEntraConfigMissingClientSecret = errors.New("entra: client secret is required")
)

// NewEntraConfig creates a new Entra configuration with defaults
func NewEntraConfig(tenantID, clientID, clientSecret string) *EntraConfig {
	return &EntraConfig{
		BaseURL:        EntraGraphBaseURL,
		TenantID:       tenantID,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TimeoutSeconds: 30,
	}
}

// Validate validates the Entra configuration
func (c *EntraConfig) Validate() error {
	if c.TenantID == "" {
		return ErrEntraConfigMissingTenantID
	}
	if c.ClientID == "" {
		return ErrEntraConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrEntraConfigMissingClientSecret
	}
	if c.BaseURL == "" {
		c.BaseURL = EntraGraphBaseURL
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}

// TokenEndpoint returns the OAuth2 token endpoint for the tenant
func (c *EntraConfig) TokenEndpoint() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.TenantID)
}
