package provider

import (
	"encoding/base64"
	"errors"
)

// JiraConfig holds configuration for the Jira Cloud REST API
type JiraConfig struct {
	// BaseURL is the site URL, e.g. https://yourorg.atlassian.net
	BaseURL string
	// Email is the account email paired with the API token
	Email string
	// APIToken is the API token from id.atlassian.com
	APIToken string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// Errors for Jira configuration
var (
	ErrJiraConfigMissingBaseURL  = errors.New("jira: base URL is required")
	ErrJiraConfigMissingEmail    = errors.New("jira: account email is required")
	ErrJiraConfigMissingAPIToken = errors.New("jira: API token is required")
)

// NewJiraConfig creates a new Jira configuration with defaults
func NewJiraConfig(baseURL, email, apiToken string) *JiraConfig {
	return &JiraConfig{
		BaseURL:        baseURL,
		Email:          email,
		APIToken:       apiToken,
		TimeoutSeconds: 30,
	}
}

// Validate validates the Jira configuration
func (c *JiraConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrJiraConfigMissingBaseURL
	}
	if c.Email == "" {
		return ErrJiraConfigMissingEmail
	}
	if c.APIToken == "" {
		return ErrJiraConfigMissingAPIToken
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}

// BasicAuth returns the Authorization header value for the configured
// credentials. Jira Cloud uses basic auth with email and API token.
func (c *JiraConfig) BasicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.Email+":"+c.APIToken))
}
