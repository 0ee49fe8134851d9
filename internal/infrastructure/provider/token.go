package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/projectlink/backend/internal/domain/integration"
)

// defaultTokenPrefix namespaces cached provider tokens in Redis
const defaultTokenPrefix = "plink:token:"

// tokenTTLSkew is subtracted from the provider-reported lifetime so a
// cached token is refreshed before it actually expires mid-request
const tokenTTLSkew = 60 * time.Second

// TokenSource supplies a bearer token for provider API calls
type TokenSource interface {
	// Token returns a currently valid access token
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, used for pre-issued tokens and
// in tests
type StaticTokenSource string

// Token returns the fixed token
func (s StaticTokenSource) Token(_ context.Context) (string, error) {
	if s == "" {
		return "", errors.New("provider: static token is empty")
	}
	return string(s), nil
}

// TokenCache stores issued tokens so restarts and sibling instances reuse
// them instead of hammering the token endpoint
type TokenCache interface {
	// GetToken returns the cached token for key, empty on miss
	GetToken(ctx context.Context, key string) (string, error)

	// SetToken stores a token under key for ttl
	SetToken(ctx context.Context, key string, token string, ttl time.Duration) error
}

// RedisTokenCache implements TokenCache on Redis with a shared key prefix
type RedisTokenCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTokenCache creates a new Redis-backed token cache
func NewRedisTokenCache(client *redis.Client, keyPrefix string) *RedisTokenCache {
	if keyPrefix == "" {
		keyPrefix = defaultTokenPrefix
	}
	return &RedisTokenCache{client: client, keyPrefix: keyPrefix}
}

// GetToken returns the cached token for key, empty on miss
func (c *RedisTokenCache) GetToken(ctx context.Context, key string) (string, error) {
	token, err := c.client.Get(ctx, c.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cached token: %w", err)
	}
	return token, nil
}

// SetToken stores a token under key for ttl
func (c *RedisTokenCache) SetToken(ctx context.Context, key string, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}
	return nil
}

// tokenResponse is the body of a successful OAuth2 token request
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenErrorResponse is the body of a failed OAuth2 token request
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ClientCredentialsTokenSource issues tokens via the OAuth2 client
// credentials flow and keeps them in a TokenCache. Concurrent refreshes
// within one process collapse into a single token request; the cache does
// the same across processes well enough in practice because the first
// writer wins the remaining TTL.
type ClientCredentialsTokenSource struct {
	provider     integration.ProviderCode
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	cache        TokenCache
	cacheKey     string
	httpClient   *http.Client

	mu sync.Mutex
}

// NewClientCredentialsTokenSource creates a token source for the given
// endpoint and credentials. cache may be nil, in which case every refresh
// hits the token endpoint.
func NewClientCredentialsTokenSource(provider integration.ProviderCode, tokenURL, clientID, clientSecret, scope string, cache TokenCache) *ClientCredentialsTokenSource {
	return &ClientCredentialsTokenSource{
		provider:     provider,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		cache:        cache,
		cacheKey:     provider.String(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns a currently valid access token, refreshing it when the
// cache holds none
func (s *ClientCredentialsTokenSource) Token(ctx context.Context) (string, error) {
	if token := s.cachedToken(ctx); token != "" {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent caller may have refreshed while this one waited
	if token := s.cachedToken(ctx); token != "" {
		return token, nil
	}

	token, expiresIn, err := s.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	if s.cache != nil {
		ttl := time.Duration(expiresIn)*time.Second - tokenTTLSkew
		if ttl > 0 {
			// A failed cache write only costs an extra refresh later
			_ = s.cache.SetToken(ctx, s.cacheKey, token, ttl)
		}
	}

	return token, nil
}

// cachedToken reads the cache, treating errors as a miss so an
// unavailable cache degrades to direct token requests
func (s *ClientCredentialsTokenSource) cachedToken(ctx context.Context) string {
	if s.cache == nil {
		return ""
	}
	token, err := s.cache.GetToken(ctx, s.cacheKey)
	if err != nil {
		return ""
	}
	return token
}

// fetchToken requests a fresh token from the token endpoint
func (s *ClientCredentialsTokenSource) fetchToken(ctx context.Context) (string, int, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("scope", s.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("provider: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, integration.NewTransientError(s.provider, 0, "token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", 0, integration.NewTransientError(s.provider, resp.StatusCode, "failed to read token response", err)
	}

	if resp.StatusCode >= 400 {
		message := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp tokenErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			message = errResp.Error + ": " + errResp.ErrorDescription
		}
		return "", 0, translateStatus(s.provider, resp, message)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", 0, integration.NewTransientError(s.provider, resp.StatusCode, "failed to parse token response", err)
	}
	if token.AccessToken == "" {
		return "", 0, integration.NewPermanentError(s.provider, resp.StatusCode, "token response carries no access token", nil)
	}

	return token.AccessToken, token.ExpiresIn, nil
}

// Ensure both token sources satisfy TokenSource
var (
	_ TokenSource = StaticTokenSource("")
	_ TokenSource = (*ClientCredentialsTokenSource)(nil)
)
