package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	// defaultTokenDuration is used when the token endpoint doesn't return an expiry time.
	defaultTokenDuration = 60 * time.Minute

	// scopeContacts grants read/write access to the user's contacts.
	scopeContacts = "https://www.googleapis.com/auth/contacts"

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute
)

// RotateFunc is called when the token endpoint issues a new refresh token.
type RotateFunc func(ctx context.Context, refreshToken string) error

// OAuthConfig holds the Google OAuth client registration.
type OAuthConfig struct {
	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// RedirectURL is the registered callback URL.
	RedirectURL string
}

// validate checks that all required OAuthConfig fields are set.
func (c *OAuthConfig) validate() error {
	var errs []error
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if strings.TrimSpace(c.RedirectURL) == "" {
		errs = append(errs, errors.New("redirect URL is required"))
	}
	return errors.Join(errs...)
}

// OAuth performs the Google authorization-code flow and mints token sources.
type OAuth struct {
	// config is the oauth2 client configuration.
	config *oauth2.Config

	// httpClient is used for token and userinfo requests.
	httpClient *http.Client

	// userInfoURL is the OpenID userinfo endpoint.
	userInfoURL string
}

// NewOAuth creates a new OAuth helper.
func NewOAuth(cfg OAuthConfig, opts ...Option) (*OAuth, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid OAuth config: %w", err)
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   o.authURL,
				TokenURL:  o.tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      []string{scopeContacts, "openid", "email"},
		},
		httpClient:  o.httpClient,
		userInfoURL: o.userInfoURL,
	}, nil
}

// AuthCodeURL returns the consent page URL carrying the given state.
// Offline access with forced consent guarantees a refresh token is issued.
func (a *OAuth) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token.
func (a *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("authorization code is required")
	}

	token, err := a.config.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, errors.New("token response did not include a refresh token")
	}

	return token, nil
}

// TokenSource returns an AccessTokenSource backed by the refresh token.
// onRotate may be nil.
func (a *OAuth) TokenSource(refreshToken string, onRotate RotateFunc) AccessTokenSource {
	return &tokenManager{
		oauth:        a,
		onRotate:     onRotate,
		refreshToken: refreshToken,
	}
}

// UserEmail returns the email address of the account that owns the access token.
func (a *OAuth) UserEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing userinfo request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &APIError{Body: string(body), StatusCode: resp.StatusCode}
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decoding userinfo response: %w", err)
	}

	return info.Email, nil
}

// clientContext attaches the configured HTTP client for the oauth2 package.
func (a *OAuth) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// tokenManager handles OAuth token refresh and caching.
type tokenManager struct {
	// accessToken is the current cached access token.
	accessToken string

	// expiresAt is when the current access token expires.
	expiresAt time.Time

	// mu protects token state.
	mu sync.RWMutex

	// oauth performs the refresh.
	oauth *OAuth

	// onRotate persists a newly issued refresh token.
	onRotate RotateFunc

	// refreshToken is the current refresh token.
	refreshToken string
}

// AccessToken returns a valid access token, refreshing if necessary.
func (tm *tokenManager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := tm.cachedToken(); ok {
		return token, nil
	}
	return tm.refreshAccessToken(ctx)
}

// cachedToken returns the cached access token if valid, or false if refresh is needed.
func (tm *tokenManager) cachedToken() (string, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.isTokenValid() {
		return tm.accessToken, true
	}
	return "", false
}

// isTokenValid checks if the current access token is valid and not near expiry.
// Must be called with at least a read lock held.
func (tm *tokenManager) isTokenValid() bool {
	return tm.accessToken != "" && time.Now().Before(tm.expiresAt.Add(-tokenExpiryBuffer))
}

// refreshAccessToken fetches a new access token using the refresh token.
func (tm *tokenManager) refreshAccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock.
	if tm.isTokenValid() {
		return tm.accessToken, nil
	}

	if tm.refreshToken == "" {
		return "", ErrNotConnected
	}

	source := tm.oauth.config.TokenSource(tm.oauth.clientContext(ctx), &oauth2.Token{RefreshToken: tm.refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			return "", fmt.Errorf("refreshing access token: %w: %w", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	if token.RefreshToken != "" && token.RefreshToken != tm.refreshToken {
		if tm.onRotate != nil {
			if err := tm.onRotate(ctx, token.RefreshToken); err != nil {
				return "", fmt.Errorf("saving refresh token: %w", err)
			}
		}
		tm.refreshToken = token.RefreshToken
	}

	tm.accessToken = token.AccessToken
	if !token.Expiry.IsZero() {
		tm.expiresAt = token.Expiry
	} else {
		tm.expiresAt = time.Now().Add(defaultTokenDuration)
	}

	return tm.accessToken, nil
}
