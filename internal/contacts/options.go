package contacts

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultBaseURL     = "https://people.googleapis.com/v1"
	defaultMaxMembers  = 10000
	defaultTimeout     = 30 * time.Second
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Option configures optional Client and OAuth settings.
type Option func(*options) error

// options holds optional configuration shared by Client and OAuth.
type options struct {
	// authURL is the OAuth authorization endpoint.
	authURL string

	// baseURL is the base URL for People API requests.
	baseURL string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// maxMembers caps the member resource names read from a contact group.
	maxMembers int

	// timeout is the HTTP client timeout.
	timeout time.Duration

	// tokenURL is the OAuth token endpoint.
	tokenURL string

	// userInfoURL is the OpenID userinfo endpoint.
	userInfoURL string
}

// WithBaseURL sets a custom base URL for the People API.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = strings.TrimRight(baseURL, "/")
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithMaxMembers sets the maximum number of contacts read from the managed group.
func WithMaxMembers(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("max members must be positive, got %d", n)
		}
		o.maxMembers = n
		return nil
	}
}

// WithOAuthEndpoints overrides the OAuth authorization and token endpoints.
func WithOAuthEndpoints(authURL string, tokenURL string) Option {
	return func(o *options) error {
		authURL = strings.TrimSpace(authURL)
		tokenURL = strings.TrimSpace(tokenURL)
		if authURL == "" || tokenURL == "" {
			return fmt.Errorf("OAuth endpoints cannot be empty")
		}
		o.authURL = authURL
		o.tokenURL = tokenURL
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// WithUserInfoURL sets a custom OpenID userinfo endpoint.
func WithUserInfoURL(userInfoURL string) Option {
	return func(o *options) error {
		userInfoURL = strings.TrimSpace(userInfoURL)
		if userInfoURL == "" {
			return fmt.Errorf("userinfo URL cannot be empty")
		}
		o.userInfoURL = userInfoURL
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		authURL:     defaultAuthURL,
		baseURL:     defaultBaseURL,
		maxMembers:  defaultMaxMembers,
		timeout:     defaultTimeout,
		tokenURL:    defaultTokenURL,
		userInfoURL: defaultUserInfoURL,
	}
}

// applyOptions applies opts over the defaults.
func applyOptions(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}
	return o, nil
}
