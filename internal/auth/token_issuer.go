// Package auth issues and validates the signed tokens used by the HTTP API:
// session bearer tokens naming the caller's account, and OAuth state values.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AudienceOAuthState is the audience of OAuth state tokens.
	AudienceOAuthState = "donorsync-oauth-state"

	// AudienceSession is the audience of API session tokens.
	AudienceSession = "donorsync-api"

	// DefaultIssuer is the issuer claim of every token.
	DefaultIssuer = "donorsync"

	defaultTokenTTL = 30 * time.Minute
)

var (
	// ErrExpiredToken indicates the token is past its expiry.
	ErrExpiredToken = errors.New("auth: token expired")

	// ErrInvalidToken indicates the token is malformed, tampered with, or for another audience.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenIssuerConfig configures a TokenIssuer.
type TokenIssuerConfig struct {
	// Audience is the audience claim issued and required.
	Audience string

	// Clock returns the current time. Default is time.Now.
	Clock func() time.Time

	// Issuer is the issuer claim. Default is DefaultIssuer.
	Issuer string

	// SigningSecret is the HS256 key.
	SigningSecret []byte

	// TokenTTL is how long issued tokens remain valid. Default is 30 minutes.
	TokenTTL time.Duration
}

// validate checks that all required TokenIssuerConfig fields are set.
func (c *TokenIssuerConfig) validate() error {
	var errs []error
	if len(c.SigningSecret) == 0 {
		errs = append(errs, errors.New("signing secret is required"))
	}
	if strings.TrimSpace(c.Audience) == "" {
		errs = append(errs, errors.New("audience is required"))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("token TTL must not be negative, got %v", c.TokenTTL))
	}
	return errors.Join(errs...)
}

// TokenIssuer issues and validates HS256 JWTs whose subject is an account ID.
type TokenIssuer struct {
	audience      string
	clock         func() time.Time
	issuer        string
	signingSecret []byte
	ttl           time.Duration
}

// NewTokenIssuer creates a new TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ttl := cfg.TokenTTL
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}

	return &TokenIssuer{
		audience:      cfg.Audience,
		clock:         clock,
		issuer:        issuer,
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		ttl:           ttl,
	}, nil
}

// Issue returns a signed token for the account and its expiry.
func (i *TokenIssuer) Issue(accountID string) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, errors.New("account ID is required")
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{i.audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    i.issuer,
		Subject:   accountID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return signed, expiresAt, nil
}

// Validate checks the token's signature, issuer, audience and expiry, and returns its account ID.
func (i *TokenIssuer) Validate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (any, error) { return i.signingSecret, nil },
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}

	return claims.Subject, nil
}
