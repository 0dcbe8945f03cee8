package contacts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Connection is an account's Google credential and sync settings.
type Connection struct {
	// AccountID is the platform account that owns the connection.
	AccountID string `json:"accountId"`

	// Active is false once the account has disconnected.
	Active bool `json:"active"`

	// ConnectedAt is when the account last completed the OAuth flow.
	ConnectedAt time.Time `json:"connectedAt,omitzero"`

	// DisconnectedAt is when the account last disconnected.
	DisconnectedAt time.Time `json:"disconnectedAt,omitzero"`

	// Email is the Google account email address.
	Email string `json:"email,omitempty"`

	// Enabled includes the account in scheduled runs.
	Enabled bool `json:"enabled"`

	// RefreshToken is the long-lived OAuth refresh token.
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Usable reports whether the connection can mint access tokens.
func (c *Connection) Usable() bool {
	return c != nil && c.Active && c.RefreshToken != ""
}

// ConnectionStore persists connections.
type ConnectionStore interface {
	// ActiveConnections returns every active connection.
	ActiveConnections(ctx context.Context) ([]Connection, error)

	// Connection returns the account's connection, or nil if none exists.
	Connection(ctx context.Context, accountID string) (*Connection, error)

	// SaveConnection creates or replaces the account's connection.
	SaveConnection(ctx context.Context, conn Connection) error
}

// ClientFactory builds authenticated clients for connected accounts.
type ClientFactory struct {
	// connections provides stored credentials.
	connections ConnectionStore

	// oauth mints token sources.
	oauth *OAuth

	// opts are applied to every client.
	opts []Option
}

// NewClientFactory creates a new ClientFactory.
func NewClientFactory(oauth *OAuth, connections ConnectionStore, opts ...Option) (*ClientFactory, error) {
	if oauth == nil {
		return nil, errors.New("oauth is required")
	}
	if connections == nil {
		return nil, errors.New("connection store is required")
	}

	return &ClientFactory{
		connections: connections,
		oauth:       oauth,
		opts:        opts,
	}, nil
}

// ClientFor returns a client authenticated as the account's Google user.
// Returns ErrNotConnected when the account has no usable connection.
func (f *ClientFactory) ClientFor(ctx context.Context, accountID string) (*Client, error) {
	conn, err := f.connections.Connection(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading connection: %w", err)
	}
	if !conn.Usable() {
		return nil, ErrNotConnected
	}

	tokens := f.oauth.TokenSource(conn.RefreshToken, f.rotate(accountID))

	return NewClient(Config{Tokens: tokens}, f.opts...)
}

// rotate returns a RotateFunc that persists a new refresh token for the account.
func (f *ClientFactory) rotate(accountID string) RotateFunc {
	return func(ctx context.Context, refreshToken string) error {
		conn, err := f.connections.Connection(ctx, accountID)
		if err != nil {
			return fmt.Errorf("loading connection: %w", err)
		}
		if conn == nil {
			return ErrNotConnected
		}

		conn.RefreshToken = refreshToken
		return f.connections.SaveConnection(ctx, *conn)
	}
}
