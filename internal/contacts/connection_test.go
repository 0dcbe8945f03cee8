package contacts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memoryConnections is an in-memory ConnectionStore.
type memoryConnections struct {
	mu    sync.Mutex
	conns map[string]Connection
	err   error
}

// ActiveConnections returns every active connection.
func (m *memoryConnections) ActiveConnections(_ context.Context) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Connection
	for _, c := range m.conns {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, m.err
}

// Connection returns the account's connection.
func (m *memoryConnections) Connection(_ context.Context, accountID string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.conns[accountID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SaveConnection stores the connection.
func (m *memoryConnections) SaveConnection(_ context.Context, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns == nil {
		m.conns = map[string]Connection{}
	}
	m.conns[conn.AccountID] = conn
	return nil
}

func TestNewClientFactory(t *testing.T) {
	t.Parallel()

	oauth := newTestOAuth(t, "https://tokens.example.com/token")

	_, err := NewClientFactory(nil, &memoryConnections{})
	require.ErrorContains(t, err, "oauth is required")

	_, err = NewClientFactory(oauth, nil)
	require.ErrorContains(t, err, "connection store is required")

	factory, err := NewClientFactory(oauth, &memoryConnections{})
	require.NoError(t, err)
	require.NotNil(t, factory)
}

func TestClientFactory_ClientFor(t *testing.T) {
	t.Parallel()

	errStore := errors.New("store unavailable")

	tests := map[string]struct {
		store   *memoryConnections
		wantErr error
	}{
		"connected": {
			store: &memoryConnections{conns: map[string]Connection{
				"acct-1": {AccountID: "acct-1", Active: true, RefreshToken: "refresh-1"},
			}},
		},
		"no connection": {
			store:   &memoryConnections{},
			wantErr: ErrNotConnected,
		},
		"disconnected": {
			store: &memoryConnections{conns: map[string]Connection{
				"acct-1": {AccountID: "acct-1", Active: false, RefreshToken: "refresh-1"},
			}},
			wantErr: ErrNotConnected,
		},
		"missing token": {
			store: &memoryConnections{conns: map[string]Connection{
				"acct-1": {AccountID: "acct-1", Active: true},
			}},
			wantErr: ErrNotConnected,
		},
		"store failure": {
			store:   &memoryConnections{err: errStore},
			wantErr: errStore,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			factory, err := NewClientFactory(newTestOAuth(t, "https://tokens.example.com/token"), tc.store)
			require.NoError(t, err)

			client, err := factory.ClientFor(context.Background(), "acct-1")

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				require.Nil(t, client)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, client)
		})
	}
}

func TestClientFactory_RotatePersistsToken(t *testing.T) {
	t.Parallel()

	store := &memoryConnections{conns: map[string]Connection{
		"acct-1": {AccountID: "acct-1", Active: true, Email: "a@example.org", RefreshToken: "refresh-1"},
	}}
	factory, err := NewClientFactory(newTestOAuth(t, "https://tokens.example.com/token"), store)
	require.NoError(t, err)

	require.NoError(t, factory.rotate("acct-1")(context.Background(), "refresh-2"))

	conn, err := store.Connection(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, "refresh-2", conn.RefreshToken)
	require.Equal(t, "a@example.org", conn.Email)

	require.ErrorIs(t, factory.rotate("acct-404")(context.Background(), "x"), ErrNotConnected)
}
