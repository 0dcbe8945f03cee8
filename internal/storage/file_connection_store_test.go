package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peteski22/donorsync/internal/contacts"
)

func TestNewFileConnectionStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path    string
		wantErr bool
	}{
		"valid path": {
			path:    "/tmp/connections.json",
			wantErr: false,
		},
		"empty path": {
			path:    "",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewFileConnectionStore(tc.path)

			if tc.wantErr {
				require.Error(t, err)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestFileConnectionStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "connections.json")
	store, err := NewFileConnectionStore(path)
	require.NoError(t, err)

	ctx := context.Background()

	// Missing file holds no connections.
	conn, err := store.Connection(ctx, "acct-1")
	require.NoError(t, err)
	require.Nil(t, conn)

	active, err := store.ActiveConnections(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	require.NoError(t, store.SaveConnection(ctx, contacts.Connection{AccountID: "acct-2", Active: true, RefreshToken: "r2"}))
	require.NoError(t, store.SaveConnection(ctx, contacts.Connection{AccountID: "acct-1", Active: true, RefreshToken: "r1"}))
	require.NoError(t, store.SaveConnection(ctx, contacts.Connection{AccountID: "acct-3", Active: false}))

	conn, err = store.Connection(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, "r1", conn.RefreshToken)

	active, err = store.ActiveConnections(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "acct-1", active[0].AccountID)
	require.Equal(t, "acct-2", active[1].AccountID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileConnectionStore_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content string
		call    func(s *FileConnectionStore) error
		errMsg  string
	}{
		"malformed file": {
			content: "not json",
			call: func(s *FileConnectionStore) error {
				_, err := s.Connection(context.Background(), "acct-1")
				return err
			},
			errMsg: "decoding connection file",
		},
		"connection without account": {
			call: func(s *FileConnectionStore) error {
				_, err := s.Connection(context.Background(), "")
				return err
			},
			errMsg: "account ID is required",
		},
		"save without account": {
			call: func(s *FileConnectionStore) error {
				return s.SaveConnection(context.Background(), contacts.Connection{})
			},
			errMsg: "account ID is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "connections.json")
			if tc.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))
			}

			store, err := NewFileConnectionStore(path)
			require.NoError(t, err)

			err = tc.call(store)

			require.Error(t, err)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestFileConnectionStore_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "connections.json")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	store, err := NewFileConnectionStore(path)
	require.NoError(t, err)

	conns, err := store.ActiveConnections(context.Background())
	require.NoError(t, err)
	require.Empty(t, conns)
}
