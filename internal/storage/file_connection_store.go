package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	gosync "sync"

	"github.com/peteski22/donorsync/internal/contacts"
)

// FileConnectionStore stores connections in a local JSON file, keyed by account ID.
type FileConnectionStore struct {
	mu   gosync.Mutex
	path string
}

// NewFileConnectionStore creates a new FileConnectionStore that reads/writes to the given path.
func NewFileConnectionStore(path string) (*FileConnectionStore, error) {
	if path == "" {
		return nil, fmt.Errorf("connection file path is required")
	}
	return &FileConnectionStore{path: path}, nil
}

// ActiveConnections returns every active connection, ordered by account ID.
func (s *FileConnectionStore) ActiveConnections(_ context.Context) ([]contacts.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var conns []contacts.Connection
	for _, id := range ids {
		if all[id].Active {
			conns = append(conns, all[id])
		}
	}
	return conns, nil
}

// Connection returns the account's connection, or nil if none exists.
func (s *FileConnectionStore) Connection(_ context.Context, accountID string) (*contacts.Connection, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}

	conn, ok := all[accountID]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

// SaveConnection creates or replaces the account's connection.
func (s *FileConnectionStore) SaveConnection(_ context.Context, conn contacts.Connection) error {
	if conn.AccountID == "" {
		return errors.New("account ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	all[conn.AccountID] = conn

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding connections: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating connection directory: %w", err)
	}

	// Replace the file atomically through a temporary sibling.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing connection file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing connection file: %w", err)
	}

	return nil
}

// load reads every stored connection. A missing file holds no connections.
func (s *FileConnectionStore) load() (map[string]contacts.Connection, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]contacts.Connection{}, nil
		}
		return nil, fmt.Errorf("reading connection file: %w", err)
	}

	all := map[string]contacts.Connection{}
	if strings.TrimSpace(string(data)) == "" {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decoding connection file %s: %w", s.path, err)
	}
	return all, nil
}
