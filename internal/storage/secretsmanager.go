package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/peteski22/donorsync/internal/contacts"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the connection store.
type SecretsManagerAPI interface {
	// CreateSecret creates a new secret.
	CreateSecret(
		ctx context.Context,
		params *secretsmanager.CreateSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.CreateSecretOutput, error)

	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// ListSecrets lists secret metadata.
	ListSecrets(
		ctx context.Context,
		params *secretsmanager.ListSecretsInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.ListSecretsOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// ConnectionStore keeps each account's Google connection, refresh token included,
// as a JSON secret named prefix + account ID.
type ConnectionStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// prefix is prepended to the account ID to form the secret name.
	prefix string
}

// NewConnectionStore creates a new Secrets Manager-backed connection store.
func NewConnectionStore(client SecretsManagerAPI, prefix string) (*ConnectionStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if prefix == "" {
		return nil, errors.New("secret prefix is required")
	}

	return &ConnectionStore{
		client: client,
		prefix: prefix,
	}, nil
}

// ActiveConnections returns every active connection.
func (s *ConnectionStore) ActiveConnections(ctx context.Context) ([]contacts.Connection, error) {
	input := &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{{
			Key:    types.FilterNameStringTypeName,
			Values: []string{s.prefix},
		}},
	}

	var conns []contacts.Connection
	for {
		output, err := s.client.ListSecrets(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("listing secrets from Secrets Manager: %w", err)
		}

		for _, entry := range output.SecretList {
			name := aws.ToString(entry.Name)
			// The name filter matches words anywhere in the name.
			if !strings.HasPrefix(name, s.prefix) {
				continue
			}
			conn, err := s.read(ctx, name)
			if err != nil {
				return nil, err
			}
			if conn != nil && conn.Active {
				conns = append(conns, *conn)
			}
		}

		if aws.ToString(output.NextToken) == "" {
			return conns, nil
		}
		input.NextToken = output.NextToken
	}
}

// Connection returns the account's connection, or nil if none exists.
func (s *ConnectionStore) Connection(ctx context.Context, accountID string) (*contacts.Connection, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}
	return s.read(ctx, s.secretName(accountID))
}

// SaveConnection creates or replaces the account's connection.
func (s *ConnectionStore) SaveConnection(ctx context.Context, conn contacts.Connection) error {
	if conn.AccountID == "" {
		return errors.New("account ID is required")
	}

	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("encoding connection: %w", err)
	}
	name := s.secretName(conn.AccountID)

	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(data)),
	})
	if err == nil {
		return nil
	}

	var notFoundErr *types.ResourceNotFoundException
	if !errors.As(err, &notFoundErr) {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("creating secret in Secrets Manager: %w", err)
	}

	return nil
}

func (s *ConnectionStore) read(ctx context.Context, name string) (*contacts.Connection, error) {
	output, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", name)
	}

	var conn contacts.Connection
	if err := json.Unmarshal([]byte(*output.SecretString), &conn); err != nil {
		return nil, fmt.Errorf("decoding secret %s: %w", name, err)
	}

	return &conn, nil
}

func (s *ConnectionStore) secretName(accountID string) string {
	return s.prefix + accountID
}
