// Package app wires settings into the stores, clients and services shared by the server and scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/peteski22/donorsync/internal/config"
	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/dispatch"
	"github.com/peteski22/donorsync/internal/donor"
	"github.com/peteski22/donorsync/internal/storage"
	"github.com/peteski22/donorsync/internal/sync"
)

// AWSClients holds the AWS service clients used by the stores.
type AWSClients struct {
	// DynamoDB backs the mapping and sync log tables.
	DynamoDB storage.DynamoDBAPI

	// SecretsManager backs the connection store when a secret prefix is configured.
	SecretsManager storage.SecretsManagerAPI

	// SSM backs the contact group cache.
	SSM storage.SSMAPI
}

// App holds the wired components.
type App struct {
	// Connections stores account connections.
	Connections contacts.ConnectionStore

	// Dispatcher guards and starts sync runs.
	Dispatcher *dispatch.Dispatcher

	// Logs stores sync run logs.
	Logs sync.LogStore

	// OAuth performs the Google authorization-code flow.
	OAuth *contacts.OAuth

	// Service runs syncs.
	Service *sync.Service

	closers []func() error
}

// NewAWSClients builds AWS clients from the default credential chain, honoring the configured
// region and endpoint override.
func NewAWSClients(ctx context.Context, settings config.AWS) (*AWSClients, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if settings.Region != "" {
		opts = append(opts, awsconfig.WithRegion(settings.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var endpoint *string
	if settings.Endpoint != "" {
		endpoint = aws.String(settings.Endpoint)
	}

	return &AWSClients{
		DynamoDB:       dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) { o.BaseEndpoint = endpoint }),
		SecretsManager: secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) { o.BaseEndpoint = endpoint }),
		SSM:            ssm.NewFromConfig(cfg, func(o *ssm.Options) { o.BaseEndpoint = endpoint }),
	}, nil
}

// New wires the application from settings.
func New(settings *config.Settings, clients *AWSClients, logger *slog.Logger) (*App, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	if clients == nil {
		return nil, errors.New("AWS clients are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{}
	if err := a.wire(settings, clients, logger); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	var errs []error
	for _, closer := range a.closers {
		errs = append(errs, closer())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) wire(settings *config.Settings, clients *AWSClients, logger *slog.Logger) error {
	db, err := donor.OpenSQLite(settings.DatabasePath)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting database handle: %w", err)
	}
	a.closers = append(a.closers, sqlDB.Close)

	platform, err := donor.NewRepository(donor.RepositoryConfig{Database: db})
	if err != nil {
		return fmt.Errorf("creating donor repository: %w", err)
	}

	a.Connections, err = newConnectionStore(settings.Connections, clients)
	if err != nil {
		return err
	}

	var clientOpts []contacts.Option
	if settings.Google.PeopleBaseURL != "" {
		clientOpts = append(clientOpts, contacts.WithBaseURL(settings.Google.PeopleBaseURL))
	}
	if settings.Sync.CallTimeout > 0 {
		clientOpts = append(clientOpts, contacts.WithTimeout(settings.Sync.CallTimeout))
	}

	a.OAuth, err = contacts.NewOAuth(contacts.OAuthConfig{
		ClientID:     settings.Google.ClientID,
		ClientSecret: settings.Google.ClientSecret,
		RedirectURL:  settings.Google.RedirectURL,
	}, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating OAuth client: %w", err)
	}

	factory, err := contacts.NewClientFactory(a.OAuth, a.Connections, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating client factory: %w", err)
	}

	mappings, err := storage.NewMappingStore(clients.DynamoDB, settings.DynamoDB.MappingsTable)
	if err != nil {
		return fmt.Errorf("creating mapping store: %w", err)
	}

	a.Logs = storage.NewNoopLogStore()
	if settings.DynamoDB.LogsTable != "" {
		a.Logs, err = storage.NewSyncLogStore(clients.DynamoDB, settings.DynamoDB.LogsTable)
		if err != nil {
			return fmt.Errorf("creating sync log store: %w", err)
		}
	}

	var groupCache sync.GroupCache
	if settings.GroupCachePrefix != "" {
		groupCache, err = storage.NewGroupCache(clients.SSM, settings.GroupCachePrefix)
		if err != nil {
			return fmt.Errorf("creating group cache: %w", err)
		}
	}

	a.Service, err = sync.New(sync.Config{
		CallTimeout:      settings.Sync.CallTimeout,
		Clients:          clientFunc(factory),
		GroupCache:       groupCache,
		GroupName:        settings.Google.GroupName,
		Logger:           logger,
		Logs:             a.Logs,
		Mappings:         mappings,
		Platform:         platform,
		ThrottleInterval: settings.Sync.ThrottleInterval,
	})
	if err != nil {
		return fmt.Errorf("creating sync service: %w", err)
	}

	a.Dispatcher, err = dispatch.New(dispatch.Config{
		Concurrency: settings.Scheduler.Concurrency,
		Connections: a.Connections,
		Logger:      logger,
		Runner:      a.Service,
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	return nil
}

// newConnectionStore selects Secrets Manager when a prefix is configured, else the local file.
func newConnectionStore(settings config.Connections, clients *AWSClients) (contacts.ConnectionStore, error) {
	if settings.SecretPrefix != "" {
		store, err := storage.NewConnectionStore(clients.SecretsManager, settings.SecretPrefix)
		if err != nil {
			return nil, fmt.Errorf("creating connection store: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewFileConnectionStore(settings.File)
	if err != nil {
		return nil, fmt.Errorf("creating connection store: %w", err)
	}
	return store, nil
}

// clientFunc adapts the factory to the sync service's client port.
func clientFunc(factory *contacts.ClientFactory) sync.ClientFactory {
	return func(ctx context.Context, accountID string) (sync.ContactsClient, error) {
		client, err := factory.ClientFor(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
