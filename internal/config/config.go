// Package config loads server settings from flags, environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/peteski22/donorsync/internal/sync"
)

// Configuration keys. Environment variables use the DONORSYNC_ prefix with dots replaced by
// underscores, e.g. DONORSYNC_GOOGLE_CLIENT_ID.
const (
	KeyAuthSessionTTLMinutes   = "auth.session_ttl_minutes"
	KeyAuthSigningSecret       = "auth.signing_secret"
	KeyAuthStateTTLMinutes     = "auth.state_ttl_minutes"
	KeyAWSEndpoint             = "aws.endpoint"
	KeyAWSRegion               = "aws.region"
	KeyConnectionsFile         = "connections.file"
	KeyDatabasePath            = "database.path"
	KeyDynamoDBLogsTable       = "dynamodb.logs_table"
	KeyDynamoDBMappingsTable   = "dynamodb.mappings_table"
	KeyGoogleClientID          = "google.client_id"
	KeyGoogleClientSecret      = "google.client_secret"
	KeyGoogleGroupName         = "google.group_name"
	KeyGooglePeopleBaseURL     = "google.people_base_url"
	KeyGoogleRedirectURL       = "google.redirect_url"
	KeyHTTPAddress             = "http.address"
	KeyHTTPAllowedOrigins      = "http.allowed_origins"
	KeyLogLevel                = "log.level"
	KeySchedulerConcurrency    = "scheduler.concurrency"
	KeySchedulerEnabled        = "scheduler.enabled"
	KeySchedulerInterval       = "scheduler.interval"
	KeySecretsPrefix           = "secrets.prefix"
	KeySSMGroupPrefix          = "ssm.group_prefix"
	KeySyncCallTimeout         = "sync.call_timeout"
	KeySyncThrottleInterval    = "sync.throttle_interval"
	KeyUIBaseURL               = "ui.base_url"
	envPrefix                  = "DONORSYNC"
	defaultDatabasePath        = "donorsync.db"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultLogLevel            = "info"
	defaultLogsTable           = "donorsync-sync-logs"
	defaultMappingsTable       = "donorsync-mappings"
	defaultSchedulerConcurrent = 4
	defaultSchedulerInterval   = 6 * time.Hour
	defaultSessionTTLMinutes   = 60
	defaultSSMGroupPrefix      = "/donorsync"
	defaultStateTTLMinutes     = 10
)

// AWS holds the shared AWS client settings.
type AWS struct {
	// Endpoint overrides the service endpoint, e.g. for LocalStack. Empty uses the AWS default.
	Endpoint string

	// Region is the AWS region. Empty uses the SDK's default chain.
	Region string
}

// Auth holds signing settings for OAuth state and API session tokens.
type Auth struct {
	// SessionTTL is how long API session tokens remain valid.
	SessionTTL time.Duration

	// SigningSecret is the HS256 key for every issued token.
	SigningSecret string

	// StateTTL is how long an OAuth state token remains valid.
	StateTTL time.Duration
}

// Connections selects where account credentials are stored.
type Connections struct {
	// File is the JSON connection file used when no Secrets Manager prefix is configured.
	File string

	// SecretPrefix is the Secrets Manager name prefix for per-account connection secrets.
	SecretPrefix string
}

// DynamoDB holds the table names for mappings and sync logs.
type DynamoDB struct {
	// LogsTable is the sync log table. Empty disables log persistence.
	LogsTable string

	// MappingsTable is the donor/contact mapping table.
	MappingsTable string
}

// Google holds the OAuth client registration and People API settings.
type Google struct {
	// ClientID is the OAuth client identifier.
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// GroupName is the name of the managed contact group.
	GroupName string

	// PeopleBaseURL overrides the People API base URL.
	PeopleBaseURL string

	// RedirectURL is the registered OAuth callback URL.
	RedirectURL string
}

// HTTP holds the API listener settings.
type HTTP struct {
	// Address is the listen address.
	Address string

	// AllowedOrigins lists the CORS origins. Empty allows the UI base URL only.
	AllowedOrigins []string
}

// Scheduler holds the periodic sync settings.
type Scheduler struct {
	// Concurrency bounds how many accounts are synchronized at once.
	Concurrency int

	// Enabled runs the scheduler inside the server process.
	Enabled bool

	// Interval is the delay between scheduled passes.
	Interval time.Duration
}

// Sync holds the sync engine tuning.
type Sync struct {
	// CallTimeout bounds each Google or platform call.
	CallTimeout time.Duration

	// ThrottleInterval is the delay between mutating Google calls.
	ThrottleInterval time.Duration
}

// Settings holds all configuration for the application.
type Settings struct {
	// AWS contains the shared AWS client settings.
	AWS AWS

	// Auth contains token signing settings.
	Auth Auth

	// Connections selects the credential store.
	Connections Connections

	// DatabasePath is the platform SQLite database path.
	DatabasePath string

	// DynamoDB contains the table names.
	DynamoDB DynamoDB

	// Google contains the OAuth client and People API settings.
	Google Google

	// GroupCachePrefix is the SSM parameter prefix for cached contact group names.
	// Empty disables the cache.
	GroupCachePrefix string

	// HTTP contains the API listener settings.
	HTTP HTTP

	// LogLevel is the minimum log level.
	LogLevel string

	// Scheduler contains the periodic sync settings.
	Scheduler Scheduler

	// Sync contains the sync engine tuning.
	Sync Sync

	// UIBaseURL is where the OAuth callback redirects the browser.
	UIBaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyAuthSessionTTLMinutes, defaultSessionTTLMinutes)
	v.SetDefault(KeyAuthStateTTLMinutes, defaultStateTTLMinutes)
	v.SetDefault(KeyDatabasePath, defaultDatabasePath)
	v.SetDefault(KeyDynamoDBLogsTable, defaultLogsTable)
	v.SetDefault(KeyDynamoDBMappingsTable, defaultMappingsTable)
	v.SetDefault(KeyGoogleGroupName, sync.DefaultGroupName)
	v.SetDefault(KeyHTTPAddress, defaultHTTPAddress)
	v.SetDefault(KeyLogLevel, defaultLogLevel)
	v.SetDefault(KeySchedulerConcurrency, defaultSchedulerConcurrent)
	v.SetDefault(KeySchedulerEnabled, true)
	v.SetDefault(KeySchedulerInterval, defaultSchedulerInterval)
	v.SetDefault(KeySSMGroupPrefix, defaultSSMGroupPrefix)
	v.SetDefault(KeySyncCallTimeout, 30*time.Second)
	v.SetDefault(KeySyncThrottleInterval, sync.MinThrottleInterval)
}

// Load reads the API server settings from viper and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWorker reads settings for processes that only run syncs, such as the scheduled Lambda.
// Token signing and UI settings are not required.
func LoadWorker(v *viper.Viper) (*Settings, error) {
	cfg, err := read(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateWorker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(v *viper.Viper) (*Settings, error) {
	cfg := &Settings{
		AWS: AWS{
			Endpoint: stringValue(v, KeyAWSEndpoint),
			Region:   stringValue(v, KeyAWSRegion),
		},
		Auth: Auth{
			SessionTTL:    time.Duration(v.GetInt(KeyAuthSessionTTLMinutes)) * time.Minute,
			SigningSecret: stringValue(v, KeyAuthSigningSecret),
			StateTTL:      time.Duration(v.GetInt(KeyAuthStateTTLMinutes)) * time.Minute,
		},
		Connections: Connections{
			File:         stringValue(v, KeyConnectionsFile),
			SecretPrefix: stringValue(v, KeySecretsPrefix),
		},
		DatabasePath: stringValue(v, KeyDatabasePath),
		DynamoDB: DynamoDB{
			LogsTable:     stringValue(v, KeyDynamoDBLogsTable),
			MappingsTable: stringValue(v, KeyDynamoDBMappingsTable),
		},
		Google: Google{
			ClientID:      stringValue(v, KeyGoogleClientID),
			ClientSecret:  stringValue(v, KeyGoogleClientSecret),
			GroupName:     stringValue(v, KeyGoogleGroupName),
			PeopleBaseURL: stringValue(v, KeyGooglePeopleBaseURL),
			RedirectURL:   stringValue(v, KeyGoogleRedirectURL),
		},
		GroupCachePrefix: stringValue(v, KeySSMGroupPrefix),
		HTTP: HTTP{
			Address:        stringValue(v, KeyHTTPAddress),
			AllowedOrigins: listValue(v, KeyHTTPAllowedOrigins),
		},
		LogLevel: stringValue(v, KeyLogLevel),
		Scheduler: Scheduler{
			Concurrency: v.GetInt(KeySchedulerConcurrency),
			Enabled:     v.GetBool(KeySchedulerEnabled),
			Interval:    v.GetDuration(KeySchedulerInterval),
		},
		Sync: Sync{
			CallTimeout:      v.GetDuration(KeySyncCallTimeout),
			ThrottleInterval: v.GetDuration(KeySyncThrottleInterval),
		},
		UIBaseURL: strings.TrimRight(stringValue(v, KeyUIBaseURL), "/"),
	}

	if cfg.Connections.SecretPrefix == "" && cfg.Connections.File == "" {
		path, err := ConnectionsFilePath()
		if err != nil {
			return nil, err
		}
		cfg.Connections.File = path
	}

	return cfg, nil
}

// validate checks every setting the API server needs.
func (s *Settings) validate() error {
	var errs []error

	if s.Auth.SigningSecret == "" {
		errs = append(errs, requiredError(KeyAuthSigningSecret))
	}
	if s.Auth.StateTTL <= 0 {
		errs = append(errs, positiveError(KeyAuthStateTTLMinutes))
	}
	if s.Auth.SessionTTL <= 0 {
		errs = append(errs, positiveError(KeyAuthSessionTTLMinutes))
	}
	if s.UIBaseURL == "" {
		errs = append(errs, requiredError(KeyUIBaseURL))
	}

	return errors.Join(append(errs, s.validateWorker())...)
}

// validateWorker checks the settings needed to run syncs.
func (s *Settings) validateWorker() error {
	var errs []error

	if s.DatabasePath == "" {
		errs = append(errs, requiredError(KeyDatabasePath))
	}
	if s.DynamoDB.MappingsTable == "" {
		errs = append(errs, requiredError(KeyDynamoDBMappingsTable))
	}
	if s.Google.ClientID == "" {
		errs = append(errs, requiredError(KeyGoogleClientID))
	}
	if s.Google.ClientSecret == "" {
		errs = append(errs, requiredError(KeyGoogleClientSecret))
	}
	if s.Google.RedirectURL == "" {
		errs = append(errs, requiredError(KeyGoogleRedirectURL))
	}
	if s.GroupCachePrefix != "" && !strings.HasPrefix(s.GroupCachePrefix, "/") {
		errs = append(errs, fmt.Errorf("%s must start with '/'", KeySSMGroupPrefix))
	}
	if s.Sync.ThrottleInterval < sync.MinThrottleInterval {
		errs = append(errs, fmt.Errorf("%s must be at least %v, got %v",
			KeySyncThrottleInterval, sync.MinThrottleInterval, s.Sync.ThrottleInterval))
	}
	if s.Sync.CallTimeout <= 0 {
		errs = append(errs, positiveError(KeySyncCallTimeout))
	}
	if s.Scheduler.Enabled && s.Scheduler.Interval <= 0 {
		errs = append(errs, positiveError(KeySchedulerInterval))
	}
	if s.Scheduler.Concurrency <= 0 {
		errs = append(errs, positiveError(KeySchedulerConcurrency))
	}

	return errors.Join(errs...)
}

// AllowedOrigins returns the CORS origins, defaulting to the UI base URL.
func (s *Settings) AllowedOrigins() []string {
	if len(s.HTTP.AllowedOrigins) > 0 {
		return s.HTTP.AllowedOrigins
	}
	return []string{s.UIBaseURL}
}

func listValue(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for part := range strings.SplitSeq(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func positiveError(key string) error {
	return fmt.Errorf("%s must be positive", key)
}

func requiredError(key string) error {
	return fmt.Errorf("%s is required", key)
}

func stringValue(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}
