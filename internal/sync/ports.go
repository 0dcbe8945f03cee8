package sync

import (
	"context"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

// ContactsClient defines the Google contacts operations required by the sync service.
type ContactsClient interface {
	// ContactGroup fetches a contact group by resource name.
	ContactGroup(ctx context.Context, resourceName string) (*contacts.ContactGroup, error)

	// CreateContact creates a contact and returns it as stored.
	CreateContact(ctx context.Context, person *contacts.Person) (*contacts.Person, error)

	// EnsureGroup returns the named user contact group, creating it if absent.
	EnsureGroup(ctx context.Context, name string) (*contacts.ContactGroup, error)

	// FindGroup returns the named user contact group, or nil if none exists.
	FindGroup(ctx context.Context, name string) (*contacts.ContactGroup, error)

	// GroupMembers returns every person in the contact group.
	GroupMembers(ctx context.Context, groupResourceName string) ([]contacts.Person, error)

	// UpdateContact updates the listed fields of a contact and returns it as stored.
	UpdateContact(ctx context.Context, person *contacts.Person, updateFields string) (*contacts.Person, error)
}

// ClientFactory returns a client authenticated for the account.
type ClientFactory func(ctx context.Context, accountID string) (ContactsClient, error)

// GroupCache remembers the resource name of each account's managed contact group.
type GroupCache interface {
	// GroupResourceName returns the cached resource name, or empty if none is cached.
	GroupResourceName(ctx context.Context, accountID string) (string, error)

	// SetGroupResourceName caches the resource name.
	SetGroupResourceName(ctx context.Context, accountID string, resourceName string) error
}

// LogStore persists sync run logs.
type LogStore interface {
	// FinishLog records the final state of a run.
	FinishLog(ctx context.Context, log Log) error

	// RecentLogs returns up to limit logs for the account, newest first.
	RecentLogs(ctx context.Context, accountID string, limit int) ([]Log, error)

	// StartLog records the start of a run.
	StartLog(ctx context.Context, log Log) error
}

// MappingStore persists donor/contact mappings.
type MappingStore interface {
	// Mappings returns every mapping for the account.
	Mappings(ctx context.Context, accountID string) ([]Mapping, error)

	// SaveMapping creates or replaces the mapping for its (account, donor) pair.
	SaveMapping(ctx context.Context, mapping Mapping) error
}

// PlatformStore provides read and write access to platform donors.
type PlatformStore interface {
	// ActiveDonors returns the account's active donors with contacts and primary place.
	ActiveDonors(ctx context.Context, accountID string) ([]donor.Profile, error)

	// ApplyProfile merges a profile into an existing donor and returns the stored result.
	ApplyProfile(ctx context.Context, accountID string, donorID string, profile donor.Profile) (donor.Profile, error)

	// CreateDonor creates a donor from a profile and returns the stored result.
	CreateDonor(ctx context.Context, accountID string, profile donor.Profile) (donor.Profile, error)
}
