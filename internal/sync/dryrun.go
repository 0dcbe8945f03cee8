package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

// dryRunGroupPrefix marks a contact group that would have been created.
const dryRunGroupPrefix = "contactGroups/dry-run-"

// dryRunClient wraps a ContactsClient and logs write operations instead of executing them.
type dryRunClient struct {
	client  ContactsClient
	counter *atomic.Uint64
	logger  *slog.Logger
}

// newDryRunClient creates a new dryRunClient that wraps the given ContactsClient.
func newDryRunClient(client ContactsClient, logger *slog.Logger, counter *atomic.Uint64) *dryRunClient {
	return &dryRunClient{
		client:  client,
		counter: counter,
		logger:  logger,
	}
}

// ContactGroup delegates to the real client.
func (d *dryRunClient) ContactGroup(ctx context.Context, resourceName string) (*contacts.ContactGroup, error) {
	return d.client.ContactGroup(ctx, resourceName)
}

// CreateContact logs what would be created and returns the person with a fake resource name.
func (d *dryRunClient) CreateContact(_ context.Context, person *contacts.Person) (*contacts.Person, error) {
	created := *person
	created.ResourceName = "people/" + d.nextFakeID("contact")

	d.logger.Info("[DRY-RUN] would create contact",
		"fake_resource_name", created.ResourceName,
		"donor_id", person.BackReference(),
		"name", person.ToProfile().DisplayName())

	return &created, nil
}

// EnsureGroup looks the group up and, if absent, logs what would be created.
func (d *dryRunClient) EnsureGroup(ctx context.Context, name string) (*contacts.ContactGroup, error) {
	group, err := d.client.FindGroup(ctx, name)
	if err != nil || group != nil {
		return group, err
	}

	fake := &contacts.ContactGroup{
		GroupType:    contacts.GroupTypeUser,
		Name:         name,
		ResourceName: dryRunGroupPrefix + d.nextFakeID("group"),
	}
	d.logger.Info("[DRY-RUN] would create contact group",
		"fake_resource_name", fake.ResourceName,
		"name", name)

	return fake, nil
}

// FindGroup delegates to the real client.
func (d *dryRunClient) FindGroup(ctx context.Context, name string) (*contacts.ContactGroup, error) {
	return d.client.FindGroup(ctx, name)
}

// GroupMembers delegates to the real client. A group that would have been created has no members.
func (d *dryRunClient) GroupMembers(ctx context.Context, groupResourceName string) ([]contacts.Person, error) {
	if strings.HasPrefix(groupResourceName, dryRunGroupPrefix) {
		return nil, nil
	}
	return d.client.GroupMembers(ctx, groupResourceName)
}

// UpdateContact logs what would be updated and returns the person unchanged.
func (d *dryRunClient) UpdateContact(_ context.Context, person *contacts.Person, updateFields string) (*contacts.Person, error) {
	d.logger.Info("[DRY-RUN] would update contact",
		"resource_name", person.ResourceName,
		"donor_id", person.BackReference(),
		"fields", updateFields)

	updated := *person
	return &updated, nil
}

// nextFakeID generates a unique fake ID for dry-run operations.
func (d *dryRunClient) nextFakeID(prefix string) string {
	return fmt.Sprintf("dry-run-%s-%d", prefix, d.counter.Add(1))
}

// dryRunPlatform wraps a PlatformStore and logs donor writes instead of executing them.
type dryRunPlatform struct {
	counter *atomic.Uint64
	logger  *slog.Logger
	store   PlatformStore
}

// ActiveDonors delegates to the real store.
func (d *dryRunPlatform) ActiveDonors(ctx context.Context, accountID string) ([]donor.Profile, error) {
	return d.store.ActiveDonors(ctx, accountID)
}

// ApplyProfile logs what would be merged and returns the incoming profile.
func (d *dryRunPlatform) ApplyProfile(_ context.Context, _ string, donorID string, profile donor.Profile) (donor.Profile, error) {
	d.logger.Info("[DRY-RUN] would update donor",
		"donor_id", donorID,
		"name", profile.DisplayName(),
		"emails", len(profile.Emails),
		"phones", len(profile.Phones))

	profile.DonorID = donorID
	return profile, nil
}

// CreateDonor logs what would be created and returns the profile with a fake ID.
func (d *dryRunPlatform) CreateDonor(_ context.Context, _ string, profile donor.Profile) (donor.Profile, error) {
	profile.DonorID = fmt.Sprintf("dry-run-donor-%d", d.counter.Add(1))

	d.logger.Info("[DRY-RUN] would create donor",
		"fake_id", profile.DonorID,
		"name", profile.DisplayName())

	return profile, nil
}

// dryRunMappings wraps a MappingStore and discards writes.
type dryRunMappings struct {
	logger *slog.Logger
	store  MappingStore
}

// Mappings delegates to the real store.
func (d *dryRunMappings) Mappings(ctx context.Context, accountID string) ([]Mapping, error) {
	return d.store.Mappings(ctx, accountID)
}

// SaveMapping logs the mapping that would be saved.
func (d *dryRunMappings) SaveMapping(_ context.Context, m Mapping) error {
	d.logger.Debug("[DRY-RUN] would save mapping",
		"donor_id", m.DonorID,
		"resource_name", m.ResourceName,
		"status", m.Status)
	return nil
}

// dryRunLogs discards log writes.
type dryRunLogs struct {
	store LogStore
}

// FinishLog does nothing.
func (d *dryRunLogs) FinishLog(_ context.Context, _ Log) error {
	return nil
}

// RecentLogs delegates to the real store.
func (d *dryRunLogs) RecentLogs(ctx context.Context, accountID string, limit int) ([]Log, error) {
	return d.store.RecentLogs(ctx, accountID, limit)
}

// StartLog does nothing.
func (d *dryRunLogs) StartLog(_ context.Context, _ Log) error {
	return nil
}
