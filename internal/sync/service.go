package sync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

const (
	// DefaultGroupName is the name of the managed contact group when none is configured.
	DefaultGroupName = "Donors"

	// MinThrottleInterval is the minimum delay between mutating Google calls.
	// The People API allows roughly 60 writes per minute per user.
	MinThrottleInterval = 1100 * time.Millisecond

	defaultCallTimeout = 30 * time.Second
)

// errDonorInactive is recorded when a mapped donor is missing or inactive.
var errDonorInactive = errors.New("donor is missing or inactive")

// Config holds the required configuration for creating a Service.
type Config struct {
	// CallTimeout bounds every individual Google or platform call. Default is 30s.
	CallTimeout time.Duration

	// Clients returns an authenticated Google client per account.
	Clients ClientFactory

	// GroupCache optionally caches each account's contact group resource name.
	GroupCache GroupCache

	// GroupName is the name of the managed contact group. Default is DefaultGroupName.
	GroupName string

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Logs persists sync run logs.
	Logs LogStore

	// Mappings persists donor/contact mappings.
	Mappings MappingStore

	// Platform provides access to platform donors.
	Platform PlatformStore

	// ThrottleInterval is the delay between mutating Google calls.
	// Default is MinThrottleInterval, which is also the lowest accepted value.
	ThrottleInterval time.Duration
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Clients == nil {
		errs = append(errs, errors.New("client factory is required"))
	}
	if c.Logs == nil {
		errs = append(errs, errors.New("log store is required"))
	}
	if c.Mappings == nil {
		errs = append(errs, errors.New("mapping store is required"))
	}
	if c.Platform == nil {
		errs = append(errs, errors.New("platform store is required"))
	}
	if c.ThrottleInterval != 0 && c.ThrottleInterval < MinThrottleInterval {
		errs = append(errs, fmt.Errorf("throttle interval must be at least %v, got %v", MinThrottleInterval, c.ThrottleInterval))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("call timeout must not be negative, got %v", c.CallTimeout))
	}
	return errors.Join(errs...)
}

// Service reconciles donors with Google contacts, one account per run.
// A Service is safe for concurrent runs of different accounts.
type Service struct {
	callTimeout      time.Duration
	clients          ClientFactory
	groupCache       GroupCache
	groupName        string
	logger           *slog.Logger
	logs             LogStore
	mappings         MappingStore
	now              func() time.Time
	platform         PlatformStore
	sleep            func(ctx context.Context, d time.Duration)
	throttleInterval time.Duration
}

// New creates a new sync service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	groupName := strings.TrimSpace(cfg.GroupName)
	if groupName == "" {
		groupName = DefaultGroupName
	}

	return &Service{
		callTimeout:      cmp.Or(cfg.CallTimeout, defaultCallTimeout),
		clients:          cfg.Clients,
		groupCache:       cfg.GroupCache,
		groupName:        groupName,
		logger:           logger,
		logs:             cfg.Logs,
		mappings:         cfg.Mappings,
		now:              time.Now,
		platform:         cfg.Platform,
		sleep:            sleepContext,
		throttleInterval: cmp.Or(cfg.ThrottleInterval, MinThrottleInterval),
	}, nil
}

// Run executes a full sync cycle for one account.
// Per-item failures are reported in the result and do not fail the run.
// A failure before classification starts returns the error along with a result whose Success is false.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if strings.TrimSpace(opts.AccountID) == "" {
		return nil, errors.New("account ID is required")
	}

	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}

	trigger := cmp.Or(opts.Trigger, TriggerManual)
	start := s.now()
	r := s.newRun(opts.AccountID, policy, opts.DryRun)

	log, err := newLog(opts.AccountID, trigger, start)
	if err != nil {
		return nil, err
	}
	if err := r.logs.StartLog(ctx, log); err != nil {
		return nil, fmt.Errorf("starting sync log: %w", err)
	}

	r.logger.Info("starting sync",
		"log_id", log.ID,
		"policy", policy,
		"trigger", trigger,
		"dry_run", opts.DryRun)

	if err := r.setup(ctx); err != nil {
		r.result.addError(err)
		s.finish(ctx, r, log, LogStatusFailed, start)
		r.logger.Error("sync failed during setup", "log_id", log.ID, "error", err)
		return r.result, err
	}

	r.reconcile(ctx)
	r.result.Success = true
	s.finish(ctx, r, log, LogStatusCompleted, start)

	r.logger.Info("sync completed",
		"log_id", log.ID,
		"donors_pushed", r.result.DonorsPushed,
		"contacts_pulled", r.result.ContactsPulled,
		"conflicts", r.result.Conflicts,
		"errors", r.result.Errors,
		"duration_ms", r.result.DurationMS,
		"dry_run", opts.DryRun)

	return r.result, nil
}

// finish finalizes the run's log and duration.
func (s *Service) finish(ctx context.Context, r *run, log Log, status LogStatus, start time.Time) {
	end := s.now()
	r.result.DurationMS = end.Sub(start).Milliseconds()

	log.Conflicts = r.result.Conflicts
	log.ContactsPulled = r.result.ContactsPulled
	log.DonorsPushed = r.result.DonorsPushed
	log.DurationMS = r.result.DurationMS
	log.ErrorDetails = r.result.ErrorDetails
	log.Errors = r.result.Errors
	log.FinishedAt = end
	log.Status = status

	// The log is written even if the caller gave up on the run.
	if err := r.logs.FinishLog(context.WithoutCancel(ctx), log); err != nil {
		r.logger.Error("failed to finalize sync log", "log_id", log.ID, "error", err)
	}
}

// newRun prepares the per-run state, wrapping the stores for dry runs.
func (s *Service) newRun(accountID string, policy Policy, dryRun bool) *run {
	logger := s.logger.With("account_id", accountID)

	r := &run{
		accountID: accountID,
		counter:   &atomic.Uint64{},
		donors:    map[string]donor.Profile{},
		dryRun:    dryRun,
		logger:    logger,
		logs:      s.logs,
		mapped:    map[string]bool{},
		mappings:  s.mappings,
		people:    map[string]*contacts.Person{},
		platform:  s.platform,
		policy:    policy,
		result: &Result{
			ConflictDetails: []ConflictDetail{},
			DryRun:          dryRun,
			ErrorDetails:    []string{},
		},
		svc:       s,
		unmatched: map[string]bool{},
	}

	if dryRun {
		r.logs = &dryRunLogs{store: s.logs}
		r.mappings = &dryRunMappings{logger: logger, store: s.mappings}
		r.platform = &dryRunPlatform{counter: r.counter, logger: logger, store: s.platform}
	}

	return r
}

// run holds the state of one sync run.
type run struct {
	accountID    string
	client       ContactsClient
	counter      *atomic.Uint64
	donorOrder   []string
	donors       map[string]donor.Profile
	dryRun       bool
	existing     []Mapping
	group        string
	lastMutation time.Time
	logger       *slog.Logger
	logs         LogStore
	mapped       map[string]bool
	mappings     MappingStore
	people       map[string]*contacts.Person
	peopleOrder  []string
	platform     PlatformStore
	policy       Policy
	result       *Result
	svc          *Service
	unmatched    map[string]bool
}

// setup authenticates, resolves the managed group and loads both sides.
func (r *run) setup(ctx context.Context) error {
	callCtx, cancel := r.callContext(ctx)
	client, err := r.svc.clients(callCtx, r.accountID)
	cancel()
	if err != nil {
		return fmt.Errorf("getting contacts client: %w", err)
	}
	if r.dryRun {
		client = newDryRunClient(client, r.logger, r.counter)
	}
	r.client = client

	group, err := r.resolveGroup(ctx)
	if err != nil {
		return fmt.Errorf("resolving contact group: %w", err)
	}
	r.group = group

	callCtx, cancel = r.callContext(ctx)
	mappings, err := r.mappings.Mappings(callCtx, r.accountID)
	cancel()
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}
	slices.SortFunc(mappings, func(a, b Mapping) int { return cmp.Compare(a.DonorID, b.DonorID) })
	r.existing = mappings

	callCtx, cancel = r.callContext(ctx)
	donors, err := r.platform.ActiveDonors(callCtx, r.accountID)
	cancel()
	if err != nil {
		return fmt.Errorf("loading donors: %w", err)
	}
	for _, d := range donors {
		if _, dup := r.donors[d.DonorID]; dup {
			continue
		}
		r.donors[d.DonorID] = d
		r.donorOrder = append(r.donorOrder, d.DonorID)
	}

	callCtx, cancel = r.callContext(ctx)
	members, err := r.client.GroupMembers(callCtx, r.group)
	cancel()
	if err != nil {
		return fmt.Errorf("loading group members: %w", err)
	}
	for i := range members {
		rn := members[i].ResourceName
		if rn == "" || r.people[rn] != nil {
			continue
		}
		r.people[rn] = &members[i]
		r.peopleOrder = append(r.peopleOrder, rn)
		r.unmatched[rn] = true
	}

	r.logger.Info("loaded sync state",
		"group", r.group,
		"mappings", len(r.existing),
		"donors", len(r.donorOrder),
		"contacts", len(r.peopleOrder))

	return nil
}

// resolveGroup returns the managed group's resource name, creating the group if absent.
// A cached resource name that no longer exists falls back to lookup by name.
func (r *run) resolveGroup(ctx context.Context) (string, error) {
	cache := r.svc.groupCache

	if cache != nil {
		callCtx, cancel := r.callContext(ctx)
		rn, err := cache.GroupResourceName(callCtx, r.accountID)
		cancel()
		switch {
		case err != nil:
			r.logger.Warn("failed to read contact group cache", "error", err)
		case rn != "":
			callCtx, cancel = r.callContext(ctx)
			group, err := r.client.ContactGroup(callCtx, rn)
			cancel()
			if err == nil {
				return group.ResourceName, nil
			}
			if !errors.Is(err, contacts.ErrNotFound) {
				return "", err
			}
			r.logger.Info("cached contact group no longer exists", "resource_name", rn)
		}
	}

	callCtx, cancel := r.callContext(ctx)
	group, err := r.client.EnsureGroup(callCtx, r.svc.groupName)
	cancel()
	if err != nil {
		return "", err
	}

	if cache != nil && !r.dryRun {
		callCtx, cancel = r.callContext(ctx)
		err = cache.SetGroupResourceName(callCtx, r.accountID, group.ResourceName)
		cancel()
		if err != nil {
			r.logger.Warn("failed to cache contact group", "resource_name", group.ResourceName, "error", err)
		}
	}

	return group.ResourceName, nil
}

// reconcile runs the mapped, new-on-platform and new-on-external passes in order.
func (r *run) reconcile(ctx context.Context) {
	r.reconcileMappings(ctx)
	claims := r.claimBackReferences()
	r.pushNewDonors(ctx, claims)
	r.reconcileUnmatched(ctx, claims)
}

// reconcileMappings classifies and reconciles every existing mapping.
func (r *run) reconcileMappings(ctx context.Context) {
	for _, m := range r.existing {
		r.mapped[m.DonorID] = true
		if m.ResourceName != "" {
			delete(r.unmatched, m.ResourceName)
		}
	}

	seen := make(map[string]string, len(r.existing))
	for _, m := range r.existing {
		if m.ResourceName != "" {
			if other, dup := seen[m.ResourceName]; dup {
				r.itemError(ctx, m, fmt.Errorf("donor %s: contact %s is already mapped to donor %s", m.DonorID, m.ResourceName, other))
				continue
			}
			seen[m.ResourceName] = m.DonorID
		}
		r.reconcileMapping(ctx, m)
	}
}

// reconcileMapping reconciles one mapped pair.
func (r *run) reconcileMapping(ctx context.Context, m Mapping) {
	d, ok := r.donors[m.DonorID]
	if !ok {
		r.itemError(ctx, m, fmt.Errorf("donor %s: %w", m.DonorID, errDonorInactive))
		return
	}

	person, ok := r.people[m.ResourceName]
	if !ok {
		r.logger.Info("contact missing from group, recreating",
			"donor_id", m.DonorID,
			"resource_name", m.ResourceName)
		if err := r.pushCreate(ctx, d, m); err != nil {
			r.itemError(ctx, m, fmt.Errorf("donor %s: %w", m.DonorID, err))
			return
		}
		r.result.DonorsPushed++
		return
	}

	platformChanged := PlatformHash(d) != m.PlatformHash
	externalChanged := ExternalHash(person) != m.ExternalHash

	var err error
	switch {
	case !platformChanged && !externalChanged:
		if m.Status != MappingStatusSynced {
			r.markSynced(&m)
			err = r.saveMapping(ctx, m)
		}
	case platformChanged && !externalChanged:
		if err = r.pushUpdate(ctx, d, person, m); err == nil {
			r.result.DonorsPushed++
		}
	case !platformChanged && externalChanged:
		if err = r.pull(ctx, d.DonorID, person, m); err == nil {
			r.result.ContactsPulled++
		}
	default:
		err = r.resolveConflict(ctx, d, person, m)
	}

	if err != nil {
		r.itemError(ctx, m, fmt.Errorf("donor %s: %w", m.DonorID, err))
	}
}

// resolveConflict records a conflict and writes the winning side over the other.
func (r *run) resolveConflict(ctx context.Context, d donor.Profile, person *contacts.Person, m Mapping) error {
	res := Resolve(d, person, r.policy)

	r.result.Conflicts++
	r.result.ConflictDetails = append(r.result.ConflictDetails, ConflictDetail{
		DonorID:      d.DonorID,
		DonorName:    d.DisplayName(),
		Fields:       res.Fields,
		Policy:       r.policy,
		ResourceName: person.ResourceName,
		Winner:       res.Winner,
	})

	r.logger.Info("conflict detected",
		"donor_id", d.DonorID,
		"resource_name", person.ResourceName,
		"policy", r.policy,
		"winner", res.Winner,
		"fields", len(res.Fields))

	switch res.Winner {
	case WinnerPlatform:
		return r.pushUpdate(ctx, d, person, m)
	case WinnerExternal:
		return r.pull(ctx, d.DonorID, person, m)
	default:
		m.Status = MappingStatusConflict
		return r.saveMapping(ctx, m)
	}
}

// claimBackReferences finds unmatched contacts whose back-reference names a known, unmapped donor.
// Each donor is claimed by at most one contact, the first in group order.
func (r *run) claimBackReferences() map[string]string {
	claims := map[string]string{}
	for _, rn := range r.peopleOrder {
		if !r.unmatched[rn] {
			continue
		}
		ref := r.people[rn].BackReference()
		if ref == "" || r.mapped[ref] {
			continue
		}
		if _, known := r.donors[ref]; !known {
			continue
		}
		if _, taken := claims[ref]; taken {
			continue
		}
		claims[ref] = rn
	}
	return claims
}

// pushNewDonors creates a contact for every unmapped donor not claimed by an existing contact.
func (r *run) pushNewDonors(ctx context.Context, claims map[string]string) {
	for _, id := range r.donorOrder {
		if r.mapped[id] {
			continue
		}
		if _, claimed := claims[id]; claimed {
			continue
		}

		m := Mapping{AccountID: r.accountID, DonorID: id, Status: MappingStatusPending}
		if err := r.pushCreate(ctx, r.donors[id], m); err != nil {
			r.addError(fmt.Errorf("donor %s: %w", id, err))
			continue
		}
		r.mapped[id] = true
		r.result.DonorsPushed++
	}
}

// reconcileUnmatched links contacts to the donors they reference, or pulls them as new donors.
func (r *run) reconcileUnmatched(ctx context.Context, claims map[string]string) {
	for _, rn := range r.peopleOrder {
		if !r.unmatched[rn] {
			continue
		}
		person := r.people[rn]
		ref := person.BackReference()
		_, knownDonor := r.donors[ref]

		switch {
		case ref != "" && claims[ref] == rn:
			m := Mapping{AccountID: r.accountID, DonorID: ref, ResourceName: rn, Status: MappingStatusPending}
			if err := r.pushUpdate(ctx, r.donors[ref], person, m); err != nil {
				r.addError(fmt.Errorf("contact %s: %w", rn, err))
				continue
			}
			r.mapped[ref] = true
			r.result.DonorsPushed++

		case ref != "" && r.mapped[ref]:
			r.addError(fmt.Errorf("contact %s: references donor %s, which is mapped to another contact", rn, ref))

		case ref != "" && knownDonor:
			// Another contact claimed the donor and failed; pulling this one would duplicate the donor.
			r.addError(fmt.Errorf("contact %s: references donor %s, which another contact claims", rn, ref))

		default:
			pulled, err := r.pullCreate(ctx, person)
			if err != nil {
				r.addError(fmt.Errorf("contact %s: %w", rn, err))
				continue
			}
			if pulled {
				r.result.ContactsPulled++
			}
		}
	}
}

// pushCreate creates a contact from the donor and records it on the mapping.
func (r *run) pushCreate(ctx context.Context, d donor.Profile, m Mapping) error {
	desired := contacts.FromProfile(d, r.group)

	created, err := r.mutate(ctx, func(ctx context.Context) (*contacts.Person, error) {
		return r.client.CreateContact(ctx, desired)
	})
	if err != nil {
		return fmt.Errorf("creating contact: %w", err)
	}

	m.ETag = created.ETag
	m.ExternalHash = ExternalHash(created)
	m.PlatformHash = PlatformHash(d)
	m.ResourceName = created.ResourceName
	r.markSynced(&m)

	return r.saveMapping(ctx, m)
}

// pushUpdate writes the donor over an existing contact.
func (r *run) pushUpdate(ctx context.Context, d donor.Profile, person *contacts.Person, m Mapping) error {
	desired := contacts.MergeForUpdate(person, contacts.FromProfile(d, r.group))
	mask := contacts.UpdateMask(desired)
	if mask == "" {
		return errors.New("no fields to update")
	}

	updated, err := r.mutate(ctx, func(ctx context.Context) (*contacts.Person, error) {
		return r.client.UpdateContact(ctx, desired, mask)
	})
	if err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}

	m.ETag = updated.ETag
	m.ExternalHash = ExternalHash(updated)
	m.PlatformHash = PlatformHash(d)
	m.ResourceName = cmp.Or(updated.ResourceName, person.ResourceName)
	r.markSynced(&m)

	return r.saveMapping(ctx, m)
}

// pull merges a contact into its donor.
func (r *run) pull(ctx context.Context, donorID string, person *contacts.Person, m Mapping) error {
	callCtx, cancel := r.callContext(ctx)
	stored, err := r.platform.ApplyProfile(callCtx, r.accountID, donorID, person.ToProfile())
	cancel()
	if err != nil {
		return fmt.Errorf("updating donor: %w", err)
	}

	m.ETag = person.ETag
	m.ExternalHash = ExternalHash(person)
	m.PlatformHash = PlatformHash(stored)
	r.markSynced(&m)

	return r.saveMapping(ctx, m)
}

// pullCreate creates a donor from a contact and maps the pair.
// Contacts without a name or any contact details are skipped and reported false.
func (r *run) pullCreate(ctx context.Context, person *contacts.Person) (bool, error) {
	incoming := person.ToProfile()
	incoming.DonorID = ""
	if incoming.FirstName == "" && incoming.LastName == "" && len(incoming.Emails) == 0 && len(incoming.Phones) == 0 {
		r.logger.Warn("skipping contact without name or contact details", "resource_name", person.ResourceName)
		return false, nil
	}

	callCtx, cancel := r.callContext(ctx)
	stored, err := r.platform.CreateDonor(callCtx, r.accountID, incoming)
	cancel()
	if err != nil {
		return false, fmt.Errorf("creating donor: %w", err)
	}

	m := Mapping{
		AccountID:    r.accountID,
		DonorID:      stored.DonorID,
		ETag:         person.ETag,
		ExternalHash: ExternalHash(person),
		PlatformHash: PlatformHash(stored),
		ResourceName: person.ResourceName,
	}

	// Embed the back-reference so the pair can be recovered if the mapping is lost.
	tagged := contacts.MergeForUpdate(person, &contacts.Person{
		UserDefined: []contacts.UserDefined{{Key: contacts.BackReferenceKey, Value: stored.DonorID}},
	})
	updated, err := r.mutate(ctx, func(ctx context.Context) (*contacts.Person, error) {
		return r.client.UpdateContact(ctx, tagged, "userDefined")
	})
	if err != nil {
		r.logger.Warn("failed to write back-reference", "resource_name", person.ResourceName, "donor_id", stored.DonorID, "error", err)
	} else {
		m.ETag = updated.ETag
		m.ExternalHash = ExternalHash(updated)
	}

	r.markSynced(&m)
	r.mapped[stored.DonorID] = true

	return true, r.saveMapping(ctx, m)
}

// mutate runs a mutating Google call under the call timeout, spacing calls by the throttle interval.
func (r *run) mutate(
	ctx context.Context,
	call func(ctx context.Context) (*contacts.Person, error),
) (*contacts.Person, error) {
	if !r.dryRun && !r.lastMutation.IsZero() {
		if wait := r.svc.throttleInterval - r.svc.now().Sub(r.lastMutation); wait > 0 {
			r.svc.sleep(ctx, wait)
		}
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	person, err := call(callCtx)
	r.lastMutation = r.svc.now()
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, errors.New("empty response")
	}
	return person, nil
}

// itemError marks the mapping as failed and records the error.
func (r *run) itemError(ctx context.Context, m Mapping, err error) {
	r.addError(err)

	m.Status = MappingStatusError
	if saveErr := r.saveMapping(ctx, m); saveErr != nil {
		r.logger.Error("failed to mark mapping as failed", "donor_id", m.DonorID, "error", saveErr)
	}
}

// addError records and logs a per-item error.
func (r *run) addError(err error) {
	r.result.addError(err)
	r.logger.Error("sync item failed", "error", err)
}

// markSynced sets the mapping status to synced as of now.
func (r *run) markSynced(m *Mapping) {
	m.Status = MappingStatusSynced
	m.LastSyncedAt = r.svc.now()
}

// saveMapping persists the mapping under the run's account.
func (r *run) saveMapping(ctx context.Context, m Mapping) error {
	m.AccountID = r.accountID

	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	if err := r.mappings.SaveMapping(callCtx, m); err != nil {
		return fmt.Errorf("saving mapping: %w", err)
	}
	return nil
}

// callContext bounds a single call by the configured timeout.
func (r *run) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.svc.callTimeout)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
