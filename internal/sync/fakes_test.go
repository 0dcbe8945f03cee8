package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	gosync "sync"
	"time"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeContacts is an in-memory ContactsClient.
type fakeContacts struct {
	mu gosync.Mutex

	createErr func(p *contacts.Person) error
	creates   int
	groupErr  error
	groups    []contacts.ContactGroup
	nextID    int
	order     []string
	people    map[string]*contacts.Person
	updateErr func(p *contacts.Person) error
	updates   int
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{people: map[string]*contacts.Person{}}
}

func clonePerson(p *contacts.Person) *contacts.Person {
	data, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	var out contacts.Person
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

func (f *fakeContacts) ContactGroup(_ context.Context, resourceName string) (*contacts.ContactGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, g := range f.groups {
		if g.ResourceName == resourceName {
			return &g, nil
		}
	}
	return nil, &contacts.APIError{StatusCode: 404, Body: "not found"}
}

func (f *fakeContacts) CreateContact(_ context.Context, person *contacts.Person) (*contacts.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.createErr != nil {
		if err := f.createErr(person); err != nil {
			return nil, err
		}
	}

	f.nextID++
	stored := clonePerson(person)
	stored.ResourceName = fmt.Sprintf("people/c%d", f.nextID)
	stored.ETag = stored.ResourceName + "-v1"
	stored.Metadata = &contacts.PersonMetadata{Sources: []contacts.Source{{Type: contacts.SourceTypeContact, UpdateTime: testNow}}}

	f.people[stored.ResourceName] = stored
	f.order = append(f.order, stored.ResourceName)
	return clonePerson(stored), nil
}

func (f *fakeContacts) EnsureGroup(ctx context.Context, name string) (*contacts.ContactGroup, error) {
	group, err := f.FindGroup(ctx, name)
	if err != nil || group != nil {
		return group, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	created := contacts.ContactGroup{GroupType: contacts.GroupTypeUser, Name: name, ResourceName: "contactGroups/donors"}
	f.groups = append(f.groups, created)
	return &created, nil
}

func (f *fakeContacts) FindGroup(_ context.Context, name string) (*contacts.ContactGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.groupErr != nil {
		return nil, f.groupErr
	}
	for _, g := range f.groups {
		if g.Name == name {
			return &g, nil
		}
	}
	return nil, nil
}

func (f *fakeContacts) GroupMembers(_ context.Context, groupResourceName string) ([]contacts.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var members []contacts.Person
	for _, rn := range f.order {
		p, ok := f.people[rn]
		if !ok {
			continue
		}
		for _, m := range p.Memberships {
			if m.ContactGroupMembership != nil && m.ContactGroupMembership.ContactGroupResourceName == groupResourceName {
				members = append(members, *clonePerson(p))
				break
			}
		}
	}
	return members, nil
}

func (f *fakeContacts) UpdateContact(_ context.Context, person *contacts.Person, updateFields string) (*contacts.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	if f.updateErr != nil {
		if err := f.updateErr(person); err != nil {
			return nil, err
		}
	}

	stored, ok := f.people[person.ResourceName]
	if !ok {
		return nil, &contacts.APIError{StatusCode: 404, Body: "not found"}
	}
	if stored.ETag != person.ETag {
		return nil, &contacts.APIError{StatusCode: 400, Body: "etag mismatch"}
	}

	for _, field := range strings.Split(updateFields, ",") {
		switch field {
		case "names":
			stored.Names = person.Names
		case "nicknames":
			stored.Nicknames = person.Nicknames
		case "emailAddresses":
			stored.EmailAddresses = person.EmailAddresses
		case "phoneNumbers":
			stored.PhoneNumbers = person.PhoneNumbers
		case "addresses":
			stored.Addresses = person.Addresses
		case "userDefined":
			stored.UserDefined = person.UserDefined
		}
	}
	f.bump(stored)

	return clonePerson(stored), nil
}

// edit changes a stored contact as a Google user would.
func (f *fakeContacts) edit(rn string, change func(p *contacts.Person)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.people[rn]
	change(p)
	f.bump(p)
}

// add stores a contact created outside the sync engine.
func (f *fakeContacts) add(p *contacts.Person) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p.ETag = p.ResourceName + "-v1"
	f.people[p.ResourceName] = p
	f.order = append(f.order, p.ResourceName)
}

// remove deletes a contact.
func (f *fakeContacts) remove(rn string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.people, rn)
}

// get returns a copy of a stored contact.
func (f *fakeContacts) get(rn string) *contacts.Person {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.people[rn]
	if !ok {
		return nil
	}
	return clonePerson(p)
}

// count returns the number of stored contacts.
func (f *fakeContacts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.people)
}

// bump advances the contact's etag. Must be called with the lock held.
func (f *fakeContacts) bump(p *contacts.Person) {
	var version int
	_, _ = fmt.Sscanf(strings.TrimPrefix(p.ETag, p.ResourceName+"-v"), "%d", &version)
	p.ETag = fmt.Sprintf("%s-v%d", p.ResourceName, version+1)
}

// fakePlatform is an in-memory PlatformStore.
type fakePlatform struct {
	mu gosync.Mutex

	applies  int
	creates  int
	donors   map[string]donor.Profile
	inactive map[string]bool
	nextID   int
	order    []string
}

func newFakePlatform(profiles ...donor.Profile) *fakePlatform {
	f := &fakePlatform{donors: map[string]donor.Profile{}, inactive: map[string]bool{}}
	for _, p := range profiles {
		f.donors[p.DonorID] = p
		f.order = append(f.order, p.DonorID)
	}
	return f
}

func cloneProfile(p donor.Profile) donor.Profile {
	p.Emails = slices.Clone(p.Emails)
	p.Phones = slices.Clone(p.Phones)
	if p.Address != nil {
		a := *p.Address
		p.Address = &a
	}
	return p
}

func (f *fakePlatform) ActiveDonors(_ context.Context, _ string) ([]donor.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []donor.Profile
	for _, id := range f.order {
		if f.inactive[id] {
			continue
		}
		out = append(out, cloneProfile(f.donors[id]))
	}
	return out, nil
}

func (f *fakePlatform) ApplyProfile(_ context.Context, _ string, donorID string, p donor.Profile) (donor.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.applies++
	d, ok := f.donors[donorID]
	if !ok || f.inactive[donorID] {
		return donor.Profile{}, donor.ErrDonorNotFound
	}

	if p.FirstName != "" {
		d.FirstName = p.FirstName
	}
	if p.LastName != "" {
		d.LastName = p.LastName
	}
	if p.Nickname != "" {
		d.Nickname = p.Nickname
	}
	if len(p.Emails) > 0 {
		d.Emails = slices.Clone(p.Emails)
	}
	if len(p.Phones) > 0 {
		d.Phones = slices.Clone(p.Phones)
	}
	if !p.Address.IsZero() {
		a := *p.Address
		d.Address = &a
	}
	d.UpdatedAt = testNow

	f.donors[donorID] = d
	return cloneProfile(d), nil
}

func (f *fakePlatform) CreateDonor(_ context.Context, _ string, p donor.Profile) (donor.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	f.nextID++
	p = cloneProfile(p)
	p.DonorID = fmt.Sprintf("new-%d", f.nextID)
	p.UpdatedAt = testNow

	f.donors[p.DonorID] = p
	f.order = append(f.order, p.DonorID)
	return cloneProfile(p), nil
}

// edit changes a stored donor as a platform user would.
func (f *fakePlatform) edit(id string, change func(p *donor.Profile)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := f.donors[id]
	change(&d)
	f.donors[id] = d
}

// get returns a copy of a stored donor.
func (f *fakePlatform) get(id string) donor.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()

	return cloneProfile(f.donors[id])
}

// fakeMappings is an in-memory MappingStore.
type fakeMappings struct {
	mu gosync.Mutex

	mappings  map[string]Mapping
	saveErr   error
	saves     int
	unbounded int
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{mappings: map[string]Mapping{}}
}

func (f *fakeMappings) Mappings(ctx context.Context, accountID string) ([]Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unbounded += unbounded(ctx)

	var out []Mapping
	for _, m := range f.mappings {
		if m.AccountID == accountID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappings) SaveMapping(ctx context.Context, m Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.saves++
	f.unbounded += unbounded(ctx)
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mappings[m.DonorID] = m
	return nil
}

// get returns the mapping for a donor.
func (f *fakeMappings) get(donorID string) (Mapping, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.mappings[donorID]
	return m, ok
}

// count returns the number of mappings.
func (f *fakeMappings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.mappings)
}

// fakeLogs is an in-memory LogStore.
type fakeLogs struct {
	mu gosync.Mutex

	finished []Log
	started  []Log
}

func (f *fakeLogs) FinishLog(_ context.Context, log Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finished = append(f.finished, log)
	return nil
}

func (f *fakeLogs) RecentLogs(_ context.Context, _ string, limit int) ([]Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := slices.Clone(f.finished)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLogs) StartLog(_ context.Context, log Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.started = append(f.started, log)
	return nil
}

// fakeGroupCache is an in-memory GroupCache.
type fakeGroupCache struct {
	mu gosync.Mutex

	names     map[string]string
	unbounded int
}

func (f *fakeGroupCache) GroupResourceName(ctx context.Context, accountID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unbounded += unbounded(ctx)

	return f.names[accountID], nil
}

func (f *fakeGroupCache) SetGroupResourceName(ctx context.Context, accountID string, resourceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unbounded += unbounded(ctx)

	if f.names == nil {
		f.names = map[string]string{}
	}
	f.names[accountID] = resourceName
	return nil
}

// unbounded returns 1 if ctx carries no deadline.
func unbounded(ctx context.Context) int {
	if _, ok := ctx.Deadline(); ok {
		return 0
	}
	return 1
}
