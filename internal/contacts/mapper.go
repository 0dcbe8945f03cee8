package contacts

import (
	"slices"
	"strings"
	"time"

	"github.com/peteski22/donorsync/internal/donor"
)

// addressTypeHome is the address type written for a donor's primary place.
const addressTypeHome = "home"

// FromProfile converts a donor profile to a Google person in the managed group.
// Empty profile fields are omitted so they are never written.
func FromProfile(p donor.Profile, groupResourceName string) *Person {
	person := &Person{}

	if p.FirstName != "" || p.LastName != "" {
		person.Names = []Name{{GivenName: p.FirstName, FamilyName: p.LastName}}
	}

	if p.Nickname != "" {
		person.Nicknames = []Nickname{{Value: p.Nickname}}
	}

	for _, e := range p.Emails {
		if e.Value == "" {
			continue
		}
		person.EmailAddresses = append(person.EmailAddresses, EmailAddress{Type: e.Label, Value: e.Value})
	}

	for _, ph := range p.Phones {
		if ph.Value == "" {
			continue
		}
		person.PhoneNumbers = append(person.PhoneNumbers, PhoneNumber{Type: ph.Label, Value: ph.Value})
	}

	if !p.Address.IsZero() {
		person.Addresses = []Address{{
			City:          p.Address.City,
			Country:       p.Address.Country,
			PostalCode:    p.Address.PostalCode,
			Region:        p.Address.Region,
			StreetAddress: p.Address.Street,
			Type:          addressTypeHome,
		}}
	}

	if p.DonorID != "" {
		person.UserDefined = []UserDefined{{Key: BackReferenceKey, Value: p.DonorID}}
	}

	if groupResourceName != "" {
		person.Memberships = []Membership{{
			ContactGroupMembership: &ContactGroupMembership{ContactGroupResourceName: groupResourceName},
		}}
	}

	return person
}

// ToProfile converts a Google person to a donor profile.
// Multi-valued fields are ordered primary first and the first entry is marked primary.
func (p *Person) ToProfile() donor.Profile {
	if p == nil {
		return donor.Profile{}
	}

	profile := donor.Profile{
		DonorID:   p.BackReference(),
		UpdatedAt: p.UpdatedAt(),
	}

	if i := primaryIndex(len(p.Names), func(i int) *FieldMetadata { return p.Names[i].Metadata }); i >= 0 {
		profile.FirstName = strings.TrimSpace(p.Names[i].GivenName)
		profile.LastName = strings.TrimSpace(p.Names[i].FamilyName)
	}

	for _, n := range p.Nicknames {
		if v := strings.TrimSpace(n.Value); v != "" {
			profile.Nickname = v
			break
		}
	}

	emails := make([]donor.ContactPoint, 0, len(p.EmailAddresses))
	for _, e := range p.EmailAddresses {
		emails = append(emails, donor.ContactPoint{Label: e.Type, Primary: e.Metadata.isPrimary(), Value: strings.TrimSpace(e.Value)})
	}
	profile.Emails = orderContactPoints(emails)

	phones := make([]donor.ContactPoint, 0, len(p.PhoneNumbers))
	for _, ph := range p.PhoneNumbers {
		phones = append(phones, donor.ContactPoint{Label: ph.Type, Primary: ph.Metadata.isPrimary(), Value: strings.TrimSpace(ph.Value)})
	}
	profile.Phones = orderContactPoints(phones)

	if i := primaryIndex(len(p.Addresses), func(i int) *FieldMetadata { return p.Addresses[i].Metadata }); i >= 0 {
		a := p.Addresses[i]
		place := &donor.Place{
			City:       strings.TrimSpace(a.City),
			Country:    strings.TrimSpace(a.Country),
			PostalCode: strings.TrimSpace(a.PostalCode),
			Region:     strings.TrimSpace(a.Region),
			Street:     strings.TrimSpace(a.StreetAddress),
		}
		if !place.IsZero() {
			profile.Address = place
		}
	}

	return profile
}

// BackReference returns the platform donor ID embedded in the person, if any.
func (p *Person) BackReference() string {
	if p == nil {
		return ""
	}
	for _, ud := range p.UserDefined {
		if ud.Key == BackReferenceKey {
			return strings.TrimSpace(ud.Value)
		}
	}
	return ""
}

// UpdatedAt returns the last update time of the user's own contact source.
func (p *Person) UpdatedAt() time.Time {
	var latest time.Time
	if p == nil || p.Metadata == nil {
		return latest
	}
	for _, s := range p.Metadata.Sources {
		if s.Type == SourceTypeContact && s.UpdateTime.After(latest) {
			latest = s.UpdateTime
		}
	}
	return latest
}

// MergeForUpdate prepares desired for an update of existing.
// It carries over the resource name and etag, and keeps user-defined
// entries the platform does not own.
func MergeForUpdate(existing *Person, desired *Person) *Person {
	merged := *desired
	merged.ResourceName = existing.ResourceName
	merged.ETag = existing.ETag
	merged.Memberships = nil

	var userDefined []UserDefined
	for _, ud := range existing.UserDefined {
		if ud.Key != BackReferenceKey {
			userDefined = append(userDefined, ud)
		}
	}
	merged.UserDefined = append(userDefined, desired.UserDefined...)

	return &merged
}

// UpdateMask returns the updatePersonFields value covering only the fields
// the person carries, so fields absent on the platform are never cleared.
func UpdateMask(p *Person) string {
	var fields []string
	if len(p.Names) > 0 {
		fields = append(fields, "names")
	}
	if len(p.Nicknames) > 0 {
		fields = append(fields, "nicknames")
	}
	if len(p.EmailAddresses) > 0 {
		fields = append(fields, "emailAddresses")
	}
	if len(p.PhoneNumbers) > 0 {
		fields = append(fields, "phoneNumbers")
	}
	if len(p.Addresses) > 0 {
		fields = append(fields, "addresses")
	}
	if len(p.UserDefined) > 0 {
		fields = append(fields, "userDefined")
	}
	return strings.Join(fields, ",")
}

// isPrimary reports whether the metadata marks the value as primary.
func (m *FieldMetadata) isPrimary() bool {
	return m != nil && m.Primary
}

// orderContactPoints drops empty values, moves the primary entry first and
// marks only the first entry primary.
func orderContactPoints(points []donor.ContactPoint) []donor.ContactPoint {
	points = slices.DeleteFunc(points, func(c donor.ContactPoint) bool { return c.Value == "" })
	if len(points) == 0 {
		return nil
	}

	slices.SortStableFunc(points, func(a, b donor.ContactPoint) int {
		switch {
		case a.Primary == b.Primary:
			return 0
		case a.Primary:
			return -1
		default:
			return 1
		}
	})

	for i := range points {
		points[i].Primary = i == 0
	}
	return points
}

// primaryIndex returns the index of the primary entry, the first entry when none
// is marked, or -1 when there are no entries.
func primaryIndex(n int, metadata func(int) *FieldMetadata) int {
	if n == 0 {
		return -1
	}
	for i := range n {
		if metadata(i).isPrimary() {
			return i
		}
	}
	return 0
}
