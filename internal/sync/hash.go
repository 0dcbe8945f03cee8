package sync

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

// hashDomain prefixes every fingerprint. Bump the version when the canonical form changes.
const hashDomain = "donorsync/profile/v1"

// canonicalContact is a contact point in canonical form.
type canonicalContact struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// canonicalPlace is a place in canonical form.
type canonicalPlace struct {
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
	Region     string `json:"region"`
	Street     string `json:"street"`
}

// canonicalProfile holds exactly the fields written in either direction.
type canonicalProfile struct {
	Address   *canonicalPlace    `json:"address"`
	DonorID   string             `json:"donorId"`
	Emails    []canonicalContact `json:"emails"`
	FirstName string             `json:"firstName"`
	LastName  string             `json:"lastName"`
	Nickname  string             `json:"nickname"`
	Phones    []canonicalContact `json:"phones"`
}

// PlatformHash returns the fingerprint of a donor profile.
func PlatformHash(p donor.Profile) string {
	return hashCanonical(canonicalize(p))
}

// ExternalHash returns the fingerprint of a Google person, over the fields that map to a donor profile.
func ExternalHash(p *contacts.Person) string {
	return hashCanonical(canonicalize(p.ToProfile()))
}

// canonicalize normalizes a profile so equal data always serializes identically.
// Contact lists are sorted, and primary flags and timestamps are excluded.
func canonicalize(p donor.Profile) canonicalProfile {
	c := canonicalProfile{
		DonorID:   canonicalText(p.DonorID),
		Emails:    canonicalContacts(p.Emails, true),
		FirstName: canonicalText(p.FirstName),
		LastName:  canonicalText(p.LastName),
		Nickname:  canonicalText(p.Nickname),
		Phones:    canonicalContacts(p.Phones, false),
	}

	if !p.Address.IsZero() {
		c.Address = &canonicalPlace{
			City:       canonicalText(p.Address.City),
			Country:    canonicalText(p.Address.Country),
			PostalCode: canonicalText(p.Address.PostalCode),
			Region:     canonicalText(p.Address.Region),
			Street:     canonicalText(p.Address.Street),
		}
	}

	return c
}

// canonicalContacts returns the non-empty points sorted by value then label.
func canonicalContacts(points []donor.ContactPoint, foldValue bool) []canonicalContact {
	out := make([]canonicalContact, 0, len(points))
	for _, p := range points {
		value := canonicalText(p.Value)
		if value == "" {
			continue
		}
		if foldValue {
			value = strings.ToLower(value)
		}
		out = append(out, canonicalContact{Label: strings.ToLower(canonicalText(p.Label)), Value: value})
	}

	slices.SortFunc(out, func(a, b canonicalContact) int {
		return cmp.Or(cmp.Compare(a.Value, b.Value), cmp.Compare(a.Label, b.Label))
	})
	return out
}

// canonicalText trims and NFC-normalizes s.
func canonicalText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// hashCanonical computes SHA-256 over the domain, a null separator and the canonical JSON.
func hashCanonical(c canonicalProfile) string {
	// Marshaling a struct of strings and slices cannot fail.
	data, _ := json.Marshal(c)

	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
