// Package donor provides the platform-side donor read model consumed by the sync engine.
package donor

import "time"

// ContactKind identifies the type of a donor contact entry.
type ContactKind string

const (
	// ContactKindEmail is an email address.
	ContactKindEmail ContactKind = "email"

	// ContactKindPhone is a phone number.
	ContactKindPhone ContactKind = "phone"
)

// ContactPoint is a single email address or phone number with its type label.
type ContactPoint struct {
	// Label is the type label (e.g., home, work, mobile).
	Label string

	// Primary indicates this is the donor's preferred entry of its kind.
	Primary bool

	// Value is the email address or phone number.
	Value string
}

// Place is a postal address.
type Place struct {
	// City is the city or locality.
	City string

	// Country is the country name or code.
	Country string

	// PostalCode is the postal or ZIP code.
	PostalCode string

	// Region is the state, province or region.
	Region string

	// Street is the street address, possibly multi-line.
	Street string
}

// IsZero reports whether the place carries no address data.
func (p *Place) IsZero() bool {
	return p == nil || (p.City == "" && p.Country == "" && p.PostalCode == "" && p.Region == "" && p.Street == "")
}

// Profile is the projection of a donor that is synchronized with the external address book.
type Profile struct {
	// Address is the donor's primary place, if any.
	Address *Place

	// DonorID is the platform donor identifier.
	DonorID string

	// Emails are the donor's active email contacts.
	Emails []ContactPoint

	// FirstName is the donor's given name.
	FirstName string

	// LastName is the donor's family name.
	LastName string

	// Nickname is the donor's informal name.
	Nickname string

	// Phones are the donor's active phone contacts.
	Phones []ContactPoint

	// UpdatedAt is the last time any part of the profile changed.
	UpdatedAt time.Time
}

// DisplayName returns a human-readable name for logs and conflict details.
func (p Profile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.LastName
	}
}
