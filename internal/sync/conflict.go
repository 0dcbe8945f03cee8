package sync

import (
	"strings"

	"github.com/peteski22/donorsync/internal/contacts"
	"github.com/peteski22/donorsync/internal/donor"
)

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	// Fields lists the fields whose values differ between the two sides.
	Fields []FieldDiff

	// Winner is the side to write over the other.
	Winner Winner
}

// Resolve decides which side wins a conflict under the policy.
// Under PolicyNewestWins a tie, or a missing external timestamp, goes to the platform.
func Resolve(platform donor.Profile, external *contacts.Person, policy Policy) Resolution {
	res := Resolution{Fields: DiffFields(platform, external.ToProfile())}

	switch policy {
	case PolicyExternalWins:
		res.Winner = WinnerExternal
	case PolicyManual:
		res.Winner = WinnerNone
	case PolicyNewestWins:
		res.Winner = WinnerPlatform
		if external.UpdatedAt().After(platform.UpdatedAt) {
			res.Winner = WinnerExternal
		}
	default:
		res.Winner = WinnerPlatform
	}

	return res
}

// DiffFields lists the synchronized fields whose canonical values differ.
func DiffFields(platform donor.Profile, external donor.Profile) []FieldDiff {
	p := canonicalize(platform)
	e := canonicalize(external)

	var diffs []FieldDiff
	add := func(field string, pv string, ev string) {
		if pv != ev {
			diffs = append(diffs, FieldDiff{External: ev, Field: field, Platform: pv})
		}
	}

	add("firstName", p.FirstName, e.FirstName)
	add("lastName", p.LastName, e.LastName)
	add("nickname", p.Nickname, e.Nickname)
	add("emails", joinContacts(p.Emails), joinContacts(e.Emails))
	add("phones", joinContacts(p.Phones), joinContacts(e.Phones))
	add("address", formatPlace(p.Address), formatPlace(e.Address))

	return diffs
}

// joinContacts formats canonical contacts as "value (label)" separated by "; ".
func joinContacts(cs []canonicalContact) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.Label == "" {
			parts = append(parts, c.Value)
			continue
		}
		parts = append(parts, c.Value+" ("+c.Label+")")
	}
	return strings.Join(parts, "; ")
}

// formatPlace formats a canonical place on one line.
func formatPlace(p *canonicalPlace) string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, v := range []string{p.Street, p.City, p.Region, p.PostalCode, p.Country} {
		if v != "" {
			parts = append(parts, strings.ReplaceAll(v, "\n", ", "))
		}
	}
	return strings.Join(parts, ", ")
}
