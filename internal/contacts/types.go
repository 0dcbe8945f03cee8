// Package contacts provides a client for the Google People API and the field mapping
// between platform donors and Google contacts.
package contacts

import "time"

const (
	// BackReferenceKey is the user-defined field carrying the platform donor ID.
	BackReferenceKey = "donorsync.donorId"

	// GroupTypeUser is the group type of contact groups created by users.
	GroupTypeUser = "USER_CONTACT_GROUP"

	// SourceTypeContact is the metadata source type for contacts owned by the user.
	SourceTypeContact = "CONTACT"

	// personFields lists the fields requested for every person read or written.
	personFields = "names,nicknames,emailAddresses,phoneNumbers,addresses,userDefined,memberships,metadata"
)

// Address is a person's postal address.
type Address struct {
	// City is the city of the address.
	City string `json:"city,omitempty"`

	// Country is the country of the address.
	Country string `json:"country,omitempty"`

	// Metadata holds field metadata such as the primary flag.
	Metadata *FieldMetadata `json:"metadata,omitempty"`

	// PostalCode is the postal code of the address.
	PostalCode string `json:"postalCode,omitempty"`

	// Region is the region of the address, e.g. the state.
	Region string `json:"region,omitempty"`

	// StreetAddress is the street address.
	StreetAddress string `json:"streetAddress,omitempty"`

	// Type is the address type, e.g. home or work.
	Type string `json:"type,omitempty"`
}

// ContactGroup is a Google contact group.
type ContactGroup struct {
	// ETag is the HTTP entity tag of the resource.
	ETag string `json:"etag,omitempty"`

	// GroupType is the contact group type.
	GroupType string `json:"groupType,omitempty"`

	// MemberCount is the total number of contacts in the group.
	MemberCount int `json:"memberCount,omitempty"`

	// MemberResourceNames lists member resource names, when requested.
	MemberResourceNames []string `json:"memberResourceNames,omitempty"`

	// Name is the contact group name set by the owner.
	Name string `json:"name,omitempty"`

	// ResourceName is the resource name of the group, e.g. contactGroups/abc.
	ResourceName string `json:"resourceName,omitempty"`
}

// ContactGroupMembership identifies the group a person belongs to.
type ContactGroupMembership struct {
	// ContactGroupResourceName is the resource name of the group.
	ContactGroupResourceName string `json:"contactGroupResourceName,omitempty"`
}

// EmailAddress is a person's email address.
type EmailAddress struct {
	// Metadata holds field metadata such as the primary flag.
	Metadata *FieldMetadata `json:"metadata,omitempty"`

	// Type is the email type, e.g. home or work.
	Type string `json:"type,omitempty"`

	// Value is the email address.
	Value string `json:"value,omitempty"`
}

// FieldMetadata describes a single field value.
type FieldMetadata struct {
	// Primary is true for the person's preferred value of the field.
	Primary bool `json:"primary,omitempty"`
}

// Membership is a person's membership in a group.
type Membership struct {
	// ContactGroupMembership is set for contact group memberships.
	ContactGroupMembership *ContactGroupMembership `json:"contactGroupMembership,omitempty"`
}

// Name is a person's name.
type Name struct {
	// DisplayName is the display name, output only.
	DisplayName string `json:"displayName,omitempty"`

	// FamilyName is the family name.
	FamilyName string `json:"familyName,omitempty"`

	// GivenName is the given name.
	GivenName string `json:"givenName,omitempty"`

	// Metadata holds field metadata such as the primary flag.
	Metadata *FieldMetadata `json:"metadata,omitempty"`
}

// Nickname is a person's nickname.
type Nickname struct {
	// Value is the nickname.
	Value string `json:"value,omitempty"`
}

// Person is a Google contact.
type Person struct {
	// Addresses are the person's street addresses.
	Addresses []Address `json:"addresses,omitempty"`

	// EmailAddresses are the person's email addresses.
	EmailAddresses []EmailAddress `json:"emailAddresses,omitempty"`

	// ETag is the HTTP entity tag, required when updating.
	ETag string `json:"etag,omitempty"`

	// Memberships are the person's group memberships.
	Memberships []Membership `json:"memberships,omitempty"`

	// Metadata is output-only metadata about the person.
	Metadata *PersonMetadata `json:"metadata,omitempty"`

	// Names are the person's names.
	Names []Name `json:"names,omitempty"`

	// Nicknames are the person's nicknames.
	Nicknames []Nickname `json:"nicknames,omitempty"`

	// PhoneNumbers are the person's phone numbers.
	PhoneNumbers []PhoneNumber `json:"phoneNumbers,omitempty"`

	// ResourceName is the resource name of the person, e.g. people/c123.
	ResourceName string `json:"resourceName,omitempty"`

	// UserDefined are arbitrary key/value pairs.
	UserDefined []UserDefined `json:"userDefined,omitempty"`
}

// PersonMetadata is output-only metadata about a person.
type PersonMetadata struct {
	// Deleted is true if the person resource has been deleted.
	Deleted bool `json:"deleted,omitempty"`

	// Sources are the sources of data for the person.
	Sources []Source `json:"sources,omitempty"`
}

// PhoneNumber is a person's phone number.
type PhoneNumber struct {
	// Metadata holds field metadata such as the primary flag.
	Metadata *FieldMetadata `json:"metadata,omitempty"`

	// Type is the phone number type, e.g. mobile or home.
	Type string `json:"type,omitempty"`

	// Value is the phone number as entered.
	Value string `json:"value,omitempty"`
}

// Source is a source of data for a person.
type Source struct {
	// ID is the unique identifier within the source type.
	ID string `json:"id,omitempty"`

	// Type is the source type, e.g. CONTACT.
	Type string `json:"type,omitempty"`

	// UpdateTime is the last update timestamp of this source.
	UpdateTime time.Time `json:"updateTime,omitzero"`
}

// UserDefined is an arbitrary user-defined key/value pair.
type UserDefined struct {
	// Key is the end user specified key.
	Key string `json:"key"`

	// Value is the end user specified value.
	Value string `json:"value"`
}

// batchGetResponse is the response of people:batchGet.
type batchGetResponse struct {
	Responses []personResponse `json:"responses"`
}

// createContactGroupRequest is the request body for creating a contact group.
type createContactGroupRequest struct {
	ContactGroup ContactGroup `json:"contactGroup"`
}

// listContactGroupsResponse is a page of contact groups.
type listContactGroupsResponse struct {
	ContactGroups []ContactGroup `json:"contactGroups"`
	NextPageToken string         `json:"nextPageToken"`
}

// personResponse is a single entry of a batchGet response.
type personResponse struct {
	HTTPStatusCode        int     `json:"httpStatusCode"`
	Person                *Person `json:"person"`
	RequestedResourceName string  `json:"requestedResourceName"`
}

// userInfoResponse is the response of the OpenID userinfo endpoint.
type userInfoResponse struct {
	Email string `json:"email"`
}
