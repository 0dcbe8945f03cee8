package donor

import "time"

// Record is the platform donor row. Only identity and names are modeled here.
type Record struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	AccountID string    `gorm:"column:account_id;size:190;not null;index"`
	FirstName string    `gorm:"column:first_name;size:190"`
	LastName  string    `gorm:"column:last_name;size:190"`
	Nickname  string    `gorm:"column:nickname;size:190"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	Source    string    `gorm:"column:source;size:32"`
	CreatedAt time.Time `gorm:"column:created_date;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_date;autoUpdateTime"`

	Contacts []ContactRecord `gorm:"foreignKey:DonorID"`
	Places   []PlaceRecord   `gorm:"foreignKey:DonorID"`
}

// TableName exposes the table backing donors.
func (Record) TableName() string {
	return "donors"
}

// ContactRecord is a donor phone or email row.
type ContactRecord struct {
	ID        uint        `gorm:"column:id;primaryKey;autoIncrement"`
	DonorID   string      `gorm:"column:donor_id;size:64;not null;index"`
	Kind      ContactKind `gorm:"column:kind;size:16;not null"`
	Value     string      `gorm:"column:value;size:320;not null"`
	Label     string      `gorm:"column:label;size:64"`
	IsPrimary bool        `gorm:"column:is_primary;not null;default:false"`
	IsActive  bool        `gorm:"column:is_active;not null;default:true"`
	UpdatedAt time.Time   `gorm:"column:updated_date;autoUpdateTime"`
}

// TableName exposes the table backing donor contacts.
func (ContactRecord) TableName() string {
	return "donor_contacts"
}

// PlaceRecord is a donor address row. Only the primary place is synchronized.
type PlaceRecord struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	DonorID    string    `gorm:"column:donor_id;size:64;not null;index"`
	Street     string    `gorm:"column:street;size:512"`
	City       string    `gorm:"column:city;size:190"`
	Region     string    `gorm:"column:region;size:190"`
	PostalCode string    `gorm:"column:postal_code;size:32"`
	Country    string    `gorm:"column:country;size:190"`
	IsPrimary  bool      `gorm:"column:is_primary;not null;default:false"`
	UpdatedAt  time.Time `gorm:"column:updated_date;autoUpdateTime"`
}

// TableName exposes the table backing donor places.
func (PlaceRecord) TableName() string {
	return "donor_places"
}
