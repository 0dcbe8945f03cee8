package donor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const sourceExternal = "google_contacts"

// ErrDonorNotFound indicates the donor does not exist or is no longer active.
var ErrDonorNotFound = errors.New("donor: not found or inactive")

// RepositoryConfig describes the dependencies required by Repository.
type RepositoryConfig struct {
	// Database is the gorm handle for the platform database.
	Database *gorm.DB

	// NewID generates identifiers for donors created from external contacts.
	// Defaults to UUIDv7.
	NewID func() (string, error)
}

// Repository reads active donors and applies pulled changes to the platform database.
type Repository struct {
	db    *gorm.DB
	newID func() (string, error)
}

// NewRepository constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, errors.New("donor: database connection required")
	}

	newID := cfg.NewID
	if newID == nil {
		newID = newUUID
	}

	return &Repository{db: cfg.Database, newID: newID}, nil
}

// Migrate creates or updates the donor tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{}, &ContactRecord{}, &PlaceRecord{})
}

// ActiveDonors returns the sync projection of every active donor in the account.
func (r *Repository) ActiveDonors(ctx context.Context, accountID string) ([]Profile, error) {
	var records []Record
	err := r.db.WithContext(ctx).
		Preload("Contacts", activeContacts).
		Preload("Places", "is_primary = ?", true).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Order("id").
		Find(&records).
		Error
	if err != nil {
		return nil, fmt.Errorf("loading active donors: %w", err)
	}

	profiles := make([]Profile, 0, len(records))
	for i := range records {
		profiles = append(profiles, records[i].toProfile())
	}
	return profiles, nil
}

// ApplyProfile merges an incoming profile into an existing donor and returns the stored result.
// Parts of the incoming profile that are empty leave the platform data untouched.
func (r *Repository) ApplyProfile(ctx context.Context, accountID string, donorID string, incoming Profile) (Profile, error) {
	var stored Profile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Record
		err := tx.Where("id = ? AND account_id = ? AND is_active = ?", donorID, accountID, true).
			Take(&record).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDonorNotFound
		}
		if err != nil {
			return fmt.Errorf("loading donor: %w", err)
		}

		updates := map[string]any{}
		if v := normalize(incoming.FirstName); v != "" && v != record.FirstName {
			updates["first_name"] = v
		}
		if v := normalize(incoming.LastName); v != "" && v != record.LastName {
			updates["last_name"] = v
		}
		if v := normalize(incoming.Nickname); v != "" && v != record.Nickname {
			updates["nickname"] = v
		}
		if len(updates) > 0 {
			if err := tx.Model(&Record{}).Where("id = ?", donorID).Updates(updates).Error; err != nil {
				return fmt.Errorf("updating donor: %w", err)
			}
		}

		if err := reconcileContacts(tx, donorID, ContactKindEmail, incoming.Emails); err != nil {
			return err
		}
		if err := reconcileContacts(tx, donorID, ContactKindPhone, incoming.Phones); err != nil {
			return err
		}
		if err := upsertPrimaryPlace(tx, donorID, incoming.Address); err != nil {
			return err
		}

		stored, err = loadProfile(tx, donorID)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return stored, nil
}

// CreateDonor creates an active donor, with contacts and primary place, from an external profile.
func (r *Repository) CreateDonor(ctx context.Context, accountID string, incoming Profile) (Profile, error) {
	donorID, err := r.newID()
	if err != nil {
		return Profile{}, fmt.Errorf("generating donor id: %w", err)
	}

	var stored Profile
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := Record{
			ID:        donorID,
			AccountID: accountID,
			FirstName: normalize(incoming.FirstName),
			LastName:  normalize(incoming.LastName),
			Nickname:  normalize(incoming.Nickname),
			IsActive:  true,
			Source:    sourceExternal,
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("creating donor: %w", err)
		}
		if err := reconcileContacts(tx, donorID, ContactKindEmail, incoming.Emails); err != nil {
			return err
		}
		if err := reconcileContacts(tx, donorID, ContactKindPhone, incoming.Phones); err != nil {
			return err
		}
		if err := upsertPrimaryPlace(tx, donorID, incoming.Address); err != nil {
			return err
		}

		stored, err = loadProfile(tx, donorID)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return stored, nil
}

// reconcileContacts makes the active contacts of one kind match points, first entry primary.
// An empty points slice leaves existing contacts untouched.
func reconcileContacts(tx *gorm.DB, donorID string, kind ContactKind, points []ContactPoint) error {
	if len(points) == 0 {
		return nil
	}

	var existing []ContactRecord
	if err := tx.Where("donor_id = ? AND kind = ?", donorID, kind).Find(&existing).Error; err != nil {
		return fmt.Errorf("loading %s contacts: %w", kind, err)
	}

	byValue := make(map[string]ContactRecord, len(existing))
	for _, c := range existing {
		byValue[contactKey(kind, c.Value)] = c
	}

	seen := make(map[string]struct{}, len(points))
	for i, p := range points {
		value := normalize(p.Value)
		if value == "" {
			continue
		}
		key := contactKey(kind, value)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if c, ok := byValue[key]; ok {
			err := tx.Model(&ContactRecord{}).Where("id = ?", c.ID).Updates(map[string]any{
				"label":      normalize(p.Label),
				"is_primary": i == 0,
				"is_active":  true,
			}).Error
			if err != nil {
				return fmt.Errorf("updating %s contact: %w", kind, err)
			}
			continue
		}

		row := ContactRecord{
			DonorID:   donorID,
			Kind:      kind,
			Value:     value,
			Label:     normalize(p.Label),
			IsPrimary: i == 0,
			IsActive:  true,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("creating %s contact: %w", kind, err)
		}
	}

	for _, c := range existing {
		if _, ok := seen[contactKey(kind, c.Value)]; ok || !c.IsActive {
			continue
		}
		err := tx.Model(&ContactRecord{}).Where("id = ?", c.ID).Updates(map[string]any{
			"is_active":  false,
			"is_primary": false,
		}).Error
		if err != nil {
			return fmt.Errorf("deactivating %s contact: %w", kind, err)
		}
	}

	return nil
}

// upsertPrimaryPlace replaces the primary place with the given address, creating it if needed.
func upsertPrimaryPlace(tx *gorm.DB, donorID string, address *Place) error {
	if address.IsZero() {
		return nil
	}

	fields := map[string]any{
		"street":      normalize(address.Street),
		"city":        normalize(address.City),
		"region":      normalize(address.Region),
		"postal_code": normalize(address.PostalCode),
		"country":     normalize(address.Country),
	}

	var place PlaceRecord
	err := tx.Where("donor_id = ? AND is_primary = ?", donorID, true).Take(&place).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		place = PlaceRecord{
			DonorID:    donorID,
			Street:     fields["street"].(string),
			City:       fields["city"].(string),
			Region:     fields["region"].(string),
			PostalCode: fields["postal_code"].(string),
			Country:    fields["country"].(string),
			IsPrimary:  true,
		}
		if err := tx.Create(&place).Error; err != nil {
			return fmt.Errorf("creating primary place: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading primary place: %w", err)
	}

	if err := tx.Model(&PlaceRecord{}).Where("id = ?", place.ID).Updates(fields).Error; err != nil {
		return fmt.Errorf("updating primary place: %w", err)
	}
	return nil
}

func loadProfile(tx *gorm.DB, donorID string) (Profile, error) {
	var record Record
	err := tx.Preload("Contacts", activeContacts).
		Preload("Places", "is_primary = ?", true).
		Where("id = ?", donorID).
		Take(&record).
		Error
	if err != nil {
		return Profile{}, fmt.Errorf("reloading donor: %w", err)
	}
	return record.toProfile(), nil
}

// activeContacts orders active contacts so the primary entry of each kind comes first.
func activeContacts(db *gorm.DB) *gorm.DB {
	return db.Where("is_active = ?", true).Order("is_primary DESC, id")
}

func (r *Record) toProfile() Profile {
	profile := Profile{
		DonorID:   r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Nickname:  r.Nickname,
		UpdatedAt: r.UpdatedAt,
	}

	for _, c := range r.Contacts {
		if !c.IsActive {
			continue
		}
		point := ContactPoint{Label: c.Label, Primary: c.IsPrimary, Value: c.Value}
		switch c.Kind {
		case ContactKindEmail:
			profile.Emails = append(profile.Emails, point)
		case ContactKindPhone:
			profile.Phones = append(profile.Phones, point)
		}
		if c.UpdatedAt.After(profile.UpdatedAt) {
			profile.UpdatedAt = c.UpdatedAt
		}
	}

	for _, p := range r.Places {
		if !p.IsPrimary {
			continue
		}
		profile.Address = &Place{
			City:       p.City,
			Country:    p.Country,
			PostalCode: p.PostalCode,
			Region:     p.Region,
			Street:     p.Street,
		}
		if p.UpdatedAt.After(profile.UpdatedAt) {
			profile.UpdatedAt = p.UpdatedAt
		}
		break
	}

	return profile
}

func contactKey(kind ContactKind, value string) string {
	if kind == ContactKindEmail {
		return strings.ToLower(normalize(value))
	}
	return normalize(value)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
