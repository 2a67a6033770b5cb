package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/careportal/portal/pkg/caldate"
)

// User is a portal account. Patient and provider profile fields share the
// row; fields that do not apply to the user's role stay empty.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`

	DateOfBirth *caldate.Date `db:"date_of_birth" json:"dateOfBirth,omitempty"`
	PhoneNumber *string       `db:"phone_number" json:"phoneNumber,omitempty"`
	Allergies   []string      `db:"allergies" json:"allergies"`
	Medications []string      `db:"medications" json:"medications"`
	Conditions  []string      `db:"conditions" json:"conditions"`
	BloodType   *string       `db:"blood_type" json:"bloodType,omitempty"`
	HeightCm    *float64      `db:"height_cm" json:"heightCm,omitempty"`
	WeightKg    *float64      `db:"weight_kg" json:"weightKg,omitempty"`

	Specialty        *string `db:"specialty" json:"specialty,omitempty"`
	LicenseNumber    *string `db:"license_number" json:"licenseNumber,omitempty"`
	Clinic           *string `db:"clinic" json:"clinic,omitempty"`
	Bio              *string `db:"bio" json:"bio,omitempty"`
	AvailableHours   *string `db:"available_hours" json:"availableHours,omitempty"`
	ProfileCompleted bool    `db:"profile_completed" json:"profileCompleted"`
	MaxPatients      int     `db:"max_patients" json:"maxPatients"`
	CurrentPatients  int     `db:"current_patients" json:"currentPatients"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// AcceptingPatients reports whether a provider has a free slot.
func (u *User) AcceptingPatients() bool {
	return u.ProfileCompleted && u.CurrentPatients < u.MaxPatients
}

// ProviderListing is the public directory entry for a provider.
type ProviderListing struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Specialty       *string   `json:"specialty,omitempty"`
	Clinic          *string   `json:"clinic,omitempty"`
	Bio             *string   `json:"bio,omitempty"`
	AvailableHours  *string   `json:"availableHours,omitempty"`
	MaxPatients     int       `json:"maxPatients"`
	CurrentPatients int       `json:"currentPatients"`
	AvailableSlots  int       `json:"availableSlots"`
}

// DefaultMaxPatients is the capacity given to newly registered providers.
const DefaultMaxPatients = 10

var validBloodTypes = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}
