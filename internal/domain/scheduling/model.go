package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/careportal/portal/pkg/caldate"
)

// Appointment is a patient's request to be seen by a provider.
type Appointment struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patientId"`
	ProviderID      uuid.UUID     `db:"provider_id" json:"providerId"`
	Status          Status        `db:"status" json:"status"`
	AppointmentDate *caldate.Date `db:"appointment_date" json:"appointmentDate,omitempty"`
	AppointmentTime *string       `db:"appointment_time" json:"appointmentTime,omitempty"`
	Type            string        `db:"type" json:"type"`
	PatientNotes    *string       `db:"patient_notes" json:"patientNotes,omitempty"`
	ProviderNotes   *string       `db:"provider_notes" json:"providerNotes,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`

	// Populated on listings.
	PatientName  string `db:"-" json:"patientName,omitempty"`
	ProviderName string `db:"-" json:"providerName,omitempty"`
}

// DefaultType is used when a booking names no appointment type.
const DefaultType = "General Consultation"

// ProviderLoad is the capacity state of a provider.
type ProviderLoad struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	MaxPatients     int       `json:"maxPatients"`
	CurrentPatients int       `json:"currentPatients"`
}

// Full reports whether the provider has no free slot.
func (p *ProviderLoad) Full() bool {
	return p.CurrentPatients >= p.MaxPatients
}

// PatientSummary is a patient under a provider's care.
type PatientSummary struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	DateOfBirth *caldate.Date `json:"dateOfBirth,omitempty"`
	PhoneNumber *string       `json:"phoneNumber,omitempty"`
	// ConfirmedSince is the creation time of the oldest confirmed
	// appointment with the provider.
	ConfirmedSince time.Time `json:"confirmedSince"`
}

// Drift records a provider whose stored counter disagreed with the number of
// confirmed appointments.
type Drift struct {
	ProviderID uuid.UUID `json:"providerId"`
	Stored     int       `json:"stored"`
	Actual     int       `json:"actual"`
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}
