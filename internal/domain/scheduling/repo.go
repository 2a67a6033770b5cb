package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("appointment not found")
	ErrProviderNotFound = errors.New("provider not found")
	// ErrOutstanding is returned when the pair already has a pending or
	// confirmed appointment.
	ErrOutstanding = errors.New("duplicate outstanding appointment")
	// ErrCapacityFull is returned by a conditional increment that found the
	// provider at its ceiling.
	ErrCapacityFull = errors.New("provider at capacity")
)

// ListFilter narrows appointment listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate reads and locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	HasOutstanding(ctx context.Context, patientID, providerID uuid.UUID) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Appointment, int, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, f ListFilter) ([]*Appointment, int, error)
	ListConfirmedPatients(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*PatientSummary, int, error)
}

// CapacityRepository owns the provider patient counter.
type CapacityRepository interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*ProviderLoad, error)
	// Increment adds one patient unless the provider is at its ceiling.
	Increment(ctx context.Context, providerID uuid.UUID) error
	// Decrement removes one patient, never going below zero.
	Decrement(ctx context.Context, providerID uuid.UUID) error
	// Reconcile resets every counter to the number of slot-occupying
	// appointments and reports the providers that were off.
	Reconcile(ctx context.Context) ([]Drift, error)
}

// UnitOfWork runs fn in one transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DirectoryInvalidator is notified when a provider's load changes.
type DirectoryInvalidator interface {
	Invalidate(ctx context.Context)
}
