package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/pkg/caldate"
)

const (
	msgProviderFull      = "provider is not accepting new patients"
	msgDuplicate         = "duplicate outstanding request"
	msgInvalidStatus     = "invalid status"
	msgInvalidTransition = "invalid status transition"
)

type Service struct {
	appointments AppointmentRepository
	capacity     CapacityRepository
	uow          UnitOfWork
	directory    DirectoryInvalidator
	logger       zerolog.Logger
}

func NewService(appts AppointmentRepository, capacity CapacityRepository, uow UnitOfWork, directory DirectoryInvalidator, logger zerolog.Logger) *Service {
	return &Service{
		appointments: appts,
		capacity:     capacity,
		uow:          uow,
		directory:    directory,
		logger:       logger,
	}
}

// passThrough keeps application errors and wraps anything else as internal.
func passThrough(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Internal(op, err)
}

// -- Booking --

type BookingRequest struct {
	ProviderID      uuid.UUID     `json:"providerId"`
	AppointmentDate *caldate.Date `json:"appointmentDate"`
	AppointmentTime *string       `json:"appointmentTime"`
	Type            string        `json:"type"`
	PatientNotes    *string       `json:"patientNotes"`
}

func (r *BookingRequest) validate(patientID uuid.UUID) []string {
	var problems []string
	if r.ProviderID == uuid.Nil {
		problems = append(problems, "providerId is required")
	} else if r.ProviderID == patientID {
		problems = append(problems, "cannot book an appointment with yourself")
	}
	if r.AppointmentTime != nil {
		if _, err := time.Parse("15:04", *r.AppointmentTime); err != nil {
			problems = append(problems, "appointmentTime must be HH:MM")
		}
	}
	r.Type = strings.TrimSpace(r.Type)
	if len(r.Type) > 100 {
		problems = append(problems, "type must be at most 100 characters")
	}
	if r.PatientNotes != nil && len(*r.PatientNotes) > 2000 {
		problems = append(problems, "patientNotes must be at most 2000 characters")
	}
	return problems
}

// BookAppointment creates a pending request from the caller, who becomes the
// appointment's patient, to a provider. Checks run in a fixed order so each rejection has a distinct cause:
// unknown provider, full provider, then an outstanding request for the pair.
// A pending request does not consume a slot.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if problems := req.validate(actor.ID); len(problems) > 0 {
		return nil, apperr.Validation("validation failed", problems...)
	}

	provider, err := s.capacity.GetProvider(ctx, req.ProviderID)
	if errors.Is(err, ErrProviderNotFound) {
		return nil, apperr.NotFound("provider not found")
	}
	if err != nil {
		return nil, apperr.Internal("load provider", err)
	}
	if provider.Full() {
		return nil, apperr.Conflict(msgProviderFull)
	}

	dup, err := s.appointments.HasOutstanding(ctx, actor.ID, req.ProviderID)
	if err != nil {
		return nil, apperr.Internal("check outstanding appointments", err)
	}
	if dup {
		return nil, apperr.Conflict(msgDuplicate)
	}

	a := &Appointment{
		PatientID:       actor.ID,
		ProviderID:      req.ProviderID,
		Status:          StatusPending,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
		Type:            req.Type,
		PatientNotes:    req.PatientNotes,
	}
	if a.Type == "" {
		a.Type = DefaultType
	}

	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrOutstanding) {
			return nil, apperr.Conflict(msgDuplicate)
		}
		return nil, apperr.Internal("create appointment", err)
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("provider_id", a.ProviderID.String()).
		Msg("appointment requested")
	return a, nil
}

// -- Lifecycle --

// StatusUpdate is the body of an appointment update. Notes may be changed
// alongside a status, including a same-status update.
type StatusUpdate struct {
	Status        string  `json:"status"`
	PatientNotes  *string `json:"patientNotes"`
	ProviderNotes *string `json:"providerNotes"`
}

// UpdateAppointment moves an appointment to a new status and applies the
// matching change to the provider's patient counter in the same transaction.
func (s *Service) UpdateAppointment(ctx context.Context, actor Actor, id uuid.UUID, upd StatusUpdate) (*Appointment, error) {
	to, ok := ParseSettableStatus(upd.Status)
	if !ok {
		return nil, apperr.Validation(msgInvalidStatus,
			"status must be one of confirmed, rejected, cancelled, completed")
	}

	var (
		updated *Appointment
		from    Status
		delta   int
	)
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("appointment not found")
		}
		if err != nil {
			return err
		}

		if !IsParty(a, actor) {
			return apperr.Forbidden("not a party to this appointment")
		}
		if !MaySet(a, actor, to) {
			return apperr.Forbidden(fmt.Sprintf("only the provider may set status %s", to))
		}
		if upd.ProviderNotes != nil && actor.ID != a.ProviderID {
			return apperr.Forbidden("only the provider may set providerNotes")
		}
		if upd.PatientNotes != nil && actor.ID != a.PatientID {
			return apperr.Forbidden("only the patient may set patientNotes")
		}
		if err := CheckTransition(a.Status, to); err != nil {
			return &apperr.Error{Kind: apperr.KindConflict, Message: msgInvalidTransition, Details: []string{err.Error()}}
		}

		from = a.Status
		delta = CapacityDelta(from, to)

		a.Status = to
		if upd.PatientNotes != nil {
			a.PatientNotes = upd.PatientNotes
		}
		if upd.ProviderNotes != nil {
			a.ProviderNotes = upd.ProviderNotes
		}
		if err := s.appointments.UpdateStatus(ctx, a); err != nil {
			return err
		}

		if err := s.applyDelta(ctx, a.ProviderID, delta); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, passThrough("update appointment", err)
	}

	if delta != 0 {
		s.directory.Invalidate(ctx)
	}
	if from != to {
		s.logger.Info().
			Str("appointment_id", id.String()).
			Str("actor_id", actor.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Int("delta", delta).
			Msg("appointment status changed")
	}
	return updated, nil
}

func (s *Service) applyDelta(ctx context.Context, providerID uuid.UUID, delta int) error {
	switch {
	case delta > 0:
		err := s.capacity.Increment(ctx, providerID)
		if errors.Is(err, ErrCapacityFull) {
			return apperr.Conflict(msgProviderFull)
		}
		return err
	case delta < 0:
		return s.capacity.Decrement(ctx, providerID)
	}
	return nil
}

// DeleteAppointment removes an appointment for either party and releases
// its slot if it held one.
func (s *Service) DeleteAppointment(ctx context.Context, actor Actor, id uuid.UUID) error {
	var delta int
	err := s.uow.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("appointment not found")
		}
		if err != nil {
			return err
		}
		if !IsParty(a, actor) {
			return apperr.Forbidden("not a party to this appointment")
		}

		if err := s.appointments.Delete(ctx, id); err != nil {
			return err
		}
		delta = DeletionDelta(a.Status)
		return s.applyDelta(ctx, a.ProviderID, delta)
	})
	if err != nil {
		return passThrough("delete appointment", err)
	}

	if delta != 0 {
		s.directory.Invalidate(ctx)
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("actor_id", actor.ID.String()).
		Int("delta", delta).
		Msg("appointment deleted")
	return nil
}

// -- Reads --

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("appointment not found")
	}
	if err != nil {
		return nil, apperr.Internal("load appointment", err)
	}
	if !IsParty(a, actor) {
		return nil, apperr.Forbidden("not a party to this appointment")
	}
	return a, nil
}

// ListAppointments returns the caller's side of their appointments: a
// provider sees requests made to them, everyone else their own bookings.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, status string, limit, offset int) ([]*Appointment, int, error) {
	f := ListFilter{Limit: limit, Offset: offset}
	if status != "" {
		f.Status = Status(status)
		if !f.Status.Valid() {
			return nil, 0, apperr.Validation(msgInvalidStatus,
				"status must be one of pending, confirmed, rejected, cancelled, completed")
		}
	}

	var (
		items []*Appointment
		total int
		err   error
	)
	if actor.Role == auth.RoleProvider {
		items, total, err = s.appointments.ListByProvider(ctx, actor.ID, f)
	} else {
		items, total, err = s.appointments.ListByPatient(ctx, actor.ID, f)
	}
	if err != nil {
		return nil, 0, apperr.Internal("list appointments", err)
	}
	return items, total, nil
}

// ListPatients returns the distinct patients with a confirmed appointment
// with the calling provider.
func (s *Service) ListPatients(ctx context.Context, actor Actor, limit, offset int) ([]*PatientSummary, int, error) {
	if actor.Role != auth.RoleProvider {
		return nil, 0, apperr.Forbidden("only providers have a patient list")
	}
	items, total, err := s.appointments.ListConfirmedPatients(ctx, actor.ID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list patients", err)
	}
	return items, total, nil
}
