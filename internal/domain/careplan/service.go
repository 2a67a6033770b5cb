package careplan

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/pkg/caldate"
)

type Service struct {
	goals  GoalRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(goals GoalRepository, logger zerolog.Logger) *Service {
	return &Service{goals: goals, logger: logger, now: time.Now}
}

// -- Create --

type CreateInput struct {
	PatientID   uuid.UUID     `json:"patientId"`
	Title       string        `json:"title"`
	Description *string       `json:"description"`
	TargetValue float64       `json:"targetValue"`
	Unit        string        `json:"unit"`
	Frequency   Frequency     `json:"frequency"`
	EndDate     *caldate.Date `json:"endDate"`
}

func (in *CreateInput) normalize() []string {
	var problems []string
	in.Title = strings.TrimSpace(in.Title)
	in.Unit = strings.TrimSpace(in.Unit)

	if in.PatientID == uuid.Nil {
		problems = append(problems, "patientId is required")
	}
	if in.Title == "" {
		problems = append(problems, "title is required")
	} else if len(in.Title) > 200 {
		problems = append(problems, "title must be at most 200 characters")
	}
	if !finitePositive(in.TargetValue) {
		problems = append(problems, "targetValue must be greater than 0")
	}
	if in.Unit == "" {
		problems = append(problems, "unit is required")
	} else if len(in.Unit) > 50 {
		problems = append(problems, "unit must be at most 50 characters")
	}
	if in.Frequency == "" {
		in.Frequency = FrequencyDaily
	} else if !in.Frequency.Valid() {
		problems = append(problems, "frequency must be one of daily, weekly, monthly")
	}
	return problems
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// CreateGoal assigns a new active goal to a patient. Only providers may
// create goals; the caller becomes the assigning provider.
func (s *Service) CreateGoal(ctx context.Context, caller auth.Principal, in CreateInput) (*Goal, error) {
	if !caller.IsProvider() {
		return nil, apperr.Forbidden("only providers can create goals")
	}
	if problems := in.normalize(); len(problems) > 0 {
		return nil, apperr.Validation("validation failed", problems...)
	}

	ok, err := s.goals.PatientExists(ctx, in.PatientID)
	if err != nil {
		return nil, apperr.Internal("look up patient", err)
	}
	if !ok {
		return nil, apperr.NotFound("patient not found")
	}

	g := &Goal{
		PatientID:   in.PatientID,
		ProviderID:  caller.ID,
		Title:       in.Title,
		Description: in.Description,
		TargetValue: in.TargetValue,
		Unit:        in.Unit,
		Frequency:   in.Frequency,
		Status:      StatusActive,
		StartDate:   s.now().UTC(),
		EndDate:     in.EndDate,
	}
	if err := s.goals.Create(ctx, g); err != nil {
		return nil, apperr.Internal("create goal", err)
	}

	s.logger.Info().
		Str("goal_id", g.ID.String()).
		Str("patient_id", g.PatientID.String()).
		Str("provider_id", g.ProviderID.String()).
		Msg("goal created")
	return g, nil
}

// -- Update --

// Patch is the body of a goal update: either a progress submission or a
// status override, never both.
type Patch struct {
	ProgressValue *float64 `json:"progressValue"`
	ProgressNote  *string  `json:"progressNote"`
	Status        *Status  `json:"status"`
}

func (p *Patch) validate() error {
	switch {
	case p.ProgressValue != nil && p.Status != nil:
		return apperr.Validation("validation failed", "send either progressValue or status, not both")
	case p.ProgressValue == nil && p.Status == nil:
		return apperr.Validation("validation failed", "progressValue or status is required")
	case p.ProgressValue != nil:
		if !finitePositive(*p.ProgressValue) {
			return apperr.Validation("validation failed", "progressValue must be greater than 0")
		}
		if p.ProgressNote != nil && len(*p.ProgressNote) > 500 {
			return apperr.Validation("validation failed", "progressNote must be at most 500 characters")
		}
	default:
		if !p.Status.Valid() {
			return apperr.Validation("invalid status", "status must be one of active, completed, cancelled")
		}
	}
	return nil
}

// UpdateGoal applies a progress submission or a status override.
func (s *Service) UpdateGoal(ctx context.Context, caller auth.Principal, id uuid.UUID, p Patch) (*Goal, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	isPatient := caller.ID == g.PatientID
	if !isPatient && caller.ID != g.ProviderID {
		return nil, apperr.Forbidden("not a party to this goal")
	}

	var updated *Goal
	if p.ProgressValue != nil {
		if !isPatient {
			return nil, apperr.Forbidden("only the patient can record progress")
		}
		updated, err = s.goals.RecordProgress(ctx, id, *p.ProgressValue, p.ProgressNote)
	} else {
		updated, err = s.goals.SetStatus(ctx, id, *p.Status)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("goal not found")
	}
	if err != nil {
		return nil, apperr.Internal("update goal", err)
	}

	if updated.Status != g.Status {
		s.logger.Info().
			Str("goal_id", id.String()).
			Str("from", string(g.Status)).
			Str("to", string(updated.Status)).
			Bool("progress", p.ProgressValue != nil).
			Msg("goal status changed")
	}
	if err := s.attachProgress(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// -- Delete --

func (s *Service) DeleteGoal(ctx context.Context, caller auth.Principal, id uuid.UUID) error {
	g, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if caller.ID != g.ProviderID {
		return apperr.Forbidden("only the assigning provider can delete this goal")
	}
	if err := s.goals.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("goal not found")
		}
		return apperr.Internal("delete goal", err)
	}
	s.logger.Info().Str("goal_id", id.String()).Msg("goal deleted")
	return nil
}

// -- Reads --

func (s *Service) GetGoal(ctx context.Context, caller auth.Principal, id uuid.UUID) (*Goal, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.ID != g.PatientID && caller.ID != g.ProviderID {
		return nil, apperr.Forbidden("not a party to this goal")
	}
	if err := s.attachProgress(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ListGoals returns the goals a provider assigned, or a patient's own goals.
func (s *Service) ListGoals(ctx context.Context, caller auth.Principal, status string, limit, offset int) ([]*Goal, int, error) {
	f := ListFilter{Status: Status(status), Limit: limit, Offset: offset}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("invalid status", "status must be one of active, completed, cancelled")
	}
	if caller.IsProvider() {
		f.ProviderID = &caller.ID
	} else {
		f.PatientID = &caller.ID
	}
	return s.list(ctx, f)
}

// PatientGoals returns the goals the calling provider set for one patient.
func (s *Service) PatientGoals(ctx context.Context, caller auth.Principal, patientID uuid.UUID, limit, offset int) ([]*Goal, int, error) {
	if !caller.IsProvider() {
		return nil, 0, apperr.Forbidden("only providers can view a patient's goals")
	}
	return s.list(ctx, ListFilter{PatientID: &patientID, ProviderID: &caller.ID, Limit: limit, Offset: offset})
}

func (s *Service) list(ctx context.Context, f ListFilter) ([]*Goal, int, error) {
	items, total, err := s.goals.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("list goals", err)
	}
	if err := s.attachProgress(ctx, items...); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Goal, error) {
	g, err := s.goals.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("goal not found")
	}
	if err != nil {
		return nil, apperr.Internal("load goal", err)
	}
	return g, nil
}

func (s *Service) attachProgress(ctx context.Context, goals ...*Goal) error {
	if len(goals) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(goals))
	for i, g := range goals {
		ids[i] = g.ID
	}
	logs, err := s.goals.Progress(ctx, ids)
	if err != nil {
		return apperr.Internal("load goal progress", err)
	}
	for _, g := range goals {
		g.Progress = logs[g.ID]
	}
	return nil
}
