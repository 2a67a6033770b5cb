package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/pkg/caldate"
)

type Service struct {
	users     UserRepository
	tokens    *auth.TokenIssuer
	directory *Directory
	logger    zerolog.Logger
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, directory *Directory, logger zerolog.Logger) *Service {
	return &Service{users: users, tokens: tokens, directory: directory, logger: logger}
}

// -- Registration and login --

type RegisterInput struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	Specialty     string `json:"specialty"`
	LicenseNumber string `json:"licenseNumber"`
}

const minPasswordLength = 6

// phonePattern accepts digits with an optional leading + and common
// separators, e.g. "+1 (555) 123-4567".
var phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)

func (in *RegisterInput) normalize() []string {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Specialty = strings.TrimSpace(in.Specialty)
	in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	if in.Role == "" {
		in.Role = auth.RolePatient
	}

	var problems []string
	if l := len(in.Name); l < 2 || l > 100 {
		problems = append(problems, "name must be between 2 and 100 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		problems = append(problems, "email is invalid")
	}
	if len(in.Password) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	switch in.Role {
	case auth.RolePatient:
	case auth.RoleProvider:
		if in.Specialty == "" {
			problems = append(problems, "specialty is required for providers")
		}
		if in.LicenseNumber == "" {
			problems = append(problems, "licenseNumber is required for providers")
		}
	default:
		problems = append(problems, "role must be patient or provider")
	}
	return problems
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if problems := in.normalize(); len(problems) > 0 {
		return nil, apperr.Validation("validation failed", problems...)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	u := &User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Allergies:    []string{},
		Medications:  []string{},
		Conditions:   []string{},
	}
	if in.Role == auth.RoleProvider {
		u.Specialty = &in.Specialty
		u.LicenseNumber = &in.LicenseNumber
		u.MaxPatients = DefaultMaxPatients
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, apperr.Internal("create user", err)
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user registered")
	return u, nil
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password, tenantID string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, apperr.Unauthenticated("invalid email or password")
	}

	token, exp, err := s.tokens.Issue(u.ID, u.Role, tenantID)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// -- Profile --

func (s *Service) GetProfile(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal("load user", err)
	}
	return u, nil
}

// ProfileUpdate carries the fields a user may edit on their own profile.
// Nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string       `json:"name"`
	DateOfBirth *caldate.Date `json:"dateOfBirth"`
	PhoneNumber *string       `json:"phoneNumber"`
	Allergies   []string      `json:"allergies"`
	Medications []string      `json:"medications"`
	Conditions  []string      `json:"conditions"`
	BloodType   *string       `json:"bloodType"`
	HeightCm    *float64      `json:"heightCm"`
	WeightKg    *float64      `json:"weightKg"`

	Specialty        *string `json:"specialty"`
	Clinic           *string `json:"clinic"`
	Bio              *string `json:"bio"`
	AvailableHours   *string `json:"availableHours"`
	ProfileCompleted *bool   `json:"profileCompleted"`
	MaxPatients      *int    `json:"maxPatients"`
}

func (upd *ProfileUpdate) touchesProviderFields() bool {
	return upd.Specialty != nil || upd.Clinic != nil || upd.Bio != nil ||
		upd.AvailableHours != nil || upd.ProfileCompleted != nil || upd.MaxPatients != nil
}

func (upd *ProfileUpdate) touchesPatientFields() bool {
	return upd.DateOfBirth != nil || upd.Allergies != nil || upd.Medications != nil ||
		upd.Conditions != nil || upd.BloodType != nil || upd.HeightCm != nil || upd.WeightKg != nil
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*User, error) {
	u, err := s.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	var problems []string
	switch {
	case u.Role == auth.RoleProvider && upd.touchesPatientFields():
		problems = append(problems, "medical fields apply to patients only")
	case u.Role != auth.RoleProvider && upd.touchesProviderFields():
		problems = append(problems, "practice fields apply to providers only")
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if l := len(name); l < 2 || l > 100 {
			problems = append(problems, "name must be between 2 and 100 characters")
		}
		u.Name = name
	}
	if upd.DateOfBirth != nil {
		if upd.DateOfBirth.After(time.Now()) {
			problems = append(problems, "dateOfBirth must be in the past")
		}
		u.DateOfBirth = upd.DateOfBirth
	}
	if upd.PhoneNumber != nil {
		phone := strings.TrimSpace(*upd.PhoneNumber)
		if phone != "" && (len(phone) > 32 || !phonePattern.MatchString(phone)) {
			problems = append(problems, "phoneNumber is invalid")
		}
		u.PhoneNumber = &phone
	}
	if upd.Allergies != nil {
		u.Allergies = upd.Allergies
	}
	if upd.Medications != nil {
		u.Medications = upd.Medications
	}
	if upd.Conditions != nil {
		u.Conditions = upd.Conditions
	}
	if upd.BloodType != nil {
		if *upd.BloodType != "" && !validBloodTypes[*upd.BloodType] {
			problems = append(problems, "bloodType is invalid")
		}
		u.BloodType = upd.BloodType
	}
	if upd.HeightCm != nil {
		if *upd.HeightCm <= 0 || *upd.HeightCm > 300 {
			problems = append(problems, "heightCm must be between 0 and 300")
		}
		u.HeightCm = upd.HeightCm
	}
	if upd.WeightKg != nil {
		if *upd.WeightKg <= 0 || *upd.WeightKg > 500 {
			problems = append(problems, "weightKg must be between 0 and 500")
		}
		u.WeightKg = upd.WeightKg
	}

	capacityChanged := false
	if upd.Specialty != nil {
		if strings.TrimSpace(*upd.Specialty) == "" {
			problems = append(problems, "specialty must not be empty")
		}
		u.Specialty = upd.Specialty
		capacityChanged = true
	}
	if upd.Clinic != nil {
		u.Clinic = upd.Clinic
		capacityChanged = true
	}
	if upd.Bio != nil {
		u.Bio = upd.Bio
		capacityChanged = true
	}
	if upd.AvailableHours != nil {
		u.AvailableHours = upd.AvailableHours
		capacityChanged = true
	}
	if upd.ProfileCompleted != nil {
		u.ProfileCompleted = *upd.ProfileCompleted
		capacityChanged = true
	}
	if upd.MaxPatients != nil {
		if *upd.MaxPatients < 1 {
			problems = append(problems, "maxPatients must be at least 1")
		} else if *upd.MaxPatients < u.CurrentPatients {
			problems = append(problems, fmt.Sprintf("maxPatients must be at least the current patient count (%d)", u.CurrentPatients))
		}
		u.MaxPatients = *upd.MaxPatients
		capacityChanged = true
	}

	if len(problems) > 0 {
		return nil, apperr.Validation("validation failed", problems...)
	}

	if err := s.users.UpdateProfile(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, apperr.NotFound("user not found")
		case errors.Is(err, ErrCapacityBelowLoad):
			return nil, apperr.Conflict("maxPatients is below the current patient count")
		}
		return nil, apperr.Internal("update profile", err)
	}

	if capacityChanged {
		s.directory.Invalidate(ctx)
		s.logger.Info().Str("user_id", u.ID.String()).Int("max_patients", u.MaxPatients).
			Bool("profile_completed", u.ProfileCompleted).Msg("provider profile updated")
	}
	return u, nil
}

// -- Directory --

func (s *Service) ListAcceptingProviders(ctx context.Context, specialty string) ([]*ProviderListing, error) {
	items, err := s.directory.Accepting(ctx, strings.TrimSpace(specialty))
	if err != nil {
		return nil, apperr.Internal("list providers", err)
	}
	return items, nil
}
