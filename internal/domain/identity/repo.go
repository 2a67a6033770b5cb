package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
	// ErrCapacityBelowLoad is returned when a capacity update would drop
	// below the provider's current patient count.
	ErrCapacityBelowLoad = errors.New("max patients below current patients")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, u *User) error
	ListAcceptingProviders(ctx context.Context, specialty string) ([]*ProviderListing, error)
}
