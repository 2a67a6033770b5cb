package careplan

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("goal not found")

// ListFilter scopes a goal listing. Nil ids are not filtered on.
type ListFilter struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	Status     Status
	Limit      int
	Offset     int
}

type GoalRepository interface {
	Create(ctx context.Context, g *Goal) error
	GetByID(ctx context.Context, id uuid.UUID) (*Goal, error)
	// RecordProgress appends an entry, adds value to the running total and
	// completes an active goal that reaches its target, as one atomic write.
	RecordProgress(ctx context.Context, id uuid.UUID, value float64, note *string) (*Goal, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Goal, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*Goal, int, error)
	// Progress returns the logs of the given goals keyed by goal id.
	Progress(ctx context.Context, goalIDs []uuid.UUID) (map[uuid.UUID][]ProgressEntry, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
