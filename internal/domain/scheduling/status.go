package scheduling

import (
	"fmt"

	"github.com/careportal/portal/internal/platform/auth"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Outstanding reports whether the appointment still occupies the
// patient/provider pair.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

type party int

const (
	partyPatient party = 1 << iota
	partyProvider
)

const eitherParty = partyPatient | partyProvider

// settableBy lists, per target status, which party may request it. Pending
// is only ever set at creation.
var settableBy = map[Status]party{
	StatusConfirmed: partyProvider,
	StatusRejected:  partyProvider,
	StatusCompleted: partyProvider,
	StatusCancelled: eitherParty,
}

// transitions is the lifecycle graph. Any pair not listed is refused.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusRejected:  true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusRejected:  true,
		StatusCancelled: true,
		StatusCompleted: true,
	},
}

// ParseSettableStatus validates a status requested through an update.
func ParseSettableStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := settableBy[s]
	return s, ok
}

func partyOf(a *Appointment, actor Actor) party {
	var p party
	if actor.ID == a.PatientID {
		p |= partyPatient
	}
	if actor.ID == a.ProviderID && actor.Role == auth.RoleProvider {
		p |= partyProvider
	}
	return p
}

// IsParty reports whether actor is the appointment's patient or provider.
func IsParty(a *Appointment, actor Actor) bool {
	return actor.ID == a.PatientID || actor.ID == a.ProviderID
}

// MaySet reports whether actor's side of the appointment may request to.
func MaySet(a *Appointment, actor Actor, to Status) bool {
	return settableBy[to]&partyOf(a, actor) != 0
}

// TransitionError describes a refused from→to change.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

// CheckTransition validates from→to against the lifecycle graph. Staying in
// the same state is always allowed and is a no-op for the status.
func CheckTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if from.Terminal() || !transitions[from][to] {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
