package scheduling

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/careportal/portal/internal/platform/auth"
)

func TestParseSettableStatus(t *testing.T) {
	for _, raw := range []string{"confirmed", "rejected", "cancelled", "completed"} {
		if _, ok := ParseSettableStatus(raw); !ok {
			t.Errorf("expected %q to be settable", raw)
		}
	}
	for _, raw := range []string{"pending", "", "Confirmed", "archived"} {
		if _, ok := ParseSettableStatus(raw); ok {
			t.Errorf("expected %q to be refused", raw)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusRejected, true},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusRejected, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, true},
	}
	for _, tt := range tests {
		err := CheckTransition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok {
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Errorf("%s -> %s: expected TransitionError, got %v", tt.from, tt.to, err)
			}
		}
	}
}

func TestMaySet(t *testing.T) {
	patient, provider := uuid.New(), uuid.New()
	a := &Appointment{PatientID: patient, ProviderID: provider}
	asPatient := Actor{ID: patient, Role: auth.RolePatient}
	asProvider := Actor{ID: provider, Role: auth.RoleProvider}

	for _, to := range []Status{StatusConfirmed, StatusRejected, StatusCompleted} {
		if MaySet(a, asPatient, to) {
			t.Errorf("patient must not set %s", to)
		}
		if !MaySet(a, asProvider, to) {
			t.Errorf("provider should set %s", to)
		}
	}
	if !MaySet(a, asPatient, StatusCancelled) || !MaySet(a, asProvider, StatusCancelled) {
		t.Error("either party should cancel")
	}

	// A provider id without the provider role does not act as the provider.
	impostor := Actor{ID: provider, Role: auth.RolePatient}
	if MaySet(a, impostor, StatusConfirmed) {
		t.Error("provider side requires the provider role")
	}
	stranger := Actor{ID: uuid.New(), Role: auth.RoleProvider}
	if IsParty(a, stranger) || MaySet(a, stranger, StatusCancelled) {
		t.Error("stranger must not act on the appointment")
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusPending.Outstanding() || !StatusConfirmed.Outstanding() || StatusCompleted.Outstanding() {
		t.Error("unexpected Outstanding result")
	}
	if StatusPending.Terminal() || StatusConfirmed.Terminal() {
		t.Error("pending and confirmed are not terminal")
	}
	for _, s := range []Status{StatusRejected, StatusCancelled, StatusCompleted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("unknown status reported valid")
	}
}
