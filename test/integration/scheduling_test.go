//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/careportal/portal/internal/domain/scheduling"
	"github.com/careportal/portal/internal/platform/apperr"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/db"
)

func patientActor(id uuid.UUID) scheduling.Actor {
	return scheduling.Actor{ID: id, Role: auth.RolePatient}
}

func providerActor(id uuid.UUID) scheduling.Actor {
	return scheduling.Actor{ID: id, Role: auth.RoleProvider}
}

func book(t *testing.T, svc services, tenant string, patientID, providerID uuid.UUID) *scheduling.Appointment {
	t.Helper()
	var a *scheduling.Appointment
	mustInTenant(t, tenant, func(ctx context.Context) error {
		var err error
		a, err = svc.scheduling.BookAppointment(ctx, patientActor(patientID), scheduling.BookingRequest{ProviderID: providerID})
		return err
	})
	return a
}

func TestConfirmAtCapacityRollsBack(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 1, 0)
	first := book(t, svc, tenant, insertUser(t, tenant, "patient", 0, 0), doc)
	second := book(t, svc, tenant, insertUser(t, tenant, "patient", 0, 0), doc)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		_, err := svc.scheduling.UpdateAppointment(ctx, providerActor(doc), first.ID, scheduling.StatusUpdate{Status: "confirmed"})
		return err
	})

	err := inTenant(t, tenant, func(ctx context.Context) error {
		_, err := svc.scheduling.UpdateAppointment(ctx, providerActor(doc), second.ID, scheduling.StatusUpdate{Status: "confirmed"})
		return err
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	if got := counter(t, tenant, doc); got != 1 {
		t.Errorf("counter should stay at 1, got %d", got)
	}
	status := countRows(t, tenant, `SELECT COUNT(*) FROM appointments WHERE id = $1 AND status = 'pending'`, second.ID)
	if status != 1 {
		t.Error("refused confirmation must leave the appointment pending")
	}
}

func TestConcurrentConfirmsRespectCapacity(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 2, 0)

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		ids = append(ids, book(t, svc, tenant, insertUser(t, tenant, "patient", 0, 0), doc).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
		refused   int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			err := inTenant(t, tenant, func(ctx context.Context) error {
				_, err := svc.scheduling.UpdateAppointment(ctx, providerActor(doc), id, scheduling.StatusUpdate{Status: "confirmed"})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				confirmed++
			case apperr.KindOf(err) == apperr.KindConflict:
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if confirmed != 2 || refused != 4 {
		t.Errorf("expected 2 confirmed and 4 refused, got %d/%d", confirmed, refused)
	}
	if got := counter(t, tenant, doc); got != 2 {
		t.Errorf("expected counter 2, got %d", got)
	}
	rows := countRows(t, tenant, `SELECT COUNT(*) FROM appointments WHERE provider_id = $1 AND status = 'confirmed'`, doc)
	if rows != 2 {
		t.Errorf("expected 2 confirmed rows, got %d", rows)
	}
}

func TestConcurrentDuplicateBooking(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 5, 0)
	p := insertUser(t, tenant, "patient", 0, 0)

	const attempts = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := inTenant(t, tenant, func(ctx context.Context) error {
				<-start
				_, err := svc.scheduling.BookAppointment(ctx, patientActor(p), scheduling.BookingRequest{ProviderID: doc})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if created != 1 || conflicts != attempts-1 {
		t.Errorf("expected 1 booking and %d conflicts, got %d/%d", attempts-1, created, conflicts)
	}
	if n := countRows(t, tenant, `SELECT COUNT(*) FROM appointments WHERE patient_id = $1`, p); n != 1 {
		t.Errorf("expected one stored appointment, got %d", n)
	}
}

func TestOutstandingIndexAllowsRebookAfterTerminal(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 5, 0)
	p := insertUser(t, tenant, "patient", 0, 0)

	a := book(t, svc, tenant, p, doc)
	mustInTenant(t, tenant, func(ctx context.Context) error {
		_, err := svc.scheduling.UpdateAppointment(ctx, patientActor(p), a.ID, scheduling.StatusUpdate{Status: "cancelled"})
		return err
	})
	book(t, svc, tenant, p, doc)

	// A second outstanding row for the pair is refused by the index itself.
	err := inTenant(t, tenant, func(ctx context.Context) error {
		_, err := db.ConnFromContext(ctx).Exec(ctx, `
			INSERT INTO appointments (id, patient_id, provider_id, status) VALUES ($1, $2, $3, 'confirmed')`,
			uuid.New(), p, doc)
		return err
	})
	if err == nil {
		t.Fatal("expected the unique index to refuse a second outstanding appointment")
	}
}

func TestCounterFloorsAtZero(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 3, 0)

	mustInTenant(t, tenant, func(ctx context.Context) error {
		return svc.capacity.Decrement(ctx, doc)
	})
	if got := counter(t, tenant, doc); got != 0 {
		t.Errorf("expected counter to stay at 0, got %d", got)
	}

	full := insertUser(t, tenant, "provider", 1, 1)
	err := inTenant(t, tenant, func(ctx context.Context) error {
		return svc.capacity.Increment(ctx, full)
	})
	if !errors.Is(err, scheduling.ErrCapacityFull) {
		t.Errorf("expected ErrCapacityFull, got %v", err)
	}
}

func TestReconcileRepairsSeededDrift(t *testing.T) {
	tenant := newTenant(t)
	svc := newServices()
	doc := insertUser(t, tenant, "provider", 10, 5)
	steady := insertUser(t, tenant, "provider", 10, 1)

	seed := func(providerID uuid.UUID, status string) {
		patientID := insertUser(t, tenant, "patient", 0, 0)
		mustInTenant(t, tenant, func(ctx context.Context) error {
			_, err := db.ConnFromContext(ctx).Exec(ctx, `
				INSERT INTO appointments (id, patient_id, provider_id, status) VALUES ($1, $2, $3, $4)`,
				uuid.New(), patientID, providerID, status)
			return err
		})
	}
	seed(doc, "confirmed")
	seed(doc, "completed")
	seed(doc, "pending")
	seed(steady, "confirmed")

	drifts, err := svc.reconciler.Run(db.WithTenant(context.Background(), tenant))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(drifts) != 1 || drifts[0].ProviderID != doc || drifts[0].Stored != 5 || drifts[0].Actual != 1 {
		t.Fatalf("unexpected drifts %+v", drifts)
	}
	if got := counter(t, tenant, doc); got != 1 {
		t.Errorf("expected counter repaired to 1, got %d", got)
	}
	if got := counter(t, tenant, steady); got != 1 {
		t.Errorf("steady provider changed to %d", got)
	}
}
