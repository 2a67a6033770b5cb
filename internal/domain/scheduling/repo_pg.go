package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careportal/portal/internal/platform/db"
	"github.com/careportal/portal/pkg/caldate"
)

var dialect = goqu.Dialect("postgres")

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const apptCols = `a.id, a.patient_id, a.provider_id, a.status, a.appointment_date,
	a.appointment_time, a.type, a.patient_notes, a.provider_notes, a.created_at, a.updated_at`

func scanAppt(row pgx.Row, extra ...any) (*Appointment, error) {
	var (
		a    Appointment
		date *time.Time
	)
	dest := []any{&a.ID, &a.PatientID, &a.ProviderID, &a.Status, &date,
		&a.AppointmentTime, &a.Type, &a.PatientNotes, &a.ProviderNotes, &a.CreatedAt, &a.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.AppointmentDate = caldate.FromTime(date)
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, provider_id, status,
			appointment_date, appointment_time, type, patient_notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.ProviderID, a.Status,
		a.AppointmentDate.TimePtr(), a.AppointmentTime, a.Type, a.PatientNotes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrOutstanding
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments a WHERE a.id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status=$2, patient_notes=$3, provider_notes=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Status, a.PatientNotes, a.ProviderNotes,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrOutstanding
	}
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoPG) HasOutstanding(ctx context.Context, patientID, providerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE patient_id = $1 AND provider_id = $2 AND status IN ('pending', 'confirmed')
		)`, patientID, providerID).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, f ListFilter) ([]*Appointment, int, error) {
	return r.list(ctx, "a.patient_id", patientID, f)
}

func (r *appointmentRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, f ListFilter) ([]*Appointment, int, error) {
	return r.list(ctx, "a.provider_id", providerID, f)
}

// list returns one side's appointments, newest first, with both party names.
func (r *appointmentRepoPG) list(ctx context.Context, ownerCol string, ownerID uuid.UUID, f ListFilter) ([]*Appointment, int, error) {
	where := []goqu.Expression{goqu.I(ownerCol).Eq(ownerID)}
	if f.Status != "" {
		where = append(where, goqu.I("a.status").Eq(string(f.Status)))
	}

	countSQL, countArgs, err := dialect.From(goqu.T("appointments").As("a")).
		Select(goqu.COUNT(goqu.Star())).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := dialect.From(goqu.T("appointments").As("a")).
		Select(goqu.L(apptCols), goqu.I("pt.name"), goqu.I("pr.name")).
		Join(goqu.T("users").As("pt"), goqu.On(goqu.I("pt.id").Eq(goqu.I("a.patient_id")))).
		Join(goqu.T("users").As("pr"), goqu.On(goqu.I("pr.id").Eq(goqu.I("a.provider_id")))).
		Where(where...).
		Order(goqu.I("a.created_at").Desc(), goqu.I("a.id").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment list: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		var patientName, providerName string
		a, err := scanAppt(rows, &patientName, &providerName)
		if err != nil {
			return nil, 0, err
		}
		a.PatientName, a.ProviderName = patientName, providerName
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListConfirmedPatients(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*PatientSummary, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT patient_id) FROM appointments
		WHERE provider_id = $1 AND status = 'confirmed'`, providerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT u.id, u.name, u.email, u.date_of_birth, u.phone_number, MIN(a.created_at) AS since
		FROM appointments a
		JOIN users u ON u.id = a.patient_id
		WHERE a.provider_id = $1 AND a.status = 'confirmed'
		GROUP BY u.id, u.name, u.email, u.date_of_birth, u.phone_number
		ORDER BY u.name, u.id
		LIMIT $2 OFFSET $3`, providerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*PatientSummary{}
	for rows.Next() {
		var (
			p   PatientSummary
			dob *time.Time
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &dob, &p.PhoneNumber, &p.ConfirmedSince); err != nil {
			return nil, 0, err
		}
		p.DateOfBirth = caldate.FromTime(dob)
		items = append(items, &p)
	}
	return items, total, rows.Err()
}

// =========== Capacity Repository ===========

type capacityRepoPG struct{ pool *pgxpool.Pool }

func NewCapacityRepoPG(pool *pgxpool.Pool) CapacityRepository {
	return &capacityRepoPG{pool: pool}
}

func (r *capacityRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *capacityRepoPG) GetProvider(ctx context.Context, id uuid.UUID) (*ProviderLoad, error) {
	var p ProviderLoad
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, max_patients, current_patients
		FROM users WHERE id = $1 AND role = 'provider'`, id,
	).Scan(&p.ID, &p.Name, &p.MaxPatients, &p.CurrentPatients)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *capacityRepoPG) Increment(ctx context.Context, providerID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET current_patients = current_patients + 1, updated_at = NOW()
		WHERE id = $1 AND role = 'provider' AND current_patients < max_patients`, providerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCapacityFull
	}
	return nil
}

func (r *capacityRepoPG) Decrement(ctx context.Context, providerID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET current_patients = GREATEST(current_patients - 1, 0), updated_at = NOW()
		WHERE id = $1 AND role = 'provider'`, providerID)
	return err
}

func (r *capacityRepoPG) Reconcile(ctx context.Context) ([]Drift, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH actual AS (
			SELECT u.id, u.current_patients AS stored,
				(SELECT COUNT(*) FROM appointments a
				 WHERE a.provider_id = u.id AND a.status = 'confirmed')::int AS actual
			FROM users u
			WHERE u.role = 'provider'
		)
		UPDATE users SET current_patients = actual.actual, updated_at = NOW()
		FROM actual
		WHERE users.id = actual.id AND actual.stored <> actual.actual
		RETURNING users.id, actual.stored, actual.actual`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drifts := []Drift{}
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProviderID, &d.Stored, &d.Actual); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}
