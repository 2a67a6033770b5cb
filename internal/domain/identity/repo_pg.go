package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, name, email, password_hash, role,
	date_of_birth, phone_number, allergies, medications, conditions,
	blood_type, height_cm, weight_kg,
	specialty, license_number, clinic, bio, available_hours,
	profile_completed, max_patients, current_patients, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var (
		u   User
		dob *time.Time
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role,
		&dob, &u.PhoneNumber, &u.Allergies, &u.Medications, &u.Conditions,
		&u.BloodType, &u.HeightCm, &u.WeightKg,
		&u.Specialty, &u.LicenseNumber, &u.Clinic, &u.Bio, &u.AvailableHours,
		&u.ProfileCompleted, &u.MaxPatients, &u.CurrentPatients, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.DateOfBirth = caldate.FromTime(dob)
	return &u, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role,
			specialty, license_number, max_patients)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role,
		u.Specialty, u.LicenseNumber, u.MaxPatients,
	).Scan(&u.CreatedAt, &u.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

// UpdateProfile writes the editable profile fields. The capacity guard runs
// in the same statement so a concurrent confirmation cannot push
// current_patients above the new ceiling.
func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET name=$2, date_of_birth=$3, phone_number=$4,
			allergies=$5, medications=$6, conditions=$7,
			blood_type=$8, height_cm=$9, weight_kg=$10,
			specialty=$11, license_number=$12, clinic=$13, bio=$14, available_hours=$15,
			profile_completed=$16, max_patients=$17, updated_at=NOW()
		WHERE id = $1 AND current_patients <= $17
		RETURNING current_patients, updated_at`,
		u.ID, u.Name, u.DateOfBirth.TimePtr(), u.PhoneNumber,
		emptyIfNil(u.Allergies), emptyIfNil(u.Medications), emptyIfNil(u.Conditions),
		u.BloodType, u.HeightCm, u.WeightKg,
		u.Specialty, u.LicenseNumber, u.Clinic, u.Bio, u.AvailableHours,
		u.ProfileCompleted, u.MaxPatients,
	).Scan(&u.CurrentPatients, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, u.ID).Scan(&exists); qerr != nil {
			return qerr
		}
		if !exists {
			return ErrNotFound
		}
		return ErrCapacityBelowLoad
	}
	return err
}

func (r *userRepoPG) ListAcceptingProviders(ctx context.Context, specialty string) ([]*ProviderListing, error) {
	ds := dialect.From("users").
		Select("id", "name", "specialty", "clinic", "bio", "available_hours",
			"max_patients", "current_patients").
		Where(
			goqu.Ex{"role": "provider", "profile_completed": true},
			goqu.C("current_patients").Lt(goqu.C("max_patients")),
		)
	if specialty = strings.TrimSpace(specialty); specialty != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.C("specialty")).Eq(strings.ToLower(specialty)))
	}
	ds = ds.Order(goqu.I("name").Asc(), goqu.I("id").Asc())

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build provider directory query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*ProviderListing{}
	for rows.Next() {
		var p ProviderListing
		if err := rows.Scan(&p.ID, &p.Name, &p.Specialty, &p.Clinic, &p.Bio, &p.AvailableHours,
			&p.MaxPatients, &p.CurrentPatients); err != nil {
			return nil, err
		}
		p.AvailableSlots = p.MaxPatients - p.CurrentPatients
		items = append(items, &p)
	}
	return items, rows.Err()
}
