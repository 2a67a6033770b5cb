package careplan

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
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careportal/portal/internal/platform/db"
	"github.com/careportal/portal/pkg/caldate"
)

var dialect = goqu.Dialect("postgres")

type goalRepoPG struct{ pool *pgxpool.Pool }

func NewGoalRepoPG(pool *pgxpool.Pool) GoalRepository {
	return &goalRepoPG{pool: pool}
}

func (r *goalRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const goalCols = `id, patient_id, provider_id, title, description, target_value,
	current_value, unit, frequency, status, start_date, end_date, created_at, updated_at`

// qualified prefixes every column in a comma-separated list with alias.
func qualified(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanGoal(row pgx.Row, extra ...any) (*Goal, error) {
	var (
		g   Goal
		end *time.Time
	)
	dest := []any{&g.ID, &g.PatientID, &g.ProviderID, &g.Title, &g.Description, &g.TargetValue,
		&g.CurrentValue, &g.Unit, &g.Frequency, &g.Status, &g.StartDate, &end, &g.CreatedAt, &g.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.EndDate = caldate.FromTime(end)
	return &g, nil
}

func (r *goalRepoPG) Create(ctx context.Context, g *Goal) error {
	g.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO goals (id, patient_id, provider_id, title, description, target_value,
			current_value, unit, frequency, status, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`,
		g.ID, g.PatientID, g.ProviderID, g.Title, g.Description, g.TargetValue,
		g.CurrentValue, g.Unit, g.Frequency, g.Status, g.StartDate, g.EndDate.TimePtr(),
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *goalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Goal, error) {
	return scanGoal(r.conn(ctx).QueryRow(ctx, `SELECT `+goalCols+` FROM goals WHERE id = $1`, id))
}

// RecordProgress runs as a single statement so concurrent submissions are
// serialized by the row lock and none is lost.
func (r *goalRepoPG) RecordProgress(ctx context.Context, id uuid.UUID, value float64, note *string) (*Goal, error) {
	return scanGoal(r.conn(ctx).QueryRow(ctx, `
		WITH updated AS (
			UPDATE goals SET
				current_value = current_value + $2::double precision,
				status = CASE
					WHEN status = 'active' AND current_value + $2::double precision >= target_value THEN 'completed'
					ELSE status END,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+goalCols+`
		), logged AS (
			INSERT INTO goal_progress (goal_id, value, note)
			SELECT id, $2::double precision, $3 FROM updated
		)
		SELECT `+goalCols+` FROM updated`, id, value, note))
}

func (r *goalRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status Status) (*Goal, error) {
	return scanGoal(r.conn(ctx).QueryRow(ctx, `
		UPDATE goals SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+goalCols, id, status))
}

func (r *goalRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM goals WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns goals newest first with both party names.
func (r *goalRepoPG) List(ctx context.Context, f ListFilter) ([]*Goal, int, error) {
	var where []goqu.Expression
	if f.PatientID != nil {
		where = append(where, goqu.I("g.patient_id").Eq(*f.PatientID))
	}
	if f.ProviderID != nil {
		where = append(where, goqu.I("g.provider_id").Eq(*f.ProviderID))
	}
	if f.Status != "" {
		where = append(where, goqu.I("g.status").Eq(string(f.Status)))
	}

	countSQL, countArgs, err := dialect.From(goqu.T("goals").As("g")).
		Select(goqu.COUNT(goqu.Star())).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build goal count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := dialect.From(goqu.T("goals").As("g")).
		Select(goqu.L(qualified("g", goalCols)), goqu.I("pt.name"), goqu.I("pr.name")).
		Join(goqu.T("users").As("pt"), goqu.On(goqu.I("pt.id").Eq(goqu.I("g.patient_id")))).
		Join(goqu.T("users").As("pr"), goqu.On(goqu.I("pr.id").Eq(goqu.I("g.provider_id")))).
		Where(where...).
		Order(goqu.I("g.created_at").Desc(), goqu.I("g.id").Desc()).
		Limit(uint(f.Limit)).Offset(uint(f.Offset)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build goal list: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Goal{}
	for rows.Next() {
		var patientName, providerName string
		g, err := scanGoal(rows, &patientName, &providerName)
		if err != nil {
			return nil, 0, err
		}
		g.PatientName, g.ProviderName = patientName, providerName
		items = append(items, g)
	}
	return items, total, rows.Err()
}

func (r *goalRepoPG) Progress(ctx context.Context, goalIDs []uuid.UUID) (map[uuid.UUID][]ProgressEntry, error) {
	out := make(map[uuid.UUID][]ProgressEntry, len(goalIDs))
	if len(goalIDs) == 0 {
		return out, nil
	}
	ids := make([]interface{}, len(goalIDs))
	for i, id := range goalIDs {
		ids[i] = id.String()
	}

	query, args, err := dialect.From("goal_progress").
		Select("goal_id", "recorded_at", "value", "note").
		Where(goqu.C("goal_id").In(ids...)).
		Order(goqu.C("goal_id").Asc(), goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build progress query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			goalID uuid.UUID
			e      ProgressEntry
		)
		if err := rows.Scan(&goalID, &e.Date, &e.Value, &e.Note); err != nil {
			return nil, err
		}
		out[goalID] = append(out[goalID], e)
	}
	return out, rows.Err()
}

func (r *goalRepoPG) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND role = 'patient')`, id).Scan(&ok)
	return ok, err
}
