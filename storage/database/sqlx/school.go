package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/school"
)

type schoolRow struct {
	ID          string      `db:"id"`
	Name        string      `db:"name"`
	Code        string      `db:"code"`
	Address     string      `db:"address"`
	Phone       string      `db:"phone"`
	PrincipalID null.String `db:"principal_id"`
	IsActive    bool        `db:"is_active"`
	TrialEndsAt time.Time   `db:"trial_ends_at"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

var (
	schoolColumns  = []string{"id", "name", "code", "address", "phone", "principal_id", "is_active", "trial_ends_at", "created_at", "updated_at"}
	schoolOrdering = map[string]string{"name": "name", "code": "code", "created_at": "created_at"}
)

func toSchoolRow(s school.School) schoolRow {
	return schoolRow{
		ID:          s.ID,
		Name:        s.Name,
		Code:        s.Code,
		Address:     s.Address,
		Phone:       s.Phone,
		PrincipalID: nullString(s.PrincipalID),
		IsActive:    s.IsActive,
		TrialEndsAt: s.TrialEndsAt.UTC(),
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   s.UpdatedAt.UTC(),
	}
}

func (r schoolRow) school() school.School {
	return school.School{
		ID:          r.ID,
		Name:        r.Name,
		Code:        r.Code,
		Address:     r.Address,
		Phone:       r.Phone,
		PrincipalID: r.PrincipalID.String,
		IsActive:    r.IsActive,
		TrialEndsAt: r.TrialEndsAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type schoolRepository struct {
	repository
}

var _ school.Repository = (*schoolRepository)(nil)

func NewSchoolRepository(exec core.DBExecutor) *schoolRepository {
	return &schoolRepository{repository{exec: exec}}
}

func (repo schoolRepository) CheckCodeUniqueness(ctx context.Context, code, excludedID string) error {
	q := psql.Select("true").From("schools").Where(sq.Eq{"code": code})
	if excludedID != "" {
		q = q.Where(sq.NotEq{"id": excludedID})
	}
	var found []bool
	if err := repo.selectAll(ctx, &found, q.Limit(1)); err != nil {
		return errors.Wrap(err, "checking school code")
	}
	if len(found) > 0 {
		return school.ErrCodeExists
	}
	return nil
}

func (repo schoolRepository) CreateSchool(ctx context.Context, s school.School) (school.School, error) {
	s.ID = newID()
	if err := repo.insert(ctx, "schools", schoolColumns, toSchoolRow(s)); err != nil {
		return school.School{}, errors.Wrap(err, "inserting school")
	}
	return s, nil
}

func (repo schoolRepository) QuerySchools(ctx context.Context, filter *school.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]school.School, error) {
	q := psql.Select(schoolColumns...).From("schools")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "name", "code"))
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	q = paginate(orderBy(q, ordering, schoolOrdering, "name ASC"), page)

	var rows []schoolRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying schools")
	}
	schools := make([]school.School, 0, len(rows))
	for _, r := range rows {
		schools = append(schools, r.school())
	}
	return schools, nil
}

func (repo schoolRepository) getSchool(ctx context.Context, where sq.Eq) (school.School, error) {
	var row schoolRow
	if err := repo.getOne(ctx, &row, psql.Select(schoolColumns...).From("schools").Where(where)); err != nil {
		return school.School{}, trapNoRowsErr(err, school.ErrNotFound, "finding school")
	}
	return row.school(), nil
}

func (repo schoolRepository) GetSchoolByID(ctx context.Context, id string) (school.School, error) {
	if !validID(id) {
		return school.School{}, school.ErrNotFound
	}
	return repo.getSchool(ctx, sq.Eq{"id": id})
}

func (repo schoolRepository) GetSchoolByCode(ctx context.Context, code string) (school.School, error) {
	return repo.getSchool(ctx, sq.Eq{"code": code})
}

func (repo schoolRepository) UpdateSchool(ctx context.Context, s school.School) (school.School, error) {
	found, err := repo.update(ctx, "schools", schoolColumns, toSchoolRow(s))
	if err != nil {
		return school.School{}, errors.Wrap(err, "updating school")
	}
	if !found {
		return school.School{}, school.ErrNotFound
	}
	return s, nil
}

func (repo schoolRepository) DeleteSchool(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "schools", id, school.ErrNotFound)
}

const dashboardQuery = `
SELECT
    (SELECT COUNT(*) FROM users WHERE school_id = $1 AND EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE 'student:%'))  AS students,
    (SELECT COUNT(*) FROM users WHERE school_id = $1 AND EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE 'teacher:%'))  AS teachers,
    (SELECT COUNT(*) FROM users WHERE school_id = $1 AND EXISTS (SELECT 1 FROM UNNEST(roles) r WHERE r LIKE 'parent:%'))   AS parents,
    (SELECT COUNT(*) FROM classes WHERE school_id = $1)                                                                  AS classes,
    (SELECT COUNT(*) FROM assignments WHERE school_id = $1 AND status = 'published')                                     AS open_assignments,
    (SELECT COUNT(*) FROM exams WHERE school_id = $1 AND status = 'scheduled' AND exam_date >= $2)                       AS upcoming_exams,
    (SELECT COUNT(*) FROM attendance WHERE school_id = $1 AND date = $2 AND status = 'absent')                           AS today_absences,
    (SELECT COUNT(*) FROM absence_justifications WHERE school_id = $1 AND status = 'pending')                            AS pending_justifications,
    (SELECT COALESCE(SUM(amount), 0) FROM tuition_notices WHERE school_id = $1 AND status IN ('issued', 'sent'))         AS unpaid_tuition
`

// Dashboard binds the aggregate row with sqlboiler's raw queries.
func (repo schoolRepository) Dashboard(ctx context.Context, schoolID string, today core.Date) (school.Dashboard, error) {
	var d school.Dashboard
	exec, ok := repo.exec.(boil.ContextExecutor)
	if !ok {
		return d, errors.New("dashboard needs a database handle")
	}
	if !validID(schoolID) {
		return d, school.ErrNotFound
	}
	err := queries.Raw(dashboardQuery, schoolID, today.Time).Bind(ctx, exec, &d)
	return d, errors.Wrap(err, "querying dashboard")
}
