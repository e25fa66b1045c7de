package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type classRow struct {
	ID           string      `db:"id"`
	SchoolID     string      `db:"school_id"`
	Name         string      `db:"name"`
	Grade        int         `db:"grade"`
	AcademicYear string      `db:"academic_year"`
	TeacherID    null.String `db:"teacher_id"`
	Capacity     int         `db:"capacity"`
	StudentCount int         `db:"student_count"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

var (
	classColumns  = []string{"id", "school_id", "name", "grade", "academic_year", "teacher_id", "capacity", "created_at", "updated_at"}
	classSelect   = append(prefixed("classes", classColumns), "(SELECT COUNT(*) FROM class_students cs WHERE cs.class_id = classes.id) AS student_count")
	classOrdering = map[string]string{
		"name":          "classes.name",
		"grade":         "classes.grade",
		"academic_year": "classes.academic_year",
		"created_at":    "classes.created_at",
	}
)

func prefixed(table string, columns []string) []string {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, table+"."+c)
	}
	return cols
}

func toClassRow(c classroom.Class) classRow {
	return classRow{
		ID:           c.ID,
		SchoolID:     c.SchoolID,
		Name:         c.Name,
		Grade:        c.Grade,
		AcademicYear: c.AcademicYear,
		TeacherID:    nullString(c.TeacherID),
		Capacity:     c.Capacity,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

func (r classRow) class() classroom.Class {
	return classroom.Class{
		ID:           r.ID,
		SchoolID:     r.SchoolID,
		Name:         r.Name,
		Grade:        r.Grade,
		AcademicYear: r.AcademicYear,
		TeacherID:    r.TeacherID.String,
		Capacity:     r.Capacity,
		StudentCount: r.StudentCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type classRepository struct {
	repository
}

var _ classroom.Repository = (*classRepository)(nil)

func NewClassRepository(exec core.DBExecutor) *classRepository {
	return &classRepository{repository{exec: exec}}
}

func (repo classRepository) CheckNameUniqueness(ctx context.Context, schoolID, name, academicYear, excludedID string) error {
	q := psql.Select("true").From("classes").
		Where(sq.Eq{"school_id": schoolID, "academic_year": academicYear}).
		Where("LOWER(name) = LOWER(?)", name)
	if excludedID != "" {
		q = q.Where(sq.NotEq{"id": excludedID})
	}
	var found []bool
	if err := repo.selectAll(ctx, &found, q.Limit(1)); err != nil {
		return errors.Wrap(err, "checking class name")
	}
	if len(found) > 0 {
		return classroom.ErrNameExists
	}
	return nil
}

func (repo classRepository) CreateClass(ctx context.Context, c classroom.Class) (classroom.Class, error) {
	c.ID = newID()
	if err := repo.insert(ctx, "classes", classColumns, toClassRow(c)); err != nil {
		return classroom.Class{}, errors.Wrap(err, "inserting class")
	}
	return c, nil
}

func (repo classRepository) QueryClasses(ctx context.Context, filter *classroom.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]classroom.Class, error) {
	q := psql.Select(classSelect...).From("classes")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "classes.name"))
		}
		if filter.Grade != 0 {
			q = q.Where(sq.Eq{"classes.grade": filter.Grade})
		}
		if filter.AcademicYear != "" {
			q = q.Where(sq.Eq{"classes.academic_year": filter.AcademicYear})
		}
		if filter.TeacherID != "" {
			q = q.Where(idEq("classes.teacher_id", filter.TeacherID))
		}
		if filter.StudentID != "" && !validID(filter.StudentID) {
			q = q.Where(sq.Expr("FALSE"))
		} else if filter.StudentID != "" {
			q = q.Where("EXISTS (SELECT 1 FROM class_students cs WHERE cs.class_id = classes.id AND cs.student_id = ?)", filter.StudentID)
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"classes.school_id": filter.SchoolID})
		}
	}
	q = paginate(orderBy(q, ordering, classOrdering, "classes.academic_year DESC, classes.grade ASC, classes.name ASC"), page)

	var rows []classRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying classes")
	}
	classes := make([]classroom.Class, 0, len(rows))
	for _, r := range rows {
		classes = append(classes, r.class())
	}
	return classes, nil
}

func (repo classRepository) GetClassByID(ctx context.Context, id string, exec ...core.DBExecutor) (classroom.Class, error) {
	if !validID(id) {
		return classroom.Class{}, classroom.ErrNotFound
	}
	var row classRow
	if err := repo.getOne(ctx, &row, psql.Select(classSelect...).From("classes").Where(sq.Eq{"classes.id": id}), exec...); err != nil {
		return classroom.Class{}, trapNoRowsErr(err, classroom.ErrNotFound, "finding class")
	}
	return row.class(), nil
}

func (repo classRepository) UpdateClass(ctx context.Context, c classroom.Class) (classroom.Class, error) {
	found, err := repo.update(ctx, "classes", classColumns, toClassRow(c))
	if err != nil {
		return classroom.Class{}, errors.Wrap(err, "updating class")
	}
	if !found {
		return classroom.Class{}, classroom.ErrNotFound
	}
	return c, nil
}

func (repo classRepository) DeleteClass(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "classes", id, classroom.ErrNotFound)
}

func (repo classRepository) LockClass(ctx context.Context, id string, exec core.DBExecutor) error {
	var locked string
	q := psql.Select("id").From("classes").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE")
	if err := repo.getOne(ctx, &locked, q, exec); err != nil {
		return trapNoRowsErr(err, classroom.ErrNotFound, "locking class")
	}
	return nil
}

func (repo classRepository) EnrollStudents(ctx context.Context, classID string, studentIDs []string, at time.Time, exec ...core.DBExecutor) error {
	if len(studentIDs) == 0 {
		return nil
	}
	q := psql.Insert("class_students").Columns("class_id", "student_id", "enrolled_at")
	for _, id := range studentIDs {
		q = q.Values(classID, id, at.UTC())
	}
	_, err := repo.execute(ctx, q.Suffix("ON CONFLICT (class_id, student_id) DO NOTHING"), exec...)
	return errors.Wrap(err, "enrolling students")
}

func (repo classRepository) UnenrollStudent(ctx context.Context, classID, studentID string) error {
	q := psql.Delete("class_students").Where(sq.Eq{"class_id": classID, "student_id": studentID})
	res, err := repo.execute(ctx, q)
	if err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewNotFoundError("enrollment")
	}
	return nil
}

func (repo classRepository) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	ids, err := repo.FilterEnrolled(ctx, classID, []string{studentID})
	return len(ids) > 0, err
}

func (repo classRepository) FilterEnrolled(ctx context.Context, classID string, studentIDs []string, exec ...core.DBExecutor) ([]string, error) {
	if !validID(classID) || len(studentIDs) == 0 {
		return nil, nil
	}
	valid := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	var ids []string
	q := psql.Select("student_id").From("class_students").Where(sq.Eq{"class_id": classID, "student_id": valid})
	if err := repo.selectAll(ctx, &ids, q, exec...); err != nil {
		return nil, errors.Wrap(err, "filtering enrolled students")
	}
	return ids, nil
}

func (repo classRepository) QueryStudents(ctx context.Context, classID string) ([]user.User, error) {
	q := psql.Select(prefixed("u", userColumns)...).
		From("users u").
		Join("class_students cs ON cs.student_id = u.id").
		Where(sq.Eq{"cs.class_id": classID}).
		OrderBy("u.name ASC")

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying class students")
	}
	return toUsers(rows), nil
}
