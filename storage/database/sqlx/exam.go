package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/exam"
)

type examRow struct {
	ID              string    `db:"id"`
	SchoolID        string    `db:"school_id"`
	ClassID         string    `db:"class_id"`
	Subject         string    `db:"subject"`
	Title           string    `db:"title"`
	ExamDate        core.Date `db:"exam_date"`
	StartTime       string    `db:"start_time"`
	DurationMinutes int       `db:"duration_minutes"`
	Room            string    `db:"room"`
	MaxScore        float64   `db:"max_score"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

type resultRow struct {
	ExamID    string    `db:"exam_id"`
	StudentID string    `db:"student_id"`
	Score     float64   `db:"score"`
	Note      string    `db:"note"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var (
	examColumns = []string{
		"id", "school_id", "class_id", "subject", "title", "exam_date", "start_time", "duration_minutes", "room", "max_score",
		"status", "created_at", "updated_at",
	}
	resultColumns = []string{"exam_id", "student_id", "score", "note", "created_at", "updated_at"}
	examOrdering  = map[string]string{
		"exam_date":  "exam_date",
		"subject":    "subject",
		"title":      "title",
		"status":     "status",
		"created_at": "created_at",
	}
)

func (r examRow) exam() exam.Exam {
	return exam.Exam{
		ID:              r.ID,
		SchoolID:        r.SchoolID,
		ClassID:         r.ClassID,
		Subject:         r.Subject,
		Title:           r.Title,
		ExamDate:        r.ExamDate,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Room:            r.Room,
		MaxScore:        r.MaxScore,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toExamRow(e exam.Exam) examRow {
	return examRow{
		ID:              e.ID,
		SchoolID:        e.SchoolID,
		ClassID:         e.ClassID,
		Subject:         e.Subject,
		Title:           e.Title,
		ExamDate:        e.ExamDate,
		StartTime:       e.StartTime,
		DurationMinutes: e.DurationMinutes,
		Room:            e.Room,
		MaxScore:        e.MaxScore,
		Status:          e.Status,
		CreatedAt:       e.CreatedAt.UTC(),
		UpdatedAt:       e.UpdatedAt.UTC(),
	}
}

type examRepository struct {
	repository
}

var _ exam.Repository = (*examRepository)(nil)

func NewExamRepository(exec core.DBExecutor) *examRepository {
	return &examRepository{repository{exec: exec}}
}

func (repo examRepository) CreateExam(ctx context.Context, e exam.Exam) (exam.Exam, error) {
	e.ID = newID()
	if err := repo.insert(ctx, "exams", examColumns, toExamRow(e)); err != nil {
		return exam.Exam{}, errors.Wrap(err, "inserting exam")
	}
	return e, nil
}

func (repo examRepository) QueryExams(ctx context.Context, filter *exam.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]exam.Exam, error) {
	q := psql.Select(examColumns...).From("exams")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "title", "subject"))
		}
		if filter.ClassID != "" {
			q = q.Where(idEq("class_id", filter.ClassID))
		}
		if filter.Subject != "" {
			q = q.Where(sq.Eq{"subject": filter.Subject})
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.From.IsZero() {
			q = q.Where(sq.GtOrEq{"exam_date": filter.From})
		}
		if !filter.To.IsZero() {
			q = q.Where(sq.LtOrEq{"exam_date": filter.To})
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.ClassIDs != nil {
			q = q.Where(sq.Eq{"class_id": filter.ClassIDs})
		}
	}
	q = paginate(orderBy(q, ordering, examOrdering, "exam_date ASC, start_time ASC"), page)

	var rows []examRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying exams")
	}
	list := make([]exam.Exam, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.exam())
	}
	return list, nil
}

func (repo examRepository) GetExamByID(ctx context.Context, id string) (exam.Exam, error) {
	if !validID(id) {
		return exam.Exam{}, exam.ErrNotFound
	}
	var row examRow
	if err := repo.getOne(ctx, &row, psql.Select(examColumns...).From("exams").Where(sq.Eq{"id": id})); err != nil {
		return exam.Exam{}, trapNoRowsErr(err, exam.ErrNotFound, "finding exam")
	}
	return row.exam(), nil
}

func (repo examRepository) UpdateExam(ctx context.Context, e exam.Exam) (exam.Exam, error) {
	found, err := repo.update(ctx, "exams", examColumns, toExamRow(e))
	if err != nil {
		return exam.Exam{}, errors.Wrap(err, "updating exam")
	}
	if !found {
		return exam.Exam{}, exam.ErrNotFound
	}
	return e, nil
}

func (repo examRepository) DeleteExam(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "exams", id, exam.ErrNotFound)
}

func (repo examRepository) UpsertResults(ctx context.Context, results []exam.Result, exec ...core.DBExecutor) ([]exam.Result, error) {
	if len(results) == 0 {
		return nil, nil
	}
	q := psql.Insert("exam_results").Columns(resultColumns...)
	for _, r := range results {
		q = q.Values(r.ExamID, r.StudentID, r.Score, r.Note, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	}
	q = q.Suffix("ON CONFLICT (exam_id, student_id) DO UPDATE SET " +
		"score = EXCLUDED.score, note = EXCLUDED.note, updated_at = EXCLUDED.updated_at " +
		"RETURNING " + joinColumns(resultColumns))

	var rows []resultRow
	if err := repo.selectAll(ctx, &rows, q, exec...); err != nil {
		return nil, errors.Wrap(err, "upserting results")
	}
	return toResults(rows), nil
}

func toResults(rows []resultRow) []exam.Result {
	list := make([]exam.Result, 0, len(rows))
	for _, r := range rows {
		list = append(list, exam.Result(r))
	}
	return list
}

func (repo examRepository) QueryResults(ctx context.Context, filter *exam.ResultFilter) ([]exam.Result, error) {
	q := psql.Select(prefixed("r", resultColumns)...).
		From("exam_results r").
		Join("exams e ON e.id = r.exam_id").
		OrderBy("e.exam_date DESC")
	if filter != nil {
		if filter.ExamID != "" {
			q = q.Where(idEq("r.exam_id", filter.ExamID))
		}
		if filter.StudentID != "" {
			q = q.Where(idEq("r.student_id", filter.StudentID))
		}
	}

	var rows []resultRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	return toResults(rows), nil
}

func (repo examRepository) DeleteResult(ctx context.Context, examID, studentID string) error {
	res, err := repo.execute(ctx, psql.Delete("exam_results").Where(sq.Eq{"exam_id": examID, "student_id": studentID}))
	if err != nil {
		return errors.Wrap(err, "deleting result")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NewNotFoundError("exam result")
	}
	return nil
}

func (repo examRepository) Stats(ctx context.Context, e exam.Exam) (exam.Stats, error) {
	q := psql.Select(
		"COUNT(*) AS count",
		"AVG(score) AS average",
		"MIN(score) AS min",
		"MAX(score) AS max",
	).Column(sq.Expr("COUNT(*) FILTER (WHERE score >= ?) AS passed", e.MaxScore/2)).
		From("exam_results").
		Where(sq.Eq{"exam_id": e.ID})

	var stats exam.Stats
	err := repo.getOne(ctx, &stats, q)
	return stats, errors.Wrap(err, "computing exam stats")
}
