package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/assignment"
)

type assignmentRow struct {
	ID          string    `db:"id"`
	SchoolID    string    `db:"school_id"`
	ClassID     string    `db:"class_id"`
	TeacherID   string    `db:"teacher_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	DueAt       time.Time `db:"due_at"`
	MaxScore    float64   `db:"max_score"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type submissionRow struct {
	ID           string       `db:"id"`
	AssignmentID string       `db:"assignment_id"`
	StudentID    string       `db:"student_id"`
	Content      string       `db:"content"`
	SubmittedAt  time.Time    `db:"submitted_at"`
	Late         bool         `db:"late"`
	Score        null.Float64 `db:"score"`
	Feedback     string       `db:"feedback"`
	Status       string       `db:"status"`
	GradedBy     null.String  `db:"graded_by"`
	GradedAt     null.Time    `db:"graded_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

var (
	assignmentColumns = []string{
		"id", "school_id", "class_id", "teacher_id", "title", "description", "due_at", "max_score", "status", "created_at", "updated_at",
	}
	submissionColumns = []string{
		"id", "assignment_id", "student_id", "content", "submitted_at", "late", "score", "feedback", "status",
		"graded_by", "graded_at", "created_at", "updated_at",
	}
	assignmentOrdering = map[string]string{"title": "title", "due_at": "due_at", "created_at": "created_at", "status": "status"}
)

func (r assignmentRow) assignment() assignment.Assignment {
	return assignment.Assignment{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		ClassID:     r.ClassID,
		TeacherID:   r.TeacherID,
		Title:       r.Title,
		Description: r.Description,
		DueAt:       r.DueAt,
		MaxScore:    r.MaxScore,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toAssignmentRow(a assignment.Assignment) assignmentRow {
	return assignmentRow{
		ID:          a.ID,
		SchoolID:    a.SchoolID,
		ClassID:     a.ClassID,
		TeacherID:   a.TeacherID,
		Title:       a.Title,
		Description: a.Description,
		DueAt:       a.DueAt.UTC(),
		MaxScore:    a.MaxScore,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (r submissionRow) submission() assignment.Submission {
	return assignment.Submission{
		ID:           r.ID,
		AssignmentID: r.AssignmentID,
		StudentID:    r.StudentID,
		Content:      r.Content,
		SubmittedAt:  r.SubmittedAt,
		Late:         r.Late,
		Score:        r.Score.Ptr(),
		Feedback:     r.Feedback,
		Status:       r.Status,
		GradedBy:     r.GradedBy.String,
		GradedAt:     r.GradedAt.Ptr(),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toSubmissionRow(s assignment.Submission) submissionRow {
	return submissionRow{
		ID:           s.ID,
		AssignmentID: s.AssignmentID,
		StudentID:    s.StudentID,
		Content:      s.Content,
		SubmittedAt:  s.SubmittedAt.UTC(),
		Late:         s.Late,
		Score:        null.Float64FromPtr(s.Score),
		Feedback:     s.Feedback,
		Status:       s.Status,
		GradedBy:     nullString(s.GradedBy),
		GradedAt:     nullTimePtr(s.GradedAt),
		CreatedAt:    s.CreatedAt.UTC(),
		UpdatedAt:    s.UpdatedAt.UTC(),
	}
}

type assignmentRepository struct {
	repository
}

var _ assignment.Repository = (*assignmentRepository)(nil)

func NewAssignmentRepository(exec core.DBExecutor) *assignmentRepository {
	return &assignmentRepository{repository{exec: exec}}
}

func (repo assignmentRepository) CreateAssignment(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	a.ID = newID()
	if err := repo.insert(ctx, "assignments", assignmentColumns, toAssignmentRow(a)); err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "inserting assignment")
	}
	return a, nil
}

func (repo assignmentRepository) QueryAssignments(ctx context.Context, filter *assignment.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]assignment.Assignment, error) {
	q := psql.Select(assignmentColumns...).From("assignments")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "title", "description"))
		}
		if filter.ClassID != "" {
			q = q.Where(idEq("class_id", filter.ClassID))
		}
		if filter.TeacherID != "" {
			q = q.Where(idEq("teacher_id", filter.TeacherID))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		q = dayRange(q, "due_at", filter.DueFrom, filter.DueTo)
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.ClassIDs != nil {
			q = q.Where(sq.Eq{"class_id": filter.ClassIDs})
		}
	}
	q = paginate(orderBy(q, ordering, assignmentOrdering, "due_at DESC"), page)

	var rows []assignmentRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying assignments")
	}
	list := make([]assignment.Assignment, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.assignment())
	}
	return list, nil
}

func (repo assignmentRepository) GetAssignmentByID(ctx context.Context, id string) (assignment.Assignment, error) {
	if !validID(id) {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	var row assignmentRow
	if err := repo.getOne(ctx, &row, psql.Select(assignmentColumns...).From("assignments").Where(sq.Eq{"id": id})); err != nil {
		return assignment.Assignment{}, trapNoRowsErr(err, assignment.ErrNotFound, "finding assignment")
	}
	return row.assignment(), nil
}

func (repo assignmentRepository) UpdateAssignment(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	found, err := repo.update(ctx, "assignments", assignmentColumns, toAssignmentRow(a))
	if err != nil {
		return assignment.Assignment{}, errors.Wrap(err, "updating assignment")
	}
	if !found {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return a, nil
}

func (repo assignmentRepository) DeleteAssignment(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "assignments", id, assignment.ErrNotFound)
}

// UpsertSubmission returns assignment.ErrSubmissionNotFound when the existing submission was graded.
func (repo assignmentRepository) UpsertSubmission(ctx context.Context, s assignment.Submission) (assignment.Submission, error) {
	s.ID = newID()
	row := toSubmissionRow(s)
	q := psql.Insert("submissions").
		Columns(submissionColumns...).
		Values(row.ID, row.AssignmentID, row.StudentID, row.Content, row.SubmittedAt, row.Late, row.Score, row.Feedback,
			row.Status, row.GradedBy, row.GradedAt, row.CreatedAt, row.UpdatedAt).
		Suffix("ON CONFLICT (assignment_id, student_id) DO UPDATE SET "+
			"content = EXCLUDED.content, submitted_at = EXCLUDED.submitted_at, late = EXCLUDED.late, updated_at = EXCLUDED.updated_at "+
			"WHERE submissions.status <> ? RETURNING "+joinColumns(submissionColumns), assignment.SubmissionGraded)

	var saved submissionRow
	if err := repo.getOne(ctx, &saved, q); err != nil {
		return assignment.Submission{}, trapNoRowsErr(err, assignment.ErrSubmissionNotFound, "upserting submission")
	}
	return saved.submission(), nil
}

func (repo assignmentRepository) QuerySubmissions(ctx context.Context, filter *assignment.SubmissionFilter) ([]assignment.Submission, error) {
	q := psql.Select(submissionColumns...).From("submissions").OrderBy("submitted_at ASC")
	if filter != nil {
		if filter.AssignmentID != "" {
			q = q.Where(idEq("assignment_id", filter.AssignmentID))
		}
		if filter.StudentID != "" {
			q = q.Where(idEq("student_id", filter.StudentID))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
	}

	var rows []submissionRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	list := make([]assignment.Submission, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.submission())
	}
	return list, nil
}

func (repo assignmentRepository) getSubmission(ctx context.Context, where sq.Eq) (assignment.Submission, error) {
	var row submissionRow
	if err := repo.getOne(ctx, &row, psql.Select(submissionColumns...).From("submissions").Where(where)); err != nil {
		return assignment.Submission{}, trapNoRowsErr(err, assignment.ErrSubmissionNotFound, "finding submission")
	}
	return row.submission(), nil
}

func (repo assignmentRepository) GetSubmissionByID(ctx context.Context, id string) (assignment.Submission, error) {
	if !validID(id) {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return repo.getSubmission(ctx, sq.Eq{"id": id})
}

func (repo assignmentRepository) GetSubmission(ctx context.Context, assignmentID, studentID string) (assignment.Submission, error) {
	if !validID(assignmentID) || !validID(studentID) {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return repo.getSubmission(ctx, sq.Eq{"assignment_id": assignmentID, "student_id": studentID})
}

func (repo assignmentRepository) UpdateSubmission(ctx context.Context, s assignment.Submission) (assignment.Submission, error) {
	found, err := repo.update(ctx, "submissions", submissionColumns, toSubmissionRow(s))
	if err != nil {
		return assignment.Submission{}, errors.Wrap(err, "updating submission")
	}
	if !found {
		return assignment.Submission{}, assignment.ErrSubmissionNotFound
	}
	return s, nil
}

func (repo assignmentRepository) SubmissionStats(ctx context.Context, assignmentID string) (assignment.SubmissionStats, error) {
	var stats assignment.SubmissionStats
	q := psql.Select(
		"COUNT(*) AS submitted",
		"COUNT(*) FILTER (WHERE status = 'graded') AS graded",
		"COUNT(*) FILTER (WHERE late) AS late",
		"AVG(score) AS average_score",
	).From("submissions").Where(sq.Eq{"assignment_id": assignmentID})
	err := repo.getOne(ctx, &stats, q)
	return stats, errors.Wrap(err, "computing submission stats")
}
