package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/attendance"
)

type attendanceRow struct {
	ID         string      `db:"id"`
	SchoolID   string      `db:"school_id"`
	ClassID    string      `db:"class_id"`
	StudentID  string      `db:"student_id"`
	Date       core.Date   `db:"date"`
	Status     string      `db:"status"`
	Note       string      `db:"note"`
	RecordedBy null.String `db:"recorded_by"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

type justificationRow struct {
	ID           string      `db:"id"`
	SchoolID     string      `db:"school_id"`
	StudentID    string      `db:"student_id"`
	SubmittedBy  string      `db:"submitted_by"`
	AttendanceID null.String `db:"attendance_id"`
	FromDate     core.Date   `db:"from_date"`
	ToDate       core.Date   `db:"to_date"`
	Reason       string      `db:"reason"`
	DocumentKey  null.String `db:"document_key"`
	DocumentName null.String `db:"document_name"`
	Status       string      `db:"status"`
	ReviewedBy   null.String `db:"reviewed_by"`
	ReviewNote   string      `db:"review_note"`
	ReviewedAt   null.Time   `db:"reviewed_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

var (
	attendanceColumns    = []string{"id", "school_id", "class_id", "student_id", "date", "status", "note", "recorded_by", "created_at", "updated_at"}
	justificationColumns = []string{
		"id", "school_id", "student_id", "submitted_by", "attendance_id", "from_date", "to_date", "reason", "document_key",
		"document_name", "status", "reviewed_by", "review_note", "reviewed_at", "created_at", "updated_at",
	}
	attendanceOrdering    = map[string]string{"date": "date", "status": "status", "created_at": "created_at"}
	justificationOrdering = map[string]string{"from_date": "from_date", "status": "status", "created_at": "created_at"}
)

func (r attendanceRow) attendance() attendance.Attendance {
	return attendance.Attendance{
		ID:         r.ID,
		SchoolID:   r.SchoolID,
		ClassID:    r.ClassID,
		StudentID:  r.StudentID,
		Date:       r.Date,
		Status:     r.Status,
		Note:       r.Note,
		RecordedBy: r.RecordedBy.String,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toAttendanceRow(a attendance.Attendance) attendanceRow {
	return attendanceRow{
		ID:         a.ID,
		SchoolID:   a.SchoolID,
		ClassID:    a.ClassID,
		StudentID:  a.StudentID,
		Date:       a.Date,
		Status:     a.Status,
		Note:       a.Note,
		RecordedBy: nullString(a.RecordedBy),
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func (r justificationRow) justification() attendance.Justification {
	return attendance.Justification{
		ID:           r.ID,
		SchoolID:     r.SchoolID,
		StudentID:    r.StudentID,
		SubmittedBy:  r.SubmittedBy,
		AttendanceID: r.AttendanceID.String,
		FromDate:     r.FromDate,
		ToDate:       r.ToDate,
		Reason:       r.Reason,
		DocumentKey:  r.DocumentKey.String,
		DocumentName: r.DocumentName.String,
		Status:       r.Status,
		ReviewedBy:   r.ReviewedBy.String,
		ReviewNote:   r.ReviewNote,
		ReviewedAt:   r.ReviewedAt.Ptr(),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toJustificationRow(j attendance.Justification) justificationRow {
	return justificationRow{
		ID:           j.ID,
		SchoolID:     j.SchoolID,
		StudentID:    j.StudentID,
		SubmittedBy:  j.SubmittedBy,
		AttendanceID: nullString(j.AttendanceID),
		FromDate:     j.FromDate,
		ToDate:       j.ToDate,
		Reason:       j.Reason,
		DocumentKey:  nullString(j.DocumentKey),
		DocumentName: nullString(j.DocumentName),
		Status:       j.Status,
		ReviewedBy:   nullString(j.ReviewedBy),
		ReviewNote:   j.ReviewNote,
		ReviewedAt:   nullTimePtr(j.ReviewedAt),
		CreatedAt:    j.CreatedAt.UTC(),
		UpdatedAt:    j.UpdatedAt.UTC(),
	}
}

type attendanceRepository struct {
	repository
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(exec core.DBExecutor) *attendanceRepository {
	return &attendanceRepository{repository{exec: exec}}
}

func (repo attendanceRepository) UpsertAttendance(ctx context.Context, records []attendance.Attendance, exec ...core.DBExecutor) ([]attendance.Attendance, error) {
	if len(records) == 0 {
		return nil, nil
	}
	q := psql.Insert("attendance").Columns(attendanceColumns...)
	for _, a := range records {
		r := toAttendanceRow(a)
		q = q.Values(newID(), r.SchoolID, r.ClassID, r.StudentID, r.Date, r.Status, r.Note, r.RecordedBy, r.CreatedAt, r.UpdatedAt)
	}
	q = q.Suffix("ON CONFLICT (class_id, student_id, date) DO UPDATE SET " +
		"status = EXCLUDED.status, note = EXCLUDED.note, recorded_by = EXCLUDED.recorded_by, updated_at = EXCLUDED.updated_at " +
		"RETURNING " + joinColumns(attendanceColumns))

	var rows []attendanceRow
	if err := repo.selectAll(ctx, &rows, q, exec...); err != nil {
		return nil, errors.Wrap(err, "upserting attendance")
	}
	saved := make([]attendance.Attendance, 0, len(rows))
	for _, r := range rows {
		saved = append(saved, r.attendance())
	}
	return saved, nil
}

func (repo attendanceRepository) QueryAttendance(ctx context.Context, filter *attendance.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]attendance.Attendance, error) {
	q := psql.Select(attendanceColumns...).From("attendance")
	if filter != nil {
		if filter.ClassID != "" {
			q = q.Where(idEq("class_id", filter.ClassID))
		}
		if filter.StudentID != "" {
			q = q.Where(idEq("student_id", filter.StudentID))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.From.IsZero() {
			q = q.Where(sq.GtOrEq{"date": filter.From})
		}
		if !filter.To.IsZero() {
			q = q.Where(sq.LtOrEq{"date": filter.To})
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.StudentIDs != nil {
			q = q.Where(sq.Eq{"student_id": filter.StudentIDs})
		}
	}
	q = paginate(orderBy(q, ordering, attendanceOrdering, "date DESC"), page)

	var rows []attendanceRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying attendance")
	}
	list := make([]attendance.Attendance, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.attendance())
	}
	return list, nil
}

func (repo attendanceRepository) GetAttendanceByID(ctx context.Context, id string) (attendance.Attendance, error) {
	if !validID(id) {
		return attendance.Attendance{}, attendance.ErrNotFound
	}
	var row attendanceRow
	if err := repo.getOne(ctx, &row, psql.Select(attendanceColumns...).From("attendance").Where(sq.Eq{"id": id})); err != nil {
		return attendance.Attendance{}, trapNoRowsErr(err, attendance.ErrNotFound, "finding attendance")
	}
	return row.attendance(), nil
}

func (repo attendanceRepository) UpdateAttendance(ctx context.Context, a attendance.Attendance) (attendance.Attendance, error) {
	found, err := repo.update(ctx, "attendance", attendanceColumns, toAttendanceRow(a))
	if err != nil {
		return attendance.Attendance{}, errors.Wrap(err, "updating attendance")
	}
	if !found {
		return attendance.Attendance{}, attendance.ErrNotFound
	}
	return a, nil
}

func (repo attendanceRepository) DeleteAttendance(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "attendance", id, attendance.ErrNotFound)
}

func (repo attendanceRepository) ExcuseAbsences(ctx context.Context, studentID string, from, to core.Date, exec ...core.DBExecutor) (int64, error) {
	q := psql.Update("attendance").
		Set("status", attendance.StatusExcused).
		Set("updated_at", core.Now()).
		Where(sq.Eq{"student_id": studentID, "status": []string{attendance.StatusAbsent, attendance.StatusLate}}).
		Where(sq.GtOrEq{"date": from}).
		Where(sq.LtOrEq{"date": to})
	res, err := repo.execute(ctx, q, exec...)
	if err != nil {
		return 0, errors.Wrap(err, "excusing absences")
	}
	return res.RowsAffected()
}

func (repo attendanceRepository) Summary(ctx context.Context, studentID string, from, to core.Date) (attendance.Summary, error) {
	q := psql.Select(
		"COUNT(*) FILTER (WHERE status = 'present') AS present",
		"COUNT(*) FILTER (WHERE status = 'absent') AS absent",
		"COUNT(*) FILTER (WHERE status = 'late') AS late",
		"COUNT(*) FILTER (WHERE status = 'excused') AS excused",
	).From("attendance").Where(sq.Eq{"student_id": studentID})
	if !from.IsZero() {
		q = q.Where(sq.GtOrEq{"date": from})
	}
	if !to.IsZero() {
		q = q.Where(sq.LtOrEq{"date": to})
	}

	var s attendance.Summary
	err := repo.getOne(ctx, &s, q)
	return s, errors.Wrap(err, "summarising attendance")
}

func (repo attendanceRepository) CreateJustification(ctx context.Context, j attendance.Justification) (attendance.Justification, error) {
	j.ID = newID()
	if err := repo.insert(ctx, "absence_justifications", justificationColumns, toJustificationRow(j)); err != nil {
		return attendance.Justification{}, errors.Wrap(err, "inserting justification")
	}
	return j, nil
}

func (repo attendanceRepository) QueryJustifications(ctx context.Context, filter *attendance.JustificationFilter, ordering []core.DBOrdering, page core.Page) ([]attendance.Justification, error) {
	q := psql.Select(justificationColumns...).From("absence_justifications")
	if filter != nil {
		if filter.StudentID != "" {
			q = q.Where(idEq("student_id", filter.StudentID))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		if filter.SubmittedBy != "" {
			q = q.Where(sq.Eq{"submitted_by": filter.SubmittedBy})
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.StudentIDs != nil {
			q = q.Where(sq.Eq{"student_id": filter.StudentIDs})
		}
	}
	q = paginate(orderBy(q, ordering, justificationOrdering, "created_at DESC"), page)

	var rows []justificationRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying justifications")
	}
	list := make([]attendance.Justification, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.justification())
	}
	return list, nil
}

func (repo attendanceRepository) GetJustificationByID(ctx context.Context, id string, exec ...core.DBExecutor) (attendance.Justification, error) {
	if !validID(id) {
		return attendance.Justification{}, attendance.ErrJustificationNotFound
	}
	var row justificationRow
	q := psql.Select(justificationColumns...).From("absence_justifications").Where(sq.Eq{"id": id})
	if err := repo.getOne(ctx, &row, q, exec...); err != nil {
		return attendance.Justification{}, trapNoRowsErr(err, attendance.ErrJustificationNotFound, "finding justification")
	}
	return row.justification(), nil
}

func (repo attendanceRepository) UpdateJustification(ctx context.Context, j attendance.Justification, exec ...core.DBExecutor) (attendance.Justification, error) {
	found, err := repo.update(ctx, "absence_justifications", justificationColumns, toJustificationRow(j), exec...)
	if err != nil {
		return attendance.Justification{}, errors.Wrap(err, "updating justification")
	}
	if !found {
		return attendance.Justification{}, attendance.ErrJustificationNotFound
	}
	return j, nil
}

func (repo attendanceRepository) DeleteJustification(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "absence_justifications", id, attendance.ErrJustificationNotFound)
}

func (repo attendanceRepository) LockJustification(ctx context.Context, id string, exec core.DBExecutor) error {
	var locked string
	q := psql.Select("id").From("absence_justifications").Where(sq.Eq{"id": id}).Suffix("FOR UPDATE")
	if err := repo.getOne(ctx, &locked, q, exec); err != nil {
		return trapNoRowsErr(err, attendance.ErrJustificationNotFound, "locking justification")
	}
	return nil
}
