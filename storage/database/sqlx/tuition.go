package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/tuition"
)

type noticeRow struct {
	ID        string      `db:"id"`
	SchoolID  string      `db:"school_id"`
	StudentID string      `db:"student_id"`
	ParentID  null.String `db:"parent_id"`
	Title     string      `db:"title"`
	Amount    int64       `db:"amount"`
	DueDate   core.Date   `db:"due_date"`
	Status    string      `db:"status"`
	Message   string      `db:"message"`
	IssuedAt  null.Time   `db:"issued_at"`
	SentAt    null.Time   `db:"sent_at"`
	PaidAt    null.Time   `db:"paid_at"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

var (
	noticeColumns = []string{
		"id", "school_id", "student_id", "parent_id", "title", "amount", "due_date", "status", "message",
		"issued_at", "sent_at", "paid_at", "created_at", "updated_at",
	}
	noticeOrdering = map[string]string{"due_date": "due_date", "amount": "amount", "status": "status", "created_at": "created_at"}
)

func (r noticeRow) notice() tuition.Notice {
	return tuition.Notice{
		ID:        r.ID,
		SchoolID:  r.SchoolID,
		StudentID: r.StudentID,
		ParentID:  r.ParentID.String,
		Title:     r.Title,
		Amount:    r.Amount,
		DueDate:   r.DueDate,
		Status:    r.Status,
		Message:   r.Message,
		IssuedAt:  r.IssuedAt.Ptr(),
		SentAt:    r.SentAt.Ptr(),
		PaidAt:    r.PaidAt.Ptr(),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toNoticeRow(n tuition.Notice) noticeRow {
	return noticeRow{
		ID:        n.ID,
		SchoolID:  n.SchoolID,
		StudentID: n.StudentID,
		ParentID:  nullString(n.ParentID),
		Title:     n.Title,
		Amount:    n.Amount,
		DueDate:   n.DueDate,
		Status:    n.Status,
		Message:   n.Message,
		IssuedAt:  nullTimePtr(n.IssuedAt),
		SentAt:    nullTimePtr(n.SentAt),
		PaidAt:    nullTimePtr(n.PaidAt),
		CreatedAt: n.CreatedAt.UTC(),
		UpdatedAt: n.UpdatedAt.UTC(),
	}
}

type tuitionRepository struct {
	repository
}

var _ tuition.Repository = (*tuitionRepository)(nil)

func NewTuitionRepository(exec core.DBExecutor) *tuitionRepository {
	return &tuitionRepository{repository{exec: exec}}
}

func (repo tuitionRepository) CreateNotice(ctx context.Context, n tuition.Notice) (tuition.Notice, error) {
	n.ID = newID()
	if err := repo.insert(ctx, "tuition_notices", noticeColumns, toNoticeRow(n)); err != nil {
		return tuition.Notice{}, errors.Wrap(err, "inserting tuition notice")
	}
	return n, nil
}

func (repo tuitionRepository) QueryNotices(ctx context.Context, filter *tuition.QueryFilter, ordering []core.DBOrdering, page core.Page, today core.Date) ([]tuition.Notice, error) {
	q := psql.Select(noticeColumns...).From("tuition_notices")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "title", "message"))
		}
		if filter.StudentID != "" {
			q = q.Where(idEq("student_id", filter.StudentID))
		}
		if filter.ParentID != "" {
			q = q.Where(idEq("parent_id", filter.ParentID))
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		if filter.Overdue != nil {
			settled := []string{tuition.StatusPaid, tuition.StatusCancelled}
			if *filter.Overdue {
				q = q.Where(sq.And{sq.NotEq{"status": settled}, sq.Lt{"due_date": today}})
			} else {
				q = q.Where(sq.Or{sq.Eq{"status": settled}, sq.GtOrEq{"due_date": today}})
			}
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
		if filter.HideDrafts {
			q = q.Where(sq.NotEq{"status": tuition.StatusDraft})
		}
		if filter.StudentIDs != nil {
			q = q.Where(sq.Eq{"student_id": filter.StudentIDs})
		}
	}
	q = paginate(orderBy(q, ordering, noticeOrdering, "due_date DESC"), page)

	var rows []noticeRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying tuition notices")
	}
	list := make([]tuition.Notice, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.notice())
	}
	return list, nil
}

func (repo tuitionRepository) GetNoticeByID(ctx context.Context, id string) (tuition.Notice, error) {
	if !validID(id) {
		return tuition.Notice{}, tuition.ErrNotFound
	}
	var row noticeRow
	if err := repo.getOne(ctx, &row, psql.Select(noticeColumns...).From("tuition_notices").Where(sq.Eq{"id": id})); err != nil {
		return tuition.Notice{}, trapNoRowsErr(err, tuition.ErrNotFound, "finding tuition notice")
	}
	return row.notice(), nil
}

func (repo tuitionRepository) UpdateNotice(ctx context.Context, n tuition.Notice) (tuition.Notice, error) {
	found, err := repo.update(ctx, "tuition_notices", noticeColumns, toNoticeRow(n))
	if err != nil {
		return tuition.Notice{}, errors.Wrap(err, "updating tuition notice")
	}
	if !found {
		return tuition.Notice{}, tuition.ErrNotFound
	}
	return n, nil
}

func (repo tuitionRepository) DeleteNotice(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "tuition_notices", id, tuition.ErrNotFound)
}
