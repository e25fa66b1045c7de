package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/discipline"
)

type recordRow struct {
	ID          string      `db:"id"`
	SchoolID    string      `db:"school_id"`
	StudentID   string      `db:"student_id"`
	Type        string      `db:"type"`
	Severity    string      `db:"severity"`
	Description string      `db:"description"`
	ScoreDelta  float64     `db:"score_delta"`
	OccurredAt  time.Time   `db:"occurred_at"`
	RecordedBy  null.String `db:"recorded_by"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

type achievementRow struct {
	ID          string      `db:"id"`
	SchoolID    string      `db:"school_id"`
	StudentID   string      `db:"student_id"`
	Title       string      `db:"title"`
	Category    string      `db:"category"`
	Description string      `db:"description"`
	Points      float64     `db:"points"`
	AwardedAt   time.Time   `db:"awarded_at"`
	RecordedBy  null.String `db:"recorded_by"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

var (
	recordColumns = []string{
		"id", "school_id", "student_id", "type", "severity", "description", "score_delta", "occurred_at", "recorded_by", "created_at", "updated_at",
	}
	achievementColumns = []string{
		"id", "school_id", "student_id", "title", "category", "description", "points", "awarded_at", "recorded_by", "created_at", "updated_at",
	}
	recordOrdering      = map[string]string{"occurred_at": "occurred_at", "severity": "severity", "created_at": "created_at"}
	achievementOrdering = map[string]string{"awarded_at": "awarded_at", "points": "points", "created_at": "created_at"}
)

func (r recordRow) record() discipline.Record {
	return discipline.Record{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		StudentID:   r.StudentID,
		Type:        r.Type,
		Severity:    r.Severity,
		Description: r.Description,
		ScoreDelta:  r.ScoreDelta,
		OccurredAt:  r.OccurredAt,
		RecordedBy:  r.RecordedBy.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toRecordRow(r discipline.Record) recordRow {
	return recordRow{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		StudentID:   r.StudentID,
		Type:        r.Type,
		Severity:    r.Severity,
		Description: r.Description,
		ScoreDelta:  r.ScoreDelta,
		OccurredAt:  r.OccurredAt.UTC(),
		RecordedBy:  nullString(r.RecordedBy),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r achievementRow) achievement() discipline.Achievement {
	return discipline.Achievement{
		ID:          r.ID,
		SchoolID:    r.SchoolID,
		StudentID:   r.StudentID,
		Title:       r.Title,
		Category:    r.Category,
		Description: r.Description,
		Points:      r.Points,
		AwardedAt:   r.AwardedAt,
		RecordedBy:  r.RecordedBy.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toAchievementRow(a discipline.Achievement) achievementRow {
	return achievementRow{
		ID:          a.ID,
		SchoolID:    a.SchoolID,
		StudentID:   a.StudentID,
		Title:       a.Title,
		Category:    a.Category,
		Description: a.Description,
		Points:      a.Points,
		AwardedAt:   a.AwardedAt.UTC(),
		RecordedBy:  nullString(a.RecordedBy),
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

type disciplineRepository struct {
	repository
}

var _ discipline.Repository = (*disciplineRepository)(nil)

func NewDisciplineRepository(exec core.DBExecutor) *disciplineRepository {
	return &disciplineRepository{repository{exec: exec}}
}

// filterDiscipline applies the filter fields shared by records and achievements; dateCol is bounded by From/To.
func filterDiscipline(q sq.SelectBuilder, filter *discipline.QueryFilter, dateCol string) sq.SelectBuilder {
	if filter == nil {
		return q
	}
	if filter.StudentID != "" {
		q = q.Where(idEq("student_id", filter.StudentID))
	}
	q = dayRange(q, dateCol, filter.From, filter.To)
	if filter.SchoolID != "" {
		q = q.Where(sq.Eq{"school_id": filter.SchoolID})
	}
	if filter.StudentIDs != nil {
		q = q.Where(sq.Eq{"student_id": filter.StudentIDs})
	}
	return q
}

func (repo disciplineRepository) CreateRecord(ctx context.Context, r discipline.Record, exec ...core.DBExecutor) (discipline.Record, error) {
	r.ID = newID()
	if err := repo.insert(ctx, "disciplinary_records", recordColumns, toRecordRow(r), exec...); err != nil {
		return discipline.Record{}, errors.Wrap(err, "inserting disciplinary record")
	}
	return r, nil
}

func (repo disciplineRepository) QueryRecords(ctx context.Context, filter *discipline.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]discipline.Record, error) {
	q := filterDiscipline(psql.Select(recordColumns...).From("disciplinary_records"), filter, "occurred_at")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "description"))
		}
		if filter.Type != "" {
			q = q.Where(sq.Eq{"type": filter.Type})
		}
		if filter.Severity != "" {
			q = q.Where(sq.Eq{"severity": filter.Severity})
		}
	}
	q = paginate(orderBy(q, ordering, recordOrdering, "occurred_at DESC"), page)

	var rows []recordRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying disciplinary records")
	}
	list := make([]discipline.Record, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.record())
	}
	return list, nil
}

func (repo disciplineRepository) GetRecordByID(ctx context.Context, id string) (discipline.Record, error) {
	if !validID(id) {
		return discipline.Record{}, discipline.ErrRecordNotFound
	}
	var row recordRow
	q := psql.Select(recordColumns...).From("disciplinary_records").Where(sq.Eq{"id": id})
	if err := repo.getOne(ctx, &row, q); err != nil {
		return discipline.Record{}, trapNoRowsErr(err, discipline.ErrRecordNotFound, "finding disciplinary record")
	}
	return row.record(), nil
}

func (repo disciplineRepository) UpdateRecord(ctx context.Context, r discipline.Record, exec ...core.DBExecutor) (discipline.Record, error) {
	found, err := repo.update(ctx, "disciplinary_records", recordColumns, toRecordRow(r), exec...)
	if err != nil {
		return discipline.Record{}, errors.Wrap(err, "updating disciplinary record")
	}
	if !found {
		return discipline.Record{}, discipline.ErrRecordNotFound
	}
	return r, nil
}

func (repo disciplineRepository) DeleteRecord(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return repo.deleteByID(ctx, "disciplinary_records", id, discipline.ErrRecordNotFound, exec...)
}

func (repo disciplineRepository) CreateAchievement(ctx context.Context, a discipline.Achievement, exec ...core.DBExecutor) (discipline.Achievement, error) {
	a.ID = newID()
	if err := repo.insert(ctx, "achievements", achievementColumns, toAchievementRow(a), exec...); err != nil {
		return discipline.Achievement{}, errors.Wrap(err, "inserting achievement")
	}
	return a, nil
}

func (repo disciplineRepository) QueryAchievements(ctx context.Context, filter *discipline.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]discipline.Achievement, error) {
	q := filterDiscipline(psql.Select(achievementColumns...).From("achievements"), filter, "awarded_at")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(search(filter.Search, "title", "description"))
		}
		if filter.Category != "" {
			q = q.Where(sq.Eq{"category": filter.Category})
		}
	}
	q = paginate(orderBy(q, ordering, achievementOrdering, "awarded_at DESC"), page)

	var rows []achievementRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying achievements")
	}
	list := make([]discipline.Achievement, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.achievement())
	}
	return list, nil
}

func (repo disciplineRepository) GetAchievementByID(ctx context.Context, id string) (discipline.Achievement, error) {
	if !validID(id) {
		return discipline.Achievement{}, discipline.ErrAchievementNotFound
	}
	var row achievementRow
	q := psql.Select(achievementColumns...).From("achievements").Where(sq.Eq{"id": id})
	if err := repo.getOne(ctx, &row, q); err != nil {
		return discipline.Achievement{}, trapNoRowsErr(err, discipline.ErrAchievementNotFound, "finding achievement")
	}
	return row.achievement(), nil
}

func (repo disciplineRepository) UpdateAchievement(ctx context.Context, a discipline.Achievement, exec ...core.DBExecutor) (discipline.Achievement, error) {
	found, err := repo.update(ctx, "achievements", achievementColumns, toAchievementRow(a), exec...)
	if err != nil {
		return discipline.Achievement{}, errors.Wrap(err, "updating achievement")
	}
	if !found {
		return discipline.Achievement{}, discipline.ErrAchievementNotFound
	}
	return a, nil
}

func (repo disciplineRepository) DeleteAchievement(ctx context.Context, id string, exec ...core.DBExecutor) error {
	return repo.deleteByID(ctx, "achievements", id, discipline.ErrAchievementNotFound, exec...)
}
