package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/insight"
)

type insightRow struct {
	ID          string      `db:"id"`
	SchoolID    null.String `db:"school_id"`
	EntityType  string      `db:"entity_type"`
	EntityID    string      `db:"entity_id"`
	Kind        string      `db:"kind"`
	Content     string      `db:"content"`
	Model       string      `db:"model"`
	RequestedBy null.String `db:"requested_by"`
	CreatedAt   time.Time   `db:"created_at"`
}

var insightColumns = []string{"id", "school_id", "entity_type", "entity_id", "kind", "content", "model", "requested_by", "created_at"}

func (r insightRow) insight() insight.Insight {
	return insight.Insight{
		ID:          r.ID,
		SchoolID:    r.SchoolID.String,
		EntityType:  r.EntityType,
		EntityID:    r.EntityID,
		Kind:        r.Kind,
		Content:     r.Content,
		Model:       r.Model,
		RequestedBy: r.RequestedBy.String,
		CreatedAt:   r.CreatedAt,
	}
}

type insightRepository struct {
	repository
}

var _ insight.Repository = (*insightRepository)(nil)

func NewInsightRepository(exec core.DBExecutor) *insightRepository {
	return &insightRepository{repository{exec: exec}}
}

func (repo insightRepository) CreateInsight(ctx context.Context, i insight.Insight) (insight.Insight, error) {
	i.ID = newID()
	row := insightRow{
		ID:          i.ID,
		SchoolID:    nullString(i.SchoolID),
		EntityType:  i.EntityType,
		EntityID:    i.EntityID,
		Kind:        i.Kind,
		Content:     i.Content,
		Model:       i.Model,
		RequestedBy: nullString(i.RequestedBy),
		CreatedAt:   i.CreatedAt.UTC(),
	}
	if err := repo.insert(ctx, "insights", insightColumns, row); err != nil {
		return insight.Insight{}, errors.Wrap(err, "inserting insight")
	}
	return i, nil
}

func (repo insightRepository) QueryInsights(ctx context.Context, filter *insight.QueryFilter, page core.Page) ([]insight.Insight, error) {
	q := psql.Select(insightColumns...).From("insights")
	if filter != nil {
		if filter.EntityType != "" {
			q = q.Where(sq.Eq{"entity_type": filter.EntityType})
		}
		if filter.EntityID != "" {
			if !validID(filter.EntityID) {
				return []insight.Insight{}, nil
			}
			q = q.Where(sq.Eq{"entity_id": filter.EntityID})
		}
		if filter.Kind != "" {
			q = q.Where(sq.Eq{"kind": filter.Kind})
		}
		if filter.SchoolID != "" {
			q = q.Where(sq.Eq{"school_id": filter.SchoolID})
		}
	}
	q = paginate(q.OrderBy("created_at DESC"), page)

	var rows []insightRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying insights")
	}
	list := make([]insight.Insight, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.insight())
	}
	return list, nil
}

func (repo insightRepository) GetInsightByID(ctx context.Context, id string) (insight.Insight, error) {
	if !validID(id) {
		return insight.Insight{}, insight.ErrNotFound
	}
	var row insightRow
	if err := repo.getOne(ctx, &row, psql.Select(insightColumns...).From("insights").Where(sq.Eq{"id": id})); err != nil {
		return insight.Insight{}, trapNoRowsErr(err, insight.ErrNotFound, "finding insight")
	}
	return row.insight(), nil
}

func (repo insightRepository) DeleteInsight(ctx context.Context, id string) error {
	return repo.deleteByID(ctx, "insights", id, insight.ErrNotFound)
}
