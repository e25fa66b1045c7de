// Package sqlxrepos implements the domain repositories on Postgres with sqlx and squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type repository struct {
	exec core.DBExecutor
}

func (repo repository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

func (repo repository) selectAll(ctx context.Context, dest interface{}, q sq.Sqlizer, exec ...core.DBExecutor) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, repo.getExec(exec), dest, query, args...)
}

func (repo repository) getOne(ctx context.Context, dest interface{}, q sq.Sqlizer, exec ...core.DBExecutor) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, repo.getExec(exec), dest, query, args...)
}

func (repo repository) execute(ctx context.Context, q sq.Sqlizer, exec ...core.DBExecutor) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	return repo.getExec(exec).ExecContext(ctx, query, args...)
}

// insert runs a named INSERT of columns, reading the values from row's db tags.
func (repo repository) insert(ctx context.Context, table string, columns []string, row interface{}, exec ...core.DBExecutor) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (:%s)", table, strings.Join(columns, ", "), strings.Join(columns, ", :"))
	_, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), query, row)
	return err
}

// update runs a named UPDATE of columns on the row with row's id and reports whether it existed.
func (repo repository) update(ctx context.Context, table string, columns []string, row interface{}, exec ...core.DBExecutor) (bool, error) {
	sets := make([]string, 0, len(columns))
	for _, col := range columns {
		if col != "id" {
			sets = append(sets, col+" = :"+col)
		}
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", table, strings.Join(sets, ", "))
	res, err := sqlx.NamedExecContext(ctx, repo.getExec(exec), query, row)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (repo repository) deleteByID(ctx context.Context, table, id string, notFound error, exec ...core.DBExecutor) error {
	if !validID(id) {
		return notFound
	}
	res, err := repo.execute(ctx, psql.Delete(table).Where(sq.Eq{"id": id}), exec...)
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound
	}
	return nil
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// idEq matches col against an id taken from the request; malformed ids match nothing.
func idEq(col, id string) sq.Sqlizer {
	if !validID(id) {
		return sq.Expr("FALSE")
	}
	return sq.Eq{col: id}
}

// dayRange bounds a timestamp column by whole days: from its first instant through the end of to.
func dayRange(q sq.SelectBuilder, col string, from, to core.Date) sq.SelectBuilder {
	if !from.IsZero() {
		q = q.Where(sq.GtOrEq{col: from.Time})
	}
	if !to.IsZero() {
		q = q.Where(sq.Lt{col: to.AddDate(0, 0, 1)})
	}
	return q
}

func newID() string {
	return uuid.New().String()
}

// orderBy keeps the orderings on allowed columns, falling back to def.
func orderBy(q sq.SelectBuilder, ordering []core.DBOrdering, allowed map[string]string, def string) sq.SelectBuilder {
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			orderList = append(orderList, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	if len(orderList) == 0 {
		return q.OrderBy(def)
	}
	return q.OrderBy(strings.Join(orderList, ", "))
}

func paginate(q sq.SelectBuilder, page core.Page) sq.SelectBuilder {
	page.Clean()
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	if page.Offset > 0 {
		q = q.Offset(page.Offset)
	}
	return q
}

func search(val string, columns ...string) sq.Or {
	val = "%" + val + "%"
	cond := make(sq.Or, 0, len(columns))
	for _, col := range columns {
		cond = append(cond, sq.ILike{col: val})
	}
	return cond
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func nullTimePtr(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}
