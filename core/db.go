package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type (
	// DBExecutor is implemented by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	// Transactor runs fn inside a database transaction. Services depend on it rather than on DB.
	Transactor interface {
		WithTx(ctx context.Context, fn func(tx DBExecutor) error) error
	}
)

type dbTransactor struct {
	db DB
}

func NewTransactor(db DB) Transactor {
	return dbTransactor{db: db}
}

func (t dbTransactor) WithTx(ctx context.Context, fn func(tx DBExecutor) error) error {
	return WithTx(ctx, t.db, fn)
}

// WithTx runs fn inside a transaction, rolling back when fn fails.
func WithTx(ctx context.Context, db DB, fn func(tx DBExecutor) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Page limits the number of rows returned by list queries. A zero Limit means no limit.
type Page struct {
	Limit  uint64 `query:"limit"`
	Offset uint64 `query:"offset"`
}

const MaxPageLimit = 500

// Clean caps the limit to MaxPageLimit.
func (p *Page) Clean() {
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
}
