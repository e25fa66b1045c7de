package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind parses `?ordering=field,-field`. Unknown fields are dropped by the repositories.
func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindList binds the list filter, ordering and page of a query request.
// A filter that cannot be bound yields ok=false and the handler answers with an empty list.
func bindList(ctx echo.Context, filter interface{}) (ordering []core.DBOrdering, page core.Page, ok bool) {
	if filter != nil {
		if err := ctx.Bind(filter); err != nil {
			return nil, core.Page{}, false
		}
	}
	if err := ctx.Bind(&page); err != nil {
		return nil, core.Page{}, false
	}
	page.Clean()

	ord := new(Ordering)
	ord.Bind(ctx)
	return ord.Orderings, page, true
}

func bind(ctx echo.Context, i interface{}, name string) error {
	return errors.Wrap(ctx.Bind(i), "binding to "+name)
}
