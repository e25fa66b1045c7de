package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/insight"
)

type insightApi struct {
	*handler
	svc *insight.Service
}

// Insights are staff-only.
func registerInsightAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *insight.Service) {
	api := insightApi{handler: h, svc: svc}

	ig := g.Group("/insights", jwt, staffMiddleware())
	ig.POST("", api.generate)
	ig.GET("", api.query)

	dg := ig.Group("/:id", objectMiddleware(h, svc.GetByID, func(i insight.Insight) string { return i.SchoolID }))
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, adminMiddleware())
}

func (api *insightApi) generate(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	var data insight.GenerateRequest
	if err = bind(ctx, &data, "GenerateRequest"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	i, err := api.svc.Generate(ctx.Request().Context(), schoolID, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "generating insight")
	}
	return ctx.JSON(http.StatusCreated, i)
}

func (api *insightApi) query(ctx echo.Context) error {
	_, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(insight.QueryFilter)
	_, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []insight.Insight{})
	}
	filter.SchoolID = schoolID

	insights, err := api.svc.Query(ctx.Request().Context(), filter, page)
	if err != nil {
		return errors.Wrap(err, "querying insights")
	}
	if insights == nil {
		insights = []insight.Insight{}
	}
	return ctx.JSON(http.StatusOK, insights)
}

func (api *insightApi) retrieve(ctx echo.Context) error {
	i, err := contextObject[insight.Insight](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, i)
}

func (api *insightApi) destroy(ctx echo.Context) error {
	i, err := contextObject[insight.Insight](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), i.ID); err != nil {
		return errors.Wrap(err, "deleting insight")
	}
	return ctx.NoContent(http.StatusNoContent)
}
