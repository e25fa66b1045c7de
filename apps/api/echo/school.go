package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/school"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type schoolApi struct {
	*handler
	svc *school.Service
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *school.Service) {
	api := schoolApi{handler: h, svc: svc}
	ownerOnly := adminMiddleware(user.RoleAdminOwner)

	sg := g.Group("/schools", jwt)
	sg.POST("", api.create, ownerOnly)
	sg.GET("", api.query, ownerOnly)

	dg := sg.Group("/:id", objectMiddleware(h, svc.GetByID, func(s school.School) string { return s.ID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, ownerOnly)
	dg.GET("/dashboard", api.dashboard, staffMiddleware())
}

func (api *schoolApi) create(ctx echo.Context) error {
	var data school.NewSchool
	if err := bind(ctx, &data, "NewSchool"); err != nil {
		return err
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	s, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating school")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *schoolApi) query(ctx echo.Context) error {
	filter := new(school.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []school.School{})
	}

	schools, err := api.svc.Query(ctx.Request().Context(), filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying schools")
	}
	if schools == nil {
		schools = []school.School{}
	}
	return ctx.JSON(http.StatusOK, schools)
}

func (api *schoolApi) retrieve(ctx echo.Context) error {
	s, err := contextObject[school.School](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *schoolApi) update(ctx echo.Context) error {
	s, err := contextObject[school.School](ctx)
	if err != nil {
		return err
	}

	var data school.UpdateSchool
	if err = bind(ctx, &data, "UpdateSchool"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	s, err = api.svc.Update(ctx.Request().Context(), s, data)
	if err != nil {
		return errors.Wrap(err, "updating school")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *schoolApi) destroy(ctx echo.Context) error {
	s, err := contextObject[school.School](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), s.ID); err != nil {
		return errors.Wrap(err, "deleting school")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *schoolApi) dashboard(ctx echo.Context) error {
	s, err := contextObject[school.School](ctx)
	if err != nil {
		return err
	}

	dashboard, err := api.svc.Dashboard(ctx.Request().Context(), s.ID)
	if err != nil {
		return errors.Wrap(err, "loading dashboard")
	}
	return ctx.JSON(http.StatusOK, dashboard)
}
