package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/tuition"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type tuitionApi struct {
	*handler
	svc *tuition.Service
}

func registerTuitionAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *tuition.Service) {
	api := tuitionApi{handler: h, svc: svc}
	admin := adminMiddleware()

	tg := g.Group("/tuition", jwt)
	tg.POST("", api.create, admin)
	tg.GET("", api.query)

	dg := tg.Group("/:id", objectMiddleware(h, svc.GetByID, func(n tuition.Notice) string { return n.SchoolID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, admin)
	dg.DELETE("", api.destroy, admin)
	dg.PUT("/status", api.setStatus, admin)
	dg.POST("/send", api.send, admin)
}

func (api *tuitionApi) create(ctx echo.Context) error {
	_, schoolID, err := api.ownSchool(ctx)
	if err != nil {
		return err
	}

	var data tuition.NewNotice
	if err = bind(ctx, &data, "NewNotice"); err != nil {
		return err
	}
	if err = data.Validate(ctx.Request().Context(), schoolID, api.validate, api.svc); err != nil {
		return err
	}

	n, err := api.svc.Create(ctx.Request().Context(), schoolID, data)
	if err != nil {
		return errors.Wrap(err, "creating tuition notice")
	}
	return ctx.JSON(http.StatusCreated, n)
}

func (api *tuitionApi) query(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(tuition.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []tuition.Notice{})
	}
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	if filter.StudentIDs, err = api.studentScope(reqCtx, usr); err != nil {
		return err
	}
	filter.HideDrafts = filter.StudentIDs != nil

	notices, err := api.svc.Query(reqCtx, filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying tuition notices")
	}
	if notices == nil {
		notices = []tuition.Notice{}
	}
	return ctx.JSON(http.StatusOK, notices)
}

func (api *tuitionApi) retrieve(ctx echo.Context) error {
	n, err := contextObject[tuition.Notice](ctx)
	if err != nil {
		return err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	if !usr.IsStaff() {
		ok, err := api.canSeeNotice(ctx, usr, n)
		if err != nil {
			return err
		}
		if !ok {
			return tuition.ErrNotFound
		}
	}
	return ctx.JSON(http.StatusOK, n)
}

// canSeeNotice lets students and parents see issued notices addressed to them.
func (api *tuitionApi) canSeeNotice(ctx echo.Context, usr user.User, n tuition.Notice) (bool, error) {
	if n.Status == tuition.StatusDraft {
		return false, nil
	}
	if n.ParentID == usr.ID {
		return true, nil
	}
	return api.canSeeStudent(ctx.Request().Context(), usr, n.StudentID)
}

func (api *tuitionApi) update(ctx echo.Context) error {
	n, err := contextObject[tuition.Notice](ctx)
	if err != nil {
		return err
	}

	var data tuition.UpdateNotice
	if err = bind(ctx, &data, "UpdateNotice"); err != nil {
		return err
	}
	if err = data.Validate(ctx.Request().Context(), n, api.validate, api.svc); err != nil {
		return err
	}

	n, err = api.svc.Update(ctx.Request().Context(), n, data)
	if err != nil {
		return errors.Wrap(err, "updating tuition notice")
	}
	return ctx.JSON(http.StatusOK, n)
}

func (api *tuitionApi) destroy(ctx echo.Context) error {
	n, err := contextObject[tuition.Notice](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), n); err != nil {
		return errors.Wrap(err, "deleting tuition notice")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *tuitionApi) setStatus(ctx echo.Context) error {
	n, err := contextObject[tuition.Notice](ctx)
	if err != nil {
		return err
	}

	var data tuition.SetStatus
	if err = bind(ctx, &data, "SetStatus"); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	n, err = api.svc.SetStatus(ctx.Request().Context(), n, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting tuition notice status")
	}
	return ctx.JSON(http.StatusOK, n)
}

// send delivers the notice to the parent. Sending a sent notice again works as a reminder.
func (api *tuitionApi) send(ctx echo.Context) error {
	n, err := contextObject[tuition.Notice](ctx)
	if err != nil {
		return err
	}

	n, err = api.svc.Send(ctx.Request().Context(), n)
	if err != nil {
		return errors.Wrap(err, "sending tuition notice")
	}
	return ctx.JSON(http.StatusOK, n)
}
