package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/discipline"
)

type disciplineApi struct {
	*handler
	svc *discipline.Service
}

func registerDisciplineAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *discipline.Service) {
	api := disciplineApi{handler: h, svc: svc}
	staff := staffMiddleware()

	dg := g.Group("/discipline", jwt)

	rg := dg.Group("/records")
	rg.POST("", api.createRecord, staff)
	rg.GET("", api.queryRecords)
	rdg := rg.Group("/:id", objectMiddleware(h, svc.GetRecord, func(r discipline.Record) string { return r.SchoolID }))
	rdg.GET("", api.retrieveRecord)
	rdg.PUT("", api.updateRecord, staff)
	rdg.DELETE("", api.destroyRecord, adminMiddleware())

	ag := dg.Group("/achievements")
	ag.POST("", api.createAchievement, staff)
	ag.GET("", api.queryAchievements)
	adg := ag.Group("/:id", objectMiddleware(h, svc.GetAchievement, func(a discipline.Achievement) string { return a.SchoolID }))
	adg.GET("", api.retrieveAchievement)
	adg.PUT("", api.updateAchievement, staff)
	adg.DELETE("", api.destroyAchievement, adminMiddleware())
}

// listFilter binds a discipline query and restricts it to what the context user may see.
func (api *disciplineApi) listFilter(ctx echo.Context) (*discipline.QueryFilter, []core.DBOrdering, core.Page, bool, error) {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return nil, nil, core.Page{}, false, err
	}

	filter := new(discipline.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return nil, nil, core.Page{}, false, nil
	}
	filter.SchoolID = schoolID
	if filter.StudentIDs, err = api.studentScope(ctx.Request().Context(), usr); err != nil {
		return nil, nil, core.Page{}, false, err
	}
	return filter, ordering, page, true, nil
}

// checkStudent hides the records of other students from students and parents.
func (api *disciplineApi) checkStudent(ctx echo.Context, studentID string) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	ok, err := api.canSeeStudent(ctx.Request().Context(), usr, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return errHttpNotFound
	}
	return nil
}

func (api *disciplineApi) createRecord(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	var data discipline.NewRecord
	if err = bind(ctx, &data, "NewRecord"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	student, err := api.svc.Student(reqCtx, schoolID, data.StudentID)
	if err != nil {
		return err
	}

	r, err := api.svc.CreateRecord(reqCtx, student, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating discipline record")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *disciplineApi) queryRecords(ctx echo.Context) error {
	filter, ordering, page, ok, err := api.listFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []discipline.Record{})
	}

	records, err := api.svc.QueryRecords(ctx.Request().Context(), filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying discipline records")
	}
	if records == nil {
		records = []discipline.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *disciplineApi) retrieveRecord(ctx echo.Context) error {
	r, err := contextObject[discipline.Record](ctx)
	if err != nil {
		return err
	}
	if err = api.checkStudent(ctx, r.StudentID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *disciplineApi) updateRecord(ctx echo.Context) error {
	r, err := contextObject[discipline.Record](ctx)
	if err != nil {
		return err
	}

	var data discipline.UpdateRecord
	if err = bind(ctx, &data, "UpdateRecord"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	r, err = api.svc.UpdateRecord(ctx.Request().Context(), r, data)
	if err != nil {
		return errors.Wrap(err, "updating discipline record")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *disciplineApi) destroyRecord(ctx echo.Context) error {
	r, err := contextObject[discipline.Record](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteRecord(ctx.Request().Context(), r); err != nil {
		return errors.Wrap(err, "deleting discipline record")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *disciplineApi) createAchievement(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	var data discipline.NewAchievement
	if err = bind(ctx, &data, "NewAchievement"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	student, err := api.svc.Student(reqCtx, schoolID, data.StudentID)
	if err != nil {
		return err
	}

	a, err := api.svc.CreateAchievement(reqCtx, student, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating achievement")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *disciplineApi) queryAchievements(ctx echo.Context) error {
	filter, ordering, page, ok, err := api.listFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []discipline.Achievement{})
	}

	achievements, err := api.svc.QueryAchievements(ctx.Request().Context(), filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying achievements")
	}
	if achievements == nil {
		achievements = []discipline.Achievement{}
	}
	return ctx.JSON(http.StatusOK, achievements)
}

func (api *disciplineApi) retrieveAchievement(ctx echo.Context) error {
	a, err := contextObject[discipline.Achievement](ctx)
	if err != nil {
		return err
	}
	if err = api.checkStudent(ctx, a.StudentID); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *disciplineApi) updateAchievement(ctx echo.Context) error {
	a, err := contextObject[discipline.Achievement](ctx)
	if err != nil {
		return err
	}

	var data discipline.UpdateAchievement
	if err = bind(ctx, &data, "UpdateAchievement"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err = api.svc.UpdateAchievement(ctx.Request().Context(), a, data)
	if err != nil {
		return errors.Wrap(err, "updating achievement")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *disciplineApi) destroyAchievement(ctx echo.Context) error {
	a, err := contextObject[discipline.Achievement](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAchievement(ctx.Request().Context(), a); err != nil {
		return errors.Wrap(err, "deleting achievement")
	}
	return ctx.NoContent(http.StatusNoContent)
}
