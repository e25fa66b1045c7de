package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/exam"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type examApi struct {
	*handler
	svc *exam.Service
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *exam.Service) {
	api := examApi{handler: h, svc: svc}
	staff := staffMiddleware()

	eg := g.Group("/exams", jwt)
	eg.POST("", api.create, staff)
	eg.GET("", api.query)

	dg := eg.Group("/:id", objectMiddleware(h, svc.GetByID, func(e exam.Exam) string { return e.SchoolID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, staff)
	dg.PUT("/status", api.setStatus, staff)
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.GET("/stats", api.stats, staff)
	dg.POST("/results", api.recordResults, staff)
	dg.GET("/results", api.results)
	dg.DELETE("/results/:student_id", api.deleteResult, staff)
}

func (api *examApi) create(ctx echo.Context) error {
	_, schoolID, err := api.ownSchool(ctx)
	if err != nil {
		return err
	}

	var data exam.NewExam
	if err = bind(ctx, &data, "NewExam"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if err = api.checkClass(ctx.Request().Context(), schoolID, data.ClassID); err != nil {
		return err
	}

	e, err := api.svc.Create(ctx.Request().Context(), schoolID, data)
	if err != nil {
		return errors.Wrap(err, "creating exam")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *examApi) query(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(exam.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []exam.Exam{})
	}
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	if filter.ClassIDs, err = api.classScope(reqCtx, usr); err != nil {
		return err
	}

	exams, err := api.svc.Query(reqCtx, filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying exams")
	}
	if exams == nil {
		exams = []exam.Exam{}
	}
	return ctx.JSON(http.StatusOK, exams)
}

func (api *examApi) visible(ctx echo.Context) (exam.Exam, user.User, error) {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return e, user.User{}, err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return e, usr, err
	}
	ok, err := api.canSeeClass(ctx.Request().Context(), usr, e.ClassID)
	if err != nil {
		return e, usr, err
	}
	if !ok {
		return e, usr, exam.ErrNotFound
	}
	return e, usr, nil
}

func (api *examApi) retrieve(ctx echo.Context) error {
	e, _, err := api.visible(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) update(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}

	var data exam.UpdateExam
	if err = bind(ctx, &data, "UpdateExam"); err != nil {
		return err
	}
	if err = data.Validate(e, api.validate); err != nil {
		return err
	}

	e, err = api.svc.Update(ctx.Request().Context(), e, data)
	if err != nil {
		return errors.Wrap(err, "updating exam")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) setStatus(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}

	var data exam.SetStatus
	if err = bind(ctx, &data, "SetStatus"); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	e, err = api.svc.SetStatus(ctx.Request().Context(), e, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting exam status")
	}
	return ctx.JSON(http.StatusOK, e)
}

func (api *examApi) destroy(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), e); err != nil {
		return errors.Wrap(err, "deleting exam")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *examApi) stats(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}

	stats, err := api.svc.Stats(ctx.Request().Context(), e)
	if err != nil {
		return errors.Wrap(err, "computing exam stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *examApi) recordResults(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}

	var data exam.Results
	if err = bind(ctx, &data, "Results"); err != nil {
		return err
	}
	if err = data.Validate(e, api.validate); err != nil {
		return err
	}

	results, err := api.svc.RecordResults(ctx.Request().Context(), e, data)
	if err != nil {
		return errors.Wrap(err, "recording exam results")
	}
	return ctx.JSON(http.StatusOK, results)
}

// results lists the exam's scores. Students and parents only get their own.
func (api *examApi) results(ctx echo.Context) error {
	e, usr, err := api.visible(ctx)
	if err != nil {
		return err
	}

	filter := new(exam.ResultFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []exam.Result{})
	}
	filter.ExamID = e.ID

	reqCtx := ctx.Request().Context()
	studentIDs, err := api.studentScope(reqCtx, usr)
	if err != nil {
		return err
	}

	var results []exam.Result
	switch {
	case studentIDs == nil: // staff
		results, err = api.svc.Results(reqCtx, filter)
	case filter.StudentID != "":
		if user.ContainsID(studentIDs, filter.StudentID) {
			results, err = api.svc.Results(reqCtx, filter)
		}
	default:
		for _, id := range studentIDs {
			filter.StudentID = id
			var found []exam.Result
			if found, err = api.svc.Results(reqCtx, filter); err != nil {
				break
			}
			results = append(results, found...)
		}
	}
	if err != nil {
		return errors.Wrap(err, "querying exam results")
	}
	if results == nil {
		results = []exam.Result{}
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *examApi) deleteResult(ctx echo.Context) error {
	e, err := contextObject[exam.Exam](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteResult(ctx.Request().Context(), e, ctx.Param("student_id")); err != nil {
		return errors.Wrap(err, "deleting exam result")
	}
	return ctx.NoContent(http.StatusNoContent)
}
