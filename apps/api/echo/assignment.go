package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/assignment"
	"github.com/sayghamsari/daftarrabet/core/user"
)

const errClassNotInSchool = "کلاس انتخاب‌شده معتبر نیست"

type assignmentApi struct {
	*handler
	svc *assignment.Service
}

func registerAssignmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *assignment.Service) {
	api := assignmentApi{handler: h, svc: svc}
	staff := staffMiddleware()

	ag := g.Group("/assignments", jwt)
	ag.POST("", api.create, staff)
	ag.GET("", api.query)

	dg := ag.Group("/:id", objectMiddleware(h, svc.GetByID, func(a assignment.Assignment) string { return a.SchoolID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, staff)
	dg.PUT("/status", api.setStatus, staff)
	dg.DELETE("", api.destroy, staff)
	dg.GET("/stats", api.stats, staff)
	dg.POST("/submissions", api.submit)
	dg.GET("/submissions", api.submissions)
	dg.GET("/submissions/:sub_id", api.submission)
	dg.PUT("/submissions/:sub_id/grade", api.grade, staff)
}

// checkClass makes sure classID is a class of schoolID.
func (h *handler) checkClass(ctx context.Context, schoolID, classID string) error {
	c, err := h.classes.GetByID(ctx, classID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewFieldError("class_id", errClassNotInSchool)
		}
		return errors.Wrap(err, "finding class")
	}
	if c.SchoolID != schoolID {
		return core.NewFieldError("class_id", errClassNotInSchool)
	}
	return nil
}

func (api *assignmentApi) create(ctx echo.Context) error {
	usr, schoolID, err := api.ownSchool(ctx)
	if err != nil {
		return err
	}

	var data assignment.NewAssignment
	if err = bind(ctx, &data, "NewAssignment"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if err = api.checkClass(ctx.Request().Context(), schoolID, data.ClassID); err != nil {
		return err
	}

	a, err := api.svc.Create(ctx.Request().Context(), schoolID, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *assignmentApi) query(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(assignment.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []assignment.Assignment{})
	}
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	if filter.ClassIDs, err = api.classScope(reqCtx, usr); err != nil {
		return err
	}
	if filter.ClassIDs != nil && filter.Status != assignment.StatusClosed {
		// drafts are hidden from students and parents
		filter.Status = assignment.StatusPublished
	}

	assignments, err := api.svc.Query(reqCtx, filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if assignments == nil {
		assignments = []assignment.Assignment{}
	}
	return ctx.JSON(http.StatusOK, assignments)
}

// visible loads the context assignment, hiding drafts and other classes from students and parents.
func (api *assignmentApi) visible(ctx echo.Context) (assignment.Assignment, user.User, error) {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return a, user.User{}, err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return a, user.User{}, err
	}
	if usr.IsStaff() {
		return a, usr, nil
	}

	ok, err := api.canSeeClass(ctx.Request().Context(), usr, a.ClassID)
	if err != nil {
		return a, usr, err
	}
	if !ok || a.Status == assignment.StatusDraft {
		return a, usr, assignment.ErrNotFound
	}
	return a, usr, nil
}

func (api *assignmentApi) retrieve(ctx echo.Context) error {
	a, _, err := api.visible(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *assignmentApi) update(ctx echo.Context) error {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return err
	}

	var data assignment.UpdateAssignment
	if err = bind(ctx, &data, "UpdateAssignment"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err = api.svc.Update(ctx.Request().Context(), a, data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *assignmentApi) setStatus(ctx echo.Context) error {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return err
	}

	var data assignment.SetStatus
	if err = bind(ctx, &data, "SetStatus"); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	a, err = api.svc.SetStatus(ctx.Request().Context(), a, data.Status)
	if err != nil {
		return errors.Wrap(err, "setting assignment status")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *assignmentApi) destroy(ctx echo.Context) error {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), a); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *assignmentApi) stats(ctx echo.Context) error {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return err
	}

	stats, err := api.svc.Stats(ctx.Request().Context(), a)
	if err != nil {
		return errors.Wrap(err, "computing submission stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *assignmentApi) submit(ctx echo.Context) error {
	a, usr, err := api.visible(ctx)
	if err != nil {
		return err
	}
	if !usr.IsStudent() {
		return errHttpForbidden
	}

	var data assignment.NewSubmission
	if err = bind(ctx, &data, "NewSubmission"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), a, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *assignmentApi) submissions(ctx echo.Context) error {
	a, usr, err := api.visible(ctx)
	if err != nil {
		return err
	}

	filter := new(assignment.SubmissionFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []assignment.Submission{})
	}
	filter.AssignmentID = a.ID

	reqCtx := ctx.Request().Context()
	studentIDs, err := api.studentScope(reqCtx, usr)
	if err != nil {
		return err
	}

	var subs []assignment.Submission
	switch {
	case studentIDs == nil: // staff
		subs, err = api.svc.Submissions(reqCtx, filter)
	case filter.StudentID != "":
		if user.ContainsID(studentIDs, filter.StudentID) {
			subs, err = api.svc.Submissions(reqCtx, filter)
		}
	default:
		for _, id := range studentIDs {
			filter.StudentID = id
			var found []assignment.Submission
			if found, err = api.svc.Submissions(reqCtx, filter); err != nil {
				break
			}
			subs = append(subs, found...)
		}
	}
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	if subs == nil {
		subs = []assignment.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *assignmentApi) submission(ctx echo.Context) error {
	a, usr, err := api.visible(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	sub, err := api.svc.GetSubmission(reqCtx, a, ctx.Param("sub_id"))
	if err != nil {
		return err
	}
	ok, err := api.canSeeStudent(reqCtx, usr, sub.StudentID)
	if err != nil {
		return err
	}
	if !ok {
		return assignment.ErrSubmissionNotFound
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *assignmentApi) grade(ctx echo.Context) error {
	a, err := contextObject[assignment.Assignment](ctx)
	if err != nil {
		return err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	sub, err := api.svc.GetSubmission(reqCtx, a, ctx.Param("sub_id"))
	if err != nil {
		return err
	}

	var data assignment.Grade
	if err = bind(ctx, &data, "Grade"); err != nil {
		return err
	}
	if err = data.Validate(a, api.validate); err != nil {
		return err
	}

	sub, err = api.svc.GradeSubmission(reqCtx, a, sub, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}
