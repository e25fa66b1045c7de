package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type classApi struct {
	*handler
	svc *classroom.Service
}

func registerClassAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler) {
	api := classApi{handler: h, svc: h.classes}

	cg := g.Group("/classes", jwt)
	cg.POST("", api.create, adminMiddleware())
	cg.GET("", api.query)

	dg := cg.Group("/:id", objectMiddleware(h, h.classes.GetByID, func(c classroom.Class) string { return c.SchoolID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.GET("/students", api.students, staffMiddleware())
	dg.POST("/students", api.enroll, adminMiddleware())
	dg.DELETE("/students/:student_id", api.unenroll, adminMiddleware())
}

func (api *classApi) create(ctx echo.Context) error {
	_, schoolID, err := api.ownSchool(ctx)
	if err != nil {
		return err
	}

	var data classroom.NewClass
	if err = bind(ctx, &data, "NewClass"); err != nil {
		return err
	}
	if err = data.Validate(ctx.Request().Context(), schoolID, api.validate, api.svc); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), schoolID, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *classApi) query(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(classroom.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []classroom.Class{})
	}
	filter.Clean()
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	studentIDs, err := api.studentScope(reqCtx, usr)
	if err != nil {
		return err
	}

	var classes []classroom.Class
	switch {
	case studentIDs == nil: // staff
		classes, err = api.svc.Query(reqCtx, filter, ordering, page)
	case filter.StudentID != "":
		if user.ContainsID(studentIDs, filter.StudentID) {
			classes, err = api.svc.Query(reqCtx, filter, ordering, page)
		}
	default:
		// the classes of every visible student
		for _, id := range studentIDs {
			filter.StudentID = id
			var found []classroom.Class
			if found, err = api.svc.Query(reqCtx, filter, ordering, page); err != nil {
				break
			}
			classes = appendNewClasses(classes, found)
		}
	}
	if err != nil {
		return errors.Wrap(err, "querying classes")
	}
	if classes == nil {
		classes = []classroom.Class{}
	}
	return ctx.JSON(http.StatusOK, classes)
}

func appendNewClasses(classes []classroom.Class, found []classroom.Class) []classroom.Class {
	for _, c := range found {
		seen := false
		for _, existing := range classes {
			if existing.ID == c.ID {
				seen = true
				break
			}
		}
		if !seen {
			classes = append(classes, c)
		}
	}
	return classes
}

func (api *classApi) retrieve(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	visible, err := api.canSeeClass(ctx.Request().Context(), usr, c.ID)
	if err != nil {
		return err
	}
	if !visible {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *classApi) update(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}

	var data classroom.UpdateClass
	if err = bind(ctx, &data, "UpdateClass"); err != nil {
		return err
	}
	if err = data.Validate(ctx.Request().Context(), c, api.validate, api.svc); err != nil {
		return err
	}

	c, err = api.svc.Update(ctx.Request().Context(), c, data)
	if err != nil {
		return errors.Wrap(err, "updating class")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *classApi) destroy(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting class")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *classApi) students(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}

	students, err := api.svc.Students(ctx.Request().Context(), c)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []user.User{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *classApi) enroll(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}

	var data classroom.EnrollStudents
	if err = bind(ctx, &data, "EnrollStudents"); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	c, err = api.svc.Enroll(ctx.Request().Context(), c, data.StudentIDs)
	if err != nil {
		return errors.Wrap(err, "enrolling students")
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *classApi) unenroll(ctx echo.Context) error {
	c, err := contextObject[classroom.Class](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Unenroll(ctx.Request().Context(), c, ctx.Param("student_id")); err != nil {
		return errors.Wrap(err, "unenrolling student")
	}
	return ctx.NoContent(http.StatusNoContent)
}
