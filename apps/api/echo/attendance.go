package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/attendance"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type attendanceApi struct {
	*handler
	svc *attendance.Service
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, svc *attendance.Service) {
	api := attendanceApi{handler: h, svc: svc}
	staff := staffMiddleware()

	ag := g.Group("/attendance", jwt)
	ag.GET("", api.query)
	ag.GET("/summary", api.summary)
	ag.POST("/classes/:class_id", api.record, staff)

	jg := ag.Group("/justifications")
	jg.POST("", api.submitJustification)
	jg.GET("", api.queryJustifications)
	djg := jg.Group("/:id", objectMiddleware(h, svc.GetJustification, func(j attendance.Justification) string { return j.SchoolID }))
	djg.GET("", api.retrieveJustification)
	djg.GET("/document", api.justificationDocument)
	djg.PUT("/review", api.reviewJustification, staff)
	djg.DELETE("", api.destroyJustification)

	dg := ag.Group("/:id", objectMiddleware(h, svc.GetByID, func(a attendance.Attendance) string { return a.SchoolID }))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, staff)
	dg.DELETE("", api.destroy, adminMiddleware())
}

func (api *attendanceApi) record(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	c, err := api.classes.GetByID(reqCtx, ctx.Param("class_id"))
	if err != nil {
		return err
	}
	if !canAccessSchool(usr, c.SchoolID) {
		return errHttpNotFound
	}

	var data attendance.Roll
	if err = bind(ctx, &data, "Roll"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	records, err := api.svc.Record(reqCtx, c.SchoolID, c.ID, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "recording attendance")
	}
	return ctx.JSON(http.StatusCreated, records)
}

func (api *attendanceApi) query(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(attendance.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []attendance.Attendance{})
	}
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	if filter.StudentIDs, err = api.studentScope(reqCtx, usr); err != nil {
		return err
	}

	records, err := api.svc.Query(reqCtx, filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	if records == nil {
		records = []attendance.Attendance{}
	}
	return ctx.JSON(http.StatusOK, records)
}

type SummaryRequest struct {
	StudentID string    `query:"student_id"`
	From      core.Date `query:"from"`
	To        core.Date `query:"to"`
}

type SummaryResponse struct {
	attendance.Summary
	StudentID string    `json:"student_id"`
	From      core.Date `json:"from"`
	To        core.Date `json:"to"`
	Total     int       `json:"total"`
}

func (api *attendanceApi) summary(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	var data SummaryRequest
	if err = bind(ctx, &data, "SummaryRequest"); err != nil {
		return err
	}
	if data.StudentID == "" {
		if !usr.IsStudent() {
			return core.NewFieldError("student_id", "شناسه دانش‌آموز الزامی است")
		}
		data.StudentID = usr.ID
	}

	reqCtx := ctx.Request().Context()
	student, err := api.visibleStudent(reqCtx, usr, data.StudentID)
	if err != nil {
		return err
	}

	s, err := api.svc.Summary(reqCtx, student.ID, data.From, data.To)
	if err != nil {
		return errors.Wrap(err, "summarizing attendance")
	}
	return ctx.JSON(http.StatusOK, SummaryResponse{
		Summary:   s,
		StudentID: student.ID,
		From:      data.From,
		To:        data.To,
		Total:     s.Total(),
	})
}

// visibleRecord loads the context attendance record, hiding other students' records from students and parents.
func (api *attendanceApi) visibleRecord(ctx echo.Context) (attendance.Attendance, error) {
	a, err := contextObject[attendance.Attendance](ctx)
	if err != nil {
		return a, err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return a, err
	}
	ok, err := api.canSeeStudent(ctx.Request().Context(), usr, a.StudentID)
	if err != nil {
		return a, err
	}
	if !ok {
		return a, attendance.ErrNotFound
	}
	return a, nil
}

func (api *attendanceApi) retrieve(ctx echo.Context) error {
	a, err := api.visibleRecord(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *attendanceApi) update(ctx echo.Context) error {
	a, err := contextObject[attendance.Attendance](ctx)
	if err != nil {
		return err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	var data attendance.UpdateAttendance
	if err = bind(ctx, &data, "UpdateAttendance"); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	a, err = api.svc.Update(ctx.Request().Context(), a, data, usr.ID)
	if err != nil {
		return errors.Wrap(err, "updating attendance")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *attendanceApi) destroy(ctx echo.Context) error {
	a, err := contextObject[attendance.Attendance](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), a.ID); err != nil {
		return errors.Wrap(err, "deleting attendance")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// submitJustification accepts a multipart form. Students submit for themselves, parents and staff name the student.
func (api *attendanceApi) submitJustification(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	var data attendance.NewJustification
	if err = bind(ctx, &data, "NewJustification"); err != nil {
		return err
	}
	if usr.IsStudent() {
		data.StudentID = usr.ID
	} else if data.StudentID == "" {
		return core.NewFieldError("student_id", "شناسه دانش‌آموز الزامی است")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	student, err := api.visibleStudent(reqCtx, usr, data.StudentID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewFieldError("student_id", "دانش‌آموز پیدا نشد")
		}
		return err
	}

	var doc *attendance.Document
	fh, err := ctx.FormFile("document")
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			return errors.Wrap(err, "opening uploaded document")
		}
		defer f.Close()
		doc = &attendance.Document{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Content:     f,
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return errors.Wrap(err, "reading uploaded document")
	}

	j, err := api.svc.SubmitJustification(reqCtx, student.SchoolID, student.ID, usr.ID, data, doc)
	if err != nil {
		return errors.Wrap(err, "submitting justification")
	}
	return ctx.JSON(http.StatusCreated, j)
}

func (api *attendanceApi) queryJustifications(ctx echo.Context) error {
	usr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(attendance.JustificationFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []attendance.Justification{})
	}
	filter.SchoolID = schoolID

	reqCtx := ctx.Request().Context()
	if filter.StudentIDs, err = api.studentScope(reqCtx, usr); err != nil {
		return err
	}

	js, err := api.svc.QueryJustifications(reqCtx, filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying justifications")
	}
	if js == nil {
		js = []attendance.Justification{}
	}
	return ctx.JSON(http.StatusOK, js)
}

func (api *attendanceApi) visibleJustification(ctx echo.Context) (attendance.Justification, user.User, error) {
	j, err := contextObject[attendance.Justification](ctx)
	if err != nil {
		return j, user.User{}, err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return j, usr, err
	}
	ok, err := api.canSeeStudent(ctx.Request().Context(), usr, j.StudentID)
	if err != nil {
		return j, usr, err
	}
	if !ok {
		return j, usr, attendance.ErrJustificationNotFound
	}
	return j, usr, nil
}

func (api *attendanceApi) retrieveJustification(ctx echo.Context) error {
	j, _, err := api.visibleJustification(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, j)
}

type DocumentResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (api *attendanceApi) justificationDocument(ctx echo.Context) error {
	j, _, err := api.visibleJustification(ctx)
	if err != nil {
		return err
	}

	url, err := api.svc.DocumentURL(ctx.Request().Context(), j)
	if err != nil {
		return errors.Wrap(err, "signing document url")
	}
	if ctx.QueryParam("redirect") == "true" {
		return ctx.Redirect(http.StatusFound, url)
	}
	return ctx.JSON(http.StatusOK, DocumentResponse{Name: j.DocumentName, URL: url})
}

func (api *attendanceApi) reviewJustification(ctx echo.Context) error {
	j, err := contextObject[attendance.Justification](ctx)
	if err != nil {
		return err
	}
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}

	var data attendance.Review
	if err = bind(ctx, &data, "Review"); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	j, err = api.svc.ReviewJustification(ctx.Request().Context(), j.ID, usr.ID, data)
	if err != nil {
		return errors.Wrap(err, "reviewing justification")
	}
	return ctx.JSON(http.StatusOK, j)
}

// destroyJustification lets the submitter (or an admin) withdraw a pending justification.
func (api *attendanceApi) destroyJustification(ctx echo.Context) error {
	j, usr, err := api.visibleJustification(ctx)
	if err != nil {
		return err
	}
	if j.SubmittedBy != usr.ID && !usr.IsAdmin() {
		return errHttpForbidden
	}
	if err = api.svc.DeleteJustification(ctx.Request().Context(), j); err != nil {
		return errors.Wrap(err, "deleting justification")
	}
	return ctx.NoContent(http.StatusNoContent)
}
