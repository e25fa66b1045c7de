package echoapi

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/user"
)

const objectContextKey = "object"

var errObjNotFoundInCtx = errors.New("object not found in echo.Context")

// handler holds what every API needs to authorize and validate requests.
type handler struct {
	conf       *core.Config
	validate   *validator.Validate
	translator ut.Translator
	users      *user.Service
	classes    *classroom.Service
}

func (h *handler) ctxUser(ctx echo.Context) (user.User, error) {
	usr, err := getContextUser(ctx, h.users)
	return usr, errors.Wrap(err, "getting context user")
}

// ownSchool returns the context user along with the school new records are created in.
func (h *handler) ownSchool(ctx echo.Context) (user.User, string, error) {
	usr, err := h.ctxUser(ctx)
	if err != nil {
		return user.User{}, "", err
	}
	if usr.SchoolID == "" {
		return user.User{}, "", errNoSchool
	}
	return usr, usr.SchoolID, nil
}

// schoolScope returns the school list queries are restricted to. Owners see every school.
func (h *handler) schoolScope(ctx echo.Context) (user.User, string, error) {
	usr, err := h.ctxUser(ctx)
	if err != nil {
		return user.User{}, "", err
	}
	if usr.IsOwner() {
		return usr, "", nil
	}
	if usr.SchoolID == "" {
		return user.User{}, "", errNoSchool
	}
	return usr, usr.SchoolID, nil
}

func canAccessSchool(usr user.User, schoolID string) bool {
	return usr.IsOwner() || (usr.SchoolID != "" && usr.SchoolID == schoolID)
}

// studentScope returns the students whose records usr may see: nil (no restriction) for staff,
// themselves for students and their children for parents.
func (h *handler) studentScope(ctx context.Context, usr user.User) ([]string, error) {
	switch {
	case usr.IsStaff():
		return nil, nil
	case usr.IsStudent():
		return []string{usr.ID}, nil
	case usr.IsParent():
		children, err := h.users.Children(ctx, usr.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying children")
		}
		ids := make([]string, 0, len(children))
		for _, c := range children {
			ids = append(ids, c.ID)
		}
		return ids, nil
	default:
		return []string{}, nil
	}
}

// classScope returns the classes whose records usr may see: nil for staff, the classes of the visible students otherwise.
func (h *handler) classScope(ctx context.Context, usr user.User) ([]string, error) {
	studentIDs, err := h.studentScope(ctx, usr)
	if err != nil || studentIDs == nil {
		return nil, err
	}
	ids := make([]string, 0)
	for _, sid := range studentIDs {
		classes, err := h.classes.Query(ctx, &classroom.QueryFilter{StudentID: sid, SchoolID: usr.SchoolID}, nil, core.Page{})
		if err != nil {
			return nil, errors.Wrap(err, "querying classes")
		}
		for _, c := range classes {
			if !user.ContainsID(ids, c.ID) {
				ids = append(ids, c.ID)
			}
		}
	}
	return ids, nil
}

// canSeeStudent reports whether usr may see the records of studentID (school checks aside).
func (h *handler) canSeeStudent(ctx context.Context, usr user.User, studentID string) (bool, error) {
	ids, err := h.studentScope(ctx, usr)
	if err != nil {
		return false, err
	}
	return ids == nil || user.ContainsID(ids, studentID), nil
}

// canSeeClass reports whether usr may see the records of classID (school checks aside).
func (h *handler) canSeeClass(ctx context.Context, usr user.User, classID string) (bool, error) {
	ids, err := h.classScope(ctx, usr)
	if err != nil {
		return false, err
	}
	return ids == nil || user.ContainsID(ids, classID), nil
}

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets admins and teachers through.
func staffMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin || claims.IsTeacher {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// objectMiddleware loads the `:id` object of the route into the context.
// Objects of another school are reported as not found.
func objectMiddleware[T any](h *handler, load func(context.Context, string) (T, error), schoolOf func(T) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := h.ctxUser(ctx)
			if err != nil {
				return err
			}
			obj, err := load(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				return err
			}
			if !canAccessSchool(usr, schoolOf(obj)) {
				return errHttpNotFound
			}
			ctx.Set(objectContextKey, obj)
			return next(ctx)
		}
	}
}

func contextObject[T any](ctx echo.Context) (T, error) {
	obj, ok := ctx.Get(objectContextKey).(T)
	if !ok {
		return obj, errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	return obj, nil
}

// visibleStudent loads studentID if usr may see their records.
func (h *handler) visibleStudent(ctx context.Context, usr user.User, studentID string) (user.User, error) {
	student, err := h.users.GetByID(ctx, studentID)
	if err != nil {
		return user.User{}, err
	}
	if !student.IsStudent() || !canAccessSchool(usr, student.SchoolID) {
		return user.User{}, user.ErrNotFound
	}
	ok, err := h.canSeeStudent(ctx, usr, student.ID)
	if err != nil {
		return user.User{}, err
	}
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return student, nil
}
