package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

var errNoPermsToSetRoles = "دسترسی کافی برای تعیین این نقش‌ها ندارید"

type userApi struct {
	*handler
	svc *user.Service
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, h *handler, limiter func(name string) echo.MiddlewareFunc) {
	api := userApi{handler: h, svc: h.users}

	ug := g.Group("/users")

	// un-authed endpoints
	resetLimiter := limiter("password_reset")
	ug.POST("/login", api.login, limiter("login"))
	ug.POST("/request-otp", api.requestOTP, limiter("otp"))
	ug.POST("/register", api.register, limiter("register"))
	ug.POST("/password-reset", api.resetPassword, resetLimiter)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset, resetLimiter)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
	ag.POST("", api.create, adminMiddleware())
	ag.GET("", api.query, staffMiddleware())
	ag.DELETE("", api.destroyMultiple, adminMiddleware())
	ag.GET("/roles", api.queryRoles, adminMiddleware())

	// detail endpoints
	dg := ag.Group("/:id", api.visibleUserMiddleware())
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.GET("/children", api.children)
}

// Handlers

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := bind(ctx, &data, "NewUser"); err != nil {
		return err
	}

	ctxUsr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	if !ctxUsr.IsOwner() || data.SchoolID == "" {
		data.SchoolID = ctxUsr.SchoolID
	}

	if err = data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewFieldError("roles", errNoPermsToSetRoles)
	}

	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) requestOTP(ctx echo.Context) error {
	var data OTPRequest
	if err := bind(ctx, &data, "OTPRequest"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if err := api.svc.RequestOTP(ctx.Request().Context(), data.Phone); err != nil {
		return errors.Wrap(err, "requesting otp")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "کد تایید به شماره موبایل شما ارسال شد."})
}

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewRegistration
	if err := bind(ctx, &data, "NewRegistration"); err != nil {
		return err
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	token, err := GenerateToken(api.conf, GetUserClaims(api.conf, usr))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusCreated, RegisterResponse{Token: token, User: usr})
}

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := bind(ctx, &data, "LoginRequest"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx.Request().Context(), api.conf, data.NationalID, data.Password, api.svc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(api.conf, claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := bind(ctx, &data, "PasswordResetRequest"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.NationalID); err != nil && !core.IsNotFound(err) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "اگر حساب فعالی با این کد ملی وجود داشته باشد، لینک بازیابی رمز عبور به زودی برای شما ارسال می‌شود.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := bind(ctx, &data, "ResetUserPassword"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "رمز عبور با موفقیت تغییر کرد."})
}

func (api *userApi) query(ctx echo.Context) error {
	ctxUsr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}

	filter := new(user.QueryFilter)
	ordering, page, ok := bindList(ctx, filter)
	if !ok {
		return ctx.JSON(http.StatusOK, []user.User{})
	}
	filter.Clean()
	filter.SchoolID = schoolID
	if !ctxUsr.IsAdmin() {
		// teachers list students and parents only
		filter.Roles = []string{user.RoleStudent, user.RoleParent}
	}

	users, err := api.svc.Query(ctx.Request().Context(), filter, ordering, page)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := contextObject[user.User](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) children(ctx echo.Context) error {
	usr, err := contextObject[user.User](ctx)
	if err != nil {
		return err
	}
	if !usr.IsParent() {
		return ctx.JSON(http.StatusOK, []user.User{})
	}

	children, err := api.svc.Children(ctx.Request().Context(), usr.ID)
	if err != nil {
		return errors.Wrap(err, "querying children")
	}
	if children == nil {
		children = []user.User{}
	}
	return ctx.JSON(http.StatusOK, children)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, err := contextObject[user.User](ctx)
	if err != nil {
		return err
	}

	ctxUsr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	// admins cannot update users ranked above them
	if usr.ID != ctxUsr.ID && (!ctxUsr.IsAdmin() || user.MaxRolePriority(usr.Roles) > user.MaxRolePriority(ctxUsr.Roles)) {
		return errHttpForbidden
	}

	var data user.UpdateUser
	if err = bind(ctx, &data, "UpdateUser"); err != nil {
		return err
	}
	if !ctxUsr.IsAdmin() {
		// `IsActive`, `Roles`, `ParentID` and `NationalID` can only be changed by admin
		if data.IsActive != nil || data.Roles != nil || data.ParentID != nil || data.NationalID != "" {
			return errHttpForbidden
		}
	}

	if err = data.Validate(ctx.Request().Context(), usr, api.validate, api.svc); err != nil {
		return err
	}

	// ctxUser cannot set a role > their own max role
	if user.MaxRolePriority(data.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return core.NewFieldError("roles", errNoPermsToSetRoles)
	}

	usr, err = api.svc.Update(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) destroy(ctx echo.Context) error {
	usr, err := contextObject[user.User](ctx)
	if err != nil {
		return err
	}

	// ctxUser cannot delete themselves
	ctxUsr, err := api.ctxUser(ctx)
	if err != nil {
		return err
	}
	if usr.ID == ctxUsr.ID || user.MaxRolePriority(usr.Roles) > user.MaxRolePriority(ctxUsr.Roles) {
		return errHttpForbidden
	}

	if err = api.svc.Delete(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	// ctxUser cannot delete themselves
	ctxUsr, schoolID, err := api.schoolScope(ctx)
	if err != nil {
		return err
	}
	if user.ContainsID(query.IDs, ctxUsr.ID) {
		return errHttpForbidden
	}

	// only users of the admin's school with a lower or equal role are deleted
	reqCtx := ctx.Request().Context()
	users, err := api.svc.Query(reqCtx, &user.QueryFilter{IDs: query.IDs, SchoolID: schoolID}, nil, core.Page{})
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	ids := make([]string, 0, len(users))
	maxPriority := user.MaxRolePriority(ctxUsr.Roles)
	for _, usr := range users {
		if user.MaxRolePriority(usr.Roles) > maxPriority {
			return errHttpForbidden
		}
		ids = append(ids, usr.ID)
	}
	if len(ids) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}

	if err = api.svc.Delete(reqCtx, ids...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.conf, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

// visibleUserMiddleware loads the `:id` user when the context user may see them:
// themselves, a child of theirs or, for staff, anyone in their school.
func (api *userApi) visibleUserMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := api.ctxUser(ctx)
			if err != nil {
				return err
			}

			usr, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if core.IsNotFound(err) {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding user by ID")
			}

			visible := usr.ID == ctxUsr.ID ||
				(usr.ParentID != "" && usr.ParentID == ctxUsr.ID) ||
				(ctxUsr.IsStaff() && canAccessSchool(ctxUsr, usr.SchoolID))
			if !visible {
				return errHttpNotFound
			}
			ctx.Set(objectContextKey, usr)
			return next(ctx)
		}
	}
}

type (
	LoginRequest struct {
		NationalID string `json:"national_id" validate:"required"`
		Password   string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	RegisterResponse struct {
		Token string    `json:"token"`
		User  user.User `json:"user"`
	}

	OTPRequest struct {
		Phone string `json:"phone" validate:"required,irmobile"`
	}

	PasswordResetRequest struct {
		NationalID string `json:"national_id" validate:"required,nationalid"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.NationalID = core.CleanDigits(lr.NationalID)
	return validate.Struct(lr)
}

func (or *OTPRequest) Validate(validate *validator.Validate) error {
	or.Phone = core.NormalizeMobile(or.Phone)
	return validate.Struct(or)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.NationalID = core.CleanDigits(pr.NationalID)
	return validate.Struct(pr)
}
