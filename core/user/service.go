package user

import (
	"context"
	"net/mail"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

var (
	// errors
	ErrNotFound           = core.NewNotFoundError("user")
	ErrNationalIDExists   = errors.New("کاربری با این کد ملی قبلا ثبت شده است")
	ErrPhoneExists        = errors.New("کاربری با این شماره موبایل قبلا ثبت شده است")
	ErrEmailExists        = errors.New("کاربری با این ایمیل قبلا ثبت شده است")
	ErrSchoolCodeNotFound = errors.New("مدرسه‌ای با این کد پیدا نشد")
)

type (
	Repository interface {
		// CheckUniqueness returns ErrNationalIDExists, ErrPhoneExists or ErrEmailExists when one of the values
		// is already taken by a user other than excludedIDs.
		CheckUniqueness(ctx context.Context, nationalID, phone, email string, excludedIDs []string, exec ...core.DBExecutor) error
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.NationalID, User.Phone or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, exec ...core.DBExecutor) ([]User, error)
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (User, error)
		GetUserByNationalID(ctx context.Context, nationalID string, exec ...core.DBExecutor) (User, error)
		UpdateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		SetLastLogin(ctx context.Context, id string, lastLogin time.Time, exec ...core.DBExecutor) error
		// AdjustBehaviorScore adds delta to the user's behavior score, clamped to [MinBehaviorScore, MaxBehaviorScore].
		AdjustBehaviorScore(ctx context.Context, id string, delta float64, exec ...core.DBExecutor) (float64, error)
		DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) error
	}

	// SchoolFinder resolves the school code a user registers with.
	SchoolFinder interface {
		SchoolIDByCode(ctx context.Context, code string) (string, error)
	}

	Service struct {
		conf    *core.Config
		repo    Repository
		otps    OTPRepository
		schools SchoolFinder
		mailSvc core.EmailService
		smsSvc  core.SMSService
		tokens  passwordResetTokens
	}
)

func NewService(
	conf *core.Config,
	repo Repository,
	otps OTPRepository,
	schools SchoolFinder,
	mailSvc core.EmailService,
	smsSvc core.SMSService,
) *Service {
	return &Service{
		conf:    conf,
		repo:    repo,
		otps:    otps,
		schools: schools,
		mailSvc: mailSvc,
		smsSvc:  smsSvc,
		tokens: passwordResetTokens{
			secretKey: conf.SecretKey,
			timeout:   conf.Server.PasswordResetTimeoutDelta,
		},
	}
}

// CheckUniqueness maps the repository's uniqueness errors to field validation errors.
func (svc *Service) CheckUniqueness(ctx context.Context, nationalID, phone, email string, excludedIDs ...string) error {
	if err := svc.repo.CheckUniqueness(ctx, nationalID, phone, email, excludedIDs); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrNationalIDExists:
			field = "national_id"
		case ErrPhoneExists:
			field = "phone"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create adds a user on behalf of an admin.
func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := core.Now()
	usr := User{
		SchoolID:      nu.SchoolID,
		NationalID:    nu.NationalID,
		Phone:         nu.Phone,
		Name:          nu.Name,
		Email:         nu.Email,
		Roles:         nu.Roles,
		IsActive:      nu.IsActive == nil || *nu.IsActive,
		ParentID:      nu.ParentID,
		BehaviorScore: DefaultBehaviorScore,
		TrialEndsAt:   now.Add(svc.conf.TrialPeriod),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Register signs up a student or parent once the OTP sent to their phone is verified.
func (svc *Service) Register(ctx context.Context, reg NewRegistration) (User, error) {
	var schoolID string
	if reg.SchoolCode != "" {
		id, err := svc.schools.SchoolIDByCode(ctx, reg.SchoolCode)
		if err != nil {
			if core.IsNotFound(err) {
				return User{}, core.NewFieldError("school_code", ErrSchoolCodeNotFound.Error())
			}
			return User{}, errors.Wrap(err, "finding school")
		}
		schoolID = id
	}

	if err := svc.verifyOTP(ctx, reg.Phone, reg.Code); err != nil {
		return User{}, err
	}

	now := core.Now()
	usr := User{
		SchoolID:      schoolID,
		NationalID:    reg.NationalID,
		Phone:         reg.Phone,
		Name:          reg.Name,
		Email:         reg.Email,
		Roles:         []string{reg.Role},
		IsActive:      true,
		BehaviorScore: DefaultBehaviorScore,
		TrialEndsAt:   now.Add(svc.conf.TrialPeriod),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := usr.SetPassword(reg.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByNationalID(ctx context.Context, nationalID string) (User, error) {
	return svc.repo.GetUserByNationalID(ctx, core.CleanDigits(nationalID))
}

// Children lists the students whose parent is parentID.
func (svc *Service) Children(ctx context.Context, parentID string) ([]User, error) {
	filter := &QueryFilter{ParentID: parentID, Roles: []string{RoleStudent}}
	return svc.repo.QueryUsers(ctx, filter, []core.DBOrdering{{Field: "name", Ascending: true}}, core.Page{})
}

func (svc *Service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.NationalID = uu.NationalID
	usr.Phone = uu.Phone
	usr.Name = uu.Name
	usr.Email = uu.Email
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.ParentID != nil {
		usr.ParentID = *uu.ParentID
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = core.Now()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = core.Now()
	if err := svc.repo.SetLastLogin(ctx, usr.ID, usr.LastLogin); err != nil {
		return User{}, err
	}
	return usr, nil
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids)
}

// RequestPasswordReset sends a reset link to the user's phone, and to their email when they have one.
func (svc *Service) RequestPasswordReset(ctx context.Context, nationalID string) error {
	usr, err := svc.GetByNationalID(ctx, nationalID)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	svc.sendPasswordResetMessages(usr)
	return nil
}

func (svc *Service) sendPasswordResetMessages(usr User) {
	data := map[string]interface{}{
		"Name":  usr.Name,
		"UID":   EncodeUID(usr),
		"Token": svc.tokens.makeToken(usr),
	}

	svc.smsSvc.SendMessages(&core.SMSMessage{
		To:           []string{usr.Phone},
		TemplateName: "password_reset",
		TemplateData: data,
	})

	if usr.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:      "بازیابی رمز عبور",
			TemplateName: "password_reset",
			TemplateData: data,
		})
	}
}

// ResetPassword sets a new password once the uid/token pair sent by RequestPasswordReset is verified.
func (svc *Service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalid := core.NewFieldError("token", "لینک بازیابی نامعتبر یا منقضی شده است")

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalid
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return invalid
		}
		return errors.Wrap(err, "finding user")
	}
	if err = svc.tokens.verifyToken(usr, data.Token); err != nil {
		return invalid
	}

	if tag := checkPassword(data.Password, usr.Name, usr.NationalID, usr.Phone, usr.Email); tag == pwdAttrSimTag {
		return core.NewFieldError("password", pwdAttrSimText)
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = core.Now()
	if _, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	return nil
}

// ContainsID reports whether ids holds id.
func ContainsID(ids []string, id string) bool {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	if i := sort.SearchStrings(sorted, id); i < len(sorted) {
		return sorted[i] == id
	}
	return false
}
