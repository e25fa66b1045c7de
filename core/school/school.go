// Package school manages the schools that own every other record.
package school

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

var (
	ErrNotFound   = core.NewNotFoundError("school")
	ErrCodeExists = errors.New("مدرسه‌ای با این کد قبلا ثبت شده است")
)

type School struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Address     string    `json:"address"`
	Phone       string    `json:"phone"`
	PrincipalID string    `json:"principal_id"`
	IsActive    bool      `json:"is_active"`
	TrialEndsAt time.Time `json:"trial_ends_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TrialActive is informational only; nothing is gated on it.
func (s School) TrialActive() bool {
	return !s.TrialEndsAt.IsZero() && time.Now().Before(s.TrialEndsAt)
}

func (s School) MarshalJSON() ([]byte, error) {
	type school School
	return json.Marshal(struct {
		school
		TrialActive bool `json:"trial_active"`
	}{school(s), s.TrialActive()})
}

type NewSchool struct {
	Name        string `json:"name" validate:"required,notblank,max=200"`
	Code        string `json:"code" validate:"required,min=3,max=50,alphanum_"`
	Address     string `json:"address" validate:"max=500"`
	Phone       string `json:"phone" validate:"omitempty,numeric,max=15"`
	PrincipalID string `json:"principal_id" validate:"omitempty,uuid"`
}

func (ns *NewSchool) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Code = core.CleanString(ns.Code, true /* lower */)
	ns.Address = core.CleanString(ns.Address)
	ns.Phone = core.CleanDigits(ns.Phone)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.checkCode(ctx, ns.Code, "")
}

type UpdateSchool struct {
	Name        string  `json:"name" validate:"omitempty,max=200"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
	Phone       *string `json:"phone" validate:"omitempty,max=15"`
	PrincipalID *string `json:"principal_id" validate:"omitempty,uuid"`
	IsActive    *bool   `json:"is_active"`
}

func (us *UpdateSchool) Validate(validate *validator.Validate) error {
	us.Name = core.CleanString(us.Name)
	return validate.Struct(us)
}

type QueryFilter struct {
	Search   string `query:"search"`
	IsActive *bool  `query:"is_active"`
}

// Dashboard holds the headline numbers of a school.
type Dashboard struct {
	Students              int64 `json:"students" boil:"students"`
	Teachers              int64 `json:"teachers" boil:"teachers"`
	Parents               int64 `json:"parents" boil:"parents"`
	Classes               int64 `json:"classes" boil:"classes"`
	OpenAssignments       int64 `json:"open_assignments" boil:"open_assignments"`
	UpcomingExams         int64 `json:"upcoming_exams" boil:"upcoming_exams"`
	TodayAbsences         int64 `json:"today_absences" boil:"today_absences"`
	PendingJustifications int64 `json:"pending_justifications" boil:"pending_justifications"`
	UnpaidTuition         int64 `json:"unpaid_tuition" boil:"unpaid_tuition"` // rial
}

type (
	Repository interface {
		// CheckCodeUniqueness returns ErrCodeExists when code is used by a school other than excludedID.
		CheckCodeUniqueness(ctx context.Context, code, excludedID string) error
		CreateSchool(ctx context.Context, s School) (School, error)
		QuerySchools(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]School, error)
		GetSchoolByID(ctx context.Context, id string) (School, error)
		GetSchoolByCode(ctx context.Context, code string) (School, error)
		UpdateSchool(ctx context.Context, s School) (School, error)
		DeleteSchool(ctx context.Context, id string) error
		Dashboard(ctx context.Context, schoolID string, today core.Date) (Dashboard, error)
	}

	Service struct {
		conf *core.Config
		repo Repository
	}
)

func NewService(conf *core.Config, repo Repository) *Service {
	return &Service{conf: conf, repo: repo}
}

func (svc *Service) checkCode(ctx context.Context, code, excludedID string) error {
	if err := svc.repo.CheckCodeUniqueness(ctx, code, excludedID); err != nil {
		if errors.Cause(err) == ErrCodeExists {
			return core.NewFieldError("code", ErrCodeExists.Error())
		}
		return errors.Wrap(err, "checking code uniqueness")
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, ns NewSchool) (School, error) {
	now := core.Now()
	return svc.repo.CreateSchool(ctx, School{
		Name:        ns.Name,
		Code:        ns.Code,
		Address:     ns.Address,
		Phone:       ns.Phone,
		PrincipalID: ns.PrincipalID,
		IsActive:    true,
		TrialEndsAt: now.Add(svc.conf.TrialPeriod),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]School, error) {
	return svc.repo.QuerySchools(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (School, error) {
	return svc.repo.GetSchoolByID(ctx, id)
}

// SchoolIDByCode resolves the code users register with. Inactive schools are not found.
func (svc *Service) SchoolIDByCode(ctx context.Context, code string) (string, error) {
	s, err := svc.repo.GetSchoolByCode(ctx, core.CleanString(code, true /* lower */))
	if err != nil {
		return "", err
	}
	if !s.IsActive {
		return "", ErrNotFound
	}
	return s.ID, nil
}

func (svc *Service) Update(ctx context.Context, s School, us UpdateSchool) (School, error) {
	if us.Name != "" {
		s.Name = us.Name
	}
	if us.Address != nil {
		s.Address = core.CleanString(*us.Address)
	}
	if us.Phone != nil {
		s.Phone = core.CleanDigits(*us.Phone)
	}
	if us.PrincipalID != nil {
		s.PrincipalID = *us.PrincipalID
	}
	if us.IsActive != nil {
		s.IsActive = *us.IsActive
	}
	s.UpdatedAt = core.Now()
	return svc.repo.UpdateSchool(ctx, s)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteSchool(ctx, id)
}

func (svc *Service) Dashboard(ctx context.Context, schoolID string) (Dashboard, error) {
	d, err := svc.repo.Dashboard(ctx, schoolID, core.NewDate(time.Now()))
	return d, errors.Wrap(err, "loading dashboard")
}
