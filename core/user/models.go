package user

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sayghamsari/daftarrabet/core"
)

const (
	MinBehaviorScore     = 0
	MaxBehaviorScore     = 20
	DefaultBehaviorScore = MaxBehaviorScore
)

type User struct {
	ID            string    `json:"id"`
	SchoolID      string    `json:"school_id"`
	NationalID    string    `json:"national_id"`
	Phone         string    `json:"phone"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Roles         []string  `json:"roles"`
	IsActive      bool      `json:"is_active"`
	ParentID      string    `json:"parent_id"`
	BehaviorScore float64   `json:"behavior_score"`
	TrialEndsAt   time.Time `json:"trial_ends_at"` // UTC
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
	LastLogin     time.Time `json:"last_login"` // UTC
}

// MarshalJSON adds the read-only trial_active flag.
func (u User) MarshalJSON() ([]byte, error) {
	type user User
	return json.Marshal(struct {
		user
		TrialActive bool `json:"trial_active"`
	}{user(u), u.TrialActive()})
}

// TrialActive reports whether the user is still within their trial window. It is informational only.
func (u *User) TrialActive() bool {
	return !u.TrialEndsAt.IsZero() && time.Now().Before(u.TrialEndsAt)
}

func (u *User) SetPassword(pwd string) error {
	hash, err := HashPassword(pwd)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return ComparePassword(u.PasswordHash, pwd)
}

func (u *User) RoleStartsWith(prefix string) bool {
	return rolesStartWith(u.Roles, prefix)
}

func (u *User) IsAdmin() bool {
	return u.RoleStartsWith(RoleAdmin)
}

func (u *User) IsOwner() bool {
	for _, r := range u.Roles {
		if r == RoleAdminOwner {
			return true
		}
	}
	return false
}

func (u *User) IsTeacher() bool {
	return u.RoleStartsWith(RoleTeacher)
}

func (u *User) IsParent() bool {
	return u.RoleStartsWith(RoleParent)
}

func (u *User) IsStudent() bool {
	return u.RoleStartsWith(RoleStudent)
}

// IsStaff reports whether the user manages school records (admins & teachers).
func (u *User) IsStaff() bool {
	return u.IsAdmin() || u.IsTeacher()
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	NationalID      string   `json:"national_id" validate:"required,nationalid"`
	Phone           string   `json:"phone" validate:"required,irmobile"`
	Name            string   `json:"name" validate:"required,notblank,max=150"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"required,min=1,allroles"`
	SchoolID        string   `json:"school_id" validate:"omitempty,uuid"`
	ParentID        string   `json:"parent_id" validate:"omitempty,uuid"`
	IsActive        *bool    `json:"is_active"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.NationalID = core.CleanDigits(nu.NationalID)
	nu.Phone = core.NormalizeMobile(nu.Phone)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.NationalID, nu.Phone, nu.Email)
}

// NewRegistration is submitted by students and parents signing themselves up with an OTP sent to their phone.
type NewRegistration struct {
	NationalID      string `json:"national_id" validate:"required,nationalid"`
	Phone           string `json:"phone" validate:"required,irmobile"`
	Code            string `json:"code" validate:"required,numeric"`
	Name            string `json:"name" validate:"required,notblank,max=150"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"required,oneof=student: parent:"`
	SchoolCode      string `json:"school_code" validate:"omitempty,max=50"`
}

func (nr *NewRegistration) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nr.NationalID = core.CleanDigits(nr.NationalID)
	nr.Phone = core.NormalizeMobile(nr.Phone)
	nr.Code = core.CleanDigits(nr.Code)
	nr.Name = core.CleanString(nr.Name)
	nr.Email = core.CleanString(nr.Email, true /* lower */)
	nr.SchoolCode = core.CleanString(nr.SchoolCode, true /* lower */)

	if err := validate.Struct(nr); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nr.NationalID, nr.Phone, nr.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	NationalID      string   `json:"national_id" validate:"omitempty,nationalid"`
	Phone           string   `json:"phone" validate:"omitempty,irmobile"`
	Name            string   `json:"name" validate:"omitempty,max=150"`
	Email           string   `json:"email" validate:"omitempty,email"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,allroles"`
	ParentID        *string  `json:"parent_id" validate:"omitempty,uuid"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc *Service) error {
	if nid := core.CleanDigits(uu.NationalID); nid != "" {
		uu.NationalID = nid
	} else {
		uu.NationalID = origUsr.NationalID
	}

	if phone := core.NormalizeMobile(uu.Phone); phone != "" {
		uu.Phone = phone
	} else {
		uu.Phone = origUsr.Phone
	}

	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.NationalID, uu.Phone, uu.Email, origUsr.ID)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom core.Date `query:"created_from"`
	CreatedTo   core.Date `query:"created_to"`
	ParentID    string    `query:"parent_id"`
	SchoolID    string    `query:"-"` // set from the context user
	IDs         []string  `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() &&
		qf.CreatedTo.IsZero() && qf.ParentID == "" && qf.SchoolID == "" && qf.IDs == nil
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanDigits(core.CleanString(qf.Search))
}
