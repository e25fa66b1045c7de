// Package classroom manages classes and their enrolled students.
package classroom

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

var (
	ErrNotFound   = core.NewNotFoundError("class")
	ErrNameExists = errors.New("کلاسی با این نام در این سال تحصیلی وجود دارد")
	ErrClassFull  = core.NewConflictError("ظرفیت کلاس تکمیل است")

	errNotAStudent = "فقط دانش‌آموزان این مدرسه را می‌توان ثبت‌نام کرد"
	errNotATeacher = "معلم انتخاب‌شده معتبر نیست"
)

type Class struct {
	ID           string    `json:"id"`
	SchoolID     string    `json:"school_id"`
	Name         string    `json:"name"`
	Grade        int       `json:"grade"`
	AcademicYear string    `json:"academic_year"`
	TeacherID    string    `json:"teacher_id"`
	Capacity     int       `json:"capacity"` // 0: unlimited
	StudentCount int       `json:"student_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasRoomFor reports whether n more students fit in the class.
func (c Class) HasRoomFor(n int) bool {
	return c.Capacity == 0 || c.StudentCount+n <= c.Capacity
}

type NewClass struct {
	Name         string `json:"name" validate:"required,notblank,max=100"`
	Grade        int    `json:"grade" validate:"gte=1,lte=12"`
	AcademicYear string `json:"academic_year" validate:"required,max=20"`
	TeacherID    string `json:"teacher_id" validate:"omitempty,uuid"`
	Capacity     int    `json:"capacity" validate:"gte=0,lte=200"`
}

func (nc *NewClass) Validate(ctx context.Context, schoolID string, validate *validator.Validate, svc *Service) error {
	nc.Name = core.CleanString(nc.Name)
	nc.AcademicYear = core.CleanDigits(nc.AcademicYear)

	if err := validate.Struct(nc); err != nil {
		return err
	}
	if err := svc.checkTeacher(ctx, schoolID, nc.TeacherID); err != nil {
		return err
	}
	return svc.checkName(ctx, schoolID, nc.Name, nc.AcademicYear, "")
}

type UpdateClass struct {
	Name         string  `json:"name" validate:"omitempty,max=100"`
	Grade        *int    `json:"grade" validate:"omitempty,gte=1,lte=12"`
	AcademicYear string  `json:"academic_year" validate:"omitempty,max=20"`
	TeacherID    *string `json:"teacher_id" validate:"omitempty,uuid"`
	Capacity     *int    `json:"capacity" validate:"omitempty,gte=0,lte=200"`
}

func (uc *UpdateClass) Validate(ctx context.Context, orig Class, validate *validator.Validate, svc *Service) error {
	if name := core.CleanString(uc.Name); name != "" {
		uc.Name = name
	} else {
		uc.Name = orig.Name
	}
	if year := core.CleanDigits(uc.AcademicYear); year != "" {
		uc.AcademicYear = year
	} else {
		uc.AcademicYear = orig.AcademicYear
	}

	if err := validate.Struct(uc); err != nil {
		return err
	}
	if uc.Capacity != nil && *uc.Capacity != 0 && *uc.Capacity < orig.StudentCount {
		return core.NewFieldError("capacity", fmt.Sprintf("ظرفیت نمی‌تواند کمتر از %d باشد", orig.StudentCount))
	}
	if uc.TeacherID != nil {
		if err := svc.checkTeacher(ctx, orig.SchoolID, *uc.TeacherID); err != nil {
			return err
		}
	}
	return svc.checkName(ctx, orig.SchoolID, uc.Name, uc.AcademicYear, orig.ID)
}

type QueryFilter struct {
	Search       string `query:"search"`
	Grade        int    `query:"grade"`
	AcademicYear string `query:"academic_year"`
	TeacherID    string `query:"teacher_id"`
	StudentID    string `query:"student_id"` // classes the student is enrolled in
	SchoolID     string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.AcademicYear = core.CleanDigits(qf.AcademicYear)
}

type EnrollStudents struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,uuid"`
}

type (
	Repository interface {
		CheckNameUniqueness(ctx context.Context, schoolID, name, academicYear, excludedID string) error
		CreateClass(ctx context.Context, c Class) (Class, error)
		QueryClasses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Class, error)
		GetClassByID(ctx context.Context, id string, exec ...core.DBExecutor) (Class, error)
		UpdateClass(ctx context.Context, c Class) (Class, error)
		DeleteClass(ctx context.Context, id string) error

		// LockClass locks the class row until the end of the transaction.
		LockClass(ctx context.Context, id string, exec core.DBExecutor) error
		EnrollStudents(ctx context.Context, classID string, studentIDs []string, at time.Time, exec ...core.DBExecutor) error
		UnenrollStudent(ctx context.Context, classID, studentID string) error
		IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
		// FilterEnrolled returns the studentIDs enrolled in the class.
		FilterEnrolled(ctx context.Context, classID string, studentIDs []string, exec ...core.DBExecutor) ([]string, error)
		QueryStudents(ctx context.Context, classID string) ([]user.User, error)
	}

	UserGetter interface {
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error)
	}

	Service struct {
		tx    core.Transactor
		repo  Repository
		users UserGetter
	}
)

func NewService(tx core.Transactor, repo Repository, users UserGetter) *Service {
	return &Service{tx: tx, repo: repo, users: users}
}

func (svc *Service) checkName(ctx context.Context, schoolID, name, year, excludedID string) error {
	if err := svc.repo.CheckNameUniqueness(ctx, schoolID, name, year, excludedID); err != nil {
		if errors.Cause(err) == ErrNameExists {
			return core.NewFieldError("name", ErrNameExists.Error())
		}
		return errors.Wrap(err, "checking name uniqueness")
	}
	return nil
}

func (svc *Service) checkTeacher(ctx context.Context, schoolID, teacherID string) error {
	if teacherID == "" {
		return nil
	}
	usr, err := svc.users.GetUserByID(ctx, teacherID)
	if err != nil {
		if core.IsNotFound(err) {
			return core.NewFieldError("teacher_id", errNotATeacher)
		}
		return errors.Wrap(err, "finding teacher")
	}
	if !usr.IsTeacher() || usr.SchoolID != schoolID {
		return core.NewFieldError("teacher_id", errNotATeacher)
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, schoolID string, nc NewClass) (Class, error) {
	now := core.Now()
	return svc.repo.CreateClass(ctx, Class{
		SchoolID:     schoolID,
		Name:         nc.Name,
		Grade:        nc.Grade,
		AcademicYear: nc.AcademicYear,
		TeacherID:    nc.TeacherID,
		Capacity:     nc.Capacity,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Class, error) {
	return svc.repo.QueryClasses(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, c Class, uc UpdateClass) (Class, error) {
	c.Name = uc.Name
	c.AcademicYear = uc.AcademicYear
	if uc.Grade != nil {
		c.Grade = *uc.Grade
	}
	if uc.TeacherID != nil {
		c.TeacherID = *uc.TeacherID
	}
	if uc.Capacity != nil {
		c.Capacity = *uc.Capacity
	}
	c.UpdatedAt = core.Now()
	return svc.repo.UpdateClass(ctx, c)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteClass(ctx, id)
}

// Enroll adds students of the class's school to the class, within its capacity. Already enrolled students are skipped.
func (svc *Service) Enroll(ctx context.Context, c Class, studentIDs []string) (Class, error) {
	ids := uniqueIDs(studentIDs)
	for _, id := range ids {
		usr, err := svc.users.GetUserByID(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				return Class{}, core.NewFieldError("student_ids", errNotAStudent)
			}
			return Class{}, errors.Wrap(err, "finding student")
		}
		if !usr.IsStudent() || usr.SchoolID != c.SchoolID {
			return Class{}, core.NewFieldError("student_ids", errNotAStudent)
		}
	}

	var added int
	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		if err := svc.repo.LockClass(ctx, c.ID, tx); err != nil {
			return errors.Wrap(err, "locking class")
		}
		// read under the lock so concurrent enrollments see each other
		enrolled, err := svc.repo.FilterEnrolled(ctx, c.ID, ids, tx)
		if err != nil {
			return errors.Wrap(err, "filtering enrolled students")
		}
		toEnroll := make([]string, 0, len(ids))
		for _, id := range ids {
			if !user.ContainsID(enrolled, id) {
				toEnroll = append(toEnroll, id)
			}
		}
		if len(toEnroll) == 0 {
			return nil
		}
		added = len(toEnroll)

		locked, err := svc.repo.GetClassByID(ctx, c.ID, tx)
		if err != nil {
			return errors.Wrap(err, "reloading class")
		}
		if !locked.HasRoomFor(len(toEnroll)) {
			return ErrClassFull
		}
		return svc.repo.EnrollStudents(ctx, c.ID, toEnroll, core.Now(), tx)
	})
	if err != nil {
		return Class{}, err
	}
	if added == 0 {
		return c, nil
	}
	return svc.repo.GetClassByID(ctx, c.ID)
}

func (svc *Service) Unenroll(ctx context.Context, c Class, studentID string) error {
	return svc.repo.UnenrollStudent(ctx, c.ID, studentID)
}

func (svc *Service) Students(ctx context.Context, c Class) ([]user.User, error) {
	return svc.repo.QueryStudents(ctx, c.ID)
}

func (svc *Service) IsEnrolled(ctx context.Context, classID, studentID string) (bool, error) {
	return svc.repo.IsEnrolled(ctx, classID, studentID)
}

// CheckEnrolled returns a validation error on field when one of studentIDs is not enrolled in the class.
func (svc *Service) CheckEnrolled(ctx context.Context, classID string, studentIDs []string, field string) error {
	ids := uniqueIDs(studentIDs)
	enrolled, err := svc.repo.FilterEnrolled(ctx, classID, ids)
	if err != nil {
		return errors.Wrap(err, "filtering enrolled students")
	}
	if len(enrolled) != len(ids) {
		return core.NewFieldError(field, "دانش‌آموز در این کلاس ثبت‌نام نشده است")
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique
}
