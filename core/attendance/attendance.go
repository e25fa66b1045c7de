// Package attendance records daily class attendance and the absence justifications students and parents send.
package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

// Attendance statuses
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusExcused = "excused"
)

var (
	ErrNotFound  = core.NewNotFoundError("attendance")
	errFutureDay = "ثبت حضور و غیاب برای روزهای آینده ممکن نیست"
)

type Attendance struct {
	ID         string    `json:"id"`
	SchoolID   string    `json:"school_id"`
	ClassID    string    `json:"class_id"`
	StudentID  string    `json:"student_id"`
	Date       core.Date `json:"date"`
	Status     string    `json:"status"`
	Note       string    `json:"note"`
	RecordedBy string    `json:"recorded_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Entry struct {
	StudentID string `json:"student_id" validate:"required,uuid"`
	Status    string `json:"status" validate:"required,oneof=present absent late excused"`
	Note      string `json:"note" validate:"max=500"`
}

// Roll is the attendance of a class on one day.
type Roll struct {
	Date    core.Date `json:"date"`
	Entries []Entry   `json:"entries" validate:"required,min=1,dive"`
}

func (r *Roll) Validate(validate *validator.Validate) error {
	if r.Date.IsZero() {
		r.Date = core.NewDate(time.Now())
	}
	for i := range r.Entries {
		r.Entries[i].Note = core.CleanString(r.Entries[i].Note)
	}
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.Date.After(core.Today()) {
		return core.NewFieldError("date", errFutureDay)
	}
	return nil
}

func (r Roll) studentIDs() []string {
	ids := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		ids = append(ids, e.StudentID)
	}
	return ids
}

type UpdateAttendance struct {
	Status string  `json:"status" validate:"omitempty,oneof=present absent late excused"`
	Note   *string `json:"note" validate:"omitempty,max=500"`
}

type QueryFilter struct {
	ClassID    string    `query:"class_id"`
	StudentID  string    `query:"student_id"`
	Status     string    `query:"status"`
	From       core.Date `query:"from"`
	To         core.Date `query:"to"`
	SchoolID   string    `query:"-"`
	StudentIDs []string  `query:"-"` // restricts to these students (parents)
}

// Summary counts a student's attendance by status.
type Summary struct {
	Present int `json:"present" db:"present"`
	Absent  int `json:"absent" db:"absent"`
	Late    int `json:"late" db:"late"`
	Excused int `json:"excused" db:"excused"`
}

func (s Summary) Total() int {
	return s.Present + s.Absent + s.Late + s.Excused
}

type (
	Repository interface {
		// UpsertAttendance creates or updates the records keyed by (class, student, date).
		UpsertAttendance(ctx context.Context, records []Attendance, exec ...core.DBExecutor) ([]Attendance, error)
		QueryAttendance(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Attendance, error)
		GetAttendanceByID(ctx context.Context, id string) (Attendance, error)
		UpdateAttendance(ctx context.Context, a Attendance) (Attendance, error)
		DeleteAttendance(ctx context.Context, id string) error
		// ExcuseAbsences marks the student's absent and late records within [from, to] as excused.
		ExcuseAbsences(ctx context.Context, studentID string, from, to core.Date, exec ...core.DBExecutor) (int64, error)
		Summary(ctx context.Context, studentID string, from, to core.Date) (Summary, error)

		JustificationRepository
	}

	EnrollmentChecker interface {
		CheckEnrolled(ctx context.Context, classID string, studentIDs []string, field string) error
	}

	Service struct {
		tx       core.Transactor
		repo     Repository
		classes  EnrollmentChecker
		files    core.FileStore
		notifier messaging.Notifier
		conf     *core.Config
	}
)

func NewService(conf *core.Config, tx core.Transactor, repo Repository, classes EnrollmentChecker, files core.FileStore, notifier messaging.Notifier) *Service {
	return &Service{conf: conf, tx: tx, repo: repo, classes: classes, files: files, notifier: notifier}
}

// Record upserts the roll of a class in a single transaction. Every student must be enrolled in the class.
func (svc *Service) Record(ctx context.Context, schoolID, classID, recorderID string, roll Roll) ([]Attendance, error) {
	if err := svc.classes.CheckEnrolled(ctx, classID, roll.studentIDs(), "entries"); err != nil {
		return nil, err
	}

	now := core.Now()
	records := make([]Attendance, 0, len(roll.Entries))
	for _, e := range roll.Entries {
		records = append(records, Attendance{
			SchoolID:   schoolID,
			ClassID:    classID,
			StudentID:  e.StudentID,
			Date:       roll.Date,
			Status:     e.Status,
			Note:       e.Note,
			RecordedBy: recorderID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	var saved []Attendance
	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		saved, err = svc.repo.UpsertAttendance(ctx, records, tx)
		return err
	})
	return saved, errors.Wrap(err, "recording attendance")
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Attendance, error) {
	return svc.repo.QueryAttendance(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Attendance, error) {
	return svc.repo.GetAttendanceByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, a Attendance, ua UpdateAttendance, recorderID string) (Attendance, error) {
	if ua.Status != "" {
		a.Status = ua.Status
	}
	if ua.Note != nil {
		a.Note = core.CleanString(*ua.Note)
	}
	a.RecordedBy = recorderID
	a.UpdatedAt = core.Now()
	return svc.repo.UpdateAttendance(ctx, a)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteAttendance(ctx, id)
}

func (svc *Service) Summary(ctx context.Context, studentID string, from, to core.Date) (Summary, error) {
	return svc.repo.Summary(ctx, studentID, from, to)
}
