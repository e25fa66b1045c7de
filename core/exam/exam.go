// Package exam schedules class exams and records their results.
package exam

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

// Exam statuses
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const DefaultMaxScore = 20

var (
	ErrNotFound     = core.NewNotFoundError("exam")
	ErrNotScheduled = core.NewConflictError("فقط آزمون‌های برنامه‌ریزی‌شده قابل ویرایش هستند")
	ErrCancelled    = core.NewConflictError("برای آزمون لغوشده نمی‌توان نمره ثبت کرد")

	transitions = map[string][]string{
		StatusScheduled: {StatusCompleted, StatusCancelled},
	}

	startTimeRgx = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
)

type Exam struct {
	ID              string    `json:"id"`
	SchoolID        string    `json:"school_id"`
	ClassID         string    `json:"class_id"`
	Subject         string    `json:"subject"`
	Title           string    `json:"title"`
	ExamDate        core.Date `json:"exam_date"`
	StartTime       string    `json:"start_time"` // HH:MM
	DurationMinutes int       `json:"duration_minutes"`
	Room            string    `json:"room"`
	MaxScore        float64   `json:"max_score"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type NewExam struct {
	ClassID         string    `json:"class_id" validate:"required,uuid"`
	Subject         string    `json:"subject" validate:"required,notblank,max=100"`
	Title           string    `json:"title" validate:"required,notblank,max=200"`
	ExamDate        core.Date `json:"exam_date"`
	StartTime       string    `json:"start_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=5,lte=480"`
	Room            string    `json:"room" validate:"max=50"`
	MaxScore        float64   `json:"max_score" validate:"gte=0,lte=100"`
}

func validateSchedule(date core.Date, startTime string) error {
	if date.IsZero() {
		return core.NewFieldError("exam_date", "تاریخ آزمون الزامی است")
	}
	if !startTimeRgx.MatchString(startTime) {
		return core.NewFieldError("start_time", "ساعت شروع باید به صورت HH:MM باشد")
	}
	return nil
}

func (ne *NewExam) Validate(validate *validator.Validate) error {
	ne.Subject = core.CleanString(ne.Subject)
	ne.Title = core.CleanString(ne.Title)
	ne.Room = core.CleanString(ne.Room)
	ne.StartTime = core.CleanDigits(ne.StartTime)
	if ne.MaxScore == 0 {
		ne.MaxScore = DefaultMaxScore
	}
	if err := validate.Struct(ne); err != nil {
		return err
	}
	return validateSchedule(ne.ExamDate, ne.StartTime)
}

type UpdateExam struct {
	Subject         string    `json:"subject" validate:"omitempty,max=100"`
	Title           string    `json:"title" validate:"omitempty,max=200"`
	ExamDate        core.Date `json:"exam_date"`
	StartTime       string    `json:"start_time"`
	DurationMinutes *int      `json:"duration_minutes" validate:"omitempty,gte=5,lte=480"`
	Room            *string   `json:"room" validate:"omitempty,max=50"`
	MaxScore        *float64  `json:"max_score" validate:"omitempty,gt=0,lte=100"`
}

func (ue *UpdateExam) Validate(orig Exam, validate *validator.Validate) error {
	ue.Subject = core.CleanString(ue.Subject)
	ue.Title = core.CleanString(ue.Title)
	ue.StartTime = core.CleanDigits(ue.StartTime)
	if err := validate.Struct(ue); err != nil {
		return err
	}
	date, start := orig.ExamDate, orig.StartTime
	if !ue.ExamDate.IsZero() {
		date = ue.ExamDate
	}
	if ue.StartTime != "" {
		start = ue.StartTime
	}
	return validateSchedule(date, start)
}

type SetStatus struct {
	Status string `json:"status" validate:"required,oneof=scheduled completed cancelled"`
}

type QueryFilter struct {
	Search   string    `query:"search"`
	ClassID  string    `query:"class_id"`
	Subject  string    `query:"subject"`
	Status   string    `query:"status"`
	From     core.Date `query:"from"`
	To       core.Date `query:"to"`
	SchoolID string    `query:"-"`
	ClassIDs []string  `query:"-"`
}

type Result struct {
	ExamID    string    `json:"exam_id"`
	StudentID string    `json:"student_id"`
	Score     float64   `json:"score"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ResultEntry struct {
	StudentID string   `json:"student_id" validate:"required,uuid"`
	Score     *float64 `json:"score" validate:"required,gte=0"`
	Note      string   `json:"note" validate:"max=500"`
}

type Results struct {
	Results []ResultEntry `json:"results" validate:"required,min=1,dive"`
}

func (r *Results) Validate(e Exam, validate *validator.Validate) error {
	for i := range r.Results {
		r.Results[i].Note = core.CleanString(r.Results[i].Note)
	}
	if err := validate.Struct(r); err != nil {
		return err
	}
	for _, res := range r.Results {
		if *res.Score > e.MaxScore {
			return core.NewFieldError("results", fmt.Sprintf("نمره باید بین 0 و %g باشد", e.MaxScore))
		}
	}
	return nil
}

type ResultFilter struct {
	ExamID    string `query:"-"`
	StudentID string `query:"student_id"`
}

// Stats describes the score distribution of an exam.
type Stats struct {
	Count   int      `json:"count" db:"count"`
	Average *float64 `json:"average" db:"average"`
	Min     *float64 `json:"min" db:"min"`
	Max     *float64 `json:"max" db:"max"`
	Passed  int      `json:"passed" db:"passed"` // score >= half of max
}

type (
	Repository interface {
		CreateExam(ctx context.Context, e Exam) (Exam, error)
		QueryExams(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Exam, error)
		GetExamByID(ctx context.Context, id string) (Exam, error)
		UpdateExam(ctx context.Context, e Exam) (Exam, error)
		DeleteExam(ctx context.Context, id string) error

		UpsertResults(ctx context.Context, results []Result, exec ...core.DBExecutor) ([]Result, error)
		QueryResults(ctx context.Context, filter *ResultFilter) ([]Result, error)
		DeleteResult(ctx context.Context, examID, studentID string) error
		Stats(ctx context.Context, e Exam) (Stats, error)
	}

	EnrollmentChecker interface {
		CheckEnrolled(ctx context.Context, classID string, studentIDs []string, field string) error
	}

	Service struct {
		tx       core.Transactor
		repo     Repository
		classes  EnrollmentChecker
		notifier messaging.Notifier
	}
)

func NewService(tx core.Transactor, repo Repository, classes EnrollmentChecker, notifier messaging.Notifier) *Service {
	return &Service{tx: tx, repo: repo, classes: classes, notifier: notifier}
}

func (svc *Service) Create(ctx context.Context, schoolID string, ne NewExam) (Exam, error) {
	now := core.Now()
	return svc.repo.CreateExam(ctx, Exam{
		SchoolID:        schoolID,
		ClassID:         ne.ClassID,
		Subject:         ne.Subject,
		Title:           ne.Title,
		ExamDate:        ne.ExamDate,
		StartTime:       ne.StartTime,
		DurationMinutes: ne.DurationMinutes,
		Room:            ne.Room,
		MaxScore:        ne.MaxScore,
		Status:          StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// Query lists exams; From/To turn it into the schedule of the period.
func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Exam, error) {
	return svc.repo.QueryExams(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Exam, error) {
	return svc.repo.GetExamByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, e Exam, ue UpdateExam) (Exam, error) {
	if e.Status != StatusScheduled {
		return Exam{}, ErrNotScheduled
	}
	if ue.Subject != "" {
		e.Subject = ue.Subject
	}
	if ue.Title != "" {
		e.Title = ue.Title
	}
	if !ue.ExamDate.IsZero() {
		e.ExamDate = ue.ExamDate
	}
	if ue.StartTime != "" {
		e.StartTime = ue.StartTime
	}
	if ue.DurationMinutes != nil {
		e.DurationMinutes = *ue.DurationMinutes
	}
	if ue.Room != nil {
		e.Room = core.CleanString(*ue.Room)
	}
	if ue.MaxScore != nil {
		e.MaxScore = *ue.MaxScore
	}
	e.UpdatedAt = core.Now()
	return svc.repo.UpdateExam(ctx, e)
}

func (svc *Service) SetStatus(ctx context.Context, e Exam, status string) (Exam, error) {
	if e.Status == status {
		return e, nil
	}
	if !core.CanTransition(transitions, e.Status, status) {
		return Exam{}, core.NewTransitionError(e.Status, status)
	}
	e.Status = status
	e.UpdatedAt = core.Now()
	return svc.repo.UpdateExam(ctx, e)
}

func (svc *Service) Delete(ctx context.Context, e Exam) error {
	if e.Status != StatusScheduled {
		return ErrNotScheduled
	}
	return svc.repo.DeleteExam(ctx, e.ID)
}

// RecordResults upserts the scores of enrolled students and notifies them.
func (svc *Service) RecordResults(ctx context.Context, e Exam, r Results) ([]Result, error) {
	if e.Status == StatusCancelled {
		return nil, ErrCancelled
	}
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		ids = append(ids, res.StudentID)
	}
	if err := svc.classes.CheckEnrolled(ctx, e.ClassID, ids, "results"); err != nil {
		return nil, err
	}

	now := core.Now()
	results := make([]Result, 0, len(r.Results))
	for _, res := range r.Results {
		results = append(results, Result{
			ExamID:    e.ID,
			StudentID: res.StudentID,
			Score:     *res.Score,
			Note:      res.Note,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	var saved []Result
	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		saved, err = svc.repo.UpsertResults(ctx, results, tx)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "saving results")
	}

	notifications := make([]messaging.Notification, 0, len(saved))
	for _, res := range saved {
		notifications = append(notifications, messaging.Notification{
			UserID: res.StudentID,
			Kind:   messaging.KindExamResult,
			Title:  "نتیجه آزمون «" + e.Title + "» ثبت شد",
			Body:   fmt.Sprintf("%s: %g از %g", e.Subject, res.Score, e.MaxScore),
			Link:   "/exams/" + e.ID,
		})
	}
	svc.notifier.Notify(ctx, notifications...)
	return saved, nil
}

func (svc *Service) Results(ctx context.Context, filter *ResultFilter) ([]Result, error) {
	return svc.repo.QueryResults(ctx, filter)
}

func (svc *Service) DeleteResult(ctx context.Context, e Exam, studentID string) error {
	return svc.repo.DeleteResult(ctx, e.ID, studentID)
}

func (svc *Service) Stats(ctx context.Context, e Exam) (Stats, error) {
	return svc.repo.Stats(ctx, e)
}
