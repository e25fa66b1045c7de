// Package assignment manages homework assignments and the students' submissions.
package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

// Assignment statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusClosed    = "closed"
)

// Submission statuses
const (
	SubmissionSubmitted = "submitted"
	SubmissionGraded    = "graded"
)

const DefaultMaxScore = 20

var (
	ErrNotFound           = core.NewNotFoundError("assignment")
	ErrSubmissionNotFound = core.NewNotFoundError("submission")
	ErrNotPublished       = core.NewConflictError("تکلیف برای ارسال پاسخ باز نیست")
	ErrAlreadyGraded      = core.NewConflictError("پاسخ نمره‌گذاری شده و قابل تغییر نیست")
	ErrNotEditable        = core.NewConflictError("تکلیف بسته شده و قابل ویرایش نیست")
	ErrNotDeletable       = core.NewConflictError("فقط تکلیف پیش‌نویس قابل حذف است")

	// allowed status transitions
	transitions = map[string][]string{
		StatusDraft:     {StatusPublished},
		StatusPublished: {StatusClosed},
		StatusClosed:    {StatusPublished},
	}
)

type Assignment struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	ClassID     string    `json:"class_id"`
	TeacherID   string    `json:"teacher_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueAt       time.Time `json:"due_at"`
	MaxScore    float64   `json:"max_score"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewAssignment struct {
	ClassID     string    `json:"class_id" validate:"required,uuid"`
	Title       string    `json:"title" validate:"required,notblank,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	DueAt       time.Time `json:"due_at" validate:"required"`
	MaxScore    float64   `json:"max_score" validate:"gte=0,lte=100"`
	Publish     bool      `json:"publish"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	if na.MaxScore == 0 {
		na.MaxScore = DefaultMaxScore
	}
	return validate.Struct(na)
}

type UpdateAssignment struct {
	Title       string     `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=5000"`
	DueAt       *time.Time `json:"due_at"`
	MaxScore    *float64   `json:"max_score" validate:"omitempty,gt=0,lte=100"`
}

func (ua *UpdateAssignment) Validate(validate *validator.Validate) error {
	ua.Title = core.CleanString(ua.Title)
	return validate.Struct(ua)
}

type SetStatus struct {
	Status string `json:"status" validate:"required,oneof=draft published closed"`
}

type QueryFilter struct {
	Search    string    `query:"search"`
	ClassID   string    `query:"class_id"`
	TeacherID string    `query:"teacher_id"`
	Status    string    `query:"status"`
	DueFrom   core.Date `query:"due_from"`
	DueTo     core.Date `query:"due_to"`
	SchoolID  string    `query:"-"`
	ClassIDs  []string  `query:"-"` // restricts to these classes (students & parents)
}

type Submission struct {
	ID           string     `json:"id"`
	AssignmentID string     `json:"assignment_id"`
	StudentID    string     `json:"student_id"`
	Content      string     `json:"content"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	Late         bool       `json:"late"`
	Score        *float64   `json:"score"`
	Feedback     string     `json:"feedback"`
	Status       string     `json:"status"`
	GradedBy     string     `json:"graded_by"`
	GradedAt     *time.Time `json:"graded_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type NewSubmission struct {
	Content string `json:"content" validate:"required,notblank,max=20000"`
}

func (ns *NewSubmission) Validate(validate *validator.Validate) error {
	ns.Content = core.CleanString(ns.Content)
	return validate.Struct(ns)
}

type Grade struct {
	Score    *float64 `json:"score" validate:"required,gte=0"`
	Feedback string   `json:"feedback" validate:"max=2000"`
}

func (g *Grade) Validate(a Assignment, validate *validator.Validate) error {
	g.Feedback = core.CleanString(g.Feedback)
	if err := validate.Struct(g); err != nil {
		return err
	}
	if *g.Score > a.MaxScore {
		return core.NewFieldError("score", fmt.Sprintf("نمره باید بین 0 و %g باشد", a.MaxScore))
	}
	return nil
}

type SubmissionFilter struct {
	AssignmentID string `query:"-"`
	StudentID    string `query:"student_id"`
	Status       string `query:"status"`
}

// SubmissionStats summarises the submissions of an assignment.
type SubmissionStats struct {
	Submitted    int      `json:"submitted" db:"submitted"`
	Graded       int      `json:"graded" db:"graded"`
	Late         int      `json:"late" db:"late"`
	AverageScore *float64 `json:"average_score" db:"average_score"`
}

type (
	Repository interface {
		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		QueryAssignments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Assignment, error)
		GetAssignmentByID(ctx context.Context, id string) (Assignment, error)
		UpdateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		DeleteAssignment(ctx context.Context, id string) error

		// UpsertSubmission creates or replaces the student's submission unless it was graded.
		UpsertSubmission(ctx context.Context, s Submission) (Submission, error)
		QuerySubmissions(ctx context.Context, filter *SubmissionFilter) ([]Submission, error)
		GetSubmissionByID(ctx context.Context, id string) (Submission, error)
		GetSubmission(ctx context.Context, assignmentID, studentID string) (Submission, error)
		UpdateSubmission(ctx context.Context, s Submission) (Submission, error)
		SubmissionStats(ctx context.Context, assignmentID string) (SubmissionStats, error)
	}

	EnrollmentChecker interface {
		IsEnrolled(ctx context.Context, classID, studentID string) (bool, error)
	}

	Service struct {
		repo     Repository
		classes  EnrollmentChecker
		notifier messaging.Notifier
	}
)

func NewService(repo Repository, classes EnrollmentChecker, notifier messaging.Notifier) *Service {
	return &Service{repo: repo, classes: classes, notifier: notifier}
}

func (svc *Service) Create(ctx context.Context, schoolID, teacherID string, na NewAssignment) (Assignment, error) {
	now := core.Now()
	status := StatusDraft
	if na.Publish {
		status = StatusPublished
	}
	return svc.repo.CreateAssignment(ctx, Assignment{
		SchoolID:    schoolID,
		ClassID:     na.ClassID,
		TeacherID:   teacherID,
		Title:       na.Title,
		Description: na.Description,
		DueAt:       na.DueAt.UTC(),
		MaxScore:    na.MaxScore,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, filter, ordering, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Assignment, error) {
	return svc.repo.GetAssignmentByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, a Assignment, ua UpdateAssignment) (Assignment, error) {
	if a.Status == StatusClosed {
		return Assignment{}, ErrNotEditable
	}
	if ua.Title != "" {
		a.Title = ua.Title
	}
	if ua.Description != nil {
		a.Description = core.CleanString(*ua.Description)
	}
	if ua.DueAt != nil {
		a.DueAt = ua.DueAt.UTC()
	}
	if ua.MaxScore != nil {
		a.MaxScore = *ua.MaxScore
	}
	a.UpdatedAt = core.Now()
	return svc.repo.UpdateAssignment(ctx, a)
}

// SetStatus moves the assignment along draft -> published <-> closed.
func (svc *Service) SetStatus(ctx context.Context, a Assignment, status string) (Assignment, error) {
	if a.Status == status {
		return a, nil
	}
	if !core.CanTransition(transitions, a.Status, status) {
		return Assignment{}, core.NewTransitionError(a.Status, status)
	}
	a.Status = status
	a.UpdatedAt = core.Now()
	return svc.repo.UpdateAssignment(ctx, a)
}

func (svc *Service) Delete(ctx context.Context, a Assignment) error {
	if a.Status != StatusDraft {
		return ErrNotDeletable
	}
	return svc.repo.DeleteAssignment(ctx, a.ID)
}

// Submit records the student's answer. Resubmitting replaces the content until the submission is graded.
func (svc *Service) Submit(ctx context.Context, a Assignment, studentID string, ns NewSubmission) (Submission, error) {
	if a.Status != StatusPublished {
		return Submission{}, ErrNotPublished
	}
	enrolled, err := svc.classes.IsEnrolled(ctx, a.ClassID, studentID)
	if err != nil {
		return Submission{}, errors.Wrap(err, "checking enrollment")
	}
	if !enrolled {
		return Submission{}, core.ErrForbidden
	}

	now := core.Now()
	sub, err := svc.repo.UpsertSubmission(ctx, Submission{
		AssignmentID: a.ID,
		StudentID:    studentID,
		Content:      ns.Content,
		SubmittedAt:  now,
		Late:         !a.DueAt.IsZero() && now.After(a.DueAt),
		Status:       SubmissionSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if core.IsNotFound(err) {
		// the upsert skips graded submissions
		return Submission{}, ErrAlreadyGraded
	}
	return sub, err
}

func (svc *Service) Submissions(ctx context.Context, filter *SubmissionFilter) ([]Submission, error) {
	return svc.repo.QuerySubmissions(ctx, filter)
}

func (svc *Service) GetSubmission(ctx context.Context, a Assignment, id string) (Submission, error) {
	sub, err := svc.repo.GetSubmissionByID(ctx, id)
	if err != nil {
		return Submission{}, err
	}
	if sub.AssignmentID != a.ID {
		return Submission{}, ErrSubmissionNotFound
	}
	return sub, nil
}

// GradeSubmission scores a submission and notifies the student.
func (svc *Service) GradeSubmission(ctx context.Context, a Assignment, sub Submission, graderID string, g Grade) (Submission, error) {
	now := core.Now()
	sub.Score = g.Score
	sub.Feedback = g.Feedback
	sub.Status = SubmissionGraded
	sub.GradedBy = graderID
	sub.GradedAt = &now
	sub.UpdatedAt = now

	sub, err := svc.repo.UpdateSubmission(ctx, sub)
	if err != nil {
		return Submission{}, errors.Wrap(err, "updating submission")
	}

	svc.notifier.Notify(ctx, messaging.Notification{
		UserID: sub.StudentID,
		Kind:   messaging.KindAssignmentGraded,
		Title:  "نمره تکلیف «" + a.Title + "» ثبت شد",
		Body:   fmt.Sprintf("نمره شما: %g از %g", *sub.Score, a.MaxScore),
		Link:   "/assignments/" + a.ID,
	})
	return sub, nil
}

func (svc *Service) Stats(ctx context.Context, a Assignment) (SubmissionStats, error) {
	return svc.repo.SubmissionStats(ctx, a.ID)
}
