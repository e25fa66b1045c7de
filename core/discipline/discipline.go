// Package discipline keeps students' disciplinary records and achievements, both of which move the behavior score.
package discipline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/user"
)

// Record types
const (
	TypeIncident   = "incident"
	TypeWarning    = "warning"
	TypeSuspension = "suspension"
)

// Severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var (
	ErrRecordNotFound      = core.NewNotFoundError("disciplinary record")
	ErrAchievementNotFound = core.NewNotFoundError("achievement")
	errNotAStudent         = "دانش‌آموز انتخاب‌شده معتبر نیست"

	// score delta applied when none is given
	defaultDeltas = map[string]float64{
		SeverityLow:    -0.5,
		SeverityMedium: -1,
		SeverityHigh:   -2,
	}
)

type Record struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	StudentID   string    `json:"student_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	ScoreDelta  float64   `json:"score_delta"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewRecord struct {
	StudentID   string    `json:"student_id" validate:"required,uuid"`
	Type        string    `json:"type" validate:"required,oneof=incident warning suspension"`
	Severity    string    `json:"severity" validate:"required,oneof=low medium high"`
	Description string    `json:"description" validate:"required,notblank,max=2000"`
	ScoreDelta  *float64  `json:"score_delta" validate:"omitempty,lte=0,gte=-20"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (nr *NewRecord) Validate(validate *validator.Validate) error {
	nr.Description = core.CleanString(nr.Description)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	if nr.ScoreDelta == nil {
		delta := defaultDeltas[nr.Severity]
		nr.ScoreDelta = &delta
	}
	if nr.OccurredAt.IsZero() {
		nr.OccurredAt = core.Now()
	}
	return nil
}

type UpdateRecord struct {
	Type        string     `json:"type" validate:"omitempty,oneof=incident warning suspension"`
	Severity    string     `json:"severity" validate:"omitempty,oneof=low medium high"`
	Description string     `json:"description" validate:"omitempty,max=2000"`
	ScoreDelta  *float64   `json:"score_delta" validate:"omitempty,lte=0,gte=-20"`
	OccurredAt  *time.Time `json:"occurred_at"`
}

func (ur *UpdateRecord) Validate(validate *validator.Validate) error {
	ur.Description = core.CleanString(ur.Description)
	return validate.Struct(ur)
}

type Achievement struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	StudentID   string    `json:"student_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Points      float64   `json:"points"`
	AwardedAt   time.Time `json:"awarded_at"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type NewAchievement struct {
	StudentID   string    `json:"student_id" validate:"required,uuid"`
	Title       string    `json:"title" validate:"required,notblank,max=200"`
	Category    string    `json:"category" validate:"required,oneof=academic sport art behavior other"`
	Description string    `json:"description" validate:"max=2000"`
	Points      float64   `json:"points" validate:"gte=0,lte=20"`
	AwardedAt   time.Time `json:"awarded_at"`
}

func (na *NewAchievement) Validate(validate *validator.Validate) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	if na.AwardedAt.IsZero() {
		na.AwardedAt = core.Now()
	}
	return validate.Struct(na)
}

type UpdateAchievement struct {
	Title       string     `json:"title" validate:"omitempty,max=200"`
	Category    string     `json:"category" validate:"omitempty,oneof=academic sport art behavior other"`
	Description *string    `json:"description" validate:"omitempty,max=2000"`
	Points      *float64   `json:"points" validate:"omitempty,gte=0,lte=20"`
	AwardedAt   *time.Time `json:"awarded_at"`
}

func (ua *UpdateAchievement) Validate(validate *validator.Validate) error {
	ua.Title = core.CleanString(ua.Title)
	return validate.Struct(ua)
}

type QueryFilter struct {
	Search     string    `query:"search"`
	StudentID  string    `query:"student_id"`
	Type       string    `query:"type"`     // records
	Severity   string    `query:"severity"` // records
	Category   string    `query:"category"` // achievements
	From       core.Date `query:"from"`
	To         core.Date `query:"to"`
	SchoolID   string    `query:"-"`
	StudentIDs []string  `query:"-"`
}

type (
	Repository interface {
		CreateRecord(ctx context.Context, r Record, exec ...core.DBExecutor) (Record, error)
		QueryRecords(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Record, error)
		GetRecordByID(ctx context.Context, id string) (Record, error)
		UpdateRecord(ctx context.Context, r Record, exec ...core.DBExecutor) (Record, error)
		DeleteRecord(ctx context.Context, id string, exec ...core.DBExecutor) error

		CreateAchievement(ctx context.Context, a Achievement, exec ...core.DBExecutor) (Achievement, error)
		QueryAchievements(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Achievement, error)
		GetAchievementByID(ctx context.Context, id string) (Achievement, error)
		UpdateAchievement(ctx context.Context, a Achievement, exec ...core.DBExecutor) (Achievement, error)
		DeleteAchievement(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	// Students reads students and moves their behavior score, clamped to [user.MinBehaviorScore, user.MaxBehaviorScore].
	Students interface {
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error)
		AdjustBehaviorScore(ctx context.Context, id string, delta float64, exec ...core.DBExecutor) (float64, error)
	}

	Service struct {
		tx       core.Transactor
		repo     Repository
		students Students
		notifier messaging.Notifier
	}
)

func NewService(tx core.Transactor, repo Repository, students Students, notifier messaging.Notifier) *Service {
	return &Service{tx: tx, repo: repo, students: students, notifier: notifier}
}

// Student returns the student of schoolID with the given id, as a validation error on "student_id" otherwise.
func (svc *Service) Student(ctx context.Context, schoolID, id string) (user.User, error) {
	usr, err := svc.students.GetUserByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, core.NewFieldError("student_id", errNotAStudent)
		}
		return user.User{}, errors.Wrap(err, "finding student")
	}
	if !usr.IsStudent() || (schoolID != "" && usr.SchoolID != schoolID) {
		return user.User{}, core.NewFieldError("student_id", errNotAStudent)
	}
	return usr, nil
}

// CreateRecord stores the record and applies its score delta in one transaction, then notifies the parent.
func (svc *Service) CreateRecord(ctx context.Context, student user.User, recorderID string, nr NewRecord) (Record, error) {
	now := core.Now()
	r := Record{
		SchoolID:    student.SchoolID,
		StudentID:   student.ID,
		Type:        nr.Type,
		Severity:    nr.Severity,
		Description: nr.Description,
		ScoreDelta:  *nr.ScoreDelta,
		OccurredAt:  nr.OccurredAt.UTC(),
		RecordedBy:  recorderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var score float64
	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		if r, err = svc.repo.CreateRecord(ctx, r, tx); err != nil {
			return errors.Wrap(err, "creating record")
		}
		score, err = svc.students.AdjustBehaviorScore(ctx, r.StudentID, r.ScoreDelta, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
	if err != nil {
		return Record{}, err
	}

	if student.ParentID != "" {
		svc.notifier.Notify(ctx, messaging.Notification{
			UserID: student.ParentID,
			Kind:   messaging.KindDisciplinaryRecord,
			Title:  "ثبت مورد انضباطی برای " + student.Name,
			Body:   fmt.Sprintf("%s\nنمره انضباط: %g", r.Description, score),
			Link:   "/discipline/records/" + r.ID,
		})
	}
	return r, nil
}

func (svc *Service) QueryRecords(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Record, error) {
	return svc.repo.QueryRecords(ctx, filter, ordering, page)
}

func (svc *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	return svc.repo.GetRecordByID(ctx, id)
}

// UpdateRecord applies the difference between the old and new score deltas.
func (svc *Service) UpdateRecord(ctx context.Context, r Record, ur UpdateRecord) (Record, error) {
	diff := 0.0
	if ur.Type != "" {
		r.Type = ur.Type
	}
	if ur.Severity != "" {
		r.Severity = ur.Severity
	}
	if ur.Description != "" {
		r.Description = ur.Description
	}
	if ur.OccurredAt != nil {
		r.OccurredAt = ur.OccurredAt.UTC()
	}
	if ur.ScoreDelta != nil {
		diff = *ur.ScoreDelta - r.ScoreDelta
		r.ScoreDelta = *ur.ScoreDelta
	}
	r.UpdatedAt = core.Now()

	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		if r, err = svc.repo.UpdateRecord(ctx, r, tx); err != nil {
			return errors.Wrap(err, "updating record")
		}
		if diff == 0 {
			return nil
		}
		_, err = svc.students.AdjustBehaviorScore(ctx, r.StudentID, diff, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

// DeleteRecord removes the record and gives its score delta back.
func (svc *Service) DeleteRecord(ctx context.Context, r Record) error {
	return svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		if err := svc.repo.DeleteRecord(ctx, r.ID, tx); err != nil {
			return errors.Wrap(err, "deleting record")
		}
		_, err := svc.students.AdjustBehaviorScore(ctx, r.StudentID, -r.ScoreDelta, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
}

func (svc *Service) CreateAchievement(ctx context.Context, student user.User, recorderID string, na NewAchievement) (Achievement, error) {
	now := core.Now()
	a := Achievement{
		SchoolID:    student.SchoolID,
		StudentID:   student.ID,
		Title:       na.Title,
		Category:    na.Category,
		Description: na.Description,
		Points:      na.Points,
		AwardedAt:   na.AwardedAt.UTC(),
		RecordedBy:  recorderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		if a, err = svc.repo.CreateAchievement(ctx, a, tx); err != nil {
			return errors.Wrap(err, "creating achievement")
		}
		if a.Points == 0 {
			return nil
		}
		_, err = svc.students.AdjustBehaviorScore(ctx, a.StudentID, a.Points, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
	if err != nil {
		return Achievement{}, err
	}

	notifications := []messaging.Notification{{
		UserID: student.ID,
		Kind:   messaging.KindAchievement,
		Title:  "کسب موفقیت: " + a.Title,
		Link:   "/discipline/achievements/" + a.ID,
	}}
	if student.ParentID != "" {
		n := notifications[0]
		n.UserID = student.ParentID
		n.Title = student.Name + " موفقیت جدیدی کسب کرد: " + a.Title
		notifications = append(notifications, n)
	}
	svc.notifier.Notify(ctx, notifications...)
	return a, nil
}

func (svc *Service) QueryAchievements(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Achievement, error) {
	return svc.repo.QueryAchievements(ctx, filter, ordering, page)
}

func (svc *Service) GetAchievement(ctx context.Context, id string) (Achievement, error) {
	return svc.repo.GetAchievementByID(ctx, id)
}

func (svc *Service) UpdateAchievement(ctx context.Context, a Achievement, ua UpdateAchievement) (Achievement, error) {
	diff := 0.0
	if ua.Title != "" {
		a.Title = ua.Title
	}
	if ua.Category != "" {
		a.Category = ua.Category
	}
	if ua.Description != nil {
		a.Description = core.CleanString(*ua.Description)
	}
	if ua.AwardedAt != nil {
		a.AwardedAt = ua.AwardedAt.UTC()
	}
	if ua.Points != nil {
		diff = *ua.Points - a.Points
		a.Points = *ua.Points
	}
	a.UpdatedAt = core.Now()

	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		var err error
		if a, err = svc.repo.UpdateAchievement(ctx, a, tx); err != nil {
			return errors.Wrap(err, "updating achievement")
		}
		if diff == 0 {
			return nil
		}
		_, err = svc.students.AdjustBehaviorScore(ctx, a.StudentID, diff, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
	if err != nil {
		return Achievement{}, err
	}
	return a, nil
}

func (svc *Service) DeleteAchievement(ctx context.Context, a Achievement) error {
	return svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		if err := svc.repo.DeleteAchievement(ctx, a.ID, tx); err != nil {
			return errors.Wrap(err, "deleting achievement")
		}
		if a.Points == 0 {
			return nil
		}
		_, err := svc.students.AdjustBehaviorScore(ctx, a.StudentID, -a.Points, tx)
		return errors.Wrap(err, "adjusting behavior score")
	})
}
