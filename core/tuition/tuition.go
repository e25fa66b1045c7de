// Package tuition manages the tuition notices sent to parents.
package tuition

import (
	"context"
	"encoding/json"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/user"
)

// Notice statuses
const (
	StatusDraft     = "draft"
	StatusIssued    = "issued"
	StatusSent      = "sent"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

var (
	ErrNotFound    = core.NewNotFoundError("tuition notice")
	ErrNotEditable = core.NewConflictError("فقط اطلاعیه پیش‌نویس قابل ویرایش یا حذف است")
	ErrNoParent    = core.NewConflictError("برای این دانش‌آموز ولی ثبت نشده است")
	ErrNotSendable = core.NewConflictError("اطلاعیه باید پیش از ارسال صادر شود")

	errNotAStudent = "دانش‌آموز انتخاب‌شده معتبر نیست"
	errNotAParent  = "ولی انتخاب‌شده معتبر نیست"

	// "sent" is reached through Send only
	transitions = map[string][]string{
		StatusDraft:  {StatusIssued, StatusCancelled},
		StatusIssued: {StatusSent, StatusCancelled},
		StatusSent:   {StatusPaid, StatusCancelled},
	}
)

type Notice struct {
	ID        string     `json:"id"`
	SchoolID  string     `json:"school_id"`
	StudentID string     `json:"student_id"`
	ParentID  string     `json:"parent_id"`
	Title     string     `json:"title"`
	Amount    int64      `json:"amount"` // rial
	DueDate   core.Date  `json:"due_date"`
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	IssuedAt  *time.Time `json:"issued_at"`
	SentAt    *time.Time `json:"sent_at"`
	PaidAt    *time.Time `json:"paid_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Overdue reports whether the due date passed while the notice is neither paid nor cancelled.
func (n Notice) Overdue() bool {
	if n.Status == StatusPaid || n.Status == StatusCancelled {
		return false
	}
	return n.DueDate.Before(core.Today())
}

func (n Notice) MarshalJSON() ([]byte, error) {
	type notice Notice
	return json.Marshal(struct {
		notice
		Overdue bool `json:"overdue"`
	}{notice(n), n.Overdue()})
}

type NewNotice struct {
	StudentID string    `json:"student_id" validate:"required,uuid"`
	ParentID  string    `json:"parent_id" validate:"omitempty,uuid"`
	Title     string    `json:"title" validate:"required,notblank,max=200"`
	Amount    int64     `json:"amount" validate:"gt=0"`
	DueDate   core.Date `json:"due_date"`
	Message   string    `json:"message" validate:"max=2000"`
}

func (nn *NewNotice) Validate(ctx context.Context, schoolID string, validate *validator.Validate, svc *Service) error {
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	if err := validate.Struct(nn); err != nil {
		return err
	}
	if nn.DueDate.IsZero() {
		return core.NewFieldError("due_date", "مهلت پرداخت الزامی است")
	}

	student, err := svc.getMember(ctx, schoolID, nn.StudentID, "student_id", errNotAStudent, (*user.User).IsStudent)
	if err != nil {
		return err
	}
	if nn.ParentID == "" {
		nn.ParentID = student.ParentID
	} else if _, err = svc.getMember(ctx, schoolID, nn.ParentID, "parent_id", errNotAParent, (*user.User).IsParent); err != nil {
		return err
	}
	return nil
}

type UpdateNotice struct {
	ParentID *string   `json:"parent_id" validate:"omitempty,uuid"`
	Title    string    `json:"title" validate:"omitempty,max=200"`
	Amount   *int64    `json:"amount" validate:"omitempty,gt=0"`
	DueDate  core.Date `json:"due_date"`
	Message  *string   `json:"message" validate:"omitempty,max=2000"`
}

func (un *UpdateNotice) Validate(ctx context.Context, orig Notice, validate *validator.Validate, svc *Service) error {
	un.Title = core.CleanString(un.Title)
	if err := validate.Struct(un); err != nil {
		return err
	}
	if un.ParentID != nil && *un.ParentID != "" {
		if _, err := svc.getMember(ctx, orig.SchoolID, *un.ParentID, "parent_id", errNotAParent, (*user.User).IsParent); err != nil {
			return err
		}
	}
	return nil
}

type SetStatus struct {
	Status string `json:"status" validate:"required,oneof=issued paid cancelled"`
}

type QueryFilter struct {
	Search     string   `query:"search"`
	StudentID  string   `query:"student_id"`
	ParentID   string   `query:"parent_id"`
	Status     string   `query:"status"`
	Overdue    *bool    `query:"overdue"`
	SchoolID   string   `query:"-"`
	StudentIDs []string `query:"-"`
	HideDrafts bool     `query:"-"`
}

type (
	Repository interface {
		CreateNotice(ctx context.Context, n Notice) (Notice, error)
		QueryNotices(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page, today core.Date) ([]Notice, error)
		GetNoticeByID(ctx context.Context, id string) (Notice, error)
		UpdateNotice(ctx context.Context, n Notice) (Notice, error)
		DeleteNotice(ctx context.Context, id string) error
	}

	UserGetter interface {
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error)
	}

	Service struct {
		conf     *core.Config
		repo     Repository
		users    UserGetter
		smsSvc   core.SMSService
		mailSvc  core.EmailService
		notifier messaging.Notifier
	}
)

func NewService(conf *core.Config, repo Repository, users UserGetter, smsSvc core.SMSService, mailSvc core.EmailService, notifier messaging.Notifier) *Service {
	return &Service{conf: conf, repo: repo, users: users, smsSvc: smsSvc, mailSvc: mailSvc, notifier: notifier}
}

func (svc *Service) getMember(ctx context.Context, schoolID, id, field, msg string, hasRole func(*user.User) bool) (user.User, error) {
	usr, err := svc.users.GetUserByID(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, core.NewFieldError(field, msg)
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	if !hasRole(&usr) || (schoolID != "" && usr.SchoolID != schoolID) {
		return user.User{}, core.NewFieldError(field, msg)
	}
	return usr, nil
}

func (svc *Service) Create(ctx context.Context, schoolID string, nn NewNotice) (Notice, error) {
	now := core.Now()
	return svc.repo.CreateNotice(ctx, Notice{
		SchoolID:  schoolID,
		StudentID: nn.StudentID,
		ParentID:  nn.ParentID,
		Title:     nn.Title,
		Amount:    nn.Amount,
		DueDate:   nn.DueDate,
		Status:    StatusDraft,
		Message:   nn.Message,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Notice, error) {
	return svc.repo.QueryNotices(ctx, filter, ordering, page, core.NewDate(time.Now()))
}

func (svc *Service) GetByID(ctx context.Context, id string) (Notice, error) {
	return svc.repo.GetNoticeByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, n Notice, un UpdateNotice) (Notice, error) {
	if n.Status != StatusDraft {
		return Notice{}, ErrNotEditable
	}
	if un.ParentID != nil {
		n.ParentID = *un.ParentID
	}
	if un.Title != "" {
		n.Title = un.Title
	}
	if un.Amount != nil {
		n.Amount = *un.Amount
	}
	if !un.DueDate.IsZero() {
		n.DueDate = un.DueDate
	}
	if un.Message != nil {
		n.Message = core.CleanString(*un.Message)
	}
	n.UpdatedAt = core.Now()
	return svc.repo.UpdateNotice(ctx, n)
}

func (svc *Service) Delete(ctx context.Context, n Notice) error {
	if n.Status != StatusDraft {
		return ErrNotEditable
	}
	return svc.repo.DeleteNotice(ctx, n.ID)
}

// SetStatus issues, settles or cancels a notice.
func (svc *Service) SetStatus(ctx context.Context, n Notice, status string) (Notice, error) {
	if n.Status == status {
		return n, nil
	}
	if status == StatusSent || !core.CanTransition(transitions, n.Status, status) {
		return Notice{}, core.NewTransitionError(n.Status, status)
	}
	now := core.Now()
	switch status {
	case StatusIssued:
		n.IssuedAt = &now
	case StatusPaid:
		n.PaidAt = &now
	}
	n.Status = status
	n.UpdatedAt = now
	return svc.repo.UpdateNotice(ctx, n)
}

// Send delivers an issued notice to the parent by SMS, email and notification. Sent notices can be sent again as reminders.
func (svc *Service) Send(ctx context.Context, n Notice) (Notice, error) {
	if n.Status != StatusIssued && n.Status != StatusSent {
		return Notice{}, ErrNotSendable
	}
	if n.ParentID == "" {
		return Notice{}, ErrNoParent
	}
	parent, err := svc.users.GetUserByID(ctx, n.ParentID)
	if err != nil {
		if core.IsNotFound(err) {
			return Notice{}, ErrNoParent
		}
		return Notice{}, errors.Wrap(err, "finding parent")
	}
	student, err := svc.users.GetUserByID(ctx, n.StudentID)
	if err != nil {
		return Notice{}, errors.Wrap(err, "finding student")
	}

	now := core.Now()
	n.Status = StatusSent
	n.SentAt = &now
	n.UpdatedAt = now
	if n, err = svc.repo.UpdateNotice(ctx, n); err != nil {
		return Notice{}, errors.Wrap(err, "updating notice")
	}

	svc.sendNoticeMessages(n, parent, student)
	svc.notifier.Notify(ctx, messaging.Notification{
		UserID: parent.ID,
		Kind:   messaging.KindTuitionNotice,
		Title:  n.Title + " - " + student.Name,
		Body:   "مبلغ " + FormatAmount(n.Amount) + " ریال تا " + n.DueDate.String(),
		Link:   "/tuition/" + n.ID,
	})
	return n, nil
}

func (svc *Service) sendNoticeMessages(n Notice, parent, student user.User) {
	data := map[string]interface{}{
		"Title":       n.Title,
		"ParentName":  parent.Name,
		"StudentName": student.Name,
		"Amount":      FormatAmount(n.Amount),
		"DueDate":     n.DueDate.String(),
		"Message":     n.Message,
	}

	svc.smsSvc.SendMessages(&core.SMSMessage{
		To:           []string{parent.Phone},
		TemplateName: "tuition_notice",
		TemplateData: data,
	})

	if parent.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: parent.Name, Address: parent.Email}},
			Subject:      n.Title,
			TemplateName: "tuition_notice",
			TemplateData: data,
		})
	}
}

// FormatAmount groups the digits of a rial amount by thousands: 12500000 -> 12,500,000.
func FormatAmount(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	sign := ""
	if amount < 0 {
		sign, s = "-", s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return sign + s
}
