package attendance

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

// Justification statuses
const (
	JustificationPending  = "pending"
	JustificationApproved = "approved"
	JustificationRejected = "rejected"
)

const MaxDocumentSize = 5 << 20

var (
	ErrJustificationNotFound = core.NewNotFoundError("absence justification")
	ErrAlreadyReviewed       = core.NewConflictError("این درخواست قبلا بررسی شده است")

	errNotOwnAttendance = "حضور و غیاب انتخاب‌شده متعلق به این دانش‌آموز نیست"

	allowedDocumentTypes = []string{"image/jpeg", "image/png", "application/pdf"}
)

type Justification struct {
	ID           string     `json:"id"`
	SchoolID     string     `json:"school_id"`
	StudentID    string     `json:"student_id"`
	SubmittedBy  string     `json:"submitted_by"`
	AttendanceID string     `json:"attendance_id"`
	FromDate     core.Date  `json:"from_date"`
	ToDate       core.Date  `json:"to_date"`
	Reason       string     `json:"reason"`
	DocumentKey  string     `json:"-"`
	DocumentName string     `json:"document_name"`
	Status       string     `json:"status"`
	ReviewedBy   string     `json:"reviewed_by"`
	ReviewNote   string     `json:"review_note"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (j Justification) HasDocument() bool {
	return j.DocumentKey != ""
}

// NewJustification is sent as a multipart form along with the optional document.
type NewJustification struct {
	StudentID    string    `json:"student_id" form:"student_id" validate:"omitempty,uuid"`
	AttendanceID string    `json:"attendance_id" form:"attendance_id" validate:"omitempty,uuid"`
	FromDate     core.Date `json:"from_date" form:"from_date"`
	ToDate       core.Date `json:"to_date" form:"to_date"`
	Reason       string    `json:"reason" form:"reason" validate:"required,notblank,max=2000"`
}

func (nj *NewJustification) Validate(validate *validator.Validate) error {
	nj.Reason = core.CleanString(nj.Reason)
	if err := validate.Struct(nj); err != nil {
		return err
	}
	if nj.FromDate.IsZero() {
		return core.NewFieldError("from_date", "تاریخ شروع الزامی است")
	}
	if nj.ToDate.IsZero() {
		nj.ToDate = nj.FromDate
	}
	if nj.ToDate.Before(nj.FromDate.Time) {
		return core.NewFieldError("to_date", "تاریخ پایان نمی‌تواند قبل از تاریخ شروع باشد")
	}
	return nil
}

// Document is an uploaded file backing a justification.
type Document struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

func (d Document) Validate() error {
	if d.Size > MaxDocumentSize {
		return core.NewFieldError("document", "حجم فایل نباید بیشتر از ۵ مگابایت باشد")
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(d.ContentType, ";")[0]))
	for _, t := range allowedDocumentTypes {
		if ct == t {
			return nil
		}
	}
	return core.NewFieldError("document", "فقط فایل‌های تصویری یا PDF پذیرفته می‌شوند")
}

type Review struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Note   string `json:"note" validate:"max=1000"`
}

func (r *Review) Validate(validate *validator.Validate) error {
	r.Note = core.CleanString(r.Note)
	return validate.Struct(r)
}

type JustificationFilter struct {
	StudentID   string   `query:"student_id"`
	Status      string   `query:"status"`
	SubmittedBy string   `query:"-"`
	SchoolID    string   `query:"-"`
	StudentIDs  []string `query:"-"`
}

type JustificationRepository interface {
	CreateJustification(ctx context.Context, j Justification) (Justification, error)
	QueryJustifications(ctx context.Context, filter *JustificationFilter, ordering []core.DBOrdering, page core.Page) ([]Justification, error)
	GetJustificationByID(ctx context.Context, id string, exec ...core.DBExecutor) (Justification, error)
	UpdateJustification(ctx context.Context, j Justification, exec ...core.DBExecutor) (Justification, error)
	DeleteJustification(ctx context.Context, id string) error
	// LockJustification locks the row until the end of the transaction.
	LockJustification(ctx context.Context, id string, exec core.DBExecutor) error
}

func documentKey(id, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return "justifications/" + id + "/" + name
}

// SubmitJustification stores the justification and uploads its document, if any.
func (svc *Service) SubmitJustification(ctx context.Context, schoolID, studentID, submitterID string, nj NewJustification, doc *Document) (Justification, error) {
	if doc != nil {
		if err := doc.Validate(); err != nil {
			return Justification{}, err
		}
	}
	if nj.AttendanceID != "" {
		a, err := svc.repo.GetAttendanceByID(ctx, nj.AttendanceID)
		if err != nil {
			if core.IsNotFound(err) {
				return Justification{}, core.NewFieldError("attendance_id", errNotOwnAttendance)
			}
			return Justification{}, errors.Wrap(err, "finding attendance")
		}
		if a.StudentID != studentID || a.SchoolID != schoolID {
			return Justification{}, core.NewFieldError("attendance_id", errNotOwnAttendance)
		}
	}

	now := core.Now()
	j, err := svc.repo.CreateJustification(ctx, Justification{
		SchoolID:     schoolID,
		StudentID:    studentID,
		SubmittedBy:  submitterID,
		AttendanceID: nj.AttendanceID,
		FromDate:     nj.FromDate,
		ToDate:       nj.ToDate,
		Reason:       nj.Reason,
		Status:       JustificationPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Justification{}, errors.Wrap(err, "creating justification")
	}
	if doc == nil {
		return j, nil
	}

	key := documentKey(j.ID, doc.Name)
	if err = svc.files.Put(ctx, key, doc.Content, doc.Size, doc.ContentType); err != nil {
		if delErr := svc.repo.DeleteJustification(ctx, j.ID); delErr != nil {
			return Justification{}, errors.Wrapf(err, "uploading document (cleanup: %v)", delErr)
		}
		return Justification{}, errors.Wrap(err, "uploading document")
	}
	j.DocumentKey = key
	j.DocumentName = path.Base(key)
	return svc.repo.UpdateJustification(ctx, j)
}

func (svc *Service) QueryJustifications(ctx context.Context, filter *JustificationFilter, ordering []core.DBOrdering, page core.Page) ([]Justification, error) {
	return svc.repo.QueryJustifications(ctx, filter, ordering, page)
}

func (svc *Service) GetJustification(ctx context.Context, id string) (Justification, error) {
	return svc.repo.GetJustificationByID(ctx, id)
}

// DocumentURL returns a temporary download link for the justification's document.
func (svc *Service) DocumentURL(ctx context.Context, j Justification) (string, error) {
	if !j.HasDocument() {
		return "", core.NewNotFoundError("document")
	}
	return svc.files.URL(ctx, j.DocumentKey, j.DocumentName, svc.conf.Storage.URLExpiry)
}

// ReviewJustification records the staff decision once. Approving excuses the covered absences.
func (svc *Service) ReviewJustification(ctx context.Context, id, reviewerID string, r Review) (Justification, error) {
	var j Justification
	err := svc.tx.WithTx(ctx, func(tx core.DBExecutor) error {
		if err := svc.repo.LockJustification(ctx, id, tx); err != nil {
			return err
		}
		var err error
		if j, err = svc.repo.GetJustificationByID(ctx, id, tx); err != nil {
			return err
		}
		if j.Status != JustificationPending {
			return ErrAlreadyReviewed
		}

		now := core.Now()
		j.Status = r.Status
		j.ReviewedBy = reviewerID
		j.ReviewNote = r.Note
		j.ReviewedAt = &now
		j.UpdatedAt = now
		if j, err = svc.repo.UpdateJustification(ctx, j, tx); err != nil {
			return errors.Wrap(err, "updating justification")
		}

		if j.Status == JustificationApproved {
			if _, err = svc.repo.ExcuseAbsences(ctx, j.StudentID, j.FromDate, j.ToDate, tx); err != nil {
				return errors.Wrap(err, "excusing absences")
			}
		}
		return nil
	})
	if err != nil {
		return Justification{}, err
	}

	title := "درخواست موجه کردن غیبت رد شد"
	if j.Status == JustificationApproved {
		title = "درخواست موجه کردن غیبت تایید شد"
	}
	svc.notifier.Notify(ctx, messaging.Notification{
		UserID: j.SubmittedBy,
		Kind:   messaging.KindJustificationReviewed,
		Title:  title,
		Body:   j.ReviewNote,
		Link:   "/justifications/" + j.ID,
	})
	return j, nil
}

// DeleteJustification removes a pending justification and its document.
func (svc *Service) DeleteJustification(ctx context.Context, j Justification) error {
	if j.Status != JustificationPending {
		return ErrAlreadyReviewed
	}
	if err := svc.repo.DeleteJustification(ctx, j.ID); err != nil {
		return err
	}
	if j.HasDocument() {
		return errors.Wrap(svc.files.Delete(ctx, j.DocumentKey), "deleting document")
	}
	return nil
}
