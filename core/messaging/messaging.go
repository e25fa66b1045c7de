// Package messaging holds the direct messages exchanged between users and the notifications other services raise.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

// Notification kinds
const (
	KindMessage               = "message"
	KindAssignmentGraded      = "assignment_graded"
	KindJustificationReviewed = "justification_reviewed"
	KindDisciplinaryRecord    = "disciplinary_record"
	KindAchievement           = "achievement"
	KindTuitionNotice         = "tuition_notice"
	KindExamResult            = "exam_result"
)

var (
	ErrNotFound             = core.NewNotFoundError("message")
	ErrNotificationNotFound = core.NewNotFoundError("notification")
	errRecipientNotFound    = "گیرنده پیدا نشد"
	errSelfMessage          = "ارسال پیام به خود ممکن نیست"
)

type Message struct {
	ID          string     `json:"id"`
	SchoolID    string     `json:"school_id"`
	SenderID    string     `json:"sender_id"`
	RecipientID string     `json:"recipient_id"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `json:"created_at"`

	SenderDeleted    bool `json:"-"`
	RecipientDeleted bool `json:"-"`
}

func (m Message) IsParticipant(userID string) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

type NewMessage struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
	Subject     string `json:"subject" validate:"required,notblank,max=200"`
	Body        string `json:"body" validate:"required,notblank,max=5000"`
}

func (nm *NewMessage) Validate(validate *validator.Validate) error {
	nm.Subject = core.CleanString(nm.Subject)
	nm.Body = core.CleanString(nm.Body)
	return validate.Struct(nm)
}

// Folders
const (
	FolderInbox = "inbox"
	FolderSent  = "sent"
)

type MessageFilter struct {
	Folder     string `query:"folder"`
	UnreadOnly bool   `query:"unread"`
	Search     string `query:"search"`
	UserID     string `query:"-"`
}

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      string     `json:"link"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

type NotificationFilter struct {
	UnreadOnly bool   `query:"unread"`
	Kind       string `query:"kind"`
	UserID     string `query:"-"`
}

// Notifier is used by the other services to notify users.
type Notifier interface {
	Notify(ctx context.Context, notifications ...Notification)
}

type (
	Repository interface {
		CreateMessage(ctx context.Context, msg Message) (Message, error)
		QueryMessages(ctx context.Context, filter *MessageFilter, page core.Page) ([]Message, error)
		GetMessageByID(ctx context.Context, id string) (Message, error)
		MarkMessageRead(ctx context.Context, id string, at time.Time) error
		// DeleteMessageFor hides the message from userID, removing it once both participants deleted it.
		DeleteMessageFor(ctx context.Context, msg Message, userID string) error

		CreateNotifications(ctx context.Context, notifications []Notification, exec ...core.DBExecutor) error
		QueryNotifications(ctx context.Context, filter *NotificationFilter, page core.Page) ([]Notification, error)
		CountUnreadNotifications(ctx context.Context, userID string) (int, error)
		MarkNotificationsRead(ctx context.Context, userID string, at time.Time, ids ...string) (int64, error)
	}

	UserGetter interface {
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (user.User, error)
	}

	Service struct {
		repo   Repository
		users  UserGetter
		logger core.Logger
	}
)

var _ Notifier = (*Service)(nil)

func NewService(repo Repository, users UserGetter, logger core.Logger) *Service {
	return &Service{repo: repo, users: users, logger: logger}
}

// Send delivers a message to a user of the sender's school and notifies the recipient.
func (svc *Service) Send(ctx context.Context, sender user.User, nm NewMessage) (Message, error) {
	if nm.RecipientID == sender.ID {
		return Message{}, core.NewFieldError("recipient_id", errSelfMessage)
	}
	recipient, err := svc.users.GetUserByID(ctx, nm.RecipientID)
	if err != nil {
		if core.IsNotFound(err) {
			return Message{}, core.NewFieldError("recipient_id", errRecipientNotFound)
		}
		return Message{}, errors.Wrap(err, "finding recipient")
	}
	if sender.SchoolID != "" && recipient.SchoolID != sender.SchoolID {
		return Message{}, core.NewFieldError("recipient_id", errRecipientNotFound)
	}

	msg, err := svc.repo.CreateMessage(ctx, Message{
		SchoolID:    recipient.SchoolID,
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Subject:     nm.Subject,
		Body:        nm.Body,
		CreatedAt:   core.Now(),
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "creating message")
	}

	svc.Notify(ctx, Notification{
		UserID: recipient.ID,
		Kind:   KindMessage,
		Title:  "پیام جدید از " + sender.Name,
		Body:   msg.Subject,
		Link:   "/messages/" + msg.ID,
	})
	return msg, nil
}

func (svc *Service) Query(ctx context.Context, filter *MessageFilter, page core.Page) ([]Message, error) {
	if filter.Folder != FolderSent {
		filter.Folder = FolderInbox
	}
	return svc.repo.QueryMessages(ctx, filter, page)
}

// Get returns a message userID takes part in, marking it read when userID is the recipient.
func (svc *Service) Get(ctx context.Context, id, userID string) (Message, error) {
	msg, err := svc.repo.GetMessageByID(ctx, id)
	if err != nil {
		return Message{}, err
	}
	if !msg.IsParticipant(userID) ||
		(msg.SenderID == userID && msg.SenderDeleted) ||
		(msg.RecipientID == userID && msg.RecipientDeleted) {
		return Message{}, ErrNotFound
	}

	if msg.RecipientID == userID && msg.ReadAt == nil {
		now := core.Now()
		if err = svc.repo.MarkMessageRead(ctx, msg.ID, now); err != nil {
			return Message{}, errors.Wrap(err, "marking message read")
		}
		msg.ReadAt = &now
	}
	return msg, nil
}

func (svc *Service) Delete(ctx context.Context, id, userID string) error {
	msg, err := svc.Get(ctx, id, userID)
	if err != nil {
		return err
	}
	return svc.repo.DeleteMessageFor(ctx, msg, userID)
}

// Notify stores notifications; blank ones are dropped.
// Failures are logged only: the change being notified about is already saved.
func (svc *Service) Notify(ctx context.Context, notifications ...Notification) {
	toCreate := make([]Notification, 0, len(notifications))
	now := core.Now()
	for _, n := range notifications {
		if n.UserID == "" || n.Title == "" {
			continue
		}
		n.CreatedAt = now
		toCreate = append(toCreate, n)
	}
	if len(toCreate) == 0 {
		return
	}
	if err := svc.repo.CreateNotifications(ctx, toCreate); err != nil {
		svc.logger.Error(fmt.Sprintf("creating %d notification(s): %v", len(toCreate), err), err)
	}
}

func (svc *Service) Notifications(ctx context.Context, filter *NotificationFilter, page core.Page) ([]Notification, error) {
	return svc.repo.QueryNotifications(ctx, filter, page)
}

func (svc *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return svc.repo.CountUnreadNotifications(ctx, userID)
}

func (svc *Service) MarkRead(ctx context.Context, userID, id string) error {
	n, err := svc.repo.MarkNotificationsRead(ctx, userID, core.Now(), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (svc *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return svc.repo.MarkNotificationsRead(ctx, userID, core.Now())
}
