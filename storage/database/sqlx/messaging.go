package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

type messageRow struct {
	ID               string      `db:"id"`
	SchoolID         null.String `db:"school_id"`
	SenderID         string      `db:"sender_id"`
	RecipientID      string      `db:"recipient_id"`
	Subject          string      `db:"subject"`
	Body             string      `db:"body"`
	ReadAt           null.Time   `db:"read_at"`
	SenderDeleted    bool        `db:"sender_deleted"`
	RecipientDeleted bool        `db:"recipient_deleted"`
	CreatedAt        time.Time   `db:"created_at"`
}

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	Link      string    `db:"link"`
	ReadAt    null.Time `db:"read_at"`
	CreatedAt time.Time `db:"created_at"`
}

var (
	messageColumns = []string{
		"id", "school_id", "sender_id", "recipient_id", "subject", "body", "read_at", "sender_deleted", "recipient_deleted", "created_at",
	}
	notificationColumns = []string{"id", "user_id", "kind", "title", "body", "link", "read_at", "created_at"}
)

func (r messageRow) message() messaging.Message {
	return messaging.Message{
		ID:               r.ID,
		SchoolID:         r.SchoolID.String,
		SenderID:         r.SenderID,
		RecipientID:      r.RecipientID,
		Subject:          r.Subject,
		Body:             r.Body,
		ReadAt:           r.ReadAt.Ptr(),
		CreatedAt:        r.CreatedAt,
		SenderDeleted:    r.SenderDeleted,
		RecipientDeleted: r.RecipientDeleted,
	}
}

func (r notificationRow) notification() messaging.Notification {
	return messaging.Notification{
		ID:        r.ID,
		UserID:    r.UserID,
		Kind:      r.Kind,
		Title:     r.Title,
		Body:      r.Body,
		Link:      r.Link,
		ReadAt:    r.ReadAt.Ptr(),
		CreatedAt: r.CreatedAt,
	}
}

type messagingRepository struct {
	repository
}

var _ messaging.Repository = (*messagingRepository)(nil)

func NewMessagingRepository(exec core.DBExecutor) *messagingRepository {
	return &messagingRepository{repository{exec: exec}}
}

func (repo messagingRepository) CreateMessage(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	msg.ID = newID()
	row := messageRow{
		ID:          msg.ID,
		SchoolID:    nullString(msg.SchoolID),
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Subject:     msg.Subject,
		Body:        msg.Body,
		CreatedAt:   msg.CreatedAt.UTC(),
	}
	if err := repo.insert(ctx, "messages", messageColumns, row); err != nil {
		return messaging.Message{}, errors.Wrap(err, "inserting message")
	}
	return msg, nil
}

func (repo messagingRepository) QueryMessages(ctx context.Context, filter *messaging.MessageFilter, page core.Page) ([]messaging.Message, error) {
	q := psql.Select(messageColumns...).From("messages")
	if filter.Folder == messaging.FolderSent {
		q = q.Where(sq.Eq{"sender_id": filter.UserID, "sender_deleted": false})
	} else {
		q = q.Where(sq.Eq{"recipient_id": filter.UserID, "recipient_deleted": false})
	}
	if filter.UnreadOnly {
		q = q.Where(sq.Eq{"read_at": nil})
	}
	if filter.Search != "" {
		q = q.Where(search(filter.Search, "subject", "body"))
	}
	q = paginate(q.OrderBy("created_at DESC"), page)

	var rows []messageRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying messages")
	}
	list := make([]messaging.Message, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.message())
	}
	return list, nil
}

func (repo messagingRepository) GetMessageByID(ctx context.Context, id string) (messaging.Message, error) {
	if !validID(id) {
		return messaging.Message{}, messaging.ErrNotFound
	}
	var row messageRow
	if err := repo.getOne(ctx, &row, psql.Select(messageColumns...).From("messages").Where(sq.Eq{"id": id})); err != nil {
		return messaging.Message{}, trapNoRowsErr(err, messaging.ErrNotFound, "finding message")
	}
	return row.message(), nil
}

func (repo messagingRepository) MarkMessageRead(ctx context.Context, id string, at time.Time) error {
	q := psql.Update("messages").Set("read_at", at.UTC()).Where(sq.Eq{"id": id, "read_at": nil})
	_, err := repo.execute(ctx, q)
	return errors.Wrap(err, "marking message read")
}

func (repo messagingRepository) DeleteMessageFor(ctx context.Context, msg messaging.Message, userID string) error {
	senderDeleted := msg.SenderDeleted || msg.SenderID == userID
	recipientDeleted := msg.RecipientDeleted || msg.RecipientID == userID
	if senderDeleted && recipientDeleted {
		return repo.deleteByID(ctx, "messages", msg.ID, messaging.ErrNotFound)
	}
	q := psql.Update("messages").
		Set("sender_deleted", senderDeleted).
		Set("recipient_deleted", recipientDeleted).
		Where(sq.Eq{"id": msg.ID})
	_, err := repo.execute(ctx, q)
	return errors.Wrap(err, "deleting message")
}

func (repo messagingRepository) CreateNotifications(ctx context.Context, notifications []messaging.Notification, exec ...core.DBExecutor) error {
	if len(notifications) == 0 {
		return nil
	}
	q := psql.Insert("notifications").Columns(notificationColumns...)
	for _, n := range notifications {
		q = q.Values(newID(), n.UserID, n.Kind, n.Title, n.Body, n.Link, nullTimePtr(n.ReadAt), n.CreatedAt.UTC())
	}
	_, err := repo.execute(ctx, q, exec...)
	return errors.Wrap(err, "inserting notifications")
}

func (repo messagingRepository) QueryNotifications(ctx context.Context, filter *messaging.NotificationFilter, page core.Page) ([]messaging.Notification, error) {
	q := psql.Select(notificationColumns...).From("notifications").Where(sq.Eq{"user_id": filter.UserID})
	if filter.UnreadOnly {
		q = q.Where(sq.Eq{"read_at": nil})
	}
	if filter.Kind != "" {
		q = q.Where(sq.Eq{"kind": filter.Kind})
	}
	q = paginate(q.OrderBy("created_at DESC"), page)

	var rows []notificationRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	list := make([]messaging.Notification, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.notification())
	}
	return list, nil
}

func (repo messagingRepository) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	q := psql.Select("COUNT(*)").From("notifications").Where(sq.Eq{"user_id": userID, "read_at": nil})
	err := repo.getOne(ctx, &count, q)
	return count, errors.Wrap(err, "counting unread notifications")
}

func (repo messagingRepository) MarkNotificationsRead(ctx context.Context, userID string, at time.Time, ids ...string) (int64, error) {
	q := psql.Update("notifications").Set("read_at", at.UTC()).Where(sq.Eq{"user_id": userID, "read_at": nil})
	if len(ids) > 0 {
		valid := make([]string, 0, len(ids))
		for _, id := range ids {
			if validID(id) {
				valid = append(valid, id)
			}
		}
		q = q.Where(sq.Eq{"id": valid})
	}
	res, err := repo.execute(ctx, q)
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	return res.RowsAffected()
}
