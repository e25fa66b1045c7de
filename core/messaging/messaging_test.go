package messaging

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type memRepo struct {
	messages      map[string]Message
	notifications []Notification
	seq           int
	notifyErr     error
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{messages: make(map[string]Message)}
}

func (r *memRepo) nextID() string {
	r.seq++
	return fmt.Sprintf("id-%d", r.seq)
}

func (r *memRepo) CreateMessage(_ context.Context, msg Message) (Message, error) {
	msg.ID = r.nextID()
	r.messages[msg.ID] = msg
	return msg, nil
}

func (r *memRepo) QueryMessages(_ context.Context, filter *MessageFilter, _ core.Page) ([]Message, error) {
	list := make([]Message, 0)
	for _, m := range r.messages {
		if m.IsParticipant(filter.UserID) {
			list = append(list, m)
		}
	}
	return list, nil
}

func (r *memRepo) GetMessageByID(_ context.Context, id string) (Message, error) {
	if m, ok := r.messages[id]; ok {
		return m, nil
	}
	return Message{}, ErrNotFound
}

func (r *memRepo) MarkMessageRead(_ context.Context, id string, at time.Time) error {
	m := r.messages[id]
	m.ReadAt = &at
	r.messages[id] = m
	return nil
}

func (r *memRepo) DeleteMessageFor(_ context.Context, msg Message, userID string) error {
	if msg.SenderID == userID {
		msg.SenderDeleted = true
	}
	if msg.RecipientID == userID {
		msg.RecipientDeleted = true
	}
	if msg.SenderDeleted && msg.RecipientDeleted {
		delete(r.messages, msg.ID)
		return nil
	}
	r.messages[msg.ID] = msg
	return nil
}

func (r *memRepo) CreateNotifications(_ context.Context, notifications []Notification, _ ...core.DBExecutor) error {
	if r.notifyErr != nil {
		return r.notifyErr
	}
	for _, n := range notifications {
		n.ID = r.nextID()
		r.notifications = append(r.notifications, n)
	}
	return nil
}

func (r *memRepo) QueryNotifications(_ context.Context, filter *NotificationFilter, _ core.Page) ([]Notification, error) {
	list := make([]Notification, 0)
	for _, n := range r.notifications {
		if n.UserID == filter.UserID && (!filter.UnreadOnly || n.ReadAt == nil) {
			list = append(list, n)
		}
	}
	return list, nil
}

func (r *memRepo) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	var count int
	for _, n := range r.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) MarkNotificationsRead(_ context.Context, userID string, at time.Time, ids ...string) (int64, error) {
	var count int64
	for i, n := range r.notifications {
		if n.UserID != userID || n.ReadAt != nil {
			continue
		}
		if len(ids) > 0 && !user.ContainsID(ids, n.ID) {
			continue
		}
		r.notifications[i].ReadAt = &at
		count++
	}
	return count, nil
}

// errorLog records the messages logged at error level.
type errorLog struct {
	errors []string
}

func (l *errorLog) Debug(string, ...interface{}) {}
func (l *errorLog) Info(string, ...interface{}) {}
func (l *errorLog) Warn(string, ...interface{}) {}
func (l *errorLog) Error(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}
func (l *errorLog) Fatal(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

type users map[string]user.User

func (u users) GetUserByID(_ context.Context, id string, _ ...core.DBExecutor) (user.User, error) {
	if usr, ok := u[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

var (
	teacher  = user.User{ID: "teacher", SchoolID: "school1", Name: "علی معلمی"}
	parent   = user.User{ID: "parent", SchoolID: "school1", Name: "حسن رضایی"}
	outsider = user.User{ID: "outsider", SchoolID: "school2", Name: "نازنین احمدی"}
	owner    = user.User{ID: "owner", Name: "مالک"}
)

func newTestService() (*Service, *memRepo) {
	svc, repo, _ := newLoggedService()
	return svc, repo
}

func newLoggedService() (*Service, *memRepo, *errorLog) {
	repo := newMemRepo()
	logs := new(errorLog)
	return NewService(repo, users{
		teacher.ID:  teacher,
		parent.ID:   parent,
		outsider.ID: outsider,
		owner.ID:    owner,
	}, logs), repo, logs
}

func fieldOf(err error) string {
	if verr, ok := err.(*core.ValidationError); ok && len(verr.Fields) > 0 {
		return verr.Fields[0].Field
	}
	return ""
}

func TestService_Send(t *testing.T) {
	tests := []struct {
		name      string
		sender    user.User
		recipient string
		wantField string
	}{
		{name: "to self", sender: teacher, recipient: teacher.ID, wantField: "recipient_id"},
		{name: "unknown recipient", sender: teacher, recipient: "nobody", wantField: "recipient_id"},
		{name: "another school", sender: teacher, recipient: outsider.ID, wantField: "recipient_id"},
		{name: "same school", sender: teacher, recipient: parent.ID},
		{name: "owner to any school", sender: owner, recipient: outsider.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			msg, err := svc.Send(context.Background(), tt.sender, NewMessage{RecipientID: tt.recipient, Subject: "جلسه", Body: "سلام"})
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, fieldOf(err))
				assert.Empty(t, repo.messages)
				assert.Empty(t, repo.notifications)
				return
			}
			if !assert.NoError(t, err) {
				return
			}
			recipient, _ := svc.users.GetUserByID(context.Background(), tt.recipient)
			assert.Equal(t, recipient.SchoolID, msg.SchoolID)
			if assert.Len(t, repo.notifications, 1) {
				n := repo.notifications[0]
				assert.Equal(t, tt.recipient, n.UserID)
				assert.Equal(t, KindMessage, n.Kind)
				assert.Equal(t, "/messages/"+msg.ID, n.Link)
			}
		})
	}
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	msg, err := svc.Send(ctx, teacher, NewMessage{RecipientID: parent.ID, Subject: "جلسه", Body: "سلام"})
	if !assert.NoError(t, err) {
		return
	}

	_, err = svc.Get(ctx, msg.ID, outsider.ID)
	assert.Equal(t, ErrNotFound, err)

	// the sender reading does not mark it read
	got, err := svc.Get(ctx, msg.ID, teacher.ID)
	assert.NoError(t, err)
	assert.Nil(t, got.ReadAt)

	got, err = svc.Get(ctx, msg.ID, parent.ID)
	assert.NoError(t, err)
	assert.NotNil(t, got.ReadAt)

	t.Run("deleted for one participant only", func(t *testing.T) {
		assert.NoError(t, svc.Delete(ctx, msg.ID, parent.ID))
		_, err := svc.Get(ctx, msg.ID, parent.ID)
		assert.Equal(t, ErrNotFound, err)
		_, err = svc.Get(ctx, msg.ID, teacher.ID)
		assert.NoError(t, err)
	})
}

func TestService_Notifications(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService()

	svc.Notify(ctx,
		Notification{UserID: parent.ID, Kind: KindExamResult, Title: "نتیجه آزمون"},
		Notification{UserID: parent.ID, Kind: KindAchievement, Title: ""}, // dropped
		Notification{UserID: "", Kind: KindAchievement, Title: "بی‌صاحب"}, // dropped
		Notification{UserID: parent.ID, Kind: KindTuitionNotice, Title: "شهریه"},
		Notification{UserID: teacher.ID, Kind: KindMessage, Title: "پیام"},
	)
	assert.Len(t, repo.notifications, 3)
	svc.Notify(ctx)
	assert.Len(t, repo.notifications, 3)

	count, err := svc.UnreadCount(ctx, parent.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, count)

	first := repo.notifications[0]
	assert.NoError(t, svc.MarkRead(ctx, parent.ID, first.ID))
	assert.Equal(t, ErrNotificationNotFound, svc.MarkRead(ctx, parent.ID, first.ID))
	assert.Equal(t, ErrNotificationNotFound, svc.MarkRead(ctx, teacher.ID, repo.notifications[1].ID))

	n, err := svc.MarkAllRead(ctx, parent.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err = svc.UnreadCount(ctx, parent.ID)
	assert.NoError(t, err)
	assert.Zero(t, count)

	count, err = svc.UnreadCount(ctx, teacher.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_NotifyFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	svc, repo, logs := newLoggedService()
	repo.notifyErr = errors.New("connection reset")

	// the message is saved even though its notification is not
	msg, err := svc.Send(ctx, teacher, NewMessage{RecipientID: parent.ID, Subject: "جلسه", Body: "سلام"})
	assert.NoError(t, err)
	assert.Contains(t, repo.messages, msg.ID)
	assert.Empty(t, repo.notifications)
	if assert.Len(t, logs.errors, 1) {
		assert.Contains(t, logs.errors[0], "connection reset")
	}

	svc.Notify(ctx, Notification{UserID: parent.ID, Kind: KindExamResult, Title: "نتیجه آزمون"})
	assert.Len(t, logs.errors, 2)
}
