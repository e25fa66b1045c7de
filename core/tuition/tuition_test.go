package tuition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/user"
)

type memRepo struct {
	notices map[string]Notice
	seq     int
}

var _ Repository = (*memRepo)(nil)

func (r *memRepo) CreateNotice(_ context.Context, n Notice) (Notice, error) {
	r.seq++
	n.ID = string(rune('a' + r.seq))
	r.notices[n.ID] = n
	return n, nil
}

func (r *memRepo) QueryNotices(_ context.Context, filter *QueryFilter, _ []core.DBOrdering, _ core.Page, _ core.Date) ([]Notice, error) {
	list := make([]Notice, 0)
	for _, n := range r.notices {
		if filter.Overdue != nil && n.Overdue() != *filter.Overdue {
			continue
		}
		list = append(list, n)
	}
	return list, nil
}

func (r *memRepo) GetNoticeByID(_ context.Context, id string) (Notice, error) {
	if n, ok := r.notices[id]; ok {
		return n, nil
	}
	return Notice{}, ErrNotFound
}

func (r *memRepo) UpdateNotice(_ context.Context, n Notice) (Notice, error) {
	r.notices[n.ID] = n
	return n, nil
}

func (r *memRepo) DeleteNotice(_ context.Context, id string) error {
	delete(r.notices, id)
	return nil
}

type users map[string]user.User

func (u users) GetUserByID(_ context.Context, id string, _ ...core.DBExecutor) (user.User, error) {
	if usr, ok := u[id]; ok {
		return usr, nil
	}
	return user.User{}, user.ErrNotFound
}

type smsOutbox []*core.SMSMessage

func (o *smsOutbox) SendMessages(messages ...*core.SMSMessage) { *o = append(*o, messages...) }

type mailbox []*core.EmailMessage

func (m *mailbox) SendMessages(messages ...*core.EmailMessage) { *m = append(*m, messages...) }

type notifications []messaging.Notification

func (n *notifications) Notify(_ context.Context, ns ...messaging.Notification) {
	*n = append(*n, ns...)
}

const (
	studentID = "1b2c3d4e-5f60-4718-89ab-cdef01234567"
	parentID  = "2b2c3d4e-5f60-4718-89ab-cdef01234567"
	orphanID  = "3b2c3d4e-5f60-4718-89ab-cdef01234567"
)

type fixture struct {
	svc   *Service
	repo  *memRepo
	sms   *smsOutbox
	mails *mailbox
	sent  *notifications
}

func setup() fixture {
	f := fixture{
		repo:  &memRepo{notices: make(map[string]Notice)},
		sms:   new(smsOutbox),
		mails: new(mailbox),
		sent:  new(notifications),
	}
	members := users{
		studentID: {ID: studentID, SchoolID: "school1", Name: "Sara", Roles: []string{user.RoleStudent}, ParentID: parentID},
		parentID:  {ID: parentID, SchoolID: "school1", Name: "Reza", Phone: "09121234567", Email: "reza@example.com", Roles: []string{user.RoleParent}},
		orphanID:  {ID: orphanID, SchoolID: "school1", Name: "Nima", Roles: []string{user.RoleStudent}},
	}
	f.svc = NewService(core.NewTestConfig(), f.repo, members, f.sms, f.mails, f.sent)
	return f
}

func (f fixture) newNotice(t *testing.T, student string, due core.Date) Notice {
	validate, _ := core.NewValidator()
	nn := NewNotice{StudentID: student, Title: "شهریه مهر", Amount: 12500000, DueDate: due}
	if !assert.NoError(t, nn.Validate(context.Background(), "school1", validate, f.svc)) {
		t.FailNow()
	}
	n, err := f.svc.Create(context.Background(), "school1", nn)
	assert.NoError(t, err)
	return n
}

func TestNewNotice_Validate(t *testing.T) {
	f := setup()
	validate, _ := core.NewValidator()
	ctx := context.Background()
	due := core.NewDate(time.Now().AddDate(0, 1, 0))

	nn := NewNotice{StudentID: studentID, Title: " شهریه ", Amount: 1000, DueDate: due}
	assert.NoError(t, nn.Validate(ctx, "school1", validate, f.svc))
	assert.Equal(t, parentID, nn.ParentID, "defaults to the student's parent")
	assert.Equal(t, "شهریه", nn.Title)

	tests := []struct {
		name string
		nn   NewNotice
	}{
		{"zero amount", NewNotice{StudentID: studentID, Title: "x", DueDate: due}},
		{"no due date", NewNotice{StudentID: studentID, Title: "x", Amount: 1}},
		{"parent as student", NewNotice{StudentID: parentID, Title: "x", Amount: 1, DueDate: due}},
		{"student as parent", NewNotice{StudentID: studentID, ParentID: orphanID, Title: "x", Amount: 1, DueDate: due}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.nn.Validate(ctx, "school1", validate, f.svc))
		})
	}

	nn = NewNotice{StudentID: studentID, Title: "x", Amount: 1, DueDate: due}
	assert.Error(t, nn.Validate(ctx, "school2", validate, f.svc), "other school")
}

func TestService_Lifecycle(t *testing.T) {
	f := setup()
	ctx := context.Background()
	n := f.newNotice(t, studentID, core.NewDate(time.Now().AddDate(0, 0, 10)))
	assert.Equal(t, StatusDraft, n.Status)

	_, err := f.svc.Send(ctx, n)
	assert.Equal(t, ErrNotSendable, err)
	_, err = f.svc.SetStatus(ctx, n, StatusSent)
	assert.IsType(t, &core.TransitionError{}, err)

	amount := int64(13000000)
	n, err = f.svc.Update(ctx, n, UpdateNotice{Amount: &amount})
	assert.NoError(t, err)
	assert.Equal(t, amount, n.Amount)

	n, err = f.svc.SetStatus(ctx, n, StatusIssued)
	assert.NoError(t, err)
	assert.NotNil(t, n.IssuedAt)

	// an issued notice is paid only after it was sent
	_, err = f.svc.SetStatus(ctx, n, StatusPaid)
	assert.IsType(t, &core.TransitionError{}, err)

	_, err = f.svc.Update(ctx, n, UpdateNotice{Amount: &amount})
	assert.Equal(t, ErrNotEditable, err)
	assert.Equal(t, ErrNotEditable, f.svc.Delete(ctx, n))

	n, err = f.svc.Send(ctx, n)
	assert.NoError(t, err)
	assert.Equal(t, StatusSent, n.Status)
	assert.NotNil(t, n.SentAt)

	if assert.Len(t, *f.sms, 1) {
		msg := (*f.sms)[0]
		assert.Equal(t, []string{"09121234567"}, msg.To)
		assert.Equal(t, "tuition_notice", msg.TemplateName)
		assert.Equal(t, "13,000,000", msg.TemplateData.(map[string]interface{})["Amount"])
	}
	assert.Len(t, *f.mails, 1)
	if assert.Len(t, *f.sent, 1) {
		assert.Equal(t, parentID, (*f.sent)[0].UserID)
		assert.Equal(t, messaging.KindTuitionNotice, (*f.sent)[0].Kind)
	}

	// reminder
	_, err = f.svc.Send(ctx, n)
	assert.NoError(t, err)
	assert.Len(t, *f.sms, 2)

	n, err = f.svc.SetStatus(ctx, n, StatusPaid)
	assert.NoError(t, err)
	assert.NotNil(t, n.PaidAt)

	_, err = f.svc.SetStatus(ctx, n, StatusCancelled)
	assert.IsType(t, &core.TransitionError{}, err)
}

func TestService_SendWithoutParent(t *testing.T) {
	f := setup()
	ctx := context.Background()
	n := f.newNotice(t, orphanID, core.NewDate(time.Now()))
	n, _ = f.svc.SetStatus(ctx, n, StatusIssued)

	_, err := f.svc.Send(ctx, n)
	assert.Equal(t, ErrNoParent, err)
	assert.Empty(t, *f.sms)
}

func TestNotice_Overdue(t *testing.T) {
	yesterday := core.NewDate(time.Now().AddDate(0, 0, -1))
	tomorrow := core.NewDate(time.Now().AddDate(0, 0, 1))

	tests := []struct {
		status string
		due    core.Date
		want   bool
	}{
		{StatusDraft, yesterday, true},
		{StatusDraft, tomorrow, false},
		{StatusIssued, yesterday, true},
		{StatusSent, yesterday, true},
		{StatusSent, tomorrow, false},
		{StatusPaid, yesterday, false},
		{StatusCancelled, yesterday, false},
	}
	for _, tc := range tests {
		n := Notice{Status: tc.status, DueDate: tc.due}
		assert.Equal(t, tc.want, n.Overdue(), "%s due %s", tc.status, tc.due)
	}

	b, err := json.Marshal(Notice{Status: StatusIssued, DueDate: yesterday})
	assert.NoError(t, err)
	assert.Contains(t, string(b), `"overdue":true`)
	assert.Contains(t, string(b), `"due_date":"`+yesterday.String()+`"`)
}

func TestFormatAmount(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		999:        "999",
		1000:       "1,000",
		12500000:   "12,500,000",
		-1234567:   "-1,234,567",
		1000000000: "1,000,000,000",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatAmount(in))
	}
}
