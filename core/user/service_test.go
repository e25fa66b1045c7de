package user

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
)

// in-memory doubles

type memRepo struct {
	mu    sync.RWMutex
	users map[string]User
	otps  map[string]OTP
	seq   int
}

var (
	_ Repository    = (*memRepo)(nil)
	_ OTPRepository = (*memRepo)(nil)
)

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]User), otps: make(map[string]OTP)}
}

func (r *memRepo) CheckUniqueness(_ context.Context, nationalID, phone, email string, excludedIDs []string, _ ...core.DBExecutor) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if ContainsID(excludedIDs, u.ID) {
			continue
		}
		switch {
		case u.NationalID == nationalID:
			return ErrNationalIDExists
		case u.Phone == phone:
			return ErrPhoneExists
		case email != "" && u.Email == email:
			return ErrEmailExists
		}
	}
	return nil
}

func (r *memRepo) CreateUser(_ context.Context, usr User, _ ...core.DBExecutor) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	usr.ID = strings.Repeat("0", 7) + string(rune('a'+r.seq))
	r.users[usr.ID] = usr
	return usr, nil
}

func (r *memRepo) QueryUsers(_ context.Context, filter *QueryFilter, _ []core.DBOrdering, _ core.Page, _ ...core.DBExecutor) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]User, 0)
	for _, u := range r.users {
		if filter.ParentID != "" && u.ParentID != filter.ParentID {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (r *memRepo) GetUserByID(_ context.Context, id string, _ ...core.DBExecutor) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (r *memRepo) GetUserByNationalID(_ context.Context, nationalID string, _ ...core.DBExecutor) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.NationalID == nationalID {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (r *memRepo) UpdateUser(_ context.Context, usr User, _ ...core.DBExecutor) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[usr.ID]; !ok {
		return User{}, ErrNotFound
	}
	r.users[usr.ID] = usr
	return usr, nil
}

func (r *memRepo) SetLastLogin(_ context.Context, id string, lastLogin time.Time, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.LastLogin = lastLogin
	r.users[id] = u
	return nil
}

func (r *memRepo) AdjustBehaviorScore(_ context.Context, id string, delta float64, _ ...core.DBExecutor) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[id]
	u.BehaviorScore += delta
	r.users[id] = u
	return u.BehaviorScore, nil
}

func (r *memRepo) DeleteUsersByID(_ context.Context, ids []string, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.users, id)
	}
	return nil
}

func (r *memRepo) SaveOTP(_ context.Context, otp OTP, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otps[otp.Phone] = otp
	return nil
}

func (r *memRepo) GetOTP(_ context.Context, phone string, _ ...core.DBExecutor) (OTP, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if otp, ok := r.otps[phone]; ok {
		return otp, nil
	}
	return OTP{}, ErrOTPNotFound
}

func (r *memRepo) IncrementOTPAttempts(_ context.Context, phone string, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	otp := r.otps[phone]
	otp.Attempts++
	r.otps[phone] = otp
	return nil
}

func (r *memRepo) DeleteOTP(_ context.Context, phone string, _ ...core.DBExecutor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.otps, phone)
	return nil
}

type schoolCodes map[string]string

func (s schoolCodes) SchoolIDByCode(_ context.Context, code string) (string, error) {
	if id, ok := s[code]; ok {
		return id, nil
	}
	return "", core.NewNotFoundError("school")
}

type outbox struct {
	sms    []*core.SMSMessage
	emails []*core.EmailMessage
}

func (o *outbox) SendMessages(messages ...*core.SMSMessage) { o.sms = append(o.sms, messages...) }

type mailbox struct{ o *outbox }

func (m mailbox) SendMessages(messages ...*core.EmailMessage) { m.o.emails = append(m.o.emails, messages...) }

func setup(t *testing.T) (*Service, *memRepo, *outbox) {
	t.Helper()
	repo := newMemRepo()
	box := new(outbox)
	svc := NewService(core.NewTestConfig(), repo, repo, schoolCodes{"alborz": "school-1"}, mailbox{box}, box)

	generateCodeFunc = func(int) (string, error) { return "123456", nil }
	t.Cleanup(func() { generateCodeFunc = generateCode })
	return svc, repo, box
}

func validRegistration() NewRegistration {
	return NewRegistration{
		NationalID:      "0499370899",
		Phone:           "09121234567",
		Code:            "123456",
		Name:            "سارا احمدی",
		Password:        "Gol#Sorkh42",
		PasswordConfirm: "Gol#Sorkh42",
		Role:            RoleStudent,
		SchoolCode:      "alborz",
	}
}

func TestService_RequestOTP(t *testing.T) {
	svc, repo, box := setup(t)
	ctx := context.Background()

	err := svc.RequestOTP(ctx, "0912")
	assert.IsType(t, &core.ValidationError{}, err)

	if err = svc.RequestOTP(ctx, "+989121234567"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}
	otp, err := repo.GetOTP(ctx, "09121234567")
	if err != nil {
		t.Fatalf("GetOTP() error = %v", err)
	}
	assert.Equal(t, hashOTP("secret", "09121234567", "123456"), otp.CodeHash)
	assert.NotContains(t, otp.CodeHash, "123456")
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), otp.ExpiresAt, 5*time.Second)

	if assert.Len(t, box.sms, 1) {
		assert.Equal(t, []string{"09121234567"}, box.sms[0].To)
		assert.Equal(t, "otp", box.sms[0].TemplateName)
	}
}

func TestService_Register(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	// no code requested
	_, err := svc.Register(ctx, validRegistration())
	assertFieldError(t, err, "code", errOTPInvalid)

	if err = svc.RequestOTP(ctx, "09121234567"); err != nil {
		t.Fatalf("RequestOTP() error = %v", err)
	}

	// unknown school
	reg := validRegistration()
	reg.SchoolCode = "lol"
	_, err = svc.Register(ctx, reg)
	assertFieldError(t, err, "school_code", ErrSchoolCodeNotFound.Error())

	// wrong code
	reg = validRegistration()
	reg.Code = "654321"
	_, err = svc.Register(ctx, reg)
	assertFieldError(t, err, "code", errOTPInvalid)
	otp, _ := repo.GetOTP(ctx, reg.Phone)
	assert.Equal(t, 1, otp.Attempts)

	usr, err := svc.Register(ctx, validRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	assert.Equal(t, "school-1", usr.SchoolID)
	assert.Equal(t, []string{RoleStudent}, usr.Roles)
	assert.True(t, usr.IsActive)
	assert.True(t, usr.TrialActive())
	assert.Equal(t, float64(DefaultBehaviorScore), usr.BehaviorScore)
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), usr.TrialEndsAt, time.Minute)
	assert.NoError(t, usr.CheckPassword("Gol#Sorkh42"))

	// codes are single use
	_, err = svc.Register(ctx, validRegistration())
	assertFieldError(t, err, "code", errOTPInvalid)
}

func TestService_verifyOTP(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	phone := "09121234567"

	t.Run("expired", func(t *testing.T) {
		_ = repo.SaveOTP(ctx, OTP{Phone: phone, CodeHash: hashOTP("secret", phone, "123456"), ExpiresAt: time.Now().Add(-time.Second)})
		assertFieldError(t, svc.verifyOTP(ctx, phone, "123456"), "code", errOTPExpired)
		_, err := repo.GetOTP(ctx, phone)
		assert.Equal(t, ErrOTPNotFound, err)
	})

	t.Run("too many attempts", func(t *testing.T) {
		_ = repo.SaveOTP(ctx, OTP{Phone: phone, CodeHash: hashOTP("secret", phone, "123456"), ExpiresAt: time.Now().Add(time.Minute)})
		for i := 0; i < svc.conf.OTP.MaxAttempts; i++ {
			assertFieldError(t, svc.verifyOTP(ctx, phone, "000000"), "code", errOTPInvalid)
		}
		// even the right code is refused now
		assertFieldError(t, svc.verifyOTP(ctx, phone, "123456"), "code", errOTPTooManyAttempts)
	})

	t.Run("valid", func(t *testing.T) {
		_ = repo.SaveOTP(ctx, OTP{Phone: phone, CodeHash: hashOTP("secret", phone, "123456"), ExpiresAt: time.Now().Add(time.Minute)})
		assert.NoError(t, svc.verifyOTP(ctx, phone, "123456"))
	})
}

func TestService_PasswordReset(t *testing.T) {
	svc, repo, box := setup(t)
	ctx := context.Background()

	usr := User{NationalID: "0012345679", Phone: "09351234567", Name: "Reza", Email: "reza@test.ir", IsActive: true}
	_ = usr.SetPassword("Old#Pass99")
	usr, _ = repo.CreateUser(ctx, usr)

	assert.Equal(t, ErrNotFound, svc.RequestPasswordReset(ctx, "0499370899"))

	if err := svc.RequestPasswordReset(ctx, "۰۰۱۲۳۴۵۶۷۹"); err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if !assert.Len(t, box.sms, 1) || !assert.Len(t, box.emails, 1) {
		return
	}
	data := box.sms[0].TemplateData.(map[string]interface{})
	uid, token := data["UID"].(string), data["Token"].(string)
	assert.Equal(t, "password_reset", box.emails[0].TemplateName)

	tests := []struct {
		name      string
		data      ResetUserPassword
		wantField string
	}{
		{name: "bad uid", data: ResetUserPassword{UID: "lol", Token: token, Password: "New#Pass77"}, wantField: "token"},
		{name: "bad token", data: ResetUserPassword{UID: uid, Token: "lol-lol", Password: "New#Pass77"}, wantField: "token"},
		{name: "similar password", data: ResetUserPassword{UID: uid, Token: token, Password: "Reza@test.ir1"}, wantField: "password"},
		{name: "reset", data: ResetUserPassword{UID: uid, Token: token, Password: "New#Pass77"}},
		{name: "token used", data: ResetUserPassword{UID: uid, Token: token, Password: "New#Pass88"}, wantField: "token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ResetPassword(ctx, tt.data)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			if vErr, ok := err.(*core.ValidationError); assert.True(t, ok, "error = %v", err) {
				assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
			}
		})
	}

	usr, _ = repo.GetUserByID(ctx, usr.ID)
	assert.NoError(t, usr.CheckPassword("New#Pass77"))
}

func TestService_CheckUniqueness(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()
	usr, _ := repo.CreateUser(ctx, User{NationalID: "0012345679", Phone: "09351234567", Email: "a@test.ir"})

	tests := []struct {
		name                    string
		nationalID, phone, mail string
		excluded                []string
		wantField               string
	}{
		{name: "national id", nationalID: "0012345679", phone: "09120000000", wantField: "national_id"},
		{name: "phone", nationalID: "0499370899", phone: "09351234567", wantField: "phone"},
		{name: "email", nationalID: "0499370899", phone: "09120000000", mail: "a@test.ir", wantField: "email"},
		{name: "self", nationalID: "0012345679", phone: "09351234567", mail: "a@test.ir", excluded: []string{usr.ID}},
		{name: "unique", nationalID: "0499370899", phone: "09120000000", mail: "b@test.ir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(ctx, tt.nationalID, tt.phone, tt.mail, tt.excluded...)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			if vErr, ok := err.(*core.ValidationError); assert.True(t, ok, "error = %v", err) {
				assert.Equal(t, tt.wantField, vErr.Fields[0].Field)
			}
		})
	}
}

func TestService_UpdateAndChildren(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	parent, _ := repo.CreateUser(ctx, User{Name: "Parent", Roles: []string{RoleParent}, IsActive: true})
	kid, _ := repo.CreateUser(ctx, User{Name: "Kid", Roles: []string{RoleStudent}, IsActive: true})

	inactive := false
	parentID := parent.ID
	kid, err := svc.Update(ctx, kid, UpdateUser{Name: "Kid", IsActive: &inactive, ParentID: &parentID})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	assert.False(t, kid.IsActive)
	assert.Equal(t, parent.ID, kid.ParentID)

	children, err := svc.Children(ctx, parent.ID)
	assert.NoError(t, err)
	assert.Equal(t, []User{kid}, children)
}

func assertFieldError(t *testing.T, err error, field, msg string) {
	t.Helper()
	vErr, ok := err.(*core.ValidationError)
	if !ok {
		t.Fatalf("error = %v (%T); want *core.ValidationError", err, err)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0].Field != field || vErr.Fields[0].Error != msg {
		t.Errorf("fields = %+v; want %s: %s", vErr.Fields, field, msg)
	}
}
