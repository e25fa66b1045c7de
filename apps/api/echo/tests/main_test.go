package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"reflect"
	"sync"
	"testing"

	echoapi "github.com/sayghamsari/daftarrabet/apps/api/echo"
	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/assignment"
	"github.com/sayghamsari/daftarrabet/core/attendance"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/discipline"
	"github.com/sayghamsari/daftarrabet/core/exam"
	"github.com/sayghamsari/daftarrabet/core/insight"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/school"
	"github.com/sayghamsari/daftarrabet/core/tuition"
	"github.com/sayghamsari/daftarrabet/core/user"
	aisvc "github.com/sayghamsari/daftarrabet/services/ai"
	emailsvc "github.com/sayghamsari/daftarrabet/services/email"
	"github.com/sayghamsari/daftarrabet/services/filestore"
	logsvc "github.com/sayghamsari/daftarrabet/services/logger"
	smssvc "github.com/sayghamsari/daftarrabet/services/sms"
	sqlxrepos "github.com/sayghamsari/daftarrabet/storage/database/sqlx"
	testutil "github.com/sayghamsari/daftarrabet/tests"
)

type testApp struct {
	conf       *core.Config
	app        echoapi.Server
	usrRepo    user.Repository
	schoolRepo school.Repository
	model      *fakeModel
	sms        *smssvc.ConsoleService
}

// fakeModel answers chat completion requests with a fixed insight and keeps the prompts it was sent.
type fakeModel struct {
	mu      sync.Mutex
	prompts []string
}

const fakeInsight = "حضور منظم و نمرات رو به پیشرفت است"

func (m *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Messages[len(req.Messages)-1].Content)
	m.mu.Unlock()

	answer, _ := json.Marshal(map[string]string{"insight": fakeInsight})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"model":   "fake-model",
		"choices": []interface{}{map[string]interface{}{"message": map[string]string{"role": "assistant", "content": string(answer)}}},
	})
}

func (m *fakeModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// setup starts the API on a freshly emptied database.
func setup(t *testing.T) *testApp {
	t.Helper()
	db := testutil.PrepareDB(t)
	conf := core.NewTestConfig()
	model := new(fakeModel)
	modelSrv := httptest.NewServer(model)
	t.Cleanup(modelSrv.Close)
	conf.AI.BaseURL = modelSrv.URL
	conf.AI.APIKey = "sk-test"
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	tx := core.NewTransactor(db)

	// repos
	usrRepo := sqlxrepos.NewUserRepository(db)
	schoolRepo := sqlxrepos.NewSchoolRepository(db)

	// services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	smsSvc := smssvc.NewConsoleServiceMock(conf, logger)
	files := filestore.NewMemoryStore("http://localhost/files")

	schoolSvc := school.NewService(conf, schoolRepo)
	usrSvc := user.NewService(conf, usrRepo, sqlxrepos.NewOTPRepository(db), schoolSvc, mailSvc, smsSvc)
	msgSvc := messaging.NewService(sqlxrepos.NewMessagingRepository(db), usrRepo, logger)
	classSvc := classroom.NewService(tx, sqlxrepos.NewClassRepository(db), usrRepo)
	assignmentSvc := assignment.NewService(sqlxrepos.NewAssignmentRepository(db), classSvc, msgSvc)
	attendanceSvc := attendance.NewService(conf, tx, sqlxrepos.NewAttendanceRepository(db), classSvc, files, msgSvc)
	examSvc := exam.NewService(tx, sqlxrepos.NewExamRepository(db), classSvc, msgSvc)
	disciplineSvc := discipline.NewService(tx, sqlxrepos.NewDisciplineRepository(db), usrRepo, msgSvc)
	tuitionSvc := tuition.NewService(conf, sqlxrepos.NewTuitionRepository(db), usrRepo, smsSvc, mailSvc, msgSvc)
	insightSvc := insight.NewService(
		sqlxrepos.NewInsightRepository(db),
		&insight.DomainSnapshotter{
			Users:       usrSvc,
			Classes:     classSvc,
			Attendance:  attendanceSvc,
			Exams:       examSvc,
			Discipline:  disciplineSvc,
			Assignments: assignmentSvc,
		},
		aisvc.NewCompleter(conf.AI, nil),
	)

	app := echoapi.NewServer(&echoapi.Options{
		DisableReqLogs: true,
		Config:         conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		SchoolSvc:      schoolSvc,
		ClassSvc:       classSvc,
		AssignmentSvc:  assignmentSvc,
		AttendanceSvc:  attendanceSvc,
		ExamSvc:        examSvc,
		DisciplineSvc:  disciplineSvc,
		TuitionSvc:     tuitionSvc,
		MessagingSvc:   msgSvc,
		InsightSvc:     insightSvc,
	})
	t.Cleanup(func() { _ = app.Close() })

	return &testApp{conf: conf, app: app, usrRepo: usrRepo, schoolRepo: schoolRepo, model: model, sms: smsSvc}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	wantIDs  []string
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (ta *testApp) do(tt httpTest) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	ta.app.ServeHTTP(rec, req)
	return rec
}

// doMultipart posts a form with an optional file under "document".
func (ta *testApp) doMultipart(t *testing.T, path, token string, fields map[string]string, file *formFile) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField(): %v", err)
		}
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="document"; filename=%q`, file.name))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart(): %v", err)
		}
		_, _ = part.Write(file.content)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ta.app.ServeHTTP(rec, req)
	return rec
}

type formFile struct {
	name        string
	contentType string
	content     []byte
}

func (ta *testApp) getToken(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(ta.conf, echoapi.GetUserClaims(ta.conf, usr))
	if err != nil {
		t.Fatalf("getToken(): %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCode(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) bool {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
		return false
	}
	return true
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	checkCode(t, tt, rec)
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// checkCodeAndIDs compares the ids of the listed objects, ignoring their order.
func checkCodeAndIDs(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if !checkCode(t, tt, rec) {
		return
	}
	var objs []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &objs); err != nil {
		t.Fatalf("json.Unmarshal(): %v", err)
	}
	got := make(map[string]bool, len(objs))
	for _, o := range objs {
		got[o.ID] = true
	}
	want := make(map[string]bool, len(tt.wantIDs))
	for _, id := range tt.wantIDs {
		want[id] = true
	}
	if len(objs) != len(tt.wantIDs) || !reflect.DeepEqual(got, want) {
		t.Errorf("failed! data = %v; wantIDs %v", rec.Body.String(), tt.wantIDs)
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal(%s): %v", rec.Body.String(), err)
	}
}
