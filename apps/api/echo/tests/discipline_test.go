package tests

import (
	"net/http"
	"testing"
	"time"

	echoapi "github.com/sayghamsari/daftarrabet/apps/api/echo"
	"github.com/sayghamsari/daftarrabet/core/discipline"
	"github.com/sayghamsari/daftarrabet/core/user"
	testutil "github.com/sayghamsari/daftarrabet/tests"
)

func floatPtr(f float64) *float64 { return &f }

func TestDisciplineFlow(t *testing.T) {
	ta := setup(t)
	sch := testutil.CreateSchool(t, ta.schoolRepo, "دبستان فردوسی", "ferdowsi")
	principal := testutil.CreateUser(t, ta.usrRepo, 1, "زهرا مدیری", []string{user.RoleAdminPrincipal}, testutil.UserOpts{SchoolID: sch.ID})
	teacher := testutil.CreateUser(t, ta.usrRepo, 2, "علی معلمی", []string{user.RoleTeacher}, testutil.UserOpts{SchoolID: sch.ID})
	parent := testutil.CreateUser(t, ta.usrRepo, 3, "حسن رضایی", []string{user.RoleParent}, testutil.UserOpts{SchoolID: sch.ID})
	student := testutil.CreateUser(t, ta.usrRepo, 4, "سینا رضایی", []string{user.RoleStudent}, testutil.UserOpts{
		SchoolID: sch.ID,
		ParentID: parent.ID,
	})
	classmate := testutil.CreateUser(t, ta.usrRepo, 5, "امید شریفی", []string{user.RoleStudent}, testutil.UserOpts{SchoolID: sch.ID})

	principalToken := ta.getToken(t, principal)
	teacherToken := ta.getToken(t, teacher)
	studentToken := ta.getToken(t, student)

	behaviorScore := func(t *testing.T) float64 {
		t.Helper()
		rec := ta.do(httpTest{method: http.MethodGet, path: "/v1/users/" + student.ID, token: principalToken})
		var usr user.User
		decode(t, rec, &usr)
		return usr.BehaviorScore
	}

	// students cannot record incidents
	tt := httpTest{
		method: http.MethodPost,
		path:   "/v1/discipline/records",
		token:  studentToken,
		body: marshalObj(t, discipline.NewRecord{
			StudentID: classmate.ID, Type: discipline.TypeIncident, Severity: discipline.SeverityLow, Description: "x",
		}),
		wantCode: http.StatusForbidden,
	}
	checkCode(t, tt, ta.do(tt))

	rec := ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/discipline/achievements",
		token:  teacherToken,
		body: marshalObj(t, discipline.NewAchievement{
			StudentID: student.ID, Title: "مقام اول مسابقه ریاضی", Category: "academic", Points: 5,
		}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}
	if got := behaviorScore(t); got != float64(user.MaxBehaviorScore) {
		t.Errorf("score after achievement = %v; want it held at %d", got, user.MaxBehaviorScore)
	}

	var records []discipline.Record
	for _, delta := range []float64{-15, -15} {
		rec = ta.do(httpTest{
			method: http.MethodPost,
			path:   "/v1/discipline/records",
			token:  teacherToken,
			body: marshalObj(t, discipline.NewRecord{
				StudentID:   student.ID,
				Type:        discipline.TypeIncident,
				Severity:    discipline.SeverityHigh,
				Description: "درگیری در حیاط مدرسه",
				ScoreDelta:  floatPtr(delta),
			}),
		})
		if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
			return
		}
		var r discipline.Record
		decode(t, rec, &r)
		records = append(records, r)
	}
	if got := behaviorScore(t); got != float64(user.MinBehaviorScore) {
		t.Errorf("score after incidents = %v; want it held at %d", got, user.MinBehaviorScore)
	}

	tt = httpTest{
		method:   http.MethodDelete,
		path:     "/v1/discipline/records/" + records[1].ID,
		token:    principalToken,
		wantCode: http.StatusNoContent,
	}
	checkCode(t, tt, ta.do(tt))
	if got := behaviorScore(t); got != 15 {
		t.Errorf("score after deleting a record = %v; want 15", got)
	}

	// one notification per record and one for the achievement
	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/notifications/unread-count",
		token:    ta.getToken(t, parent),
		wantCode: http.StatusOK,
		wantData: marshalObj(t, echoapi.CountResponse{Count: 3}),
	}
	checkCodeAndData(t, tt, ta.do(tt))

	today := time.Now().UTC().Format("2006-01-02")
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	tests := []httpTest{
		{
			name:     "students see their own records",
			path:     "/v1/discipline/records",
			token:    studentToken,
			wantCode: http.StatusOK,
			wantIDs:  []string{records[0].ID},
		},
		{
			name:     "classmates see none",
			path:     "/v1/discipline/records",
			token:    ta.getToken(t, classmate),
			wantCode: http.StatusOK,
			wantIDs:  []string{},
		},
		{
			name:     "date only range",
			path:     "/v1/discipline/records?from=" + today + "&to=" + today,
			token:    principalToken,
			wantCode: http.StatusOK,
			wantIDs:  []string{records[0].ID},
		},
		{
			name:     "range before the records",
			path:     "/v1/discipline/records?to=" + yesterday,
			token:    principalToken,
			wantCode: http.StatusOK,
			wantIDs:  []string{},
		},
		{
			name:     "malformed student id",
			path:     "/v1/discipline/records?student_id=abc",
			token:    principalToken,
			wantCode: http.StatusOK,
			wantIDs:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodGet
			checkCodeAndIDs(t, tt, ta.do(tt))
		})
	}
}
