package tests

import (
	"net/http"
	"strings"
	"testing"

	"github.com/sayghamsari/daftarrabet/core/discipline"
	"github.com/sayghamsari/daftarrabet/core/insight"
	"github.com/sayghamsari/daftarrabet/core/user"
	testutil "github.com/sayghamsari/daftarrabet/tests"
)

func TestInsightFlow(t *testing.T) {
	ta := setup(t)
	sch := testutil.CreateSchool(t, ta.schoolRepo, "دبستان فردوسی", "ferdowsi")
	other := testutil.CreateSchool(t, ta.schoolRepo, "دبیرستان سعدی", "saadi")
	principal := testutil.CreateUser(t, ta.usrRepo, 1, "زهرا مدیری", []string{user.RoleAdminPrincipal}, testutil.UserOpts{SchoolID: sch.ID})
	teacher := testutil.CreateUser(t, ta.usrRepo, 2, "علی معلمی", []string{user.RoleTeacher}, testutil.UserOpts{SchoolID: sch.ID})
	parent := testutil.CreateUser(t, ta.usrRepo, 3, "حسن رضایی", []string{user.RoleParent}, testutil.UserOpts{SchoolID: sch.ID})
	student := testutil.CreateUser(t, ta.usrRepo, 4, "سینا رضایی", []string{user.RoleStudent}, testutil.UserOpts{
		SchoolID: sch.ID,
		ParentID: parent.ID,
	})
	outsider := testutil.CreateUser(t, ta.usrRepo, 5, "نازنین احمدی", []string{user.RoleStudent}, testutil.UserOpts{SchoolID: other.ID})

	teacherToken := ta.getToken(t, teacher)

	rec := ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/discipline/achievements",
		token:  teacherToken,
		body: marshalObj(t, discipline.NewAchievement{
			StudentID: student.ID, Title: "مقام اول مسابقه ریاضی", Category: "academic",
		}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}

	tests := []httpTest{
		{
			name:     "parents cannot ask",
			token:    ta.getToken(t, parent),
			body:     marshalObj(t, insight.GenerateRequest{EntityType: insight.EntityStudent, EntityID: student.ID}),
			wantCode: http.StatusForbidden,
		},
		{
			name:     "students of another school",
			token:    teacherToken,
			body:     marshalObj(t, insight.GenerateRequest{EntityType: insight.EntityStudent, EntityID: outsider.ID}),
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unknown entity type",
			token:    teacherToken,
			body:     []byte(`{"entity_type": "school", "entity_id": "` + sch.ID + `"}`),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/v1/insights"
			checkCode(t, tt, ta.do(tt))
		})
	}

	rec = ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/insights",
		token:  teacherToken,
		body:   marshalObj(t, insight.GenerateRequest{EntityType: insight.EntityStudent, EntityID: student.ID, Kind: insight.KindRecommendation}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}
	var got insight.Insight
	decode(t, rec, &got)
	if got.Content != fakeInsight || got.Model != "fake-model" || got.SchoolID != sch.ID || got.RequestedBy != teacher.ID {
		t.Errorf("insight = %+v; want the model's answer for %s", got, sch.ID)
	}

	prompt := ta.model.lastPrompt()
	for _, want := range []string{student.Name, "مقام اول مسابقه ریاضی"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt does not mention %q:\n%s", want, prompt)
		}
	}

	list := []httpTest{
		{
			name:     "by entity",
			path:     "/v1/insights?entity_id=" + student.ID,
			token:    ta.getToken(t, principal),
			wantCode: http.StatusOK,
			wantIDs:  []string{got.ID},
		},
		{
			name:     "malformed entity id",
			path:     "/v1/insights?entity_id=abc",
			token:    teacherToken,
			wantCode: http.StatusOK,
			wantIDs:  []string{},
		},
	}
	for _, tt := range list {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodGet
			checkCodeAndIDs(t, tt, ta.do(tt))
		})
	}
}
