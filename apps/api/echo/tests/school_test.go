package tests

import (
	"net/http"
	"testing"

	echoapi "github.com/sayghamsari/daftarrabet/apps/api/echo"
	"github.com/sayghamsari/daftarrabet/core/attendance"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/user"
	testutil "github.com/sayghamsari/daftarrabet/tests"
)

func TestClassAttendanceFlow(t *testing.T) {
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

	// teachers cannot create classes
	rec := ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/classes",
		token:  teacherToken,
		body:   marshalObj(t, classroom.NewClass{Name: "پنجم الف", Grade: 5, AcademicYear: "1403"}),
	})
	checkCode(t, httpTest{wantCode: http.StatusForbidden}, rec)

	rec = ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/classes",
		token:  principalToken,
		body: marshalObj(t, classroom.NewClass{
			Name:         "پنجم الف",
			Grade:        5,
			AcademicYear: "1403",
			TeacherID:    teacher.ID,
			Capacity:     30,
		}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}
	var class classroom.Class
	decode(t, rec, &class)
	if class.SchoolID != sch.ID || class.TeacherID != teacher.ID {
		t.Fatalf("class = %+v; want school %s and teacher %s", class, sch.ID, teacher.ID)
	}

	rec = ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/classes/" + class.ID + "/students",
		token:  principalToken,
		body:   marshalObj(t, classroom.EnrollStudents{StudentIDs: []string{student.ID, classmate.ID}}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusOK}, rec) {
		return
	}
	decode(t, rec, &class)
	if class.StudentCount != 2 {
		t.Errorf("StudentCount = %d; want 2", class.StudentCount)
	}

	// a parent cannot be enrolled
	tt := httpTest{
		method:   http.MethodPost,
		path:     "/v1/classes/" + class.ID + "/students",
		token:    principalToken,
		body:     marshalObj(t, classroom.EnrollStudents{StudentIDs: []string{parent.ID}}),
		wantCode: http.StatusBadRequest,
	}
	checkCode(t, tt, ta.do(tt))

	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/classes/" + class.ID + "/students",
		token:    teacherToken,
		wantCode: http.StatusOK,
		wantIDs:  []string{student.ID, classmate.ID},
	}
	checkCodeAndIDs(t, tt, ta.do(tt))

	// the roll only accepts enrolled students
	tt = httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/classes/" + class.ID,
		token:  teacherToken,
		body: marshalObj(t, attendance.Roll{Entries: []attendance.Entry{
			{StudentID: parent.ID, Status: attendance.StatusAbsent},
		}}),
		wantCode: http.StatusBadRequest,
	}
	checkCode(t, tt, ta.do(tt))

	rec = ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/attendance/classes/" + class.ID,
		token:  teacherToken,
		body: marshalObj(t, attendance.Roll{Entries: []attendance.Entry{
			{StudentID: student.ID, Status: attendance.StatusAbsent},
			{StudentID: classmate.ID, Status: attendance.StatusPresent},
		}}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}
	var records []attendance.Attendance
	decode(t, rec, &records)
	if len(records) != 2 {
		t.Fatalf("len(records) = %d; want 2", len(records))
	}

	want := echoapi.SummaryResponse{
		Summary:   attendance.Summary{Absent: 1},
		StudentID: student.ID,
		Total:     1,
	}
	t.Run("student summary", func(t *testing.T) {
		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/attendance/summary",
			token:    ta.getToken(t, student),
			wantCode: http.StatusOK,
			wantData: marshalObj(t, want),
		}
		checkCodeAndData(t, tt, ta.do(tt))
	})

	t.Run("parent summary", func(t *testing.T) {
		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/attendance/summary?student_id=" + student.ID,
			token:    ta.getToken(t, parent),
			wantCode: http.StatusOK,
			wantData: marshalObj(t, want),
		}
		checkCodeAndData(t, tt, ta.do(tt))
	})

	t.Run("classmates stay private", func(t *testing.T) {
		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/attendance/summary?student_id=" + classmate.ID,
			token:    ta.getToken(t, student),
			wantCode: http.StatusNotFound,
		}
		checkCode(t, tt, ta.do(tt))
	})

	t.Run("students only list their own records", func(t *testing.T) {
		tt := httpTest{
			method:   http.MethodGet,
			path:     "/v1/attendance",
			token:    ta.getToken(t, student),
			wantCode: http.StatusOK,
		}
		for _, r := range records {
			if r.StudentID == student.ID {
				tt.wantIDs = append(tt.wantIDs, r.ID)
			}
		}
		checkCodeAndIDs(t, tt, ta.do(tt))
	})
}

func TestMessagingFlow(t *testing.T) {
	ta := setup(t)
	sch := testutil.CreateSchool(t, ta.schoolRepo, "دبستان فردوسی", "ferdowsi")
	other := testutil.CreateSchool(t, ta.schoolRepo, "دبیرستان سعدی", "saadi")
	teacher := testutil.CreateUser(t, ta.usrRepo, 1, "علی معلمی", []string{user.RoleTeacher}, testutil.UserOpts{SchoolID: sch.ID})
	parent := testutil.CreateUser(t, ta.usrRepo, 2, "حسن رضایی", []string{user.RoleParent}, testutil.UserOpts{SchoolID: sch.ID})
	outsider := testutil.CreateUser(t, ta.usrRepo, 3, "نازنین احمدی", []string{user.RoleParent}, testutil.UserOpts{SchoolID: other.ID})

	teacherToken := ta.getToken(t, teacher)
	parentToken := ta.getToken(t, parent)

	tt := httpTest{
		method:   http.MethodPost,
		path:     "/v1/messages",
		token:    teacherToken,
		body:     marshalObj(t, messaging.NewMessage{RecipientID: outsider.ID, Subject: "جلسه", Body: "سلام"}),
		wantCode: http.StatusBadRequest,
	}
	checkCode(t, tt, ta.do(tt))

	rec := ta.do(httpTest{
		method: http.MethodPost,
		path:   "/v1/messages",
		token:  teacherToken,
		body: marshalObj(t, messaging.NewMessage{
			RecipientID: parent.ID,
			Subject:     "جلسه اولیا و مربیان",
			Body:        "جلسه پنجشنبه ساعت ۱۰ برگزار می‌شود.",
		}),
	})
	if !checkCode(t, httpTest{wantCode: http.StatusCreated}, rec) {
		return
	}
	var msg messaging.Message
	decode(t, rec, &msg)

	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/messages",
		token:    parentToken,
		wantCode: http.StatusOK,
		wantIDs:  []string{msg.ID},
	}
	checkCodeAndIDs(t, tt, ta.do(tt))

	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/messages/" + msg.ID,
		token:    ta.getToken(t, outsider),
		wantCode: http.StatusNotFound,
	}
	checkCode(t, tt, ta.do(tt))

	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/notifications/unread-count",
		token:    parentToken,
		wantCode: http.StatusOK,
		wantData: marshalObj(t, echoapi.CountResponse{Count: 1}),
	}
	checkCodeAndData(t, tt, ta.do(tt))

	rec = ta.do(httpTest{method: http.MethodGet, path: "/v1/notifications", token: parentToken})
	var notifications []messaging.Notification
	decode(t, rec, &notifications)
	if len(notifications) != 1 || notifications[0].Kind != messaging.KindMessage {
		t.Fatalf("notifications = %+v; want one message notification", notifications)
	}

	tt = httpTest{
		method:   http.MethodPut,
		path:     "/v1/notifications/" + notifications[0].ID + "/read",
		token:    parentToken,
		wantCode: http.StatusNoContent,
	}
	checkCode(t, tt, ta.do(tt))

	// already read
	tt.wantCode = http.StatusNotFound
	checkCode(t, tt, ta.do(tt))

	tt = httpTest{
		method:   http.MethodGet,
		path:     "/v1/notifications/unread-count",
		token:    parentToken,
		wantCode: http.StatusOK,
		wantData: marshalObj(t, echoapi.CountResponse{Count: 0}),
	}
	checkCodeAndData(t, tt, ta.do(tt))
}
