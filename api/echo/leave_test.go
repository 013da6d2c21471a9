package echoapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
)

func seedPeople(t *testing.T, app *testApp) (student, teacher, hod user.User) {
	t.Helper()
	student = user.CreateTestUser(t, app.usrRepo, "Asha Odhiambo", "asha01", "asha@test.cd", "s3cr3t-pass", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 14))
	teacher = user.CreateTestUser(t, app.usrRepo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))
	hod = user.CreateTestUser(t, app.usrRepo, "Dr Tshibanda", "tshibanda", "tshibanda@test.cd", "", []string{user.RoleTeacherHOD},
		user.WithClass("Computer Science", "", 0, 0))
	return
}

// submitForm posts an urlencoded leave request form.
func submitForm(app *testApp, token, form string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/leave-requests", strings.NewReader(form))
	req.Header.Set(echoHeaderContentType, "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	app.server.ServeHTTP(rec, req)
	return rec
}

func submitRequest(t *testing.T, app *testApp, student user.User) leave.LeaveRequest {
	t.Helper()
	rec := submitForm(app, app.getToken(t, student),
		"category=medical&reason=recovering+from+malaria+at+home&start_date=2026-03-02&end_date=2026-03-04")
	checkCode(t, rec, http.StatusCreated)
	var lr leave.LeaveRequest
	decodeObj(t, rec, &lr)
	return lr
}

func TestLeaveRequestLifecycleAPI(t *testing.T) {
	app := newTestApp(t)
	student, teacher, hod := seedPeople(t, app)

	lr := submitRequest(t, app, student)
	assert.Equal(t, leave.StatusPending, lr.Status)
	assert.Equal(t, student.ID, lr.StudentID)
	assert.Equal(t, 3, lr.Days)

	// queue shows up for the class teacher
	rec := app.request(http.MethodGet, "/v1/leave-requests/queue/teacher", app.getToken(t, teacher))
	checkCode(t, rec, http.StatusOK)
	var queue []leave.LeaveRequest
	decodeObj(t, rec, &queue)
	require.Len(t, queue, 1)

	// students cannot read the queue
	rec = app.request(http.MethodGet, "/v1/leave-requests/queue/teacher", app.getToken(t, student))
	checkCode(t, rec, http.StatusForbidden)

	// teacher approves
	rec = app.request(http.MethodPut, "/v1/leave-requests/"+lr.ID+"/approve/teacher", app.getToken(t, teacher),
		marshallObj(t, DecisionRequest{Comments: "get well soon"}))
	checkCode(t, rec, http.StatusOK)
	decodeObj(t, rec, &lr)
	assert.Equal(t, leave.StatusApprovedByTeacher, lr.Status)

	// approving again conflicts
	rec = app.request(http.MethodPut, "/v1/leave-requests/"+lr.ID+"/approve/teacher", app.getToken(t, teacher))
	checkCode(t, rec, http.StatusConflict)

	// HOD approves
	rec = app.request(http.MethodPut, "/v1/leave-requests/"+lr.ID+"/approve/hod", app.getToken(t, hod))
	checkCode(t, rec, http.StatusOK)
	decodeObj(t, rec, &lr)
	assert.Equal(t, leave.StatusApprovedByHod, lr.Status)
	require.NotEmpty(t, lr.Anchors)

	// anchors resolve over the API
	rec = app.request(http.MethodGet, "/v1/anchors/"+lr.Anchors[0].Ref, app.getToken(t, student))
	checkCode(t, rec, http.StatusOK)

	rec = app.request(http.MethodGet, "/v1/anchors/demo0000", app.getToken(t, student))
	checkCode(t, rec, http.StatusNotFound)
}

func TestLeaveRequestVisibilityAPI(t *testing.T) {
	app := newTestApp(t)
	student, _, _ := seedPeople(t, app)
	other := user.CreateTestUser(t, app.usrRepo, "Ben Mwamba", "mwamba", "ben@test.cd", "", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 15))

	lr := submitRequest(t, app, student)

	// owner sees it
	rec := app.request(http.MethodGet, "/v1/leave-requests/"+lr.ID, app.getToken(t, student))
	checkCode(t, rec, http.StatusOK)

	// another student does not
	rec = app.request(http.MethodGet, "/v1/leave-requests/"+lr.ID, app.getToken(t, other))
	checkCode(t, rec, http.StatusForbidden)

	// anonymous requests are rejected
	rec = app.request(http.MethodGet, "/v1/leave-requests/"+lr.ID, "")
	checkCode(t, rec, http.StatusUnauthorized)

	// listing is scoped to the caller
	rec = app.request(http.MethodGet, "/v1/leave-requests", app.getToken(t, other))
	checkCode(t, rec, http.StatusOK)
	var lrs []leave.LeaveRequest
	decodeObj(t, rec, &lrs)
	assert.Empty(t, lrs)
}

func TestLeaveRequestValidationAPI(t *testing.T) {
	app := newTestApp(t)
	student, _, _ := seedPeople(t, app)
	token := app.getToken(t, student)

	// reason too short
	rec := submitForm(app, token, "category=medical&reason=sick&start_date=2026-03-02&end_date=2026-03-04")
	checkCode(t, rec, http.StatusBadRequest)

	// unknown category
	rec = submitForm(app, token, "category=holiday&reason=long+enough+reason+here&start_date=2026-03-02&end_date=2026-03-04")
	checkCode(t, rec, http.StatusBadRequest)

	// bad date format
	rec = submitForm(app, token, "category=medical&reason=long+enough+reason+here&start_date=02/03/2026&end_date=2026-03-04")
	checkCode(t, rec, http.StatusBadRequest)

	// inverted range
	rec = submitForm(app, token, "category=medical&reason=long+enough+reason+here&start_date=2026-03-04&end_date=2026-03-02")
	checkCode(t, rec, http.StatusBadRequest)
}

func TestMarkAndReportAttendanceAPI(t *testing.T) {
	app := newTestApp(t)
	student, teacher, _ := seedPeople(t, app)

	course, err := app.attSvc.CreateCourse(context.Background(), attendance.NewCourse{
		Code: "CS201", Name: "Data Structures", Department: "Computer Science",
		Division: "CS-A", Year: 2, TeacherID: teacher.ID, Roster: []string{student.ID},
	})
	require.NoError(t, err)

	body := marshallObj(t, map[string]interface{}{
		"course_id": course.ID,
		"date":      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		"marks":     map[string]string{student.ID: "present"},
	})
	rec := app.request(http.MethodPost, "/v1/attendance/sessions", app.getToken(t, teacher), body)
	checkCode(t, rec, http.StatusOK)

	// students cannot mark
	rec = app.request(http.MethodPost, "/v1/attendance/sessions", app.getToken(t, student), body)
	checkCode(t, rec, http.StatusForbidden)

	rec = app.request(http.MethodGet, "/v1/attendance/students/"+student.ID, app.getToken(t, student))
	checkCode(t, rec, http.StatusOK)
}
