package attendance_test

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/user"
	emailsvc "github.com/trezcool/elimu/services/email"
	logsvc "github.com/trezcool/elimu/services/logger"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
)

type fixture struct {
	svc     attendance.ServiceInterface
	repo    attendance.Repository
	usrRepo user.Repository

	teacher  user.User
	students []user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST ", log.LstdFlags), false)

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	repo := inmemdb.NewAttendanceRepository(db)
	usrSvc := user.NewService(&core.Config{AppName: "Elimu"}, usrRepo, emailsvc.NewDummyService(), validate)

	f := &fixture{
		svc:     attendance.NewService(repo, usrSvc, logger, validate),
		repo:    repo,
		usrRepo: usrRepo,
	}
	f.teacher = user.CreateTestUser(t, usrRepo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))
	for i, name := range []string{"asha01", "mwamba", "ilunga1"} {
		f.students = append(f.students, user.CreateTestUser(t, usrRepo, name, name, name+"@test.cd", "", user.StudentRoles,
			user.WithClass("Computer Science", "CS-A", 2, i+1)))
	}
	return f
}

func (f *fixture) createCourse(t *testing.T) attendance.Course {
	t.Helper()
	roster := make([]string, 0, len(f.students))
	for _, s := range f.students {
		roster = append(roster, s.ID)
	}
	course, err := f.svc.CreateCourse(context.Background(), attendance.NewCourse{
		Code: "CS201", Name: "Data Structures", Department: "Computer Science",
		Division: "CS-A", Year: 2, TeacherID: f.teacher.ID, Roster: roster,
	})
	require.NoError(t, err)
	return course
}

func day(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }

func TestMarkSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)

	sess, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID,
		Date:     day(2),
		Marks: map[string]string{
			f.students[0].ID: attendance.StatusPresent,
			f.students[1].ID: attendance.StatusAbsent,
			f.students[2].ID: attendance.StatusExcused,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, sess.StatusOf(f.students[0].ID))
	assert.Equal(t, attendance.StatusAbsent, sess.StatusOf(f.students[1].ID))
	assert.Equal(t, attendance.StatusExcused, sess.StatusOf(f.students[2].ID))

	ag, err := f.repo.GetAggregate(ctx, f.students[1].ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ag.Total)
	assert.Equal(t, 1, ag.Absent)
	assert.InDelta(t, 0.0, ag.Percentage(), 0.01)

	// excused counts toward attendance
	ag, err = f.repo.GetAggregate(ctx, f.students[2].ID, course.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, ag.Percentage(), 0.01)
}

func TestSetStudentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)

	_, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID,
		Date:     day(2),
		Marks: map[string]string{
			f.students[0].ID: attendance.StatusAbsent,
			f.students[1].ID: attendance.StatusPresent,
		},
	})
	require.NoError(t, err)

	sess, err := f.svc.SetStudentStatus(ctx, f.teacher, course.ID, day(2), f.students[0].ID, attendance.StatusPresent)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, sess.StatusOf(f.students[0].ID))

	ag, err := f.repo.GetAggregate(ctx, f.students[0].ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Aggregate{StudentID: f.students[0].ID, CourseID: course.ID, Total: 1, Present: 1}, ag)

	// untouched student keeps their mark
	sess, err = f.repo.GetSession(ctx, course.ID, day(2))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusPresent, sess.StatusOf(f.students[1].ID))

	// no session on that date
	_, err = f.svc.SetStudentStatus(ctx, f.teacher, course.ID, day(9), f.students[0].ID, attendance.StatusPresent)
	assert.True(t, errors.Is(err, attendance.ErrSessionNotFound))

	// bad status
	_, err = f.svc.SetStudentStatus(ctx, f.teacher, course.ID, day(2), f.students[0].ID, "late")
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))

	// students cannot correct marks
	_, err = f.svc.SetStudentStatus(ctx, f.students[0], course.ID, day(2), f.students[0].ID, attendance.StatusPresent)
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae))
}

func TestMarkSessionAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)

	marks := attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{f.students[0].ID: attendance.StatusPresent},
	}

	_, err := f.svc.MarkSession(ctx, f.students[0], marks)
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae))

	otherTeacher := user.CreateTestUser(t, f.usrRepo, "Mw Ilunga", "ilunga2", "ilunga2@test.cd", "", []string{user.RoleTeacherClass})
	_, err = f.svc.MarkSession(ctx, otherTeacher, marks)
	assert.True(t, errors.As(err, &ae))
}

func TestReMarkRecomputesAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)

	marks := attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{f.students[0].ID: attendance.StatusAbsent},
	}
	_, err := f.svc.MarkSession(ctx, f.teacher, marks)
	require.NoError(t, err)

	// correct the mark to present; counters must not double-count
	marks.Marks[f.students[0].ID] = attendance.StatusPresent
	_, err = f.svc.MarkSession(ctx, f.teacher, marks)
	require.NoError(t, err)

	ag, err := f.repo.GetAggregate(ctx, f.students[0].ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ag.Total)
	assert.Equal(t, 1, ag.Present)
	assert.Equal(t, 0, ag.Absent)
}

func TestMarkSessionRejectsUnenrolled(t *testing.T) {
	f := newFixture(t)
	course := f.createCourse(t)

	outsider := user.CreateTestUser(t, f.usrRepo, "Lee Okoth", "okoth1", "okoth@test.cd", "", user.StudentRoles)
	_, err := f.svc.MarkSession(context.Background(), f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{outsider.ID: attendance.StatusPresent},
	})
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)
	student := f.students[0]

	// present on day 1, absent on days 2-4
	statuses := map[int]string{1: attendance.StatusPresent, 2: attendance.StatusAbsent, 3: attendance.StatusAbsent, 4: attendance.StatusAbsent}
	for d, status := range statuses {
		_, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
			CourseID: course.ID, Date: day(d),
			Marks: map[string]string{student.ID: status},
		})
		require.NoError(t, err)
	}

	// leave covers days 2-3 only
	require.NoError(t, f.svc.Reconcile(ctx, student.ID, []string{course.ID}, day(2), day(3)))

	for d, want := range map[int]string{1: attendance.StatusPresent, 2: attendance.StatusExcused, 3: attendance.StatusExcused, 4: attendance.StatusAbsent} {
		sess, err := f.repo.GetSession(ctx, course.ID, day(d))
		require.NoError(t, err)
		assert.Equal(t, want, sess.StatusOf(student.ID), "day %d", d)
	}

	ag, err := f.repo.GetAggregate(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Aggregate{StudentID: student.ID, CourseID: course.ID, Total: 4, Present: 1, Absent: 1, Excused: 2}, ag)

	// other students are untouched
	for d := range statuses {
		sess, err := f.repo.GetSession(ctx, course.ID, day(d))
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusUnset, sess.StatusOf(f.students[1].ID))
	}

	// idempotent
	require.NoError(t, f.svc.Reconcile(ctx, student.ID, []string{course.ID}, day(2), day(3)))
	again, err := f.repo.GetAggregate(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, ag, again)
}

func TestReconcileSpansCourses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)
	student := f.students[0]

	other, err := f.svc.CreateCourse(ctx, attendance.NewCourse{
		Code: "CS202", Name: "Databases", Department: "Computer Science",
		Division: "CS-A", Year: 2, TeacherID: f.teacher.ID, Roster: []string{student.ID},
	})
	require.NoError(t, err)

	for _, c := range []attendance.Course{course, other} {
		_, err = f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
			CourseID: c.ID, Date: day(2),
			Marks: map[string]string{student.ID: attendance.StatusAbsent},
		})
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Reconcile(ctx, student.ID, []string{course.ID, other.ID}, day(2), day(2)))

	for _, c := range []attendance.Course{course, other} {
		sess, err := f.repo.GetSession(ctx, c.ID, day(2))
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusExcused, sess.StatusOf(student.ID))
	}
}

type flakySessionRepo struct {
	attendance.Repository
	failures int
}

func (r *flakySessionRepo) QuerySessions(ctx context.Context, courseID string) ([]attendance.Session, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("session store unreachable")
	}
	return r.Repository.QuerySessions(ctx, courseID)
}

func TestReconcileRetryAfterRecomputeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)
	student := f.students[0]

	_, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{student.ID: attendance.StatusAbsent},
	})
	require.NoError(t, err)

	// service whose first recompute fails after the session was excused
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST ", log.LstdFlags), false)
	usrSvc := user.NewService(&core.Config{AppName: "Elimu"}, f.usrRepo, emailsvc.NewDummyService(), validate)
	svc := attendance.NewService(&flakySessionRepo{Repository: f.repo, failures: 1}, usrSvc, logger, validate)

	err = svc.Reconcile(ctx, student.ID, []string{course.ID}, day(2), day(2))
	require.Error(t, err)

	// the excusal landed but the counters did not
	sess, err := f.repo.GetSession(ctx, course.ID, day(2))
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, sess.StatusOf(student.ID))
	ag, err := f.repo.GetAggregate(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ag.Absent)

	// the retry has nothing left to excuse but must still rebuild them
	require.NoError(t, svc.Reconcile(ctx, student.ID, []string{course.ID}, day(2), day(2)))
	ag, err = f.repo.GetAggregate(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Aggregate{StudentID: student.ID, CourseID: course.ID, Total: 1, Excused: 1}, ag)
}

func TestRemarkPreservesExcused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)
	student, other := f.students[0], f.students[1]

	_, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{student.ID: attendance.StatusAbsent, other.ID: attendance.StatusPresent},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconcile(ctx, student.ID, []string{course.ID}, day(2), day(2)))

	// the teacher re-marks the full roster with the student listed absent
	sess, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{student.ID: attendance.StatusAbsent, other.ID: attendance.StatusAbsent},
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusExcused, sess.StatusOf(student.ID))
	assert.Equal(t, attendance.StatusAbsent, sess.StatusOf(other.ID))

	ag, err := f.repo.GetAggregate(ctx, student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.Aggregate{StudentID: student.ID, CourseID: course.ID, Total: 1, Excused: 1}, ag)
	assert.InDelta(t, 100.0, ag.Percentage(), 0.01)
}

func TestReconcileInvalidRange(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Reconcile(context.Background(), f.students[0].ID, nil, day(4), day(2))
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestStudentReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	course := f.createCourse(t)
	student := f.students[0]

	_, err := f.svc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: day(2),
		Marks: map[string]string{student.ID: attendance.StatusPresent},
	})
	require.NoError(t, err)

	aggs, err := f.svc.StudentReport(ctx, student, student.ID)
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.Equal(t, course.ID, aggs[0].CourseID)

	// students cannot read each other's reports
	_, err = f.svc.StudentReport(ctx, f.students[1], student.ID)
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae))
}
