package leave_test

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
	anchorsvc "github.com/trezcool/elimu/services/anchor"
	emailsvc "github.com/trezcool/elimu/services/email"
	"github.com/trezcool/elimu/services/filestore"
	logsvc "github.com/trezcool/elimu/services/logger"
	notifysvc "github.com/trezcool/elimu/services/notify"
	verifysvc "github.com/trezcool/elimu/services/verify"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
)

type fixture struct {
	conf     *core.Config
	leaveSvc leave.ServiceInterface
	attSvc   attendance.ServiceInterface
	attRepo  attendance.Repository
	usrRepo  user.Repository
	verifier *verifysvc.DummyService
	notifier *notifysvc.DummyNotifier
	anchors  core.AnchorService

	student user.User
	teacher user.User
	hod     user.User
}

type fixtureOpt func(*fixture)

func withVerifyResult(vr core.VerificationResult) fixtureOpt {
	return func(f *fixture) { f.verifier.Result = vr }
}

func withAnchors(svc core.AnchorService) fixtureOpt {
	return func(f *fixture) { f.anchors = svc }
}

func withFastTrack() fixtureOpt {
	return func(f *fixture) { f.conf.Verification.FastTrack = true }
}

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	conf := &core.Config{
		AppName:         "Elimu",
		FrontendBaseURL: "http://localhost:3000",
		Verification: core.VerificationConfig{
			AutoRejectBelow: 30,
			NotifyBelow:     50,
			FastTrackAbove:  90,
			Timeout:         5 * time.Second,
		},
		Anchor: core.AnchorConfig{Enabled: true, Timeout: 5 * time.Second},
	}
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST ", log.LstdFlags), false)
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)

	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	attRepo := inmemdb.NewAttendanceRepository(db)
	leaveRepo := inmemdb.NewLeaveRepository(db)

	f := &fixture{
		conf:     conf,
		attRepo:  attRepo,
		usrRepo:  usrRepo,
		verifier: verifysvc.NewDummyService(),
		notifier: notifysvc.NewDummyNotifier(),
		anchors:  anchorsvc.NewLedgerService(),
	}
	for _, opt := range opts {
		opt(f)
	}

	mailSvc := emailsvc.NewDummyService()
	usrSvc := user.NewService(conf, usrRepo, mailSvc, validate)
	f.attSvc = attendance.NewService(attRepo, usrSvc, logger, validate)
	f.leaveSvc = leave.NewService(
		conf, leaveRepo, usrSvc, f.attSvc,
		f.verifier, f.verifier, f.anchors, filestore.NewMemoryStore(), f.notifier,
		logger, validate,
	)

	f.student = user.CreateTestUser(t, usrRepo, "Asha Odhiambo", "asha01", "asha@test.cd", "", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 14))
	f.teacher = user.CreateTestUser(t, usrRepo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))
	f.hod = user.CreateTestUser(t, usrRepo, "Dr Tshibanda", "tshibanda", "tshibanda@test.cd", "", []string{user.RoleTeacherHOD},
		user.WithClass("Computer Science", "", 0, 0))
	return f
}

func (f *fixture) submit(t *testing.T, docRef string) leave.LeaveRequest {
	t.Helper()
	lr, err := f.leaveSvc.Submit(context.Background(), f.student, leave.NewLeaveRequest{
		Category:    leave.CategoryMedical,
		Reason:      "recovering from malaria, doctor's note attached",
		StartDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		DocumentRef: docRef,
	})
	require.NoError(t, err)
	return lr
}

func TestSubmitAndTwoStageApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr := f.submit(t, "")
	assert.Equal(t, leave.StatusPending, lr.Status)
	assert.Equal(t, 3, lr.Days)
	require.NotEmpty(t, lr.Anchors)
	assert.Equal(t, leave.EventSubmitted, lr.Anchors[0].Event)

	// teacher notified with action buttons
	notifs := f.notifier.SentTo(f.teacher.ID)
	require.Len(t, notifs, 1)
	assert.Len(t, notifs[0].Actions, 2)

	lr, err := f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "get well soon")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByTeacher, lr.Status)
	require.NotNil(t, lr.TeacherDecision)
	assert.Equal(t, f.teacher.ID, lr.TeacherDecision.DecidedBy)
	assert.False(t, lr.TeacherDecision.System())

	// HOD notified once the teacher approves
	require.Len(t, f.notifier.SentTo(f.hod.ID), 1)

	lr, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByHod, lr.Status)
	assert.False(t, lr.ReconciliationPending)
	require.NotNil(t, lr.HodDecision)
	assert.Equal(t, f.hod.ID, lr.HodDecision.DecidedBy)

	// every lifecycle event is anchored
	final, err := f.leaveSvc.GetByID(ctx, f.student, lr.ID)
	require.NoError(t, err)
	events := make([]string, 0, len(final.Anchors))
	for _, a := range final.Anchors {
		events = append(events, a.Event)
		assert.NotEmpty(t, a.Ref)
		assert.NotEmpty(t, a.Hash)
	}
	assert.Equal(t, []string{leave.EventSubmitted, leave.EventTeacherDecision, leave.EventHodDecision}, events)

	// anchors resolve
	entry, err := f.leaveSvc.LookupAnchor(ctx, final.Anchors[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, final.Anchors[0].Ref, entry.Ref)
}

func TestSubmitAutoRejectsLowConfidence(t *testing.T) {
	f := newFixture(t, withVerifyResult(core.VerificationResult{
		Verified:          false,
		Confidence:        12,
		Reasoning:         "dates do not match any known event",
		RecommendedAction: core.RecommendReject,
	}))

	lr := f.submit(t, "doc.pdf")
	assert.Equal(t, leave.StatusRejected, lr.Status)
	require.NotNil(t, lr.TeacherDecision)
	assert.True(t, lr.TeacherDecision.System())
	assert.False(t, lr.TeacherDecision.Approved)

	// no human queue entry, student told why
	assert.Empty(t, f.notifier.SentTo(f.teacher.ID))
	require.NotEmpty(t, f.notifier.SentTo(f.student.ID))

	// rejection is final
	_, err := f.leaveSvc.DecideAsTeacher(context.Background(), f.teacher, lr.ID, true, "")
	var ise *core.InvalidStateError
	assert.True(t, errors.As(err, &ise))
}

func TestSubmitMidConfidenceWarnsStudent(t *testing.T) {
	f := newFixture(t, withVerifyResult(core.VerificationResult{
		Verified:          false,
		Confidence:        40,
		Reasoning:         "organizer could not be confirmed",
		RecommendedAction: core.RecommendMoreInfo,
	}))

	lr := f.submit(t, "doc.pdf")
	assert.Equal(t, leave.StatusPending, lr.Status)
	// routed to the teacher, student warned
	assert.NotEmpty(t, f.notifier.SentTo(f.teacher.ID))
	assert.NotEmpty(t, f.notifier.SentTo(f.student.ID))
}

func TestSubmitFastTrack(t *testing.T) {
	vr := core.VerificationResult{
		Verified:          true,
		Confidence:        95,
		Reasoning:         "verified against the event registry",
		RecommendedAction: core.RecommendApprove,
	}

	// off by default: high confidence still queues for the teacher
	f := newFixture(t, withVerifyResult(vr))
	lr := f.submit(t, "doc.pdf")
	assert.Equal(t, leave.StatusPending, lr.Status)

	// enabled: the teacher stage is auto-approved
	f = newFixture(t, withVerifyResult(vr), withFastTrack())
	lr = f.submit(t, "doc.pdf")
	assert.Equal(t, leave.StatusApprovedByTeacher, lr.Status)
	require.NotNil(t, lr.TeacherDecision)
	assert.True(t, lr.TeacherDecision.System())
	assert.NotEmpty(t, f.notifier.SentTo(f.hod.ID))
}

func TestVerifierOutageDoesNotBlockSubmission(t *testing.T) {
	f := newFixture(t)
	f.verifier.Err = errors.New("model unavailable")

	lr := f.submit(t, "doc.pdf")
	assert.Equal(t, leave.StatusPending, lr.Status)
	assert.Nil(t, lr.Verification)
	// routed for manual review as usual
	assert.NotEmpty(t, f.notifier.SentTo(f.teacher.ID))
}

type failingAnchors struct{}

func (failingAnchors) Anchor(context.Context, []byte, []byte) (core.AnchorEntry, error) {
	return core.AnchorEntry{}, errors.New("ledger unreachable")
}

func (failingAnchors) Lookup(context.Context, string) (core.AnchorEntry, error) {
	return core.AnchorEntry{}, core.ErrAnchorNotFound
}

func TestAnchorOutageRecordsUnanchoredEvents(t *testing.T) {
	f := newFixture(t, withAnchors(failingAnchors{}))
	ctx := context.Background()

	lr := f.submit(t, "")
	require.NotEmpty(t, lr.Anchors)
	assert.Empty(t, lr.Anchors[0].Ref)
	assert.NotEmpty(t, lr.Anchors[0].Hash)

	// the lifecycle is unaffected
	lr, err := f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	lr, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByHod, lr.Status)
}

func TestConcurrentTeacherDecisions(t *testing.T) {
	f := newFixture(t)
	lr := f.submit(t, "")

	const n = 8
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		approve := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.leaveSvc.DecideAsTeacher(context.Background(), f.teacher, lr.ID, approve, "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var ise *core.InvalidStateError
		require.True(t, errors.As(err, &ise), "unexpected error: %v", err)
		conflicts++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestFinalApprovalReconcilesAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	course, err := f.attSvc.CreateCourse(ctx, attendance.NewCourse{
		Code: "CS201", Name: "Data Structures", Department: "Computer Science",
		Division: "CS-A", Year: 2, TeacherID: f.teacher.ID, Roster: []string{f.student.ID},
	})
	require.NoError(t, err)

	// absent on two leave days, present on one before the leave
	marks := map[string]string{f.student.ID: attendance.StatusPresent}
	_, err = f.attSvc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
		CourseID: course.ID, Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Marks: marks,
	})
	require.NoError(t, err)
	marks[f.student.ID] = attendance.StatusAbsent
	for _, day := range []int{2, 3} {
		_, err = f.attSvc.MarkSession(ctx, f.teacher, attendance.MarkSheet{
			CourseID: course.ID, Date: time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC), Marks: marks,
		})
		require.NoError(t, err)
	}

	lr := f.submit(t, "")
	lr, err = f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	lr, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	require.NoError(t, err)
	assert.False(t, lr.ReconciliationPending)

	ag, err := f.attRepo.GetAggregate(ctx, f.student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, ag.Total)
	assert.Equal(t, 1, ag.Present)
	assert.Equal(t, 0, ag.Absent)
	assert.Equal(t, 2, ag.Excused)
	assert.InDelta(t, 100.0, ag.Percentage(), 0.01)

	// reconciling again changes nothing
	require.NoError(t, f.attSvc.Reconcile(ctx, f.student.ID, lr.Courses, lr.StartDate, lr.EndDate))
	again, err := f.attRepo.GetAggregate(ctx, f.student.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, ag, again)
}

type failingReconciler struct {
	attendance.ServiceInterface
}

func (failingReconciler) Reconcile(context.Context, string, []string, time.Time, time.Time) error {
	return errors.New("session store unreachable")
}

func TestReconciliationFailureFlagsRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// swap in an attendance service whose reconciliation always fails
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST ", log.LstdFlags), false)
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	mailSvc := emailsvc.NewDummyService()
	usrSvc := user.NewService(f.conf, usrRepo, mailSvc, validate)
	attSvc := attendance.NewService(inmemdb.NewAttendanceRepository(db), usrSvc, logger, validate)
	leaveSvc := leave.NewService(
		f.conf, inmemdb.NewLeaveRepository(db), usrSvc, failingReconciler{ServiceInterface: attSvc},
		f.verifier, f.verifier, anchorsvc.NewLedgerService(), filestore.NewMemoryStore(), f.notifier,
		logger, validate,
	)
	student := user.CreateTestUser(t, usrRepo, "Asha Odhiambo", "asha01", "asha@test.cd", "", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 14))
	teacher := user.CreateTestUser(t, usrRepo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))
	hod := user.CreateTestUser(t, usrRepo, "Dr Tshibanda", "tshibanda", "tshibanda@test.cd", "", []string{user.RoleTeacherHOD},
		user.WithClass("Computer Science", "", 0, 0))

	lr, err := leaveSvc.Submit(ctx, student, leave.NewLeaveRequest{
		Category:  leave.CategoryFamily,
		Reason:    "attending a family reunion upcountry",
		StartDate: time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	lr, err = leaveSvc.DecideAsTeacher(ctx, teacher, lr.ID, true, "")
	require.NoError(t, err)

	// the approval sticks even though reconciliation failed
	lr, err = leaveSvc.DecideAsHod(ctx, hod, lr.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByHod, lr.Status)
	assert.True(t, lr.ReconciliationPending)
}

func TestRetryReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr := f.submit(t, "")
	lr, err := f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	lr, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	require.NoError(t, err)

	// nothing pending: retry is a no-op
	again, err := f.leaveSvc.RetryReconciliation(ctx, f.hod, lr.ID)
	require.NoError(t, err)
	assert.False(t, again.ReconciliationPending)

	// students cannot trigger retries
	_, err = f.leaveSvc.RetryReconciliation(ctx, f.student, lr.ID)
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae))
}

func TestStageAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherTeacher := user.CreateTestUser(t, f.usrRepo, "Mw Ilunga", "ilunga", "ilunga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-B", 0, 0))

	lr := f.submit(t, "")

	var ae *core.AuthorizationError

	// wrong division
	_, err := f.leaveSvc.DecideAsTeacher(ctx, otherTeacher, lr.ID, true, "")
	assert.True(t, errors.As(err, &ae))

	// HOD cannot decide the teacher stage
	_, err = f.leaveSvc.DecideAsTeacher(ctx, f.hod, lr.ID, true, "")
	assert.True(t, errors.As(err, &ae))

	// HOD cannot jump the queue while the request is still pending
	_, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	var ise *core.InvalidStateError
	assert.True(t, errors.As(err, &ise))

	// students cannot see each other's requests
	otherStudent := user.CreateTestUser(t, f.usrRepo, "Ben Mwamba", "mwamba", "mwamba@test.cd", "", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 15))
	_, err = f.leaveSvc.GetByID(ctx, otherStudent, lr.ID)
	assert.True(t, errors.As(err, &ae))
}

func TestWrongDepartmentHodCannotDecide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr := f.submit(t, "")
	lr, err := f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, leave.StatusApprovedByTeacher, lr.Status)

	otherHod := user.CreateTestUser(t, f.usrRepo, "Dr Kasongo", "kasongo", "kasongo@test.cd", "", []string{user.RoleTeacherHOD},
		user.WithClass("Mathematics", "", 0, 0))
	_, err = f.leaveSvc.DecideAsHod(ctx, otherHod, lr.ID, true, "")
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae), "unexpected error: %v", err)

	again, err := f.leaveSvc.GetByID(ctx, f.hod, lr.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByTeacher, again.Status)
	assert.Nil(t, again.HodDecision)
}

func TestRejectFinalizedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr := f.submit(t, "")
	lr, err := f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	lr, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, true, "")
	require.NoError(t, err)
	require.Equal(t, leave.StatusApprovedByHod, lr.Status)

	var ise *core.InvalidStateError

	_, err = f.leaveSvc.DecideAsHod(ctx, f.hod, lr.ID, false, "changed my mind")
	assert.True(t, errors.As(err, &ise), "unexpected error: %v", err)
	_, err = f.leaveSvc.Decide(ctx, f.teacher, lr.ID, core.ActionReject, "")
	assert.True(t, errors.As(err, &ise), "unexpected error: %v", err)

	// the final approval stands untouched
	again, err := f.leaveSvc.GetByID(ctx, f.hod, lr.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByHod, again.Status)
	require.NotNil(t, again.HodDecision)
	assert.True(t, again.HodDecision.Approved)
}

func TestDecideDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr := f.submit(t, "")
	lr, err := f.leaveSvc.Decide(ctx, f.teacher, lr.ID, core.ActionApproveTeacher, "ok")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApprovedByTeacher, lr.Status)

	lr, err = f.leaveSvc.Decide(ctx, f.hod, lr.ID, core.ActionReject, "insufficient notice")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, lr.Status)
	require.NotNil(t, lr.HodDecision)
	assert.False(t, lr.HodDecision.Approved)

	_, err = f.leaveSvc.Decide(ctx, f.teacher, lr.ID, "promote", "")
	var ve *core.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestQueuesAreScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherStudent := user.CreateTestUser(t, f.usrRepo, "Ben Mwamba", "mwamba", "mwamba@test.cd", "", user.StudentRoles,
		user.WithClass("Mathematics", "MA-A", 1, 3))

	lr := f.submit(t, "")
	_, err := f.leaveSvc.Submit(ctx, otherStudent, leave.NewLeaveRequest{
		Category:  leave.CategoryPersonal,
		Reason:    "attending a scholarship interview",
		StartDate: time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// the CS-A teacher only sees the CS-A student's request
	queue, err := f.leaveSvc.TeacherQueue(ctx, f.teacher)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, lr.ID, queue[0].ID)

	// nothing for the HOD until the teacher approves
	hodQueue, err := f.leaveSvc.HodQueue(ctx, f.hod)
	require.NoError(t, err)
	assert.Empty(t, hodQueue)

	_, err = f.leaveSvc.DecideAsTeacher(ctx, f.teacher, lr.ID, true, "")
	require.NoError(t, err)
	hodQueue, err = f.leaveSvc.HodQueue(ctx, f.hod)
	require.NoError(t, err)
	require.Len(t, hodQueue, 1)
	assert.Equal(t, lr.ID, hodQueue[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// end before start
	_, err := f.leaveSvc.Submit(ctx, f.student, leave.NewLeaveRequest{
		Category:  leave.CategoryMedical,
		Reason:    "recovering from malaria at home",
		StartDate: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))

	// teachers cannot submit
	_, err = f.leaveSvc.Submit(ctx, f.teacher, leave.NewLeaveRequest{})
	var ae *core.AuthorizationError
	assert.True(t, errors.As(err, &ae))
}
