package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
)

var (
	ErrCourseNotFound  = core.NewNotFoundError("course not found")
	ErrSessionNotFound = core.NewNotFoundError("session not found")
)

type (
	// Repository encapsulates the storage of Courses, Sessions and Aggregates.
	Repository interface {
		CreateCourse(ctx context.Context, c Course) error
		GetCourseByID(ctx context.Context, id string) (Course, error)
		QueryCoursesByID(ctx context.Context, ids ...string) ([]Course, error)
		QueryStudentCourses(ctx context.Context, studentID string) ([]Course, error)
		GetSession(ctx context.Context, courseID string, date time.Time) (Session, error)
		SaveSession(ctx context.Context, s Session) error
		QuerySessions(ctx context.Context, courseID string) ([]Session, error)
		// ExcuseAbsence moves the student from absent to excused for the
		// session, if one exists and the student is marked absent. It reports
		// whether a change was made.
		ExcuseAbsence(ctx context.Context, courseID string, date time.Time, studentID string) (bool, error)
		GetAggregate(ctx context.Context, studentID, courseID string) (Aggregate, error)
		SaveAggregate(ctx context.Context, ag Aggregate) error
		QueryAggregates(ctx context.Context, studentID string) ([]Aggregate, error)
	}

	ServiceInterface interface {
		CreateCourse(ctx context.Context, nc NewCourse) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)
		StudentCourses(ctx context.Context, studentID string) ([]Course, error)
		MarkSession(ctx context.Context, actor user.User, ms MarkSheet) (Session, error)
		SetStudentStatus(ctx context.Context, actor user.User, courseID string, date time.Time, studentID, status string) (Session, error)
		CourseReport(ctx context.Context, actor user.User, courseID string) ([]Aggregate, error)
		StudentReport(ctx context.Context, actor user.User, studentID string) ([]Aggregate, error)
		Reconcile(ctx context.Context, studentID string, courseIDs []string, start, end time.Time) error
	}

	service struct {
		repo     Repository
		usrSvc   user.ServiceInterface
		logger   core.Logger
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, usrSvc user.ServiceInterface, logger core.Logger, validate *validator.Validate) *service {
	return &service{
		repo:     repo,
		usrSvc:   usrSvc,
		logger:   logger,
		validate: validate,
	}
}

func (svc *service) CreateCourse(ctx context.Context, nc NewCourse) (Course, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Course{}, err
	}
	c := Course{
		ID:         uuid.New().String(),
		Code:       nc.Code,
		Name:       nc.Name,
		Department: nc.Department,
		Division:   nc.Division,
		Year:       nc.Year,
		TeacherID:  nc.TeacherID,
		Roster:     nc.Roster,
		CreatedAt:  time.Now().UTC(),
	}
	if err := svc.repo.CreateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "creating course")
	}
	return c, nil
}

func (svc *service) GetCourse(ctx context.Context, id string) (Course, error) {
	c, err := svc.repo.GetCourseByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCourseNotFound) {
			return Course{}, err
		}
		return Course{}, errors.Wrapf(err, "getting course %s", id)
	}
	return c, nil
}

func (svc *service) StudentCourses(ctx context.Context, studentID string) ([]Course, error) {
	courses, err := svc.repo.QueryStudentCourses(ctx, studentID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying courses for student %s", studentID)
	}
	return courses, nil
}

// MarkSession records attendance for a course on a date. Only the course's
// teacher or an admin may mark. Re-marking an existing session replaces the
// prior marks, except students already excused, and the affected aggregates
// are recomputed from the sessions.
func (svc *service) MarkSession(ctx context.Context, actor user.User, ms MarkSheet) (Session, error) {
	if err := ms.Validate(svc.validate); err != nil {
		return Session{}, err
	}

	course, err := svc.GetCourse(ctx, ms.CourseID)
	if err != nil {
		return Session{}, err
	}
	if !actor.IsAdmin() && actor.ID != course.TeacherID {
		return Session{}, core.NewAuthorizationError("only the course teacher can mark attendance")
	}
	for studentID := range ms.Marks {
		if !course.HasStudent(studentID) {
			return Session{}, core.NewValidationError(errors.Errorf("student %s is not enrolled in %s", studentID, course.Code))
		}
	}

	sess, err := svc.repo.GetSession(ctx, ms.CourseID, ms.Date)
	existing := true
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return Session{}, errors.Wrap(err, "getting session")
		}
		existing = false
		sess = Session{CourseID: ms.CourseID, Date: ms.Date}
	}
	for studentID, status := range ms.Marks {
		// excusals granted by approved leave survive a re-mark; corrections
		// go through SetStudentStatus
		if existing && sess.StatusOf(studentID) == StatusExcused {
			continue
		}
		sess.SetStatus(studentID, status)
	}
	if err = svc.repo.SaveSession(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}

	if existing {
		// re-mark: counters may have moved in any direction
		for studentID := range ms.Marks {
			if err = svc.recomputeAggregate(ctx, studentID, ms.CourseID); err != nil {
				return Session{}, err
			}
		}
		return sess, nil
	}
	for studentID, status := range ms.Marks {
		if err = svc.incrementAggregate(ctx, studentID, ms.CourseID, status); err != nil {
			return Session{}, err
		}
	}
	return sess, nil
}

// SetStudentStatus corrects a single student's mark on an existing session
// and recomputes their counters.
func (svc *service) SetStudentStatus(ctx context.Context, actor user.User, courseID string, date time.Time, studentID, status string) (Session, error) {
	switch status {
	case StatusPresent, StatusAbsent, StatusExcused:
	default:
		return Session{}, core.NewValidationError(errors.Errorf("unknown attendance status %q", status))
	}

	course, err := svc.GetCourse(ctx, courseID)
	if err != nil {
		return Session{}, err
	}
	if !actor.IsAdmin() && actor.ID != course.TeacherID {
		return Session{}, core.NewAuthorizationError("only the course teacher can mark attendance")
	}
	if !course.HasStudent(studentID) {
		return Session{}, core.NewValidationError(errors.Errorf("student %s is not enrolled in %s", studentID, course.Code))
	}

	sess, err := svc.repo.GetSession(ctx, courseID, core.Day(date))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return Session{}, err
		}
		return Session{}, errors.Wrap(err, "getting session")
	}
	sess.SetStatus(studentID, status)
	if err = svc.repo.SaveSession(ctx, sess); err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	if err = svc.recomputeAggregate(ctx, studentID, courseID); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (svc *service) CourseReport(ctx context.Context, actor user.User, courseID string) ([]Aggregate, error) {
	course, err := svc.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.IsTeacher() {
		return nil, core.NewAuthorizationError("only teachers can view course reports")
	}
	aggs := make([]Aggregate, 0, len(course.Roster))
	for _, studentID := range course.Roster {
		ag, err := svc.repo.GetAggregate(ctx, studentID, courseID)
		if err != nil {
			ag = Aggregate{StudentID: studentID, CourseID: courseID}
		}
		aggs = append(aggs, ag)
	}
	return aggs, nil
}

func (svc *service) StudentReport(ctx context.Context, actor user.User, studentID string) ([]Aggregate, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return nil, core.NewAuthorizationError("students can only view their own attendance")
	}
	aggs, err := svc.repo.QueryAggregates(ctx, studentID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying aggregates for student %s", studentID)
	}
	return aggs, nil
}

func (svc *service) incrementAggregate(ctx context.Context, studentID, courseID, status string) error {
	ag, err := svc.repo.GetAggregate(ctx, studentID, courseID)
	if err != nil {
		ag = Aggregate{StudentID: studentID, CourseID: courseID}
	}
	ag.Total++
	switch status {
	case StatusPresent:
		ag.Present++
	case StatusAbsent:
		ag.Absent++
	case StatusExcused:
		ag.Excused++
	}
	if err = svc.repo.SaveAggregate(ctx, ag); err != nil {
		return errors.Wrap(err, "saving aggregate")
	}
	return nil
}

// recomputeAggregate rebuilds the student's counters for a course from the
// full session history rather than patching them in place.
func (svc *service) recomputeAggregate(ctx context.Context, studentID, courseID string) error {
	sessions, err := svc.repo.QuerySessions(ctx, courseID)
	if err != nil {
		return errors.Wrapf(err, "querying sessions for course %s", courseID)
	}
	ag := Aggregate{StudentID: studentID, CourseID: courseID}
	for _, sess := range sessions {
		switch sess.StatusOf(studentID) {
		case StatusPresent:
			ag.Total++
			ag.Present++
		case StatusAbsent:
			ag.Total++
			ag.Absent++
		case StatusExcused:
			ag.Total++
			ag.Excused++
		}
	}
	if err = svc.repo.SaveAggregate(ctx, ag); err != nil {
		return errors.Wrap(err, "saving aggregate")
	}
	return nil
}
