package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/elimu/core/attendance"
)

type attendanceRepository struct {
	courses    *courseTable
	sessions   *sessionTable
	aggregates *aggregateTable
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *DB) *attendanceRepository {
	return &attendanceRepository{
		courses:    db.course,
		sessions:   db.session,
		aggregates: db.aggregate,
	}
}

func (repo *attendanceRepository) CreateCourse(_ context.Context, c attendance.Course) error {
	repo.courses.mutex.Lock()
	defer repo.courses.mutex.Unlock()
	repo.courses.table[c.ID] = &c
	return nil
}

func (repo *attendanceRepository) GetCourseByID(_ context.Context, id string) (attendance.Course, error) {
	repo.courses.mutex.RLock()
	defer repo.courses.mutex.RUnlock()

	if c, ok := repo.courses.table[id]; ok {
		return *c, nil
	}
	return attendance.Course{}, attendance.ErrCourseNotFound
}

func (repo *attendanceRepository) QueryCoursesByID(_ context.Context, ids ...string) ([]attendance.Course, error) {
	repo.courses.mutex.RLock()
	defer repo.courses.mutex.RUnlock()

	courses := make([]attendance.Course, 0, len(ids))
	for _, id := range ids {
		if c, ok := repo.courses.table[id]; ok {
			courses = append(courses, *c)
		}
	}
	return courses, nil
}

func (repo *attendanceRepository) QueryStudentCourses(_ context.Context, studentID string) ([]attendance.Course, error) {
	repo.courses.mutex.RLock()
	defer repo.courses.mutex.RUnlock()

	var courses []attendance.Course
	for _, c := range repo.courses.table {
		if c.HasStudent(studentID) {
			courses = append(courses, *c)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses, nil
}

func (repo *attendanceRepository) GetSession(_ context.Context, courseID string, date time.Time) (attendance.Session, error) {
	repo.sessions.mutex.RLock()
	defer repo.sessions.mutex.RUnlock()

	if s, ok := repo.sessions.table[sessionKey{courseID, date}]; ok {
		return *s, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) SaveSession(_ context.Context, s attendance.Session) error {
	repo.sessions.mutex.Lock()
	defer repo.sessions.mutex.Unlock()
	repo.sessions.table[sessionKey{s.CourseID, s.Date}] = &s
	return nil
}

func (repo *attendanceRepository) QuerySessions(_ context.Context, courseID string) ([]attendance.Session, error) {
	repo.sessions.mutex.RLock()
	defer repo.sessions.mutex.RUnlock()

	var sessions []attendance.Session
	for key, s := range repo.sessions.table {
		if key.courseID == courseID {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Date.Before(sessions[j].Date) })
	return sessions, nil
}

func (repo *attendanceRepository) ExcuseAbsence(_ context.Context, courseID string, date time.Time, studentID string) (bool, error) {
	repo.sessions.mutex.Lock()
	defer repo.sessions.mutex.Unlock()

	s, ok := repo.sessions.table[sessionKey{courseID, date}]
	if !ok {
		return false, nil
	}
	if s.StatusOf(studentID) != attendance.StatusAbsent {
		return false, nil
	}
	s.SetStatus(studentID, attendance.StatusExcused)
	return true, nil
}

func (repo *attendanceRepository) GetAggregate(_ context.Context, studentID, courseID string) (attendance.Aggregate, error) {
	repo.aggregates.mutex.RLock()
	defer repo.aggregates.mutex.RUnlock()

	if ag, ok := repo.aggregates.table[aggregateKey{studentID, courseID}]; ok {
		return *ag, nil
	}
	return attendance.Aggregate{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) SaveAggregate(_ context.Context, ag attendance.Aggregate) error {
	repo.aggregates.mutex.Lock()
	defer repo.aggregates.mutex.Unlock()
	repo.aggregates.table[aggregateKey{ag.StudentID, ag.CourseID}] = &ag
	return nil
}

func (repo *attendanceRepository) QueryAggregates(_ context.Context, studentID string) ([]attendance.Aggregate, error) {
	repo.aggregates.mutex.RLock()
	defer repo.aggregates.mutex.RUnlock()

	var aggs []attendance.Aggregate
	for key, ag := range repo.aggregates.table {
		if key.studentID == studentID {
			aggs = append(aggs, *ag)
		}
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].CourseID < aggs[j].CourseID })
	return aggs, nil
}
