package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/attendance"
)

type courseRow struct {
	ID         string         `db:"id"`
	Code       string         `db:"code"`
	Name       string         `db:"name"`
	Department string         `db:"department"`
	Division   string         `db:"division"`
	Year       int            `db:"year"`
	TeacherID  string         `db:"teacher_id"`
	Roster     pq.StringArray `db:"roster"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *courseRow) toCourse() attendance.Course {
	return attendance.Course{
		ID:         r.ID,
		Code:       r.Code,
		Name:       r.Name,
		Department: r.Department,
		Division:   r.Division,
		Year:       r.Year,
		TeacherID:  r.TeacherID,
		Roster:     r.Roster,
		CreatedAt:  r.CreatedAt,
	}
}

type sessionRow struct {
	CourseID string         `db:"course_id"`
	Date     time.Time      `db:"date"`
	Present  pq.StringArray `db:"present"`
	Absent   pq.StringArray `db:"absent"`
	Excused  pq.StringArray `db:"excused"`
}

func (r *sessionRow) toSession() attendance.Session {
	return attendance.Session{
		CourseID: r.CourseID,
		Date:     r.Date.UTC(),
		Present:  r.Present,
		Absent:   r.Absent,
		Excused:  r.Excused,
	}
}

type aggregateRow struct {
	StudentID string `db:"student_id"`
	CourseID  string `db:"course_id"`
	Total     int    `db:"total"`
	Present   int    `db:"present"`
	Absent    int    `db:"absent"`
	Excused   int    `db:"excused"`
}

func (r *aggregateRow) toAggregate() attendance.Aggregate {
	return attendance.Aggregate{
		StudentID: r.StudentID,
		CourseID:  r.CourseID,
		Total:     r.Total,
		Present:   r.Present,
		Absent:    r.Absent,
		Excused:   r.Excused,
	}
}

const courseColumns = `id, code, name, department, division, year, teacher_id, roster, created_at`

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil)

func NewAttendanceRepository(db *sqlx.DB) *attendanceRepository {
	return &attendanceRepository{db: db}
}

func (repo *attendanceRepository) CreateCourse(ctx context.Context, c attendance.Course) error {
	query := `
		INSERT INTO course (` + courseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, query,
		c.ID, c.Code, c.Name, c.Department, c.Division, c.Year, c.TeacherID,
		pq.StringArray(c.Roster), c.CreatedAt,
	)
	return err
}

func (repo *attendanceRepository) GetCourseByID(ctx context.Context, id string) (attendance.Course, error) {
	var row courseRow
	query := `SELECT ` + courseColumns + ` FROM course WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Course{}, attendance.ErrCourseNotFound
		}
		return attendance.Course{}, err
	}
	return row.toCourse(), nil
}

func (repo *attendanceRepository) QueryCoursesByID(ctx context.Context, ids ...string) ([]attendance.Course, error) {
	var rows []courseRow
	query := `SELECT ` + courseColumns + ` FROM course WHERE id = ANY($1) ORDER BY code`
	if err := repo.db.SelectContext(ctx, &rows, query, pq.StringArray(ids)); err != nil {
		return nil, err
	}
	return toCourses(rows), nil
}

func (repo *attendanceRepository) QueryStudentCourses(ctx context.Context, studentID string) ([]attendance.Course, error) {
	var rows []courseRow
	query := `SELECT ` + courseColumns + ` FROM course WHERE $1 = ANY(roster) ORDER BY code`
	if err := repo.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, err
	}
	return toCourses(rows), nil
}

func toCourses(rows []courseRow) []attendance.Course {
	courses := make([]attendance.Course, 0, len(rows))
	for i := range rows {
		courses = append(courses, rows[i].toCourse())
	}
	return courses
}

func (repo *attendanceRepository) GetSession(ctx context.Context, courseID string, date time.Time) (attendance.Session, error) {
	var row sessionRow
	query := `SELECT course_id, date, present, absent, excused FROM attendance_session WHERE course_id = $1 AND date = $2`
	if err := repo.db.GetContext(ctx, &row, query, courseID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Session{}, attendance.ErrSessionNotFound
		}
		return attendance.Session{}, err
	}
	return row.toSession(), nil
}

func (repo *attendanceRepository) SaveSession(ctx context.Context, s attendance.Session) error {
	query := `
		INSERT INTO attendance_session (course_id, date, present, absent, excused)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (course_id, date)
		DO UPDATE SET present = EXCLUDED.present, absent = EXCLUDED.absent, excused = EXCLUDED.excused`
	_, err := repo.db.ExecContext(ctx, query,
		s.CourseID, s.Date, pq.StringArray(s.Present), pq.StringArray(s.Absent), pq.StringArray(s.Excused),
	)
	return err
}

func (repo *attendanceRepository) QuerySessions(ctx context.Context, courseID string) ([]attendance.Session, error) {
	var rows []sessionRow
	query := `SELECT course_id, date, present, absent, excused FROM attendance_session WHERE course_id = $1 ORDER BY date`
	if err := repo.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, err
	}
	sessions := make([]attendance.Session, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

func (repo *attendanceRepository) ExcuseAbsence(ctx context.Context, courseID string, date time.Time, studentID string) (bool, error) {
	// the ANY(absent) guard makes this a no-op unless the student is absent
	query := `
		UPDATE attendance_session
		SET absent = array_remove(absent, $3), excused = array_append(excused, $3)
		WHERE course_id = $1 AND date = $2 AND $3 = ANY(absent)`
	res, err := repo.db.ExecContext(ctx, query, courseID, date, studentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (repo *attendanceRepository) GetAggregate(ctx context.Context, studentID, courseID string) (attendance.Aggregate, error) {
	var row aggregateRow
	query := `
		SELECT student_id, course_id, total, present, absent, excused
		FROM attendance_aggregate WHERE student_id = $1 AND course_id = $2`
	if err := repo.db.GetContext(ctx, &row, query, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Aggregate{}, attendance.ErrSessionNotFound
		}
		return attendance.Aggregate{}, err
	}
	return row.toAggregate(), nil
}

func (repo *attendanceRepository) SaveAggregate(ctx context.Context, ag attendance.Aggregate) error {
	query := `
		INSERT INTO attendance_aggregate (student_id, course_id, total, present, absent, excused)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, course_id)
		DO UPDATE SET total = EXCLUDED.total, present = EXCLUDED.present,
		              absent = EXCLUDED.absent, excused = EXCLUDED.excused`
	_, err := repo.db.ExecContext(ctx, query,
		ag.StudentID, ag.CourseID, ag.Total, ag.Present, ag.Absent, ag.Excused,
	)
	return err
}

func (repo *attendanceRepository) QueryAggregates(ctx context.Context, studentID string) ([]attendance.Aggregate, error) {
	var rows []aggregateRow
	query := `
		SELECT student_id, course_id, total, present, absent, excused
		FROM attendance_aggregate WHERE student_id = $1 ORDER BY course_id`
	if err := repo.db.SelectContext(ctx, &rows, query, studentID); err != nil {
		return nil, err
	}
	aggs := make([]attendance.Aggregate, 0, len(rows))
	for i := range rows {
		aggs = append(aggs, rows[i].toAggregate())
	}
	return aggs, nil
}
