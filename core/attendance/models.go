package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

// Per-session attendance statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusExcused = "excused"
	StatusUnset   = "" // student not marked for the session
)

type Course struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Division   string    `json:"division"`
	Year       int       `json:"year"`
	TeacherID  string    `json:"teacher_id"`
	Roster     []string  `json:"roster"` // enrolled student IDs
	CreatedAt  time.Time `json:"created_at"` // UTC
}

func (c *Course) HasStudent(studentID string) bool {
	for _, id := range c.Roster {
		if id == studentID {
			return true
		}
	}
	return false
}

// NewCourse contains information needed to create a Course.
type NewCourse struct {
	Code       string   `json:"code" validate:"required"`
	Name       string   `json:"name" validate:"required"`
	Department string   `json:"department" validate:"required"`
	Division   string   `json:"division" validate:"required"`
	Year       int      `json:"year" validate:"required,min=1,max=8"`
	TeacherID  string   `json:"teacher_id" validate:"required"`
	Roster     []string `json:"roster"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code)
	nc.Name = core.CleanString(nc.Name)
	nc.Department = core.CleanString(nc.Department)
	nc.Division = core.CleanString(nc.Division)
	return validate.Struct(nc)
}

// Session records who attended a course on a given date. A student ID
// appears in at most one of the three lists.
type Session struct {
	CourseID string      `json:"course_id"`
	Date     time.Time   `json:"date"` // UTC midnight
	Present  []string    `json:"present"`
	Absent   []string    `json:"absent"`
	Excused  []string    `json:"excused"`
}

// StatusOf reports the student's status for this session.
func (s *Session) StatusOf(studentID string) string {
	for _, id := range s.Present {
		if id == studentID {
			return StatusPresent
		}
	}
	for _, id := range s.Absent {
		if id == studentID {
			return StatusAbsent
		}
	}
	for _, id := range s.Excused {
		if id == studentID {
			return StatusExcused
		}
	}
	return StatusUnset
}

// SetStatus moves the student into the list matching status, removing them
// from any other list first.
func (s *Session) SetStatus(studentID, status string) {
	s.Present = remove(s.Present, studentID)
	s.Absent = remove(s.Absent, studentID)
	s.Excused = remove(s.Excused, studentID)
	switch status {
	case StatusPresent:
		s.Present = append(s.Present, studentID)
	case StatusAbsent:
		s.Absent = append(s.Absent, studentID)
	case StatusExcused:
		s.Excused = append(s.Excused, studentID)
	}
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// Aggregate holds a student's running attendance counters for one course.
// Excused sessions count toward attended time.
type Aggregate struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Total     int    `json:"total"`
	Present   int    `json:"present"`
	Absent    int    `json:"absent"`
	Excused   int    `json:"excused"`
}

// Percentage returns the attended share of held sessions, in percent.
func (ag *Aggregate) Percentage() float64 {
	if ag.Total == 0 {
		return 0
	}
	return float64(ag.Present+ag.Excused) / float64(ag.Total) * 100
}

// MarkSheet is the teacher-facing input for marking a session: every entry
// maps a student ID to one of the session statuses.
type MarkSheet struct {
	CourseID string            `json:"course_id" validate:"required"`
	Date     time.Time         `json:"date" validate:"required"`
	Marks    map[string]string `json:"marks" validate:"required,min=1,dive,oneof=present absent excused"`
}

func (ms *MarkSheet) Validate(validate *validator.Validate) error {
	ms.Date = core.Day(ms.Date)
	return validate.Struct(ms)
}
