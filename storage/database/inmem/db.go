package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/leave"
	"github.com/trezcool/elimu/core/user"
)

// DB is an in-memory database backing the repositories in this package.
// Used in development and tests.
type DB struct {
	user      *userTable
	course    *courseTable
	session   *sessionTable
	aggregate *aggregateTable
	leave     *leaveTable
}

func NewDB() *DB {
	return &DB{
		user:      &userTable{table: make(map[string]*user.User)},
		course:    &courseTable{table: make(map[string]*attendance.Course)},
		session:   &sessionTable{table: make(map[sessionKey]*attendance.Session)},
		aggregate: &aggregateTable{table: make(map[aggregateKey]*attendance.Aggregate)},
		leave:     &leaveTable{table: make(map[string]*leave.LeaveRequest)},
	}
}

type userTable struct {
	mutex sync.RWMutex
	table map[string]*user.User
}

type courseTable struct {
	mutex sync.RWMutex
	table map[string]*attendance.Course
}

type sessionKey struct {
	courseID string
	date     time.Time
}

type sessionTable struct {
	mutex sync.RWMutex
	table map[sessionKey]*attendance.Session
}

type aggregateKey struct {
	studentID string
	courseID  string
}

type aggregateTable struct {
	mutex sync.RWMutex
	table map[aggregateKey]*attendance.Aggregate
}

type leaveTable struct {
	mutex sync.RWMutex
	table map[string]*leave.LeaveRequest
}
