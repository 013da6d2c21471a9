package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

// CreateTestUser creates a user directly through the repository, bypassing
// service validation. For use in tests only.
func CreateTestUser(t *testing.T, repo Repository, name, uname, email, pwd string, roles []string, opts ...func(*User)) User {
	t.Helper()

	now := time.Now().UTC()
	usr := User{
		ID:        uuid.New().String(),
		Name:      name,
		Username:  uname,
		Email:     email,
		IsActive:  true,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(&usr)
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("setting password: %v", err)
		}
	}
	if err := repo.CreateUser(context.Background(), usr); err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return usr
}

// WithClass assigns department, division, year and roll number.
func WithClass(department, division string, year, roll int) func(*User) {
	return func(u *User) {
		u.Department = department
		u.Division = division
		u.Year = year
		u.RollNumber = roll
	}
}
