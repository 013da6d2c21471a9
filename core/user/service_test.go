package user_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
	emailsvc "github.com/trezcool/elimu/services/email"
	inmemdb "github.com/trezcool/elimu/storage/database/inmem"
)

func newService(t *testing.T) (user.ServiceInterface, user.Repository) {
	t.Helper()
	validate, translator := core.NewValidator()
	core.InitValidators(validate, translator)
	user.RegisterValidators(validate, translator)

	repo := inmemdb.NewUserRepository(inmemdb.NewDB())
	svc := user.NewService(&core.Config{AppName: "Elimu"}, repo, emailsvc.NewDummyService(), validate)
	return svc, repo
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	usr, err := svc.Create(ctx, user.NewUser{
		Name:            "Asha Odhiambo",
		Username:        "asha01",
		Email:           "Asha@Test.CD",
		Password:        "s3cr3t-pass",
		PasswordConfirm: "s3cr3t-pass",
		Roles:           user.StudentRoles,
		Department:      "Computer Science",
		Division:        "CS-A",
		Year:            2,
		RollNumber:      14,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "asha@test.cd", usr.Email)
	assert.True(t, usr.IsActive)
	assert.True(t, usr.IsStudent())
	require.NoError(t, usr.CheckPassword("s3cr3t-pass"))
	assert.Error(t, usr.CheckPassword("wrong"))

	// username taken
	_, err = svc.Create(ctx, user.NewUser{
		Name:            "Other",
		Username:        "asha01",
		Email:           "other@test.cd",
		Password:        "s3cr3t-pass",
		PasswordConfirm: "s3cr3t-pass",
	})
	assert.True(t, errors.Is(err, user.ErrUsernameOrEmailUnavailable))

	// unknown role
	_, err = svc.Create(ctx, user.NewUser{
		Name:            "Other",
		Username:        "other01",
		Password:        "s3cr3t-pass",
		PasswordConfirm: "s3cr3t-pass",
		Roles:           []string{"warden:"},
	})
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	usr := user.CreateTestUser(t, repo, "Asha Odhiambo", "asha01", "asha@test.cd", "s3cr3t-pass", user.StudentRoles)

	got, err := svc.Authenticate(ctx, "asha01", "s3cr3t-pass")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	// email works too
	_, err = svc.Authenticate(ctx, "asha@test.cd", "s3cr3t-pass")
	require.NoError(t, err)

	var ae *core.AuthenticationError
	_, err = svc.Authenticate(ctx, "asha01", "wrong")
	assert.True(t, errors.As(err, &ae))
	_, err = svc.Authenticate(ctx, "nobody", "s3cr3t-pass")
	assert.True(t, errors.As(err, &ae))

	// deactivated accounts cannot log in
	inactive := false
	_, err = svc.Update(ctx, usr.ID, user.UpdateUser{IsActive: &inactive})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "asha01", "s3cr3t-pass")
	assert.True(t, errors.As(err, &ae))
}

func TestClassTeacherAndHODLookup(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	teacher := user.CreateTestUser(t, repo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))
	hod := user.CreateTestUser(t, repo, "Dr Tshibanda", "tshibanda", "tshibanda@test.cd", "", []string{user.RoleTeacherHOD},
		user.WithClass("Computer Science", "", 0, 0))

	got, err := svc.ClassTeacher(ctx, "CS-A")
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, got.ID)

	got, err = svc.HOD(ctx, "Computer Science")
	require.NoError(t, err)
	assert.Equal(t, hod.ID, got.ID)

	_, err = svc.ClassTeacher(ctx, "MA-A")
	assert.True(t, errors.Is(err, user.ErrNotFound))
}

func TestRoleHelpers(t *testing.T) {
	usr := user.User{Roles: []string{user.RoleTeacherClass}}
	assert.True(t, usr.IsTeacher())
	assert.True(t, usr.IsClassTeacher())
	assert.False(t, usr.IsHOD())
	assert.False(t, usr.IsAdmin())

	assert.True(t, user.RolePriority(user.RoleAdminOwner) > user.RolePriority(user.RoleTeacherHOD))
	assert.Equal(t, 13, user.MaxRolePriority([]string{user.RoleStudent, user.RoleTeacherHOD}))
}

func TestFilter(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	user.CreateTestUser(t, repo, "Asha Odhiambo", "asha01", "asha@test.cd", "", user.StudentRoles,
		user.WithClass("Computer Science", "CS-A", 2, 14))
	user.CreateTestUser(t, repo, "Ben Mwamba", "mwamba", "ben@test.cd", "", user.StudentRoles,
		user.WithClass("Mathematics", "MA-A", 1, 3))
	user.CreateTestUser(t, repo, "Mw Kalanga", "kalanga", "kalanga@test.cd", "", []string{user.RoleTeacherClass},
		user.WithClass("Computer Science", "CS-A", 0, 0))

	got, err := svc.Filter(ctx, user.QueryFilter{Division: "CS-A", Roles: user.StudentRoles})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "asha01", got[0].Username)

	got, err = svc.Filter(ctx, user.QueryFilter{Search: "mwamba"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ben Mwamba", got[0].Name)
}
