package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
)

var (
	ErrNotFound                   = core.NewNotFoundError("user not found")
	ErrUsernameOrEmailUnavailable = core.NewValidationError(errors.New("a user with this username or email already exists"))
)

type (
	// Repository encapsulates the storage of Users.
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) error
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		FilterUsers(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		QueryClassTeacher(ctx context.Context, division string) (User, error)
		QueryHOD(ctx context.Context, department string) (User, error)
		UpdateUser(ctx context.Context, usr User, isActive ...*bool) error
		SetLastLogin(ctx context.Context, usr User) error
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	ServiceInterface interface {
		CheckUniqueness(uname, email string, excludedUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		QueryAll(ctx context.Context) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Filter(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error)
		ClassTeacher(ctx context.Context, division string) (User, error)
		HOD(ctx context.Context, department string) (User, error)
		Authenticate(ctx context.Context, uname, pwd string) (User, error)
		Update(ctx context.Context, id string, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) error
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		conf     *core.Config
		repo     Repository
		mailSvc  core.EmailService
		validate *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(conf *core.Config, repo Repository, mailSvc core.EmailService, validate *validator.Validate) *service {
	return &service{
		conf:     conf,
		repo:     repo,
		mailSvc:  mailSvc,
		validate: validate,
	}
}

func (svc *service) CheckUniqueness(uname, email string, excludedUsers ...User) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, excludedUsers...); err != nil {
		if errors.Is(err, ErrUsernameOrEmailUnavailable) {
			return err
		}
		return errors.Wrap(err, "checking username uniqueness")
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate, svc); err != nil {
		return User{}, err
	}

	now := time.Now().UTC()
	usr := User{
		ID:         uuid.New().String(),
		Name:       nu.Name,
		Username:   nu.Username,
		Email:      nu.Email,
		IsActive:   true,
		Roles:      nu.Roles,
		Department: nu.Department,
		Division:   nu.Division,
		Year:       nu.Year,
		RollNumber: nu.RollNumber,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	if err := svc.repo.CreateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.sendWelcomeMail(usr)
	return usr, nil
}

func (svc *service) QueryAll(ctx context.Context) ([]User, error) {
	users, err := svc.repo.QueryAllUsers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "querying all users")
	}
	return users, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, errors.Wrapf(err, "getting user %s", id)
	}
	return usr, nil
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	usr, err := svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, errors.Wrapf(err, "getting user %s", uname)
	}
	return usr, nil
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	usr, err := svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, errors.Wrapf(err, "getting user %s", uname)
	}
	return usr, nil
}

func (svc *service) Filter(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]User, error) {
	filter.Clean()
	users, err := svc.repo.FilterUsers(ctx, filter, ordering...)
	if err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}
	return users, nil
}

func (svc *service) ClassTeacher(ctx context.Context, division string) (User, error) {
	usr, err := svc.repo.QueryClassTeacher(ctx, division)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, errors.Wrapf(err, "querying class teacher for division %s", division)
	}
	return usr, nil
}

func (svc *service) HOD(ctx context.Context, department string) (User, error) {
	usr, err := svc.repo.QueryHOD(ctx, department)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, err
		}
		return User{}, errors.Wrapf(err, "querying HOD for department %s", department)
	}
	return usr, nil
}

// Authenticate checks the provided credentials against stored users.
// Inactive users cannot authenticate.
func (svc *service) Authenticate(ctx context.Context, uname, pwd string) (User, error) {
	usr, err := svc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, core.NewAuthenticationError("invalid credentials")
		}
		return User{}, err
	}
	if !usr.IsActive {
		return User{}, core.NewAuthenticationError("account deactivated")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, core.NewAuthenticationError("invalid credentials")
	}
	return usr, nil
}

func (svc *service) Update(ctx context.Context, id string, uu UpdateUser) (User, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err = uu.Validate(usr, svc.validate, svc); err != nil {
		return User{}, err
	}

	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	if uu.Department != "" {
		usr.Department = core.CleanString(uu.Department)
	}
	if uu.Division != "" {
		usr.Division = core.CleanString(uu.Division)
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err = usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = time.Now().UTC()

	if err = svc.repo.UpdateUser(ctx, usr, uu.IsActive); err != nil {
		return User{}, errors.Wrapf(err, "updating user %s", id)
	}
	return usr, nil
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) error {
	usr.LastLogin = time.Now().UTC()
	if err := svc.repo.SetLastLogin(ctx, usr); err != nil {
		return errors.Wrapf(err, "setting last login for user %s", usr.ID)
	}
	return nil
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	if err := svc.repo.DeleteUsersByID(ctx, ids...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

func (svc *service) sendWelcomeMail(usr User) {
	if usr.Email == "" {
		return
	}
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s account has been created.\nUsername: %s\n\nYou can now log in and submit leave requests.",
		usr.Name, svc.conf.AppName, usr.Username,
	)
	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: fmt.Sprintf("Welcome to %s", svc.conf.AppName),
		Body:    body,
	}
	svc.mailSvc.SendMessages(msg)
}
