package main

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		usr = user.User{
			ID:        uuid.New().String(),
			Name:      uname,
			Username:  uname,
			Email:     email,
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		if isAdmin {
			usr.Roles = user.AdminRoles
		} else {
			usr.Roles = user.StudentRoles
		}
		if err = usr.SetPassword(pwd); err != nil {
			return err
		}
		return cli.usrRepo.CreateUser(ctx, usr)
	}

	if isAdmin {
		usr.Roles = user.AdminRoles
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	isActive := true
	return cli.usrRepo.UpdateUser(ctx, usr, &isActive)
}
