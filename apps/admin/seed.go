package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/user"
)

const seedPassword = "password123"

var seedClasses = []struct {
	Department string
	Division   string
}{
	{"Computer Engineering", "CE-A"},
	{"Computer Engineering", "CE-B"},
	{"Information Technology", "IT-A"},
	{"Electronics", "EL-A"},
}

var seedCourseNames = []string{
	"Data Structures and Algorithms",
	"Object Oriented Programming",
	"Database Management Systems",
	"Computer Networks",
	"Operating Systems",
}

// seed loads a small deterministic sample data set: a principal, an HOD
// per department, a class teacher and ten students per division, and a
// course roster per class. Existing users are left untouched.
func (cli *commandLine) seed() error {
	ctx := context.Background()

	if err := cli.seedUser(ctx, "Principal", "principal", "principal@elimu.cd",
		[]string{user.RoleAdminPrincipal}, "", "", 0, 0); err != nil {
		return err
	}

	departments := make(map[string]bool)
	for _, cls := range seedClasses {
		departments[cls.Department] = true
	}
	for dept := range departments {
		slug := deptSlug(dept)
		if err := cli.seedUser(ctx, "HOD "+dept, "hod."+slug, "hod."+slug+"@elimu.cd",
			[]string{user.RoleTeacherHOD}, dept, "", 0, 0); err != nil {
			return err
		}
	}

	for i, cls := range seedClasses {
		slug := strings.ToLower(cls.Division)
		teacherUname := "teacher." + slug
		if err := cli.seedUser(ctx, fmt.Sprintf("ClassTeacher %d", i+1), teacherUname, teacherUname+"@elimu.cd",
			[]string{user.RoleTeacherClass}, cls.Department, cls.Division, 0, 0); err != nil {
			return err
		}
		teacher, err := cli.usrRepo.GetUserByUsername(ctx, teacherUname)
		if err != nil {
			return err
		}

		roster := make([]string, 0, 10)
		for roll := 1; roll <= 10; roll++ {
			uname := fmt.Sprintf("student.%s.%02d", slug, roll)
			if err = cli.seedUser(ctx, fmt.Sprintf("Student %s %d", cls.Division, roll), uname, uname+"@elimu.cd",
				user.StudentRoles, cls.Department, cls.Division, 2, roll); err != nil {
				return err
			}
			student, err := cli.usrRepo.GetUserByUsername(ctx, uname)
			if err != nil {
				return err
			}
			roster = append(roster, student.ID)
		}

		name := seedCourseNames[i%len(seedCourseNames)]
		code := fmt.Sprintf("%s%d", strings.ToUpper(slug[:2]), 200+i)
		if err = cli.seedCourse(ctx, code, name, cls.Department, cls.Division, teacher.ID, roster); err != nil {
			return err
		}
	}

	logger.Println("seed data loaded")
	return nil
}

func (cli *commandLine) seedUser(
	ctx context.Context,
	name, uname, email string,
	roles []string,
	department, division string,
	year, roll int,
) error {
	if _, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname); err == nil {
		return nil // already seeded
	} else if err != user.ErrNotFound {
		return err
	}

	usr := user.User{
		ID:         uuid.New().String(),
		Name:       name,
		Username:   uname,
		Email:      email,
		IsActive:   true,
		Roles:      roles,
		Department: department,
		Division:   division,
		Year:       year,
		RollNumber: roll,
		CreatedAt:  time.Now().UTC(),
	}
	if err := usr.SetPassword(seedPassword); err != nil {
		return err
	}
	return cli.usrRepo.CreateUser(ctx, usr)
}

func (cli *commandLine) seedCourse(
	ctx context.Context,
	code, name, department, division, teacherID string,
	roster []string,
) error {
	if len(roster) > 0 {
		courses, err := cli.attRepo.QueryStudentCourses(ctx, roster[0])
		if err != nil {
			return err
		}
		for _, c := range courses {
			if c.Code == code {
				return nil // already seeded
			}
		}
	}

	course := attendance.Course{
		ID:         uuid.New().String(),
		Code:       code,
		Name:       name,
		Department: department,
		Division:   division,
		Year:       2,
		TeacherID:  teacherID,
		Roster:     roster,
		CreatedAt:  time.Now().UTC(),
	}
	return cli.attRepo.CreateCourse(ctx, course)
}

func deptSlug(dept string) string {
	return strings.ReplaceAll(strings.ToLower(dept), " ", "")
}
