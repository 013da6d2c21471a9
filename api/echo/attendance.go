package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core/attendance"
)

type attendanceApi struct {
	opts *Options
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := attendanceApi{opts: opts}

	cg := g.Group("/courses", jwt)
	cg.POST("", api.createCourse, adminMiddleware())
	cg.GET("/:id", api.retrieveCourse, teacherMiddleware())
	cg.GET("/:id/report", api.courseReport, teacherMiddleware())

	ag := g.Group("/attendance", jwt)
	ag.POST("/sessions", api.markSession, teacherMiddleware())
	ag.PUT("/sessions/status", api.setStudentStatus, teacherMiddleware())
	ag.GET("/students/:id", api.studentReport)
}

func (api *attendanceApi) createCourse(ctx echo.Context) error {
	var data attendance.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	course, err := api.opts.AttendanceSvc.CreateCourse(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, course)
}

func (api *attendanceApi) retrieveCourse(ctx echo.Context) error {
	course, err := api.opts.AttendanceSvc.GetCourse(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, course)
}

func (api *attendanceApi) courseReport(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	aggs, err := api.opts.AttendanceSvc.CourseReport(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, aggs)
}

func (api *attendanceApi) markSession(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data attendance.MarkSheet
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkSheet")
	}
	sess, err := api.opts.AttendanceSvc.MarkSession(ctx.Request().Context(), usr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) setStudentStatus(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data StatusCorrectionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusCorrectionRequest")
	}
	sess, err := api.opts.AttendanceSvc.SetStudentStatus(
		ctx.Request().Context(), usr, data.CourseID, data.Date, data.StudentID, data.Status)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) studentReport(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	aggs, err := api.opts.AttendanceSvc.StudentReport(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return err
	}
	if aggs == nil {
		aggs = []attendance.Aggregate{}
	}
	return ctx.JSON(http.StatusOK, aggs)
}
