package echoapi

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/leave"
)

type leaveApi struct {
	opts *Options
}

func registerLeaveAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := leaveApi{opts: opts}

	lg := g.Group("/leave-requests", jwt)
	lg.POST("", api.submit)
	lg.GET("", api.query)
	lg.GET("/queue/teacher", api.teacherQueue, teacherMiddleware())
	lg.GET("/queue/hod", api.hodQueue, teacherMiddleware())
	lg.GET("/:id", api.retrieve)
	lg.PUT("/:id/approve/teacher", api.approveTeacher, teacherMiddleware())
	lg.PUT("/:id/approve/hod", api.approveHod, teacherMiddleware())
	lg.PUT("/:id/reject", api.reject, teacherMiddleware())
	lg.POST("/:id/reconcile", api.retryReconciliation, teacherMiddleware())

	g.GET("/anchors/:ref", api.lookupAnchor, jwt)
}

// submit accepts a multipart form: category, reason, start_date, end_date
// (YYYY-MM-DD) and an optional supporting document file.
func (api *leaveApi) submit(ctx echo.Context) error {
	student, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	nlr := leave.NewLeaveRequest{
		Category:  ctx.FormValue("category"),
		EventName: ctx.FormValue("event_name"),
		Reason:    ctx.FormValue("reason"),
	}
	if nlr.StartDate, err = parseDate(ctx.FormValue("start_date")); err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "start_date", Error: "invalid date, expected YYYY-MM-DD"})
	}
	if nlr.EndDate, err = parseDate(ctx.FormValue("end_date")); err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "end_date", Error: "invalid date, expected YYYY-MM-DD"})
	}

	if file, ferr := ctx.FormFile("document"); ferr == nil {
		src, err := file.Open()
		if err != nil {
			return errors.Wrap(err, "opening uploaded document")
		}
		defer func() { _ = src.Close() }()
		data, err := io.ReadAll(src)
		if err != nil {
			return errors.Wrap(err, "reading uploaded document")
		}
		ref, err := api.opts.FileStore.Store(ctx.Request().Context(), file.Filename, data)
		if err != nil {
			return errors.Wrap(err, "storing uploaded document")
		}
		nlr.DocumentRef = ref
	}

	lr, err := api.opts.LeaveSvc.Submit(ctx.Request().Context(), student, nlr)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, lr)
}

func (api *leaveApi) query(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := new(leave.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []leave.LeaveRequest{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	lrs, err := api.opts.LeaveSvc.Filter(ctx.Request().Context(), usr, *filter, ordering.Orderings...)
	if err != nil {
		return err
	}
	if lrs == nil {
		lrs = []leave.LeaveRequest{}
	}
	return ctx.JSON(http.StatusOK, lrs)
}

func (api *leaveApi) teacherQueue(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	lrs, err := api.opts.LeaveSvc.TeacherQueue(ctx.Request().Context(), usr)
	if err != nil {
		return err
	}
	if lrs == nil {
		lrs = []leave.LeaveRequest{}
	}
	return ctx.JSON(http.StatusOK, lrs)
}

func (api *leaveApi) hodQueue(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	lrs, err := api.opts.LeaveSvc.HodQueue(ctx.Request().Context(), usr)
	if err != nil {
		return err
	}
	if lrs == nil {
		lrs = []leave.LeaveRequest{}
	}
	return ctx.JSON(http.StatusOK, lrs)
}

func (api *leaveApi) retrieve(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	lr, err := api.opts.LeaveSvc.GetByID(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lr)
}

func (api *leaveApi) approveTeacher(ctx echo.Context) error {
	return api.decide(ctx, leave.StageTeacher, true)
}

func (api *leaveApi) approveHod(ctx echo.Context) error {
	return api.decide(ctx, leave.StageHod, true)
}

// reject dispatches on the request's current stage.
func (api *leaveApi) reject(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data DecisionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DecisionRequest")
	}

	lr, err := api.opts.LeaveSvc.Decide(ctx.Request().Context(), usr, ctx.Param("id"), core.ActionReject, data.Comments)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lr)
}

func (api *leaveApi) decide(ctx echo.Context, stage leave.Stage, approve bool) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data DecisionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DecisionRequest")
	}

	var lr leave.LeaveRequest
	if stage == leave.StageHod {
		lr, err = api.opts.LeaveSvc.DecideAsHod(ctx.Request().Context(), usr, ctx.Param("id"), approve, data.Comments)
	} else {
		lr, err = api.opts.LeaveSvc.DecideAsTeacher(ctx.Request().Context(), usr, ctx.Param("id"), approve, data.Comments)
	}
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lr)
}

func (api *leaveApi) retryReconciliation(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.opts.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	lr, err := api.opts.LeaveSvc.RetryReconciliation(ctx.Request().Context(), usr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, lr)
}

func (api *leaveApi) lookupAnchor(ctx echo.Context) error {
	entry, err := api.opts.LeaveSvc.LookupAnchor(ctx.Request().Context(), ctx.Param("ref"))
	if err != nil {
		if errors.Is(err, core.ErrAnchorNotFound) {
			return errHttpNotFound
		}
		return err
	}
	return ctx.JSON(http.StatusOK, entry)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
