package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/elimu/core"
)

// Reconcile converts the student's absences to excused absences for every
// session held within [start, end], across the given courses, and rebuilds
// the affected counters. Sessions where the student was present or already
// excused are left alone, so the operation is idempotent.
//
// Courses reconcile concurrently and independently. A failure in one course
// does not stop the others; the first error is returned once all are done.
func (svc *service) Reconcile(ctx context.Context, studentID string, courseIDs []string, start, end time.Time) error {
	days := core.DaysInRange(start, end)
	if len(days) == 0 {
		return core.NewValidationError(errors.New("invalid date range"))
	}

	// resolve the snapshotted IDs; courses removed since then are skipped
	courses, err := svc.repo.QueryCoursesByID(ctx, courseIDs...)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}

	var g errgroup.Group
	for _, course := range courses {
		courseID := course.ID
		g.Go(func() error {
			return svc.reconcileCourse(ctx, studentID, courseID, days)
		})
	}
	return g.Wait()
}

func (svc *service) reconcileCourse(ctx context.Context, studentID, courseID string, days []time.Time) error {
	var changed bool
	for _, day := range days {
		moved, err := svc.repo.ExcuseAbsence(ctx, courseID, day, studentID)
		if err != nil {
			return errors.Wrapf(err, "excusing absence in course %s on %s", courseID, day.Format("2006-01-02"))
		}
		changed = changed || moved
	}
	// recompute even when nothing moved in this run: an earlier run may
	// have excused sessions and failed before the counters were rebuilt
	if err := svc.recomputeAggregate(ctx, studentID, courseID); err != nil {
		return errors.Wrapf(err, "recomputing aggregate for course %s", courseID)
	}
	if changed {
		svc.logger.Info("attendance reconciled", "student", studentID, "course", courseID)
	}
	return nil
}
