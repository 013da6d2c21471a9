package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/user"
)

// runVerification extracts and verifies the supporting document. It returns
// nil when there is no document or the verifier is unavailable.
func (svc *service) runVerification(ctx context.Context, student user.User, lr *LeaveRequest) *core.VerificationResult {
	if lr.DocumentRef == "" || svc.verifier == nil {
		return nil
	}
	vctx, cancel := context.WithTimeout(ctx, svc.conf.Verification.Timeout)
	defer cancel()

	fields, err := svc.extractor.Extract(vctx, lr.DocumentRef)
	if err != nil {
		svc.logger.Warn("document extraction failed, skipping verification",
			"request", lr.ID, "err", core.CollaboratorUnavailable{Collaborator: "extractor", Err: err})
		return nil
	}
	vr, err := svc.verifier.Verify(vctx, fields, core.StudentContext{
		StudentID:  student.ID,
		Name:       student.Name,
		Department: student.Department,
		Division:   student.Division,
		Year:       student.Year,
	})
	if err != nil {
		svc.logger.Warn("document verification failed, routing for manual review",
			"request", lr.ID, "err", core.CollaboratorUnavailable{Collaborator: "verifier", Err: err})
		return nil
	}

	if entry, aerr := svc.anchors.Anchor(vctx, []byte(lr.DocumentRef), mustJSON(vr)); aerr == nil {
		vr.AnchorRef = entry.Ref
	}
	if err = svc.repo.SetVerification(ctx, lr.ID, vr); err != nil {
		svc.logger.Error("persisting verification result", "request", lr.ID, "err", err)
		return &vr
	}
	lr.Verification = &vr
	return &vr
}

// route applies the confidence policy to a freshly submitted request.
func (svc *service) route(ctx context.Context, student user.User, lr LeaveRequest, vr *core.VerificationResult) (LeaveRequest, error) {
	pol := svc.conf.Verification

	if vr != nil && (vr.Confidence < pol.AutoRejectBelow || vr.RecommendedAction == core.RecommendReject) {
		d := Decision{
			Approved:  false,
			DecidedAt: time.Now().UTC(),
			Comments:  fmt.Sprintf("Automatically rejected: %s (confidence %d%%)", vr.Reasoning, vr.Confidence),
		}
		rejected, err := svc.repo.TransitionStatus(ctx, lr.ID, StatusPending, StatusRejected, StageTeacher, d)
		if err != nil {
			return LeaveRequest{}, errors.Wrap(err, "auto-rejecting leave request")
		}
		svc.anchorEvent(ctx, &rejected, EventAutoRejected, d)
		svc.notifyStudent(ctx, student, &rejected,
			"Your leave request was rejected by the automated document check.\nReason: "+vr.Reasoning)
		return rejected, nil
	}

	if vr != nil && pol.FastTrack && vr.Confidence >= pol.FastTrackAbove && vr.RecommendedAction == core.RecommendApprove {
		d := Decision{
			Approved:  true,
			DecidedAt: time.Now().UTC(),
			Comments:  fmt.Sprintf("Fast-tracked: document verified with %d%% confidence", vr.Confidence),
		}
		advanced, err := svc.repo.TransitionStatus(ctx, lr.ID, StatusPending, StatusApprovedByTeacher, StageTeacher, d)
		if err != nil {
			return LeaveRequest{}, errors.Wrap(err, "fast-tracking leave request")
		}
		svc.anchorEvent(ctx, &advanced, EventTeacherDecision, d)
		svc.notifyHod(ctx, student, &advanced)
		return advanced, nil
	}

	svc.notifyTeacher(ctx, student, &lr, vr)
	if vr != nil && vr.Confidence < pol.NotifyBelow {
		svc.notifyStudent(ctx, student, &lr,
			fmt.Sprintf("Your supporting document scored low on the automated check (%d%% confidence). "+
				"Your class teacher may ask for more information.", vr.Confidence))
	}
	return lr, nil
}

