package leave

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/attendance"
	"github.com/trezcool/elimu/core/user"
)

var (
	ErrNotFound = core.NewNotFoundError("leave request not found")

	// ErrStatusConflict is returned by Repository.TransitionStatus when the
	// request is no longer in the expected status.
	ErrStatusConflict = core.NewInvalidStateError("leave request status changed, please reload")
)

type (
	// Repository encapsulates the storage of LeaveRequests.
	Repository interface {
		CreateRequest(ctx context.Context, lr LeaveRequest) error
		GetRequestByID(ctx context.Context, id string) (LeaveRequest, error)
		QueryStudentRequests(ctx context.Context, studentID string) ([]LeaveRequest, error)
		FilterRequests(ctx context.Context, filter QueryFilter, ordering ...core.DBOrdering) ([]LeaveRequest, error)
		// TransitionStatus atomically moves the request from the expected
		// status to the next one, recording the decision for the stage. It
		// fails with ErrStatusConflict when the stored status differs from
		// the expected one.
		TransitionStatus(ctx context.Context, id string, from, to Status, stage Stage, d Decision) (LeaveRequest, error)
		SetVerification(ctx context.Context, id string, vr core.VerificationResult) error
		AppendAnchor(ctx context.Context, id string, ref AnchorRef) error
		SetReconciliationPending(ctx context.Context, id string, pending bool) error
	}

	ServiceInterface interface {
		Submit(ctx context.Context, student user.User, nlr NewLeaveRequest) (LeaveRequest, error)
		GetByID(ctx context.Context, actor user.User, id string) (LeaveRequest, error)
		StudentRequests(ctx context.Context, actor user.User, studentID string) ([]LeaveRequest, error)
		TeacherQueue(ctx context.Context, actor user.User) ([]LeaveRequest, error)
		HodQueue(ctx context.Context, actor user.User) ([]LeaveRequest, error)
		Filter(ctx context.Context, actor user.User, filter QueryFilter, ordering ...core.DBOrdering) ([]LeaveRequest, error)
		Decide(ctx context.Context, actor user.User, id, action, comments string) (LeaveRequest, error)
		DecideAsTeacher(ctx context.Context, actor user.User, id string, approve bool, comments string) (LeaveRequest, error)
		DecideAsHod(ctx context.Context, actor user.User, id string, approve bool, comments string) (LeaveRequest, error)
		RetryReconciliation(ctx context.Context, actor user.User, id string) (LeaveRequest, error)
		LookupAnchor(ctx context.Context, ref string) (core.AnchorEntry, error)
	}

	service struct {
		conf      *core.Config
		repo      Repository
		usrSvc    user.ServiceInterface
		attSvc    attendance.ServiceInterface
		extractor core.DocumentExtractor
		verifier  core.DocumentVerifier
		anchors   core.AnchorService
		files     core.FileStore
		notifier  core.Notifier
		logger    core.Logger
		validate  *validator.Validate
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	usrSvc user.ServiceInterface,
	attSvc attendance.ServiceInterface,
	extractor core.DocumentExtractor,
	verifier core.DocumentVerifier,
	anchors core.AnchorService,
	files core.FileStore,
	notifier core.Notifier,
	logger core.Logger,
	validate *validator.Validate,
) *service {
	return &service{
		conf:      conf,
		repo:      repo,
		usrSvc:    usrSvc,
		attSvc:    attSvc,
		extractor: extractor,
		verifier:  verifier,
		anchors:   anchors,
		files:     files,
		notifier:  notifier,
		logger:    logger,
		validate:  validate,
	}
}

// Submit creates a new leave request for the student, runs the verification
// pre-screen on any supporting document and routes the request accordingly.
// A verifier outage never blocks submission.
func (svc *service) Submit(ctx context.Context, student user.User, nlr NewLeaveRequest) (LeaveRequest, error) {
	if !student.IsStudent() {
		return LeaveRequest{}, core.NewAuthorizationError("only students can submit leave requests")
	}
	if err := nlr.Validate(svc.validate); err != nil {
		return LeaveRequest{}, err
	}

	// snapshot enrollment now; reconciliation must not depend on later changes
	courses, err := svc.attSvc.StudentCourses(ctx, student.ID)
	if err != nil {
		return LeaveRequest{}, errors.Wrap(err, "snapshotting student courses")
	}
	courseIDs := make([]string, 0, len(courses))
	for _, c := range courses {
		courseIDs = append(courseIDs, c.ID)
	}

	now := time.Now().UTC()
	lr := LeaveRequest{
		ID:          uuid.New().String(),
		StudentID:   student.ID,
		Category:    nlr.Category,
		EventName:   nlr.EventName,
		Reason:      nlr.Reason,
		StartDate:   nlr.StartDate,
		EndDate:     nlr.EndDate,
		Days:        nlr.Days(),
		DocumentRef: nlr.DocumentRef,
		Courses:     courseIDs,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := svc.repo.CreateRequest(ctx, lr); err != nil {
		return LeaveRequest{}, errors.Wrap(err, "creating leave request")
	}
	svc.anchorEvent(ctx, &lr, EventSubmitted, lr)

	vr := svc.runVerification(ctx, student, &lr)
	return svc.route(ctx, student, lr, vr)
}

func (svc *service) GetByID(ctx context.Context, actor user.User, id string) (LeaveRequest, error) {
	lr, err := svc.repo.GetRequestByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LeaveRequest{}, err
		}
		return LeaveRequest{}, errors.Wrapf(err, "getting leave request %s", id)
	}
	if actor.IsStudent() && actor.ID != lr.StudentID {
		return LeaveRequest{}, core.NewAuthorizationError("students can only view their own requests")
	}
	return lr, nil
}

func (svc *service) StudentRequests(ctx context.Context, actor user.User, studentID string) ([]LeaveRequest, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return nil, core.NewAuthorizationError("students can only view their own requests")
	}
	lrs, err := svc.repo.QueryStudentRequests(ctx, studentID)
	if err != nil {
		return nil, errors.Wrapf(err, "querying requests for student %s", studentID)
	}
	return lrs, nil
}

// TeacherQueue lists requests pending the class teacher's review, scoped to
// the teacher's division.
func (svc *service) TeacherQueue(ctx context.Context, actor user.User) ([]LeaveRequest, error) {
	if !actor.IsClassTeacher() && !actor.IsAdmin() {
		return nil, core.NewAuthorizationError("only class teachers can view this queue")
	}
	return svc.scopedQueue(ctx, actor, StatusPending, user.QueryFilter{Division: actor.Division, Roles: user.StudentRoles})
}

// HodQueue lists requests pending the HOD's review, scoped to the HOD's
// department.
func (svc *service) HodQueue(ctx context.Context, actor user.User) ([]LeaveRequest, error) {
	if !actor.IsHOD() && !actor.IsAdmin() {
		return nil, core.NewAuthorizationError("only HODs can view this queue")
	}
	return svc.scopedQueue(ctx, actor, StatusApprovedByTeacher, user.QueryFilter{Department: actor.Department, Roles: user.StudentRoles})
}

func (svc *service) scopedQueue(ctx context.Context, actor user.User, status Status, uf user.QueryFilter) ([]LeaveRequest, error) {
	filter := QueryFilter{Status: status}
	if !actor.IsAdmin() {
		students, err := svc.usrSvc.Filter(ctx, uf)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(students))
		for _, s := range students {
			ids = append(ids, s.ID)
		}
		if len(ids) == 0 {
			return []LeaveRequest{}, nil
		}
		filter.StudentIDs = ids
	}
	lrs, err := svc.repo.FilterRequests(ctx, filter, core.DBOrdering{Field: "created_at", Ascending: true})
	if err != nil {
		return nil, errors.Wrap(err, "filtering leave requests")
	}
	return lrs, nil
}

func (svc *service) Filter(ctx context.Context, actor user.User, filter QueryFilter, ordering ...core.DBOrdering) ([]LeaveRequest, error) {
	if actor.IsStudent() {
		filter.StudentID = actor.ID
		filter.StudentIDs = nil
	}
	lrs, err := svc.repo.FilterRequests(ctx, filter, ordering...)
	if err != nil {
		return nil, errors.Wrap(err, "filtering leave requests")
	}
	return lrs, nil
}

// Decide dispatches a chat-style action string to the matching stage.
func (svc *service) Decide(ctx context.Context, actor user.User, id, action, comments string) (LeaveRequest, error) {
	switch action {
	case core.ActionApproveTeacher:
		return svc.DecideAsTeacher(ctx, actor, id, true, comments)
	case core.ActionApproveHod:
		return svc.DecideAsHod(ctx, actor, id, true, comments)
	case core.ActionReject:
		lr, err := svc.GetByID(ctx, actor, id)
		if err != nil {
			return LeaveRequest{}, err
		}
		if lr.Status == StatusApprovedByTeacher {
			return svc.DecideAsHod(ctx, actor, id, false, comments)
		}
		return svc.DecideAsTeacher(ctx, actor, id, false, comments)
	}
	return LeaveRequest{}, core.NewValidationError(errors.Errorf("unknown action %q", action))
}

// DecideAsTeacher records the class teacher's verdict on a pending request.
func (svc *service) DecideAsTeacher(ctx context.Context, actor user.User, id string, approve bool, comments string) (LeaveRequest, error) {
	lr, err := svc.GetByID(ctx, actor, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	student, err := svc.usrSvc.GetByID(ctx, lr.StudentID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if err = svc.authorizeStage(actor, student, StageTeacher); err != nil {
		return LeaveRequest{}, err
	}

	next := StatusApprovedByTeacher
	if !approve {
		next = StatusRejected
	}
	if !lr.Status.CanTransitionTo(next) {
		return LeaveRequest{}, core.NewInvalidStateError(
			fmt.Sprintf("cannot move request from %q to %q", lr.Status, next))
	}

	d := Decision{Approved: approve, DecidedBy: actor.ID, DecidedAt: time.Now().UTC(), Comments: comments}
	decided, err := svc.repo.TransitionStatus(ctx, id, StatusPending, next, StageTeacher, d)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return LeaveRequest{}, err
		}
		return LeaveRequest{}, errors.Wrapf(err, "deciding leave request %s", id)
	}
	svc.anchorEvent(ctx, &decided, EventTeacherDecision, d)

	if approve {
		svc.notifyHod(ctx, student, &decided)
		svc.notifyStudent(ctx, student, &decided, "Your leave request was approved by your class teacher and forwarded to the HOD.")
	} else {
		svc.notifyStudent(ctx, student, &decided, rejectionMessage(comments))
	}
	return decided, nil
}

// DecideAsHod records the HOD's verdict. Final approval triggers attendance
// reconciliation; if that fails the request keeps its approved status and is
// flagged for a retry.
func (svc *service) DecideAsHod(ctx context.Context, actor user.User, id string, approve bool, comments string) (LeaveRequest, error) {
	lr, err := svc.GetByID(ctx, actor, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	student, err := svc.usrSvc.GetByID(ctx, lr.StudentID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if err = svc.authorizeStage(actor, student, StageHod); err != nil {
		return LeaveRequest{}, err
	}

	next := StatusApprovedByHod
	if !approve {
		next = StatusRejected
	}
	if !lr.Status.CanTransitionTo(next) {
		return LeaveRequest{}, core.NewInvalidStateError(
			fmt.Sprintf("cannot move request from %q to %q", lr.Status, next))
	}

	d := Decision{Approved: approve, DecidedBy: actor.ID, DecidedAt: time.Now().UTC(), Comments: comments}
	decided, err := svc.repo.TransitionStatus(ctx, id, StatusApprovedByTeacher, next, StageHod, d)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return LeaveRequest{}, err
		}
		return LeaveRequest{}, errors.Wrapf(err, "deciding leave request %s", id)
	}
	svc.anchorEvent(ctx, &decided, EventHodDecision, d)

	if !approve {
		svc.notifyStudent(ctx, student, &decided, rejectionMessage(comments))
		return decided, nil
	}

	if err = svc.attSvc.Reconcile(ctx, decided.StudentID, decided.Courses, decided.StartDate, decided.EndDate); err != nil {
		svc.logger.Error("attendance reconciliation failed, flagging for retry", "request", decided.ID, "err", err)
		if perr := svc.repo.SetReconciliationPending(ctx, decided.ID, true); perr != nil {
			svc.logger.Error("flagging reconciliation retry", "request", decided.ID, "err", perr)
		}
		decided.ReconciliationPending = true
	}
	svc.notifyStudent(ctx, student, &decided,
		"Your leave request was approved. Absences within the leave period have been marked excused.")
	return decided, nil
}

// RetryReconciliation re-runs the attendance update for an approved request
// whose earlier reconciliation failed.
func (svc *service) RetryReconciliation(ctx context.Context, actor user.User, id string) (LeaveRequest, error) {
	if !actor.IsAdmin() && !actor.IsHOD() {
		return LeaveRequest{}, core.NewAuthorizationError("not allowed")
	}
	lr, err := svc.GetByID(ctx, actor, id)
	if err != nil {
		return LeaveRequest{}, err
	}
	if lr.Status != StatusApprovedByHod {
		return LeaveRequest{}, core.NewInvalidStateError("request is not finally approved")
	}
	if !lr.ReconciliationPending {
		return lr, nil
	}
	if err = svc.attSvc.Reconcile(ctx, lr.StudentID, lr.Courses, lr.StartDate, lr.EndDate); err != nil {
		return LeaveRequest{}, errors.Wrapf(err, "reconciling attendance for request %s", id)
	}
	if err = svc.repo.SetReconciliationPending(ctx, lr.ID, false); err != nil {
		return LeaveRequest{}, errors.Wrap(err, "clearing reconciliation flag")
	}
	lr.ReconciliationPending = false
	return lr, nil
}

func (svc *service) LookupAnchor(ctx context.Context, ref string) (core.AnchorEntry, error) {
	entry, err := svc.anchors.Lookup(ctx, ref)
	if err != nil {
		if errors.Is(err, core.ErrAnchorNotFound) {
			return core.AnchorEntry{}, err
		}
		return core.AnchorEntry{}, errors.Wrapf(err, "looking up anchor %s", ref)
	}
	return entry, nil
}

func (svc *service) authorizeStage(actor user.User, student user.User, stage Stage) error {
	if actor.IsAdmin() {
		return nil
	}
	switch stage {
	case StageTeacher:
		if actor.IsClassTeacher() && actor.Division == student.Division {
			return nil
		}
		return core.NewAuthorizationError("only the student's class teacher can decide at this stage")
	case StageHod:
		if actor.IsHOD() && actor.Department == student.Department {
			return nil
		}
		return core.NewAuthorizationError("only the student's HOD can decide at this stage")
	}
	return core.NewAuthorizationError("not allowed")
}

// anchorEvent records a lifecycle event in the audit anchor and appends the
// resulting reference to the request. Anchor outages are recorded with an
// empty Ref so the event is still traceable.
func (svc *service) anchorEvent(ctx context.Context, lr *LeaveRequest, event string, payload interface{}) {
	meta := mustJSON(payload)
	subject := []byte(lr.ID + ":" + event)

	ref := AnchorRef{Event: event, Hash: core.Hash(meta), CreatedAt: time.Now().UTC()}
	actx, cancel := context.WithTimeout(ctx, svc.conf.Anchor.Timeout)
	defer cancel()
	entry, err := svc.anchors.Anchor(actx, subject, meta)
	if err != nil {
		svc.logger.Warn("anchoring failed, recording unanchored event",
			"request", lr.ID, "event", event,
			"err", core.CollaboratorUnavailable{Collaborator: "anchor", Err: err})
	} else {
		ref.Ref = entry.Ref
	}
	if err = svc.repo.AppendAnchor(ctx, lr.ID, ref); err != nil {
		svc.logger.Error("appending anchor ref", "request", lr.ID, "event", event, "err", err)
		return
	}
	lr.Anchors = append(lr.Anchors, ref)
}

func (svc *service) notifyTeacher(ctx context.Context, student user.User, lr *LeaveRequest, vr *core.VerificationResult) {
	teacher, err := svc.usrSvc.ClassTeacher(ctx, student.Division)
	if err != nil {
		svc.logger.Warn("no class teacher to notify", "division", student.Division, "err", err)
		return
	}
	msg := fmt.Sprintf("%s (%s, year %d) requests %d day(s) of %s leave from %s to %s.\nReason: %s",
		student.Name, student.Division, student.Year, lr.Days, lr.Category,
		lr.StartDate.Format("2006-01-02"), lr.EndDate.Format("2006-01-02"), lr.Reason)
	if vr != nil {
		msg += fmt.Sprintf("\n\nDocument check: %d%% confidence, recommends %s.\n%s",
			vr.Confidence, vr.RecommendedAction, vr.Reasoning)
	} else if lr.DocumentRef != "" {
		msg += "\n\nDocument check unavailable, please verify the attachment manually."
	}
	svc.notifier.Notify(ctx, core.Notification{
		Recipient: teacher.ID,
		Subject:   "New leave request",
		Message:   msg,
		Actions: []core.NotificationAction{
			{Label: "Approve", Action: core.ActionApproveTeacher, RequestID: lr.ID},
			{Label: "Reject", Action: core.ActionReject, RequestID: lr.ID},
		},
	})
}

func (svc *service) notifyHod(ctx context.Context, student user.User, lr *LeaveRequest) {
	hod, err := svc.usrSvc.HOD(ctx, student.Department)
	if err != nil {
		svc.logger.Warn("no HOD to notify", "department", student.Department, "err", err)
		return
	}
	svc.notifier.Notify(ctx, core.Notification{
		Recipient: hod.ID,
		Subject:   "Leave request awaiting HOD review",
		Message: fmt.Sprintf("%s (%s) requests %d day(s) of %s leave from %s to %s, approved by the class teacher.",
			student.Name, student.Department, lr.Days, lr.Category,
			lr.StartDate.Format("2006-01-02"), lr.EndDate.Format("2006-01-02")),
		Actions: []core.NotificationAction{
			{Label: "Approve", Action: core.ActionApproveHod, RequestID: lr.ID},
			{Label: "Reject", Action: core.ActionReject, RequestID: lr.ID},
		},
	})
}

func (svc *service) notifyStudent(ctx context.Context, student user.User, lr *LeaveRequest, msg string) {
	svc.notifier.Notify(ctx, core.Notification{
		Recipient: student.ID,
		Subject:   fmt.Sprintf("Leave request update: %s", lr.Status.Label()),
		Message:   msg,
	})
}

func rejectionMessage(comments string) string {
	msg := "Your leave request was rejected."
	if comments != "" {
		msg += "\nComments: " + comments
	}
	return msg
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%+v", v))
	}
	return b
}
