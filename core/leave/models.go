package leave

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/elimu/core"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusApprovedByTeacher Status = "approved_by_teacher"
	StatusApprovedByHod     Status = "approved_by_hod"
	StatusRejected          Status = "rejected"
)

// CanTransitionTo reports whether the move from s to next is legal.
// Approval only ever advances one stage; rejection is allowed from any
// non-final status; final statuses admit nothing.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApprovedByTeacher || next == StatusRejected
	case StatusApprovedByTeacher:
		return next == StatusApprovedByHod || next == StatusRejected
	default:
		return false
	}
}

// IsFinal reports whether the status admits no further transitions.
func (s Status) IsFinal() bool {
	return s == StatusApprovedByHod || s == StatusRejected
}

func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending class teacher review"
	case StatusApprovedByTeacher:
		return "Approved by class teacher, pending HOD review"
	case StatusApprovedByHod:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	}
	return string(s)
}

type Stage string

const (
	StageTeacher Stage = "teacher"
	StageHod     Stage = "hod"
)

// Leave categories.
const (
	CategoryMedical  = "medical"
	CategoryEvent    = "event"
	CategoryFamily   = "family"
	CategoryPersonal = "personal"
)

var Categories = []string{CategoryMedical, CategoryEvent, CategoryFamily, CategoryPersonal}

// Decision records one reviewer's verdict at one stage. A decision made by
// the routing policy rather than a person carries an empty DecidedBy.
type Decision struct {
	Approved  bool      `json:"approved"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
	Comments  string    `json:"comments,omitempty"`
}

// System reports whether the decision was made automatically.
func (d *Decision) System() bool { return d.DecidedBy == "" }

// AnchorRef links a lifecycle event to its entry in the audit anchor.
type AnchorRef struct {
	Event     string    `json:"event"`
	Hash      string    `json:"hash"`
	Ref       string    `json:"ref,omitempty"` // empty when anchoring failed
	CreatedAt time.Time `json:"created_at"`
}

// Anchored events.
const (
	EventSubmitted       = "submitted"
	EventTeacherDecision = "teacher_decision"
	EventHodDecision     = "hod_decision"
	EventAutoRejected    = "auto_rejected"
)

type LeaveRequest struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Category    string    `json:"category"`
	EventName   string    `json:"event_name,omitempty"`
	Reason      string    `json:"reason"`
	StartDate   time.Time `json:"start_date"` // UTC midnight
	EndDate     time.Time `json:"end_date"`   // UTC midnight
	Days        int       `json:"days"`
	DocumentRef string    `json:"document_ref,omitempty"`

	// Courses snapshots the student's enrolled course IDs at submission
	// time; reconciliation reads this list, never a later lookup.
	Courses []string `json:"courses,omitempty"`

	Status          Status    `json:"status"`
	TeacherDecision *Decision `json:"teacher_decision,omitempty"`
	HodDecision     *Decision `json:"hod_decision,omitempty"`

	Verification *core.VerificationResult `json:"verification,omitempty"`
	Anchors      []AnchorRef              `json:"anchors,omitempty"`

	// ReconciliationPending flags a finally-approved request whose
	// attendance update failed and awaits a retry.
	ReconciliationPending bool `json:"reconciliation_pending,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// DecisionFor returns the decision slot for the given stage.
func (lr *LeaveRequest) DecisionFor(stage Stage) *Decision {
	if stage == StageHod {
		return lr.HodDecision
	}
	return lr.TeacherDecision
}

// NewLeaveRequest contains information needed to submit a LeaveRequest.
type NewLeaveRequest struct {
	Category  string    `json:"category" validate:"required,oneof=medical event family personal"`
	EventName string    `json:"event_name"`
	Reason    string    `json:"reason" validate:"required,min=10"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`

	// DocumentRef points at a previously stored supporting document.
	DocumentRef string `json:"document_ref"`
}

func (nlr *NewLeaveRequest) Validate(validate *validator.Validate) error {
	nlr.Category = core.CleanString(nlr.Category, true /* lower */)
	nlr.EventName = core.CleanString(nlr.EventName)
	nlr.Reason = core.CleanString(nlr.Reason)
	nlr.StartDate = core.Day(nlr.StartDate)
	nlr.EndDate = core.Day(nlr.EndDate)

	if err := validate.Struct(nlr); err != nil {
		return err
	}
	if nlr.EndDate.Before(nlr.StartDate) {
		return core.NewValidationError(nil, core.FieldError{Field: "end_date", Error: "must not be before start_date"})
	}
	return nil
}

// Days returns the inclusive calendar day count of the requested range.
func (nlr *NewLeaveRequest) Days() int {
	return len(core.DaysInRange(nlr.StartDate, nlr.EndDate))
}

type QueryFilter struct {
	StudentID  string   `query:"student_id"`
	StudentIDs []string `query:"-"`
	Status     Status   `query:"status"`
	Category   string   `query:"category"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.StudentID == "" && qf.StudentIDs == nil && qf.Status == "" && qf.Category == ""
}
