package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/leave"
)

type leaveRow struct {
	ID          string         `db:"id"`
	StudentID   string         `db:"student_id"`
	Category    string         `db:"category"`
	EventName   string         `db:"event_name"`
	Reason      string         `db:"reason"`
	StartDate   time.Time      `db:"start_date"`
	EndDate     time.Time      `db:"end_date"`
	Days        int            `db:"days"`
	DocumentRef string         `db:"document_ref"`
	Courses     pq.StringArray `db:"courses"`

	Status          string `db:"status"`
	TeacherDecision []byte `db:"teacher_decision"`
	HodDecision     []byte `db:"hod_decision"`
	Verification    []byte `db:"verification"`
	Anchors         []byte `db:"anchors"`

	ReconciliationPending bool `db:"reconciliation_pending"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *leaveRow) toRequest() (leave.LeaveRequest, error) {
	lr := leave.LeaveRequest{
		ID:                    r.ID,
		StudentID:             r.StudentID,
		Category:              r.Category,
		EventName:             r.EventName,
		Reason:                r.Reason,
		StartDate:             r.StartDate.UTC(),
		EndDate:               r.EndDate.UTC(),
		Days:                  r.Days,
		DocumentRef:           r.DocumentRef,
		Courses:               r.Courses,
		Status:                leave.Status(r.Status),
		ReconciliationPending: r.ReconciliationPending,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}
	if err := unmarshalInto(r.TeacherDecision, &lr.TeacherDecision); err != nil {
		return leave.LeaveRequest{}, err
	}
	if err := unmarshalInto(r.HodDecision, &lr.HodDecision); err != nil {
		return leave.LeaveRequest{}, err
	}
	if err := unmarshalInto(r.Verification, &lr.Verification); err != nil {
		return leave.LeaveRequest{}, err
	}
	if len(r.Anchors) > 0 {
		if err := json.Unmarshal(r.Anchors, &lr.Anchors); err != nil {
			return leave.LeaveRequest{}, errors.Wrap(err, "unmarshalling anchors")
		}
	}
	return lr, nil
}

func unmarshalInto(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "unmarshalling leave request column")
	}
	return nil
}

const leaveColumns = `id, student_id, category, event_name, reason, start_date, end_date, days, document_ref,
	courses, status, teacher_decision, hod_decision, verification, anchors, reconciliation_pending,
	created_at, updated_at`

type leaveRepository struct {
	db *sqlx.DB
}

var _ leave.Repository = (*leaveRepository)(nil)

func NewLeaveRepository(db *sqlx.DB) *leaveRepository {
	return &leaveRepository{db: db}
}

func (repo *leaveRepository) CreateRequest(ctx context.Context, lr leave.LeaveRequest) error {
	anchors, err := json.Marshal(lr.Anchors)
	if err != nil {
		return errors.Wrap(err, "marshalling anchors")
	}
	query := `
		INSERT INTO leave_request (` + leaveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, NULL, $12, $13, $14, $15)`
	_, err = repo.db.ExecContext(ctx, query,
		lr.ID, lr.StudentID, lr.Category, lr.EventName, lr.Reason, lr.StartDate, lr.EndDate, lr.Days, lr.DocumentRef,
		pq.StringArray(lr.Courses), string(lr.Status), anchors, lr.ReconciliationPending, lr.CreatedAt, lr.UpdatedAt,
	)
	return err
}

func (repo *leaveRepository) GetRequestByID(ctx context.Context, id string) (leave.LeaveRequest, error) {
	var row leaveRow
	query := `SELECT ` + leaveColumns + ` FROM leave_request WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leave.LeaveRequest{}, leave.ErrNotFound
		}
		return leave.LeaveRequest{}, err
	}
	return row.toRequest()
}

func (repo *leaveRepository) QueryStudentRequests(ctx context.Context, studentID string) ([]leave.LeaveRequest, error) {
	return repo.FilterRequests(ctx, leave.QueryFilter{StudentID: studentID})
}

func (repo *leaveRepository) FilterRequests(ctx context.Context, filter leave.QueryFilter, ordering ...core.DBOrdering) ([]leave.LeaveRequest, error) {
	query := `SELECT ` + leaveColumns + ` FROM leave_request`
	var clauses []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StudentID != "" {
		clauses = append(clauses, "student_id = "+arg(filter.StudentID))
	}
	if filter.StudentIDs != nil {
		clauses = append(clauses, "student_id = ANY("+arg(pq.StringArray(filter.StudentIDs))+")")
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+arg(string(filter.Status)))
	}
	if filter.Category != "" {
		clauses = append(clauses, "category = "+arg(filter.Category))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += orderBy(ordering, "created_at DESC")

	var rows []leaveRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]leave.LeaveRequest, 0, len(rows))
	for i := range rows {
		lr, err := rows[i].toRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, nil
}

// TransitionStatus performs a compare-and-swap on the status column so
// concurrent decisions cannot both land.
func (repo *leaveRepository) TransitionStatus(ctx context.Context, id string, from, to leave.Status, stage leave.Stage, d leave.Decision) (leave.LeaveRequest, error) {
	decision, err := json.Marshal(d)
	if err != nil {
		return leave.LeaveRequest{}, errors.Wrap(err, "marshalling decision")
	}
	column := "teacher_decision"
	if stage == leave.StageHod {
		column = "hod_decision"
	}
	query := `
		UPDATE leave_request
		SET status = $3, ` + column + ` = $4, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + leaveColumns

	var row leaveRow
	err = repo.db.GetContext(ctx, &row, query, id, string(from), string(to), decision, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// request is gone or the status moved under us
			if _, gerr := repo.GetRequestByID(ctx, id); gerr != nil {
				return leave.LeaveRequest{}, gerr
			}
			return leave.LeaveRequest{}, leave.ErrStatusConflict
		}
		return leave.LeaveRequest{}, err
	}
	return row.toRequest()
}

func (repo *leaveRepository) SetVerification(ctx context.Context, id string, vr core.VerificationResult) error {
	verification, err := json.Marshal(vr)
	if err != nil {
		return errors.Wrap(err, "marshalling verification")
	}
	query := `UPDATE leave_request SET verification = $2, updated_at = $3 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, verification, time.Now().UTC())
	if err != nil {
		return err
	}
	return checkFound(res, leave.ErrNotFound)
}

func (repo *leaveRepository) AppendAnchor(ctx context.Context, id string, ref leave.AnchorRef) error {
	anchor, err := json.Marshal(ref)
	if err != nil {
		return errors.Wrap(err, "marshalling anchor ref")
	}
	query := `
		UPDATE leave_request
		SET anchors = COALESCE(anchors, '[]'::jsonb) || $2::jsonb
		WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, anchor)
	if err != nil {
		return err
	}
	return checkFound(res, leave.ErrNotFound)
}

func (repo *leaveRepository) SetReconciliationPending(ctx context.Context, id string, pending bool) error {
	query := `UPDATE leave_request SET reconciliation_pending = $2, updated_at = $3 WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id, pending, time.Now().UTC())
	if err != nil {
		return err
	}
	return checkFound(res, leave.ErrNotFound)
}
