package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/elimu/core"
	"github.com/trezcool/elimu/core/leave"
)

type leaveRepository struct {
	db *leaveTable
}

var _ leave.Repository = (*leaveRepository)(nil)

func NewLeaveRepository(db *DB) *leaveRepository {
	return &leaveRepository{db: db.leave}
}

func (repo *leaveRepository) CreateRequest(_ context.Context, lr leave.LeaveRequest) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	repo.db.table[lr.ID] = &lr
	return nil
}

func (repo *leaveRepository) GetRequestByID(_ context.Context, id string) (leave.LeaveRequest, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if lr, ok := repo.db.table[id]; ok {
		return *lr, nil
	}
	return leave.LeaveRequest{}, leave.ErrNotFound
}

func (repo *leaveRepository) QueryStudentRequests(ctx context.Context, studentID string) ([]leave.LeaveRequest, error) {
	return repo.FilterRequests(ctx, leave.QueryFilter{StudentID: studentID})
}

func (repo *leaveRepository) FilterRequests(_ context.Context, filter leave.QueryFilter, ordering ...core.DBOrdering) ([]leave.LeaveRequest, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var out []leave.LeaveRequest
	for _, lr := range repo.db.table {
		if matchesLeaveFilter(*lr, filter) {
			out = append(out, *lr)
		}
	}

	asc := true
	if len(ordering) > 0 {
		asc = ordering[0].Ascending
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func matchesLeaveFilter(lr leave.LeaveRequest, filter leave.QueryFilter) bool {
	if filter.StudentID != "" && lr.StudentID != filter.StudentID {
		return false
	}
	if filter.StudentIDs != nil {
		var match bool
		for _, id := range filter.StudentIDs {
			if lr.StudentID == id {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if filter.Status != "" && lr.Status != filter.Status {
		return false
	}
	if filter.Category != "" && lr.Category != filter.Category {
		return false
	}
	return true
}

func (repo *leaveRepository) TransitionStatus(_ context.Context, id string, from, to leave.Status, stage leave.Stage, d leave.Decision) (leave.LeaveRequest, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	lr, ok := repo.db.table[id]
	if !ok {
		return leave.LeaveRequest{}, leave.ErrNotFound
	}
	if lr.Status != from {
		return leave.LeaveRequest{}, leave.ErrStatusConflict
	}

	lr.Status = to
	if stage == leave.StageHod {
		lr.HodDecision = &d
	} else {
		lr.TeacherDecision = &d
	}
	lr.UpdatedAt = time.Now().UTC()
	return *lr, nil
}

func (repo *leaveRepository) SetVerification(_ context.Context, id string, vr core.VerificationResult) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	lr, ok := repo.db.table[id]
	if !ok {
		return leave.ErrNotFound
	}
	lr.Verification = &vr
	lr.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *leaveRepository) AppendAnchor(_ context.Context, id string, ref leave.AnchorRef) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	lr, ok := repo.db.table[id]
	if !ok {
		return leave.ErrNotFound
	}
	lr.Anchors = append(lr.Anchors, ref)
	return nil
}

func (repo *leaveRepository) SetReconciliationPending(_ context.Context, id string, pending bool) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	lr, ok := repo.db.table[id]
	if !ok {
		return leave.ErrNotFound
	}
	lr.ReconciliationPending = pending
	lr.UpdatedAt = time.Now().UTC()
	return nil
}
