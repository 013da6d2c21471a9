package verifysvc

import (
	"context"
	"sync"

	"github.com/trezcool/elimu/core"
)

// DummyService returns canned extraction and verification results. Used in
// tests and when no model API key is configured.
type DummyService struct {
	mutex  sync.Mutex
	Fields core.ExtractedFields
	Result core.VerificationResult
	Err    error

	verified []core.StudentContext
}

var (
	_ core.DocumentExtractor = (*DummyService)(nil)
	_ core.DocumentVerifier  = (*DummyService)(nil)
)

func NewDummyService() *DummyService {
	return &DummyService{
		Result: core.VerificationResult{
			Verified:          true,
			Confidence:        75,
			Reasoning:         "document looks consistent",
			RecommendedAction: core.RecommendApprove,
		},
	}
}

func (svc *DummyService) Extract(_ context.Context, _ string) (core.ExtractedFields, error) {
	if svc.Err != nil {
		return core.ExtractedFields{}, svc.Err
	}
	return svc.Fields, nil
}

func (svc *DummyService) Verify(_ context.Context, _ core.ExtractedFields, student core.StudentContext) (core.VerificationResult, error) {
	if svc.Err != nil {
		return core.VerificationResult{}, svc.Err
	}
	svc.mutex.Lock()
	svc.verified = append(svc.verified, student)
	svc.mutex.Unlock()
	return svc.Result, nil
}

// VerifiedStudents returns the contexts passed to Verify, in order.
func (svc *DummyService) VerifiedStudents() []core.StudentContext {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	out := make([]core.StudentContext, len(svc.verified))
	copy(out, svc.verified)
	return out
}
