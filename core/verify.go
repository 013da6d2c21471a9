package core

import (
	"context"
	"time"
)

// Recommended actions a verifier may return.
const (
	RecommendApprove  = "approve"
	RecommendMoreInfo = "request_more_info"
	RecommendReject   = "reject"
)

type (
	// ExtractedFields is the structured reading of an evidentiary document.
	ExtractedFields struct {
		EventName     string    `json:"event_name"`
		Organizer     string    `json:"organizer"`
		Venue         string    `json:"venue,omitempty"`
		DocumentType  string    `json:"document_type"`
		ContactPerson string    `json:"contact_person,omitempty"`
		StartDate     time.Time `json:"start_date,omitempty"`
		EndDate       time.Time `json:"end_date,omitempty"`
	}

	// StudentContext gives the verifier the claimed participant's identity.
	StudentContext struct {
		StudentID  string `json:"student_id"`
		Name       string `json:"name"`
		Department string `json:"department"`
		Division   string `json:"division"`
		Year       int    `json:"year"`
	}

	// VerificationResult is produced once, before any human decision, and
	// never mutated afterwards except to attach an audit-anchor reference.
	VerificationResult struct {
		Verified          bool   `json:"verified"`
		Confidence        int    `json:"confidence"` // 0 - 100
		Reasoning         string `json:"reasoning"`
		RecommendedAction string `json:"recommended_action"`
		AnchorRef         string `json:"anchor_ref,omitempty"`
	}

	// DocumentExtractor turns a stored document into structured fields.
	DocumentExtractor interface {
		Extract(ctx context.Context, documentRef string) (ExtractedFields, error)
	}

	// DocumentVerifier scores the authenticity/plausibility of extracted
	// fields against the claimed student context.
	DocumentVerifier interface {
		Verify(ctx context.Context, fields ExtractedFields, student StudentContext) (VerificationResult, error)
	}
)
