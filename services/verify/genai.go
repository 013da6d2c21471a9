package verifysvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/trezcool/elimu/core"
)

// suspicious markers in model reasoning cap the confidence score so a
// glowing verdict over a doctored document still lands in manual review.
var suspiciousMarkers = []string{
	"edited", "tampered", "altered", "inconsistent", "mismatch",
	"forged", "photoshop", "suspicious", "fabricated",
}

const maxSuspiciousConfidence = 50

type genaiService struct {
	client *genai.Client
	model  string
	files  core.FileStore
	logger core.Logger
}

var (
	_ core.DocumentExtractor = (*genaiService)(nil)
	_ core.DocumentVerifier  = (*genaiService)(nil)
)

func NewGenAIService(ctx context.Context, conf *core.Config, files core.FileStore, logger core.Logger) (*genaiService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: conf.GenAIAPIKey})
	if err != nil {
		return nil, errors.Wrap(err, "creating genai client")
	}
	return &genaiService{
		client: client,
		model:  conf.GenAIModel,
		files:  files,
		logger: logger,
	}, nil
}

// Extract pulls structured fields out of a stored supporting document.
func (svc *genaiService) Extract(ctx context.Context, documentRef string) (core.ExtractedFields, error) {
	data, err := svc.files.Open(ctx, documentRef)
	if err != nil {
		return core.ExtractedFields{}, errors.Wrapf(err, "opening document %s", documentRef)
	}

	prompt := `Extract the following fields from this supporting document as JSON:
{"event_name": "", "organizer": "", "venue": "", "document_type": "", "contact_person": "", "start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"}
Use empty strings for fields that are not present. Respond with JSON only.`

	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(data, mimeType(documentRef)),
			genai.NewPartFromText(prompt),
		},
	}}
	resp, err := svc.client.Models.GenerateContent(ctx, svc.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return core.ExtractedFields{}, errors.Wrap(err, "extracting document fields")
	}

	var fields core.ExtractedFields
	if err = json.Unmarshal([]byte(stripJSONFences(resp.Text())), &fields); err != nil {
		return core.ExtractedFields{}, errors.Wrap(err, "parsing extracted fields")
	}
	return fields, nil
}

// Verify scores the extracted fields against the student's context.
func (svc *genaiService) Verify(ctx context.Context, fields core.ExtractedFields, student core.StudentContext) (core.VerificationResult, error) {
	fieldsJSON, _ := json.Marshal(fields)
	prompt := fmt.Sprintf(`You are verifying a supporting document attached to a student leave request.

Student: %s, department %s, division %s, year %d.
Extracted document fields: %s

Judge whether the document looks genuine and relevant to a leave of absence.
Respond with JSON only, exactly this shape:
{"verified": true|false, "confidence": 0-100, "reasoning": "...", "recommended_action": "approve"|"request_more_info"|"reject"}`,
		student.Name, student.Department, student.Division, student.Year, fieldsJSON)

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := svc.client.Models.GenerateContent(ctx, svc.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return core.VerificationResult{}, errors.Wrap(err, "verifying document")
	}

	var vr core.VerificationResult
	if err = json.Unmarshal([]byte(stripJSONFences(resp.Text())), &vr); err != nil {
		return core.VerificationResult{}, errors.Wrap(err, "parsing verification result")
	}
	if vr.Confidence < 0 {
		vr.Confidence = 0
	}
	if vr.Confidence > 100 {
		vr.Confidence = 100
	}
	switch vr.RecommendedAction {
	case core.RecommendApprove, core.RecommendMoreInfo, core.RecommendReject:
	default:
		vr.RecommendedAction = core.RecommendMoreInfo
	}

	if isSuspicious(vr.Reasoning) && vr.Confidence > maxSuspiciousConfidence {
		svc.logger.Warn("suspicious verification reasoning, capping confidence",
			"student", student.StudentID, "confidence", vr.Confidence)
		vr.Confidence = maxSuspiciousConfidence
	}
	return vr, nil
}

func isSuspicious(reasoning string) bool {
	lower := strings.ToLower(reasoning)
	for _, marker := range suspiciousMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// stripJSONFences unwraps a markdown code fence the model sometimes adds
// despite the JSON response type.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func mimeType(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(ref, ".png"):
		return "image/png"
	case strings.HasSuffix(ref, ".jpg"), strings.HasSuffix(ref, ".jpeg"):
		return "image/jpeg"
	}
	return "application/octet-stream"
}
