package domain

import (
	"encoding/json"
	"strings"
)

// Flag is the range classification of a single lab result.
type Flag string

const (
	FlagNormal   Flag = "Normal"
	FlagHigh     Flag = "High"
	FlagLow      Flag = "Low"
	FlagAbnormal Flag = "Abnormal"
)

// ParseFlag recognizes a source-supplied flag, case-insensitively.
func ParseFlag(s string) (Flag, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return FlagNormal, true
	case "high":
		return FlagHigh, true
	case "low":
		return FlagLow, true
	case "abnormal":
		return FlagAbnormal, true
	}
	return "", false
}

func (f Flag) IsAbnormal() bool {
	return f == FlagHigh || f == FlagLow || f == FlagAbnormal
}

// LabResultRaw is one row as produced by the OCR/NLP extraction service.
// Numeric fields may arrive as numbers, numeric strings or not at all.
type LabResultRaw struct {
	Test  Scalar `json:"test"`
	Value Scalar `json:"value"`
	Unit  Scalar `json:"unit"`
	Low   Scalar `json:"low"`
	High  Scalar `json:"high"`
	Flag  Scalar `json:"flag,omitzero"`
}

// LabResultNormalized is the display-ready form of a result.
type LabResultNormalized struct {
	TestName       string `json:"testName"`
	Value          string `json:"value"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"referenceRange"`
	Flag           Flag   `json:"flag"`
}

const NotAvailable = "N/A"

// AiAnalysisResult is the AI portion of a processed report. Field names
// follow the processing backend's payload.
type AiAnalysisResult struct {
	Explanation     string   `json:"explanation"`
	Summary         string   `json:"summary"`
	AbnormalResults []string `json:"abnormal_results"`
	TotalTests      int      `json:"total_tests"`
	AbnormalCount   int      `json:"abnormal_count"`
	ModelUsed       string   `json:"model_used"`
	Error           string   `json:"error,omitempty"`
}

const (
	FallbackExplanation = "An explanation could not be generated for this report."
	FallbackSummary     = "Summary not available due to error."
)

// EnsureFallbacks fills empty explanation and summary text when the analysis
// carries an error, so the display never shows two blank sections.
func (a *AiAnalysisResult) EnsureFallbacks() {
	if a.Error == "" {
		return
	}
	if strings.TrimSpace(a.Explanation) == "" {
		a.Explanation = FallbackExplanation
	}
	if strings.TrimSpace(a.Summary) == "" {
		a.Summary = FallbackSummary
	}
	if a.AbnormalResults == nil {
		a.AbnormalResults = []string{}
	}
}

type RiskLevel string

const (
	RiskNormal   RiskLevel = "Normal"
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// RiskAssessment is the output of the risk-assessment flow. Its length and
// enum constraints are enforced when the model output is validated.
type RiskAssessment struct {
	RiskSummary         string    `json:"riskSummary" validate:"required"`
	FollowUpSuggestions []string  `json:"followUpSuggestions" validate:"min=2,max=5,dive,required"`
	OverallRiskLevel    RiskLevel `json:"overallRiskLevel" validate:"required,oneof=Normal Low Moderate High"`
}

type ProcessingInfo struct {
	ExtractedTextLength      int      `json:"extracted_text_length"`
	StructuredResultsCount   int      `json:"structured_results_count"`
	ProcessingStepsCompleted []string `json:"processing_steps_completed,omitempty"`
	AIModel                  string   `json:"ai_model,omitempty"`
}

// FullReport is the combined payload returned by the processing endpoint.
// StructuredData is kept raw because its shape is not guaranteed.
type FullReport struct {
	Success        bool             `json:"success"`
	Filename       string           `json:"filename"`
	ProcessingInfo ProcessingInfo   `json:"processing_info"`
	AiAnalysis     AiAnalysisResult `json:"ai_analysis"`
	StructuredData json.RawMessage  `json:"structured_data"`
	RawTextPreview string           `json:"raw_text_preview"`
	Error          string           `json:"error,omitempty"`
}

// RawResults decodes StructuredData into rows, dropping elements that are not
// objects. Non-array data yields an empty slice.
func (r FullReport) RawResults() []LabResultRaw {
	return DecodeRawResults(r.StructuredData)
}

func DecodeRawResults(data json.RawMessage) []LabResultRaw {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return []LabResultRaw{}
	}
	out := make([]LabResultRaw, 0, len(elems))
	for _, e := range elems {
		trimmed := strings.TrimSpace(string(e))
		if !strings.HasPrefix(trimmed, "{") {
			continue
		}
		var row LabResultRaw
		if err := json.Unmarshal(e, &row); err != nil {
			continue
		}
		out = append(out, row)
	}
	return out
}

type SampleFile struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Extension string `json:"extension"`
}

// Handoff identifies a stored report for the display layer.
type Handoff struct {
	ReportID string `json:"reportId"`
	Filename string `json:"filename"`
}
