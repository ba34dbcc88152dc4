// Package flows runs the structured AI flows: each flow declares a typed
// input and output, and one generic runner validates the input, renders the
// prompt, calls the model once and validates what comes back.
package flows

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"labinsight/internal/domain"
)

const (
	ExplainFlowName = "explainLabResults"
	SummaryFlowName = "generateReportSummary"
	RiskFlowName    = "generateRiskAssessment"
)

// Flow is one member of the closed set of flows. The type parameters bind the
// flow's input and output schema at compile time.
type Flow[In, Out any] struct {
	name string
}

func (f Flow[In, Out]) Name() string { return f.name }

var (
	Explain    = Flow[ExplainInput, ExplainOutput]{name: ExplainFlowName}
	Summarize  = Flow[SummaryInput, SummaryOutput]{name: SummaryFlowName}
	AssessRisk = Flow[RiskInput, domain.RiskAssessment]{name: RiskFlowName}
)

// FlowNames lists the registered flows in a stable order.
func FlowNames() []string {
	return []string{ExplainFlowName, SummaryFlowName, RiskFlowName}
}

type ExplainInput struct {
	// LabResults is a JSON-encoded array of lab results.
	LabResults string `json:"labResults" validate:"required,json"`
}

type ExplainOutput struct {
	Explanation string `json:"explanation" validate:"required"`
}

type SummaryInput struct {
	ReportData  string `json:"reportData" validate:"required"`
	Explanation string `json:"explanation" validate:"required"`
}

type SummaryOutput struct {
	Summary string `json:"summary" validate:"required"`
}

type RiskInput struct {
	LabResults     []domain.LabResultRaw `json:"labResults" validate:"required"`
	PatientContext string                `json:"patientContext,omitempty"`
}

// newValidator reports field errors by their JSON names so violations read
// the same as the wire schema.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
