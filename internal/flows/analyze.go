package flows

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"labinsight/internal/domain"
	"labinsight/internal/reconcile"
)

// Analysis is an AiAnalysisResult plus the optional risk assessment
// produced alongside it.
type Analysis struct {
	domain.AiAnalysisResult
	Normalized []domain.LabResultNormalized `json:"normalized_results"`
	Risk       *domain.RiskAssessment       `json:"risk_assessment,omitempty"`
	RiskError  string                       `json:"risk_assessment_error,omitempty"`
}

const noResultsError = "No structured lab results were found in the report."

// Analyzer builds the AI portion of a report from extracted results: the
// explanation and risk flows run concurrently and the summary is chained
// after the explanation. A failed flow is reported in the result rather than
// aborting the analysis.
type Analyzer struct {
	runner      *Runner
	logger      *logrus.Logger
	riskEnabled bool
}

func NewAnalyzer(runner *Runner, riskEnabled bool, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Analyzer{runner: runner, logger: logger, riskEnabled: riskEnabled}
}

func (a *Analyzer) Analyze(ctx context.Context, structuredData json.RawMessage, patientContext string) Analysis {
	rows := domain.DecodeRawResults(structuredData)
	normalized := reconcile.NormalizeRows(rows)

	result := Analysis{
		AiAnalysisResult: domain.AiAnalysisResult{
			AbnormalResults: reconcile.AbnormalSummaries(normalized),
			TotalTests:      len(normalized),
			AbnormalCount:   reconcile.CountAbnormal(normalized),
			ModelUsed:       a.runner.ModelName(),
		},
		Normalized: normalized,
	}
	if len(rows) == 0 {
		result.Error = noResultsError
		result.EnsureFallbacks()
		return result
	}

	labJSON, err := json.Marshal(rows)
	if err != nil {
		result.Error = "could not encode lab results: " + err.Error()
		result.EnsureFallbacks()
		return result
	}

	var (
		explainErr error
		summaryErr error
		riskErr    error
		risk       domain.RiskAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		explained, err := Run(gctx, a.runner, Explain, ExplainInput{LabResults: string(labJSON)})
		if err != nil {
			explainErr = err
			return nil
		}
		result.Explanation = explained.Explanation

		summary, err := Run(gctx, a.runner, Summarize, SummaryInput{
			ReportData:  string(labJSON),
			Explanation: explained.Explanation,
		})
		if err != nil {
			summaryErr = err
			return nil
		}
		result.Summary = summary.Summary
		return nil
	})
	if a.riskEnabled {
		g.Go(func() error {
			risk, riskErr = Run(gctx, a.runner, AssessRisk, RiskInput{LabResults: rows, PatientContext: patientContext})
			return nil
		})
	}
	_ = g.Wait()

	var problems []string
	if explainErr != nil {
		problems = append(problems, "explanation unavailable: "+explainErr.Error())
	}
	if summaryErr != nil {
		problems = append(problems, "summary unavailable: "+summaryErr.Error())
	}
	result.Error = strings.Join(problems, "; ")
	result.EnsureFallbacks()

	if a.riskEnabled {
		if riskErr != nil {
			result.RiskError = riskErr.Error()
		} else {
			result.Risk = &risk
		}
	}

	a.logger.WithFields(logrus.Fields{
		"total_tests":    result.TotalTests,
		"abnormal_count": result.AbnormalCount,
		"explain_ok":     explainErr == nil,
		"summary_ok":     explainErr == nil && summaryErr == nil,
		"risk_ok":        a.riskEnabled && riskErr == nil,
	}).Info("analysis complete")
	return result
}
