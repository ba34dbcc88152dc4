// Package report assembles the display view of a stored report: it takes
// the payload out of the result store once, normalizes the lab results,
// assigns the risk tier and runs the risk-assessment flow.
package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"labinsight/internal/domain"
	"labinsight/internal/flows"
	"labinsight/internal/reconcile"
	"labinsight/internal/resultstore"
)

// View is everything the display layer needs for one report.
type View struct {
	ReportID            string                       `json:"reportId"`
	Filename            string                       `json:"filename"`
	ProcessedAt         time.Time                    `json:"processedAt"`
	ProcessingInfo      domain.ProcessingInfo        `json:"processingInfo"`
	Results             []domain.LabResultNormalized `json:"labResults"`
	Analysis            domain.AiAnalysisResult      `json:"aiAnalysis"`
	Tier                reconcile.Tier               `json:"riskTier"`
	TierLabel           string                       `json:"riskTierLabel"`
	RiskAssessment      *domain.RiskAssessment       `json:"riskAssessment,omitempty"`
	RiskAssessmentError string                       `json:"riskAssessmentError,omitempty"`
	RawTextPreview      string                       `json:"rawTextPreview,omitempty"`
}

type Service struct {
	store       resultstore.Store
	runner      *flows.Runner
	riskEnabled bool
	logger      *logrus.Logger
	now         func() time.Time
}

// NewService builds a report view service. A nil runner disables the
// risk-assessment flow.
func NewService(store resultstore.Store, runner *flows.Runner, riskEnabled bool, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:       store,
		runner:      runner,
		riskEnabled: riskEnabled && runner != nil,
		logger:      logger,
		now:         time.Now,
	}
}

// Load consumes the stored report and builds its view. Storage failures are
// returned as *domain.DataIntegrityError; a failed risk assessment only sets
// RiskAssessmentError.
func (s *Service) Load(ctx context.Context, reportID, filename, patientContext string) (View, error) {
	stored, err := s.store.Take(ctx, reportID, filename)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"report_id": reportID, "filename": filename}).WithError(err).Warn("report load failed")
		return View{}, err
	}

	analysis := stored.AiAnalysis
	analysis.EnsureFallbacks()
	tier := reconcile.TierFor(analysis)

	raw := stored.RawResults()
	view := View{
		ReportID:       reportID,
		Filename:       stored.Filename,
		ProcessedAt:    s.now(),
		ProcessingInfo: stored.ProcessingInfo,
		Results:        reconcile.NormalizeRows(raw),
		Analysis:       analysis,
		Tier:           tier,
		TierLabel:      tier.Label(),
		RawTextPreview: stored.RawTextPreview,
	}

	if s.riskEnabled && len(raw) > 0 {
		risk, err := flows.Run(ctx, s.runner, flows.AssessRisk, flows.RiskInput{
			LabResults:     raw,
			PatientContext: patientContext,
		})
		if err != nil {
			view.RiskAssessmentError = err.Error()
		} else {
			view.RiskAssessment = &risk
		}
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": reportID,
		"results":   len(view.Results),
		"tier":      string(tier),
		"risk_ok":   view.RiskAssessment != nil,
	}).Info("report view built")
	return view, nil
}
