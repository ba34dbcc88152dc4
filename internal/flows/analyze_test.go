package flows

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labinsight/internal/domain"
	"labinsight/internal/integrations/llm"
)

const fiveResults = `[
	{"test":"Glucose","value":130,"unit":"mg/dL","low":70,"high":99},
	{"test":"Hb","value":13.5,"unit":"g/dL","low":12,"high":16},
	{"test":"Ferritin","value":"8","unit":"ng/mL","low":"15","high":"150"},
	{"test":"TSH","value":"2.1","unit":"mIU/L","low":"0.4","high":"4.0"},
	{"test":"Culture","value":"Negative"}
]`

type flowReplies struct {
	explain string
	summary string
	risk    string
	failOn  string
}

func (f flowReplies) respond(req llm.Request) (llm.Response, error) {
	var flow, text string
	switch {
	case strings.Contains(req.System, "plain, calm language"):
		flow, text = ExplainFlowName, f.explain
	case strings.Contains(req.System, "generate a risk assessment"):
		flow, text = RiskFlowName, f.risk
	default:
		flow, text = SummaryFlowName, f.summary
	}
	if flow == f.failOn {
		return llm.Response{}, errors.New("provider down")
	}
	return llm.Response{Text: text}, nil
}

func defaultReplies() flowReplies {
	return flowReplies{
		explain: `{"explanation":"Glucose is above range and ferritin is below range."}`,
		summary: `{"summary":"Two of five results are out of range."}`,
		risk:    `{"riskSummary":"Mildly elevated glucose.","followUpSuggestions":["Repeat fasting glucose","Discuss iron intake"],"overallRiskLevel":"Low"}`,
	}
}

func TestAnalyzeFullReport(t *testing.T) {
	model := &fakeModel{respond: defaultReplies().respond}
	a := NewAnalyzer(newTestRunner(t, model, nil), true, quietLogger())

	got := a.Analyze(context.Background(), json.RawMessage(fiveResults), "")

	assert.Equal(t, 5, got.TotalTests)
	assert.Equal(t, 2, got.AbnormalCount)
	assert.Equal(t, []string{"Glucose: 130 mg/dL (High)", "Ferritin: 8 ng/mL (Low)"}, got.AbnormalResults)
	assert.Equal(t, "Glucose is above range and ferritin is below range.", got.Explanation)
	assert.Equal(t, "Two of five results are out of range.", got.Summary)
	assert.Empty(t, got.Error)
	assert.Equal(t, "fake-model", got.ModelUsed)
	require.NotNil(t, got.Risk)
	assert.Equal(t, domain.RiskLow, got.Risk.OverallRiskLevel)
	assert.Len(t, got.Normalized, 5)
	assert.Equal(t, 3, model.calls())
}

func TestAnalyzeSummaryChainedOnExplanation(t *testing.T) {
	model := &fakeModel{respond: defaultReplies().respond}
	a := NewAnalyzer(newTestRunner(t, model, nil), false, quietLogger())

	a.Analyze(context.Background(), json.RawMessage(fiveResults), "")

	require.Equal(t, 2, model.calls())
	var summaryReq *llm.Request
	for i := range model.requests {
		if strings.Contains(model.requests[i].User, "AI-Generated Explanations:") {
			summaryReq = &model.requests[i]
		}
	}
	require.NotNil(t, summaryReq)
	assert.Contains(t, summaryReq.User, "Glucose is above range and ferritin is below range.")
}

func TestAnalyzeExplainFailureFallsBack(t *testing.T) {
	replies := defaultReplies()
	replies.failOn = ExplainFlowName
	model := &fakeModel{respond: replies.respond}
	a := NewAnalyzer(newTestRunner(t, model, nil), true, quietLogger())

	got := a.Analyze(context.Background(), json.RawMessage(fiveResults), "")

	assert.Contains(t, got.Error, "explanation unavailable")
	assert.Equal(t, domain.FallbackExplanation, got.Explanation)
	assert.Equal(t, domain.FallbackSummary, got.Summary)
	assert.Equal(t, 2, got.AbnormalCount)
	require.NotNil(t, got.Risk, "risk flow is independent of the explanation")
	assert.Equal(t, 2, model.calls())
}

func TestAnalyzeRiskFailureKeepsReport(t *testing.T) {
	replies := defaultReplies()
	replies.risk = `{"riskSummary":"x","followUpSuggestions":["only one"],"overallRiskLevel":"Low"}`
	model := &fakeModel{respond: replies.respond}
	a := NewAnalyzer(newTestRunner(t, model, nil), true, quietLogger())

	got := a.Analyze(context.Background(), json.RawMessage(fiveResults), "")

	assert.Nil(t, got.Risk)
	assert.Contains(t, got.RiskError, "schema violation")
	assert.Empty(t, got.Error)
	assert.NotEmpty(t, got.Summary)
}

func TestAnalyzeNoResults(t *testing.T) {
	model := &fakeModel{respond: defaultReplies().respond}
	a := NewAnalyzer(newTestRunner(t, model, nil), true, quietLogger())

	got := a.Analyze(context.Background(), json.RawMessage(`{"unexpected":"shape"}`), "")

	assert.Equal(t, 0, got.TotalTests)
	assert.Equal(t, noResultsError, got.Error)
	assert.Equal(t, domain.FallbackSummary, got.Summary)
	assert.Equal(t, 0, model.calls())
}
