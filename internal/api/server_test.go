package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labinsight/internal/domain"
	"labinsight/internal/flows"
	"labinsight/internal/integrations/llm"
	"labinsight/internal/report"
	"labinsight/internal/resultstore"
	"labinsight/internal/session"
)

const panel = `[
	{"test":"Glucose","value":130,"unit":"mg/dL","low":70,"high":99},
	{"test":"Hb","value":13.5,"unit":"g/dL","low":12,"high":16},
	{"test":"Ferritin","value":"8","unit":"ng/mL","low":"15","high":"150"},
	{"test":"TSH","value":"2.1","unit":"mIU/L","low":"0.4","high":"4.0"},
	{"test":"Sodium","value":140,"unit":"mmol/L","low":135,"high":145}
]`

type fakeProcessor struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (p *fakeProcessor) result(filename string) (domain.FullReport, error) {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return domain.FullReport{}, p.err
	}
	return domain.FullReport{
		Success:        true,
		Filename:       filename,
		StructuredData: json.RawMessage(panel),
		AiAnalysis:     domain.AiAnalysisResult{Explanation: "e", Summary: "s", TotalTests: 5, AbnormalCount: 2},
	}, nil
}

func (p *fakeProcessor) ProcessFile(ctx context.Context, name string, content io.Reader) (domain.FullReport, error) {
	return p.result(name)
}

func (p *fakeProcessor) ProcessSample(ctx context.Context, name string) (domain.FullReport, error) {
	return p.result(name)
}

type fakeSamples struct {
	samples []domain.SampleFile
	err     error
}

func (f fakeSamples) ListSamples(ctx context.Context) ([]domain.SampleFile, error) {
	return f.samples, f.err
}

type fakeStats struct {
	since time.Time
	limit int
}

func (f *fakeStats) FlowStats(since time.Time) ([]domain.FlowStats, error) {
	f.since = since
	return []domain.FlowStats{{Flow: flows.RiskFlowName, TotalRuns: 3, Succeeded: 2, ModelErrors: 1}}, nil
}

func (f *fakeStats) RecentFlowRuns(limit int) ([]domain.FlowRun, error) {
	f.limit = limit
	return []domain.FlowRun{{
		Flow: flows.SummaryFlowName, Provider: "fake", Model: "fake-model", Outcome: domain.OutcomeOK,
		InputTokens: 120, OutputTokens: 30, CacheReadTokens: 100,
		Duration: 1500 * time.Millisecond, RanAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}, nil
}

type routedModel struct{}

func (routedModel) Provider() string { return "fake" }
func (routedModel) Name() string     { return "fake-model" }

func (routedModel) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	switch {
	case strings.Contains(req.System, "plain, calm language"):
		return llm.Response{Text: `{"explanation":"Glucose is high."}`}, nil
	case strings.Contains(req.System, "generate a risk assessment"):
		return llm.Response{Text: `{"riskSummary":"Two values out of range.","followUpSuggestions":["Repeat glucose","Check iron"],"overallRiskLevel":"Moderate"}`}, nil
	default:
		return llm.Response{Text: `{"summary":"Two flagged results."}`}, nil
	}
}

type testEnv struct {
	server    *Server
	processor *fakeProcessor
	stats     *fakeStats
	llmState  string
}

func newTestEnv(t *testing.T, processor *fakeProcessor, model llm.Model) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := resultstore.NewMemory(16, time.Minute)
	runner, err := flows.NewRunner(model, flows.RunnerOptions{Logger: logger})
	require.NoError(t, err)

	env := &testEnv{processor: processor, stats: &fakeStats{}, llmState: "closed"}
	opts := session.Options{ProgressInterval: time.Millisecond, Logger: logger}
	env.server = NewServer(Deps{
		Sessions: session.NewRegistry(16, time.Minute, processor, store, opts),
		Samples: fakeSamples{samples: []domain.SampleFile{
			{Filename: "sample_cbc.pdf", Size: 2048, Extension: "pdf"},
		}},
		Reports:        report.NewService(store, runner, true, logger),
		Runner:         runner,
		Analyzer:       flows.NewAnalyzer(runner, true, logger),
		Stats:          env.stats,
		Breakers:       map[string]func() string{"llm": func() string { return env.llmState }},
		PendingReports: store.Len,
		MaxUploadBytes: 1 << 20,
		Logger:         logger,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, strings.NewReader(body), "application/json")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/sessions", nil, "")
	require.Equal(t, http.StatusCreated, w.Code)
	snap := decode[session.Snapshot](t, w)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, session.StateIdle, snap.State)
	return snap.ID
}

func multipartFile(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthAndSamples(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})

	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	health := decode[healthBody](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, map[string]string{"llm": "closed"}, health.Breakers)
	assert.Equal(t, 0, health.PendingReports)

	w = env.do(t, http.MethodGet, "/api/v1/samples", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		SampleFiles []domain.SampleFile `json:"sample_files"`
	}](t, w)
	require.Len(t, body.SampleFiles, 1)
	assert.Equal(t, "sample_cbc.pdf", body.SampleFiles[0].Filename)
}

type healthBody struct {
	Status         string            `json:"status"`
	Breakers       map[string]string `json:"breakers"`
	PendingReports int               `json:"pending_reports"`
}

func TestHealthDegradedWhenBreakerOpen(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	env.llmState = "open"

	w := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[healthBody](t, w)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "open", health.Breakers["llm"])
}

func TestSamplesBackendError(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	env.server.deps.Samples = fakeSamples{err: &domain.NetworkError{Op: "list samples", Err: errors.New("refused")}}

	w := env.do(t, http.MethodGet, "/api/v1/samples", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestUploadSubmitAndViewReport(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)

	body, ct := multipartFile(t, "panel.pdf", []byte("%PDF-1.4"))
	w := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/file", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[session.Snapshot](t, w)
	assert.Equal(t, "file", snap.Selection)
	assert.Equal(t, "panel.pdf", snap.Name)

	w = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decode[struct {
		Handoff domain.Handoff   `json:"handoff"`
		Session session.Snapshot `json:"session"`
	}](t, w)
	assert.Equal(t, "panel.pdf", submitted.Handoff.Filename)
	assert.Equal(t, session.StateSuccess, submitted.Session.State)
	assert.Equal(t, 100, submitted.Session.Progress)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%s?filename=%s", submitted.Handoff.ReportID, "panel.pdf"), nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[report.View](t, w)
	require.Len(t, view.Results, 5)
	assert.Equal(t, "some-flagged", string(view.Tier))
	require.NotNil(t, view.RiskAssessment)
	assert.Equal(t, domain.RiskModerate, view.RiskAssessment.OverallRiskLevel)

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/reports/%s?filename=%s", submitted.Handoff.ReportID, "panel.pdf"), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "reports are read once")
}

func TestDownloadReportCSV(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)
	body, ct := multipartFile(t, "panel.pdf", []byte("%PDF-1.4"))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/file", body, ct).Code)
	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	handoff := decode[struct {
		Handoff domain.Handoff `json:"handoff"`
	}](t, w).Handoff

	path := fmt.Sprintf("/api/v1/reports/%s?filename=%s", handoff.ReportID, "panel.pdf")
	w = env.do(t, http.MethodGet, path+"&format=xml", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "format", decode[map[string]string](t, w)["field"])

	w = env.do(t, http.MethodGet, path+"&format=csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="panel_summary.csv"`, w.Header().Get("Content-Disposition"))
	csvBody := w.Body.String()
	assert.Contains(t, csvBody, "Summary,s\n")
	assert.Contains(t, csvBody, "Overall Risk Level,Moderate\n")
	assert.Contains(t, csvBody, "Test,Value,Unit,Reference Range,Flag\n")
	assert.Contains(t, csvBody, "Glucose,130,mg/dL,70 - 99,High\n")

	w = env.do(t, http.MethodGet, path+"&format=csv", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "downloads consume the report like views")
}

func TestReportRequiresFilename(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	w := env.do(t, http.MethodGet, "/api/v1/reports/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsBadType(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)

	body, ct := multipartFile(t, "notes.docx", []byte("hello"))
	w := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/file", body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "Invalid file type. Allowed types: pdf, png, jpg, jpeg, tiff, bmp.", resp["error"])
	assert.Equal(t, "file", resp["field"])

	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	snap := decode[session.Snapshot](t, w)
	assert.Equal(t, session.StateError, snap.State)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)

	body, ct := multipartFile(t, "big.pdf", bytes.Repeat([]byte("x"), (1<<20)+10))
	w := env.do(t, http.MethodPut, "/api/v1/sessions/"+id+"/file", body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "File is too large. Maximum size: 1MB.")
}

func TestSubmitAsyncAndConflict(t *testing.T) {
	processor := &fakeProcessor{release: make(chan struct{})}
	env := newTestEnv(t, processor, routedModel{})
	id := env.createSession(t)

	w := env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"sample_cbc.pdf"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, session.StateSubmitting, decode[session.Snapshot](t, w).State)

	w = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"other.pdf"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(processor.release)
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
		return decode[session.Snapshot](t, w).State == session.StateSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), processor.calls.Load())
}

func TestSubmitAfterSuccessConflicts(t *testing.T) {
	processor := &fakeProcessor{}
	env := newTestEnv(t, processor, routedModel{})
	id := env.createSession(t)
	require.Equal(t, http.StatusOK, env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"sample_cbc.pdf"}`).Code)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=true", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, int32(1), processor.calls.Load())
}

func TestSubmitWaitClientGone(t *testing.T) {
	processor := &fakeProcessor{release: make(chan struct{})}
	env := newTestEnv(t, processor, routedModel{})
	id := env.createSession(t)
	require.Equal(t, http.StatusOK, env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"sample_cbc.pdf"}`).Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=true", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, statusClientClosedRequest, w.Code)

	close(processor.release)
	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
		return decode[session.Snapshot](t, w).State == session.StateSuccess
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubmitWithoutSelection(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please select a file to upload.")
}

func TestSubmitBackendFailure(t *testing.T) {
	processor := &fakeProcessor{err: &domain.BackendError{Status: 500, Message: "OCR failed"}}
	env := newTestEnv(t, processor, routedModel{})
	id := env.createSession(t)
	require.Equal(t, http.StatusOK, env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"sample_cbc.pdf"}`).Code)

	w := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/submit?wait=1", nil, "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	snap := decode[session.Snapshot](t, w)
	assert.Equal(t, session.StateError, snap.State)
	assert.Equal(t, "OCR failed", snap.LastError)
	assert.Equal(t, "sample", snap.Selection)
}

func TestSessionResetAndDelete(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)
	require.Equal(t, http.StatusOK, env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{"filename":"sample_cbc.pdf"}`).Code)

	w := env.do(t, http.MethodDelete, "/api/v1/sessions/"+id+"/selection", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", decode[session.Snapshot](t, w).Selection)

	w = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSelectSampleRequiresFilename(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	id := env.createSession(t)
	w := env.doJSON(t, http.MethodPut, "/api/v1/sessions/"+id+"/sample", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunFlow(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})

	w := env.doJSON(t, http.MethodPost, "/api/v1/flows/explain", `{"labResults":"[{\"test\":\"Glucose\",\"value\":130}]"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Glucose is high.", decode[flows.ExplainOutput](t, w).Explanation)

	w = env.doJSON(t, http.MethodPost, "/api/v1/flows/generateRiskAssessment", `{"labResults":[{"test":"Glucose","value":130,"low":70,"high":99}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.RiskModerate, decode[domain.RiskAssessment](t, w).OverallRiskLevel)

	w = env.doJSON(t, http.MethodPost, "/api/v1/flows/risk", `{"patientContext":"45 year old"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, flows.RiskFlowName, resp["flow"])
	assert.Equal(t, "input", resp["stage"])

	w = env.doJSON(t, http.MethodPost, "/api/v1/flows/translate", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingModel struct{}

func (failingModel) Provider() string { return "fake" }
func (failingModel) Name() string     { return "fake-model" }
func (failingModel) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, errors.New("quota exceeded")
}

func TestRunFlowModelFault(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, failingModel{})
	w := env.doJSON(t, http.MethodPost, "/api/v1/flows/summary", `{"reportData":"[]","explanation":"x"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})
	w := env.doJSON(t, http.MethodPost, "/api/v1/analyses", `{"structured_data":`+panel+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[flows.Analysis](t, w)
	assert.Equal(t, 5, got.TotalTests)
	assert.Equal(t, 2, got.AbnormalCount)
	assert.Equal(t, "Glucose is high.", got.Explanation)
	assert.Equal(t, "Two flagged results.", got.Summary)
	require.NotNil(t, got.Risk)
}

func TestFlowStats(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})

	w := env.do(t, http.MethodGet, "/api/v1/stats/flows?days=3", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Days  int                `json:"days"`
		Flows []domain.FlowStats `json:"flows"`
	}](t, w)
	assert.Equal(t, 3, body.Days)
	require.Len(t, body.Flows, 1)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -3), env.stats.since, time.Minute)

	w = env.do(t, http.MethodGet, "/api/v1/stats/flows?days=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentFlowRuns(t *testing.T) {
	env := newTestEnv(t, &fakeProcessor{}, routedModel{})

	w := env.do(t, http.MethodGet, "/api/v1/stats/flows/recent", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultRecentLimit, env.stats.limit)
	body := decode[struct {
		Runs []recentRun `json:"runs"`
	}](t, w)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, flows.SummaryFlowName, body.Runs[0].Flow)
	assert.Equal(t, int64(100), body.Runs[0].CacheReadTokens)
	assert.Equal(t, int64(1500), body.Runs[0].DurationMS)

	w = env.do(t, http.MethodGet, "/api/v1/stats/flows/recent?limit=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, env.stats.limit)

	for _, bad := range []string{"0", "201", "x"} {
		w = env.do(t, http.MethodGet, "/api/v1/stats/flows/recent?limit="+bad, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Message: "x"}, http.StatusBadRequest},
		{&domain.DataIntegrityError{Reason: domain.MsgReportMissing}, http.StatusNotFound},
		{&domain.SchemaViolation{Flow: "f", Stage: domain.StageOutput, Reason: "r"}, http.StatusUnprocessableEntity},
		{&domain.ModelInvocationError{Flow: "f", Provider: "p", Err: errors.New("x")}, http.StatusBadGateway},
		{&domain.BackendError{Status: 500, Message: "x"}, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", &domain.NetworkError{Op: "upload", Err: errors.New("x")}), http.StatusBadGateway},
		{domain.ErrBusy, http.StatusConflict},
		{domain.ErrSubmitInProgress, http.StatusConflict},
		{domain.ErrSessionClosed, http.StatusGone},
		{domain.ErrAlreadySubmitted, http.StatusConflict},
		{fmt.Errorf("%w: nope", flows.ErrUnknownFlow), http.StatusNotFound},
		{context.Canceled, statusClientClosedRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
