package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"labinsight/internal/domain"
	"labinsight/internal/flows"
	"labinsight/internal/report"
	"labinsight/internal/session"
)

const (
	defaultStatsDays   = 7
	maxStatsDays       = 365
	defaultRecentLimit = 20
	maxRecentLimit     = 200
	// Room for multipart headers around a maximum-size file.
	multipartOverhead = 1 << 20
)

var flowAliases = map[string]string{
	"explain": flows.ExplainFlowName,
	"summary": flows.SummaryFlowName,
	"risk":    flows.RiskFlowName,
}

var errSessionNotFound = errors.New("session not found")

// handleHealth always answers 200; an open breaker only marks the service
// degraded.
func (s *Server) handleHealth(c *gin.Context) {
	status := "ok"
	breakers := make(map[string]string, len(s.deps.Breakers))
	for name, state := range s.deps.Breakers {
		breakers[name] = state()
		if breakers[name] != "closed" {
			status = "degraded"
		}
	}
	body := gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"sessions":  s.deps.Sessions.Len(),
		"breakers":  breakers,
	}
	if s.deps.PendingReports != nil {
		body["pending_reports"] = s.deps.PendingReports()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleListSamples(c *gin.Context) {
	samples, err := s.deps.Samples.ListSamples(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sample_files": samples})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	sess := s.deps.Sessions.Create()
	c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	sess, ok := s.deps.Sessions.Get(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errSessionNotFound.Error()})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSelectFile(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, session.TooLarge(s.deps.MaxUploadBytes))
			return
		}
		writeError(c, &domain.ValidationError{Field: "file", Message: "Please select a file to upload."})
		return
	}

	handle := session.FileHandle{Name: header.Filename, Size: header.Size}
	if header.Size <= s.deps.MaxUploadBytes {
		f, err := header.Open()
		if err != nil {
			writeError(c, err)
			return
		}
		handle.Content, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(c, err)
			return
		}
	}

	if err := sess.SelectFile(handle); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

type sampleRequest struct {
	Filename string `json:"filename" binding:"required"`
}

func (s *Server) handleSelectSample(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var req sampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Field: "filename", Message: "A sample filename is required."})
		return
	}
	if err := sess.SelectSample(req.Filename); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleResetSession(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

// handleSubmit starts the submission and answers 202 at once. With
// ?wait=true it blocks until the backend answers and returns the hand-off.
func (s *Server) handleSubmit(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		handoff, err := sess.Submit(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"handoff": handoff, "session": sess.Snapshot()})
		return
	}

	if _, err := sess.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if !s.deps.Sessions.Remove(c.Param("id")) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errSessionNotFound.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetReport(c *gin.Context) {
	filename := strings.TrimSpace(c.Query("filename"))
	if filename == "" {
		writeError(c, &domain.ValidationError{Field: "filename", Message: "The report filename is required."})
		return
	}
	// Checked before Load, which consumes the report.
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "csv" {
		writeError(c, &domain.ValidationError{Field: "format", Message: "format must be json or csv."})
		return
	}
	view, err := s.deps.Reports.Load(c.Request.Context(), c.Param("id"), filename, c.Query("patientContext"))
	if err != nil {
		writeError(c, err)
		return
	}
	if format == "json" {
		c.JSON(http.StatusOK, view)
		return
	}

	var buf bytes.Buffer
	if err := view.WriteCSV(&buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.DownloadName(view.Filename)))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) handleRunFlow(c *gin.Context) {
	name := c.Param("name")
	if full, ok := flowAliases[name]; ok {
		name = full
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, &domain.ValidationError{Field: "body", Message: "Could not read request body."})
		return
	}
	out, err := s.deps.Runner.RunByName(c.Request.Context(), name, json.RawMessage(body))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type analysisRequest struct {
	StructuredData json.RawMessage `json:"structured_data"`
	PatientContext string          `json:"patient_context"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Field: "structured_data", Message: "Request body must be a JSON object."})
		return
	}
	c.JSON(http.StatusOK, s.deps.Analyzer.Analyze(c.Request.Context(), req.StructuredData, req.PatientContext))
}

func (s *Server) handleFlowStats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			writeError(c, &domain.ValidationError{Field: "days", Message: "days must be between 1 and 365."})
			return
		}
		days = n
	}
	since := time.Now().AddDate(0, 0, -days)
	stats, err := s.deps.Stats.FlowStats(since)
	if err != nil {
		writeError(c, err)
		return
	}
	if stats == nil {
		stats = []domain.FlowStats{}
	}
	c.JSON(http.StatusOK, gin.H{"since": since.UTC(), "days": days, "flows": stats})
}

type recentRun struct {
	Flow                string    `json:"flow"`
	Provider            string    `json:"provider"`
	Model               string    `json:"model"`
	Outcome             string    `json:"outcome"`
	InputTokens         int64     `json:"input_tokens"`
	OutputTokens        int64     `json:"output_tokens"`
	CacheCreationTokens int64     `json:"cache_creation_tokens"`
	CacheReadTokens     int64     `json:"cache_read_tokens"`
	DurationMS          int64     `json:"duration_ms"`
	Error               string    `json:"error,omitempty"`
	RanAt               time.Time `json:"ran_at"`
}

func (s *Server) handleRecentFlowRuns(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecentLimit {
			writeError(c, &domain.ValidationError{Field: "limit", Message: "limit must be between 1 and 200."})
			return
		}
		limit = n
	}
	runs, err := s.deps.Stats.RecentFlowRuns(limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]recentRun, 0, len(runs))
	for _, r := range runs {
		out = append(out, recentRun{
			Flow:                r.Flow,
			Provider:            r.Provider,
			Model:               r.Model,
			Outcome:             r.Outcome,
			InputTokens:         r.InputTokens,
			OutputTokens:        r.OutputTokens,
			CacheCreationTokens: r.CacheCreationTokens,
			CacheReadTokens:     r.CacheReadTokens,
			DurationMS:          r.Duration.Milliseconds(),
			Error:               r.Error,
			RanAt:               r.RanAt.UTC(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}
