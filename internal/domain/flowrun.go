package domain

import "time"

// FlowRun is one recorded invocation of an AI flow. It carries telemetry
// only; prompts, inputs and outputs are never stored.
type FlowRun struct {
	ID           int64
	Flow         string
	Provider     string
	Model        string
	Outcome      string // "ok", "schema_violation", "model_error"
	InputTokens  int64
	OutputTokens int64

	// Prompt-cache token counts, where the provider reports them.
	CacheCreationTokens int64
	CacheReadTokens     int64
	Duration            time.Duration
	Error               string
	RanAt               time.Time
}

const (
	OutcomeOK              = "ok"
	OutcomeSchemaViolation = "schema_violation"
	OutcomeModelError      = "model_error"
)

type FlowStats struct {
	Flow             string  `json:"flow"`
	TotalRuns        int     `json:"total_runs"`
	Succeeded        int     `json:"succeeded"`
	SchemaViolations int     `json:"schema_violations"`
	ModelErrors      int     `json:"model_errors"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
}

func (s FlowStats) FailureRate() float64 {
	if s.TotalRuns == 0 {
		return 0
	}
	return float64(s.SchemaViolations+s.ModelErrors) / float64(s.TotalRuns)
}
