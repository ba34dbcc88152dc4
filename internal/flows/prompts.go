package flows

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptTemplate is the system and user prompt text for one flow. Both are
// text/template sources rendered against the flow's input struct.
type PromptTemplate struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type PromptSet map[string]PromptTemplate

const explainSystemPrompt = `You are a medical lab report assistant. You explain lab results to patients in plain, calm language.
For each test, say what it measures and whether the value is within, above or below its reference range.
Call out values outside their range, but do not diagnose. Recommend discussing results with a healthcare provider.

Respond with a single JSON object and nothing else:
{"explanation": "<markdown explanation>"}`

const explainUserPrompt = `Lab results (JSON array):
{{.LabResults}}

Explain these results.`

const summarySystemPrompt = `You are an expert in medical lab reports. Given the extracted data and AI-generated explanations,
create a concise and informative summary that can be easily shared with healthcare providers or kept for personal records.

Respond with a single JSON object and nothing else:
{"summary": "<summary text>"}`

const summaryUserPrompt = `Extracted Data:
{{.ReportData}}

AI-Generated Explanations:
{{.Explanation}}

Create a summary including the extracted data and explanations.`

const riskSystemPrompt = `You are an expert medical AI assistant. Your task is to analyze the provided lab results and generate a risk assessment.

Based on the lab results:
1.  Write a concise risk summary (2-4 sentences). Highlight any potential health risks or areas of concern. If results are generally normal, state that.
2.  Provide a list of 2-5 specific and actionable follow-up suggestions. These could include consulting specialists, dietary changes, lifestyle adjustments, or further tests.
3.  Determine an overall risk level: "Normal", "Low", "Moderate", or "High".
    "Normal" if all results are within range and no concerns. "Low" if minor deviations or one-off mild concerns.
    "Moderate" if multiple borderline or some clearly abnormal results needing attention.
    "High" if critical values or multiple significant abnormalities suggesting urgent review.

Consider any values outside normal reference ranges or those flagged as abnormal.
If patient context (age, gender, medical history, symptoms) is provided, factor it into your assessment for personalization.

Respond with a single JSON object and nothing else:
{"riskSummary": "<2-4 sentences>", "followUpSuggestions": ["<2 to 5 items>"], "overallRiskLevel": "Normal|Low|Moderate|High"}`

const riskUserPrompt = `Lab Results:
{{range .LabResults}}- Test: {{.Test}}, Value: {{.Value}} {{.Unit}}, Reference Range: {{.Low}} - {{.High}}{{if .Flag.Present}}, Flag: {{.Flag}}{{end}}
{{end}}
{{- if .PatientContext}}
Patient Context:
{{.PatientContext}}
{{end}}`

// DefaultPrompts returns the built-in prompts for every flow.
func DefaultPrompts() PromptSet {
	return PromptSet{
		ExplainFlowName: {System: explainSystemPrompt, User: explainUserPrompt},
		SummaryFlowName: {System: summarySystemPrompt, User: summaryUserPrompt},
		RiskFlowName:    {System: riskSystemPrompt, User: riskUserPrompt},
	}
}

// LoadPrompts returns the default prompts with any overrides from the YAML
// file at path applied. An empty path yields the defaults.
func LoadPrompts(path string) (PromptSet, error) {
	set := DefaultPrompts()
	if path == "" {
		return set, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var overrides PromptSet
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts yaml: %w", err)
	}
	for name, override := range overrides {
		base, ok := set[name]
		if !ok {
			return nil, fmt.Errorf("prompts override for unknown flow %q", name)
		}
		if override.System != "" {
			base.System = override.System
		}
		if override.User != "" {
			base.User = override.User
		}
		set[name] = base
	}
	if _, err := set.compile(); err != nil {
		return nil, err
	}
	return set, nil
}

type compiledPrompt struct {
	system *template.Template
	user   *template.Template
}

func (s PromptSet) compile() (map[string]compiledPrompt, error) {
	out := make(map[string]compiledPrompt, len(s))
	for _, name := range FlowNames() {
		p, ok := s[name]
		if !ok {
			return nil, fmt.Errorf("no prompt for flow %q", name)
		}
		sys, err := template.New(name + ".system").Option("missingkey=error").Parse(p.System)
		if err != nil {
			return nil, fmt.Errorf("parse %s system prompt: %w", name, err)
		}
		user, err := template.New(name + ".user").Option("missingkey=error").Parse(p.User)
		if err != nil {
			return nil, fmt.Errorf("parse %s user prompt: %w", name, err)
		}
		out[name] = compiledPrompt{system: sys, user: user}
	}
	return out, nil
}

func (p compiledPrompt) render(data any) (system, user string, err error) {
	var sys, usr bytes.Buffer
	if err := p.system.Execute(&sys, data); err != nil {
		return "", "", err
	}
	if err := p.user.Execute(&usr, data); err != nil {
		return "", "", err
	}
	return sys.String(), usr.String(), nil
}
