package report

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var csvHeader = []string{"Test", "Value", "Unit", "Reference Range", "Flag"}

// WriteCSV writes the downloadable summary: report details and the AI
// narrative as label/value rows, then one row per normalized result.
func (v View) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"Report", v.Filename},
		{"Processed At", v.ProcessedAt.UTC().Format(time.RFC3339)},
		{"Risk Tier", v.TierLabel},
		{"Summary", v.Analysis.Summary},
		{"Explanation", v.Analysis.Explanation},
	}
	if v.RiskAssessment != nil {
		rows = append(rows,
			[]string{"Overall Risk Level", string(v.RiskAssessment.OverallRiskLevel)},
			[]string{"Risk Summary", v.RiskAssessment.RiskSummary},
		)
		for _, s := range v.RiskAssessment.FollowUpSuggestions {
			rows = append(rows, []string{"Follow-up", s})
		}
	}
	rows = append(rows, csvHeader)
	for _, r := range v.Results {
		rows = append(rows, []string{r.TestName, r.Value, r.Unit, r.ReferenceRange, string(r.Flag)})
	}
	return cw.WriteAll(rows)
}

// DownloadName derives the attachment name from the report's file name,
// e.g. "panel.pdf" becomes "panel_summary.csv".
func DownloadName(filename string) string {
	base := filepath.Base(filename)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" || base == "." || base == "/" {
		base = "report"
	}
	return base + "_summary.csv"
}
