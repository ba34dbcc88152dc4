// Package reconcile turns the loosely shaped results reported by the
// extraction backend into the normalized, flagged model used for display.
package reconcile

import (
	"encoding/json"
	"fmt"

	"labinsight/internal/domain"
)

// Normalize maps structured backend data to normalized rows. Any input that
// is not a JSON array yields an empty slice; elements that are not objects
// are dropped.
func Normalize(structuredData json.RawMessage) []domain.LabResultNormalized {
	return NormalizeRows(domain.DecodeRawResults(structuredData))
}

func NormalizeRows(rows []domain.LabResultRaw) []domain.LabResultNormalized {
	out := make([]domain.LabResultNormalized, 0, len(rows))
	for _, row := range rows {
		out = append(out, NormalizeRow(row))
	}
	return out
}

func NormalizeRow(row domain.LabResultRaw) domain.LabResultNormalized {
	return domain.LabResultNormalized{
		TestName:       orNA(row.Test),
		Value:          orNA(row.Value),
		Unit:           row.Unit.String(),
		ReferenceRange: referenceRange(row.Low, row.High),
		Flag:           Classify(row),
	}
}

// Classify derives the flag for one row. A recognized flag supplied by the
// source wins; otherwise the value is compared against whichever bounds parse
// as numbers. Values on a bound are Normal.
func Classify(row domain.LabResultRaw) domain.Flag {
	if f, ok := domain.ParseFlag(row.Flag.String()); ok {
		return f
	}
	value, ok := row.Value.Float()
	if !ok {
		return domain.FlagNormal
	}
	if low, ok := row.Low.Float(); ok && value < low {
		return domain.FlagLow
	}
	if high, ok := row.High.Float(); ok && value > high {
		return domain.FlagHigh
	}
	return domain.FlagNormal
}

func referenceRange(low, high domain.Scalar) string {
	if !low.Present() || !high.Present() {
		return domain.NotAvailable
	}
	return fmt.Sprintf("%s - %s", low.String(), high.String())
}

func orNA(s domain.Scalar) string {
	if !s.Present() {
		return domain.NotAvailable
	}
	return s.String()
}

// CountAbnormal counts rows flagged anything other than Normal.
func CountAbnormal(rows []domain.LabResultNormalized) int {
	n := 0
	for _, r := range rows {
		if r.Flag.IsAbnormal() {
			n++
		}
	}
	return n
}

// AbnormalSummaries renders one line per flagged row, e.g.
// "Glucose: 130 mg/dL (High)".
func AbnormalSummaries(rows []domain.LabResultNormalized) []string {
	out := []string{}
	for _, r := range rows {
		if !r.Flag.IsAbnormal() {
			continue
		}
		value := r.Value
		if r.Unit != "" {
			value += " " + r.Unit
		}
		out = append(out, fmt.Sprintf("%s: %s (%s)", r.TestName, value, r.Flag))
	}
	return out
}
