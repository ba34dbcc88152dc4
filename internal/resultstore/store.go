// Package resultstore hands a processed report from the upload session to
// the report view. Entries are written once, read once and expire.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"

	"labinsight/internal/domain"
)

// Store holds processed reports keyed by report id.
type Store interface {
	// Put stores a report under a fresh id. Writing an id twice fails.
	Put(ctx context.Context, id string, report domain.FullReport) error
	// Take removes and returns the report. Missing, expired or corrupt
	// entries and a filename that does not match the stored report yield a
	// *domain.DataIntegrityError; the entry is consumed either way.
	Take(ctx context.Context, id, filename string) (domain.FullReport, error)
	Close() error
}

var ErrDuplicateID = errors.New("report id already stored")

func encode(report domain.FullReport) ([]byte, error) {
	return json.Marshal(report)
}

// decode validates a stored payload against the filename the caller was
// handed alongside the id.
func decode(id, filename string, data []byte) (domain.FullReport, error) {
	var report domain.FullReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.FullReport{}, &domain.DataIntegrityError{ReportID: id, Reason: domain.MsgReportCorrupt}
	}
	if report.Filename == "" || report.Filename != filename {
		return domain.FullReport{}, &domain.DataIntegrityError{ReportID: id, Reason: domain.MsgReportMismatch}
	}
	return report, nil
}
