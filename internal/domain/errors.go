package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a selection change is attempted while a
	// submission is in flight.
	ErrBusy             = errors.New("session busy: submission in progress")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrSessionClosed    = errors.New("session closed")
	// ErrAlreadySubmitted is returned by a submit after success; the session
	// must be reset before another report is analyzed.
	ErrAlreadySubmitted = errors.New("report already submitted: reset the session to analyze another report")
)

// ValidationError is a user-correctable input problem. Message is shown to
// the user as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NetworkError means the processing backend could not be reached.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError carries a message reported by the processing backend.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string { return e.Message }

const (
	StageInput  = "input"
	StageOutput = "output"
)

// SchemaViolation is raised when a flow input or a model output does not
// satisfy the flow's declared schema.
type SchemaViolation struct {
	Flow   string
	Stage  string
	Reason string
	Err    error
}

func (e *SchemaViolation) Error() string {
	msg := fmt.Sprintf("flow %s: %s schema violation: %s", e.Flow, e.Stage, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaViolation) Unwrap() error { return e.Err }

// ModelInvocationError wraps a provider fault: transport, auth, quota or an
// open circuit breaker.
type ModelInvocationError struct {
	Flow     string
	Provider string
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("flow %s: model call via %s failed: %v", e.Flow, e.Provider, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// DataIntegrityError means the stored report is missing, expired, corrupt or
// belongs to another file. The only recovery is a fresh upload.
type DataIntegrityError struct {
	ReportID string
	Reason   string
}

func (e *DataIntegrityError) Error() string { return e.Reason }

const (
	MsgReportMismatch = "Report data in storage does not match the requested report or is invalid."
	MsgReportMissing  = "No report data found. Please upload a report first."
	MsgReportCorrupt  = "Failed to load report data. It might be corrupted."
)
