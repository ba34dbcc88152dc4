// Package session drives one user's upload: file or sample selection,
// validation, a single in-flight submission to the processing backend with
// simulated progress, and the hand-off of the result to the report view.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"labinsight/internal/domain"
	"labinsight/internal/resultstore"
)

type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

var AllowedExtensions = []string{"pdf", "png", "jpg", "jpeg", "tiff", "bmp"}

const (
	DefaultMaxUploadBytes   = 25 << 20
	DefaultProgressInterval = 200 * time.Millisecond

	progressStep = 10
	progressCap  = 90

	msgNoSelection   = "Please select a file to upload."
	msgStoreFailed   = "Failed to save report data. Please try again."
	msgUnreachable   = "Could not reach the processing service. Please try again."
	msgUnexpected    = "An unexpected error occurred during upload."
	msgInvalidSample = "Invalid sample file name."
)

// FileHandle is a user-selected file held in memory until submission.
type FileHandle struct {
	Name    string
	Size    int64
	Content []byte
}

// Processor is the remote processing backend.
type Processor interface {
	ProcessFile(ctx context.Context, name string, content io.Reader) (domain.FullReport, error)
	ProcessSample(ctx context.Context, name string) (domain.FullReport, error)
}

type Options struct {
	MaxUploadBytes   int64
	ProgressInterval time.Duration
	// OnHandoff is invoked after a successful submission, outside the
	// session lock.
	OnHandoff func(domain.Handoff)
	NewID     func() string
	Logger    *logrus.Logger
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Selection string          `json:"selection"`
	Name      string          `json:"selectedName,omitempty"`
	Progress  int             `json:"progress"`
	LastError string          `json:"lastError,omitempty"`
	Handoff   *domain.Handoff `json:"handoff,omitempty"`
}

// Result is the outcome of one submission.
type Result struct {
	Handoff domain.Handoff
	Err     error
}

type Session struct {
	id        string
	processor Processor
	store     resultstore.Store
	opts      Options
	logger    *logrus.Logger

	mu         sync.Mutex
	state      State
	file       *FileHandle
	sample     string
	progress   int
	lastErr    string
	handoff    *domain.Handoff
	generation int
	closed     bool
}

func New(id string, processor Processor, store resultstore.Store, opts Options) *Session {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		id:        id,
		processor: processor,
		store:     store,
		opts:      opts,
		logger:    logger,
		state:     StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.id,
		State:     s.state,
		Selection: "none",
		Progress:  s.progress,
		LastError: s.lastErr,
	}
	switch {
	case s.file != nil:
		snap.Selection = "file"
		snap.Name = s.file.Name
	case s.sample != "":
		snap.Selection = "sample"
		snap.Name = s.sample
	}
	if s.handoff != nil {
		h := *s.handoff
		snap.Handoff = &h
	}
	return snap
}

// SelectFile validates and stores a user file, replacing any sample
// selection. A rejected file clears the selection and leaves the session in
// the error state.
func (s *Session) SelectFile(file FileHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.selectableLocked(); err != nil {
		return err
	}

	s.state = StateValidating
	if err := validateFile(file.Name, file.Size, s.opts.MaxUploadBytes); err != nil {
		s.failSelectionLocked(err)
		return err
	}
	s.file = &file
	s.sample = ""
	s.readyLocked()
	return nil
}

// SelectSample selects one of the backend's sample files in place of a user
// file.
func (s *Session) SelectSample(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.selectableLocked(); err != nil {
		return err
	}

	s.state = StateValidating
	name = strings.TrimSpace(name)
	if name == "" || name != path.Base(name) || strings.Contains(name, `\`) {
		err := &domain.ValidationError{Field: "sample", Message: msgInvalidSample}
		s.failSelectionLocked(err)
		return err
	}
	if err := validateExtension(name); err != nil {
		s.failSelectionLocked(err)
		return err
	}
	s.file = nil
	s.sample = name
	s.readyLocked()
	return nil
}

// Reset clears the selection and any outcome, returning to idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.selectableLocked(); err != nil {
		return err
	}
	s.file = nil
	s.sample = ""
	s.readyLocked()
	return nil
}

func (s *Session) selectableLocked() error {
	if s.closed {
		return domain.ErrSessionClosed
	}
	if s.state == StateSubmitting {
		return domain.ErrBusy
	}
	return nil
}

func (s *Session) failSelectionLocked(err error) {
	s.file = nil
	s.sample = ""
	s.state = StateError
	s.progress = 0
	s.lastErr = err.Error()
	s.handoff = nil
}

func (s *Session) readyLocked() {
	s.state = StateIdle
	s.progress = 0
	s.lastErr = ""
	s.handoff = nil
}

// Start dispatches the current selection to the backend and returns at
// once. The channel receives exactly one Result when the request resolves.
// A second call while a submission is in flight returns
// domain.ErrSubmitInProgress, and a call after success returns
// domain.ErrAlreadySubmitted until Reset; neither sends anything.
func (s *Session) Start(ctx context.Context) (<-chan Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSessionClosed
	}
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return nil, domain.ErrSubmitInProgress
	}
	if s.state == StateSuccess {
		s.mu.Unlock()
		return nil, domain.ErrAlreadySubmitted
	}
	if s.file == nil && s.sample == "" {
		err := &domain.ValidationError{Field: "file", Message: msgNoSelection}
		s.state = StateError
		s.lastErr = err.Message
		s.mu.Unlock()
		return nil, err
	}

	s.state = StateSubmitting
	s.progress = 0
	s.lastErr = ""
	s.handoff = nil
	s.generation++
	gen := s.generation
	file, sample := s.file, s.sample
	s.mu.Unlock()

	// A submission is never aborted by the caller going away; Close only
	// discards its result.
	reqCtx := context.WithoutCancel(ctx)
	results := make(chan Result, 1)
	stop := make(chan struct{})
	go s.tickProgress(gen, stop)
	go func() {
		started := time.Now()
		var (
			report domain.FullReport
			err    error
		)
		if file != nil {
			report, err = s.processor.ProcessFile(reqCtx, file.Name, bytes.NewReader(file.Content))
		} else {
			report, err = s.processor.ProcessSample(reqCtx, sample)
		}
		close(stop)
		results <- s.finish(reqCtx, gen, report, err, time.Since(started))
	}()
	return results, nil
}

// Submit is Start followed by waiting for the outcome.
func (s *Session) Submit(ctx context.Context) (domain.Handoff, error) {
	results, err := s.Start(ctx)
	if err != nil {
		return domain.Handoff{}, err
	}
	select {
	case r := <-results:
		return r.Handoff, r.Err
	case <-ctx.Done():
		return domain.Handoff{}, ctx.Err()
	}
}

func (s *Session) tickProgress(gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.generation == gen && s.state == StateSubmitting {
				s.progress = min(s.progress+progressStep, progressCap)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) finish(ctx context.Context, gen int, report domain.FullReport, reqErr error, took time.Duration) Result {
	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		s.logger.WithField("session", s.id).Info("session submission discarded after close")
		return Result{Err: domain.ErrSessionClosed}
	}

	fields := logrus.Fields{"session": s.id, "duration": took.Round(time.Millisecond).String()}
	if reqErr != nil {
		s.failSubmitLocked(userMessage(reqErr))
		s.mu.Unlock()
		s.logger.WithFields(fields).WithError(reqErr).Warn("session submission failed")
		return Result{Err: reqErr}
	}

	reportID := s.opts.NewID()
	if err := s.store.Put(ctx, reportID, report); err != nil {
		s.failSubmitLocked(msgStoreFailed)
		s.mu.Unlock()
		s.logger.WithFields(fields).WithError(err).Error("session result store failed")
		return Result{Err: fmt.Errorf("store report: %w", err)}
	}

	handoff := domain.Handoff{ReportID: reportID, Filename: report.Filename}
	s.state = StateSuccess
	s.progress = 100
	s.handoff = &handoff
	s.mu.Unlock()

	fields["report_id"] = reportID
	fields["results"] = report.ProcessingInfo.StructuredResultsCount
	s.logger.WithFields(fields).Info("session submission succeeded")
	if s.opts.OnHandoff != nil {
		s.opts.OnHandoff(handoff)
	}
	return Result{Handoff: handoff}
}

// failSubmitLocked keeps the selection so the user can retry.
func (s *Session) failSubmitLocked(msg string) {
	s.state = StateError
	s.progress = 0
	s.lastErr = msg
}

// Close tears the session down. A submission still in flight completes but
// its result is dropped without touching the store.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.file = nil
	s.sample = ""
}

func validateFile(name string, size, maxBytes int64) error {
	if err := validateExtension(name); err != nil {
		return err
	}
	if size > maxBytes {
		return TooLarge(maxBytes)
	}
	return nil
}

// TooLarge is the rejection for an upload over maxBytes.
func TooLarge(maxBytes int64) *domain.ValidationError {
	return &domain.ValidationError{
		Field:   "file",
		Message: fmt.Sprintf("File is too large. Maximum size: %dMB.", maxBytes>>20),
	}
}

func validateExtension(name string) error {
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = strings.ToLower(name[i+1:])
	}
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return &domain.ValidationError{
		Field:   "file",
		Message: fmt.Sprintf("Invalid file type. Allowed types: %s.", strings.Join(AllowedExtensions, ", ")),
	}
}

// userMessage is the text shown for a failed submission.
func userMessage(err error) string {
	var (
		be *domain.BackendError
		ne *domain.NetworkError
		ve *domain.ValidationError
	)
	switch {
	case errors.As(err, &be):
		return be.Message
	case errors.As(err, &ve):
		return ve.Message
	case errors.As(err, &ne):
		return msgUnreachable
	default:
		return msgUnexpected
	}
}
