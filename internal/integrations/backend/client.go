// Package backend is the client for the external OCR/NLP processing service
// that extracts results from an uploaded report.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"labinsight/internal/domain"
)

const (
	msgUnexpectedUpload  = "Upload processed, but unexpected data returned from backend."
	msgUnexpectedSamples = "No sample files found or unexpected format."
	maxErrorBodyBytes    = 64 << 10
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger

	onBreakerChange func(name, from, to string)
}

// New returns a client for the service at baseURL. ratePerSecond of zero
// disables client-side rate limiting.
func New(baseURL string, httpClient *http.Client, ratePerSecond float64, logger *logrus.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
	if ratePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "processing-backend",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections of a bad upload are the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			var be *domain.BackendError
			if errors.As(err, &be) {
				return be.Status < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("backend circuit breaker state changed")
			if c.onBreakerChange != nil {
				c.onBreakerChange(name, from.String(), to.String())
			}
		},
	})
	return c
}

// NotifyBreakerChanges registers a hook for breaker transitions. Call it
// before the client is used.
func (c *Client) NotifyBreakerChanges(fn func(name, from, to string)) {
	c.onBreakerChange = fn
}

// BreakerState reports the circuit breaker state for health checks.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// ProcessFile uploads a user file for extraction and analysis.
func (c *Client) ProcessFile(ctx context.Context, name string, content io.Reader) (domain.FullReport, error) {
	return c.upload(ctx, "file", func(w *multipart.Writer) error {
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, content)
		return err
	})
}

// ProcessSample asks the backend to process one of its bundled sample files.
func (c *Client) ProcessSample(ctx context.Context, name string) (domain.FullReport, error) {
	return c.upload(ctx, "sample", func(w *multipart.Writer) error {
		return w.WriteField("selected_file", name)
	})
}

func (c *Client) upload(ctx context.Context, kind string, writeForm func(*multipart.Writer) error) (domain.FullReport, error) {
	result, err := c.guarded(ctx, func() (interface{}, error) {
		pr, pw := io.Pipe()
		form := multipart.NewWriter(pw)
		go func() {
			err := writeForm(form)
			if err == nil {
				err = form.Close()
			}
			pw.CloseWithError(err)
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_pdf", pr)
		if err != nil {
			pr.CloseWithError(err)
			return nil, fmt.Errorf("creating upload request: %w", err)
		}
		req.Header.Set("Content-Type", form.FormDataContentType())

		started := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			pr.CloseWithError(err)
			return nil, &domain.NetworkError{Op: "upload", Err: err}
		}
		defer resp.Body.Close()

		report, err := decodeUploadResponse(resp)
		c.logger.WithFields(logrus.Fields{
			"kind":     kind,
			"status":   resp.StatusCode,
			"ok":       err == nil,
			"duration": time.Since(started).Round(time.Millisecond).String(),
		}).Info("backend upload")
		if err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return domain.FullReport{}, err
	}
	return result.(domain.FullReport), nil
}

func decodeUploadResponse(resp *http.Response) (domain.FullReport, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.FullReport{}, errorFromResponse(resp, "")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.FullReport{}, &domain.NetworkError{Op: "read upload response", Err: err}
	}
	var report domain.FullReport
	if err := json.Unmarshal(body, &report); err != nil {
		return domain.FullReport{}, &domain.BackendError{Status: resp.StatusCode, Message: msgUnexpectedUpload}
	}
	if !report.Success || report.Filename == "" {
		msg := report.Error
		if msg == "" {
			msg = msgUnexpectedUpload
		}
		return domain.FullReport{}, &domain.BackendError{Status: resp.StatusCode, Message: msg}
	}
	return report, nil
}

// ListSamples returns the sample reports the backend can process.
func (c *Client) ListSamples(ctx context.Context) ([]domain.SampleFile, error) {
	result, err := c.guarded(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sample_files", nil)
		if err != nil {
			return nil, fmt.Errorf("creating sample list request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &domain.NetworkError{Op: "list samples", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errorFromResponse(resp, "fetching samples")
		}
		var payload struct {
			SampleFiles []domain.SampleFile `json:"sample_files"`
			Error       string              `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.SampleFiles == nil {
			msg := payload.Error
			if msg == "" {
				msg = msgUnexpectedSamples
			}
			return nil, &domain.BackendError{Status: resp.StatusCode, Message: msg}
		}
		return payload.SampleFiles, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.SampleFile), nil
}

func (c *Client) guarded(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("backend rate limiter: %w", err)
		}
	}
	result, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &domain.NetworkError{Op: "processing backend unavailable", Err: err}
	}
	return result, err
}

// errorFromResponse builds a BackendError from a non-2xx response, preferring
// the backend's own error message.
func errorFromResponse(resp *http.Response, what string) error {
	prefix := "API Error"
	if what != "" {
		prefix = "API Error " + what
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var payload struct {
		Error string `json:"error"`
	}
	if err != nil || json.Unmarshal(body, &payload) != nil {
		return &domain.BackendError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(fmt.Sprintf("%s: %d %s", prefix, resp.StatusCode, http.StatusText(resp.StatusCode))),
		}
	}
	if payload.Error != "" {
		return &domain.BackendError{Status: resp.StatusCode, Message: payload.Error}
	}
	return &domain.BackendError{Status: resp.StatusCode, Message: fmt.Sprintf("%s: %d", prefix, resp.StatusCode)}
}
