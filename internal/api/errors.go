package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"labinsight/internal/domain"
	"labinsight/internal/flows"
)

// statusClientClosedRequest is answered when the caller went away before the
// result was ready.
const statusClientClosedRequest = 499

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve  *domain.ValidationError
		die *domain.DataIntegrityError
		sv  *domain.SchemaViolation
		mie *domain.ModelInvocationError
		be  *domain.BackendError
		ne  *domain.NetworkError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &die):
		return http.StatusNotFound
	case errors.As(err, &sv):
		return http.StatusUnprocessableEntity
	case errors.As(err, &mie), errors.As(err, &be), errors.As(err, &ne):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrSubmitInProgress),
		errors.Is(err, domain.ErrAlreadySubmitted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, flows.ErrUnknownFlow):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var ve *domain.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	var sv *domain.SchemaViolation
	if errors.As(err, &sv) {
		body["flow"] = sv.Flow
		body["stage"] = sv.Stage
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
