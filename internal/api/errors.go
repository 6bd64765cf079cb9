package api

import (
	"errors"
	"net/http"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/application"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// Stable error codes not owned by a domain error type.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeRateLimited      = "RATE_LIMITED"
	CodePersistence      = "PERSISTENCE_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
	internalErrorMessage = "The audit could not be completed."
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorStatus maps an application error onto an HTTP status and a body that
// is safe to return. The second return is false for errors the mapping does
// not recognize; those should be logged in full by the caller.
func errorStatus(err error) (int, ErrorResponse, bool) {
	var (
		verr *domain.ValidationError
		nerr *domain.NotFoundError
		qerr *domain.QuotaExceededError
		rerr *application.ReasoningError
	)
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Field == domain.FieldRubric {
			status = http.StatusConflict
		}
		return status, ErrorResponse{Code: verr.Code(), Message: verr.Error()}, true

	case errors.As(err, &nerr):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: nerr.Error()}, true

	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: err.Error()}, true

	case errors.As(err, &qerr):
		return http.StatusTooManyRequests, ErrorResponse{Code: CodeQuotaExceeded, Message: qerr.Error()}, true

	case errors.As(err, &rerr):
		status := http.StatusInternalServerError
		switch rerr.Kind {
		case application.ReasoningPayloadTooLarge:
			status = http.StatusRequestEntityTooLarge
		case application.ReasoningTimeout:
			status = http.StatusGatewayTimeout
		}
		return status, ErrorResponse{Code: rerr.Code(), Message: rerr.Message()}, true

	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError, ErrorResponse{Code: CodePersistence, Message: internalErrorMessage}, true

	default:
		return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: internalErrorMessage}, false
	}
}
