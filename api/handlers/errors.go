package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	mailsync_errors "github.com/customeros/mailsync/errors"
	"github.com/customeros/mailsync/internal/tracing"
)

const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeFailedToSync        = "FAILED_TO_SYNC"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeUnauthorizedAccount = "UNAUTHORIZED_ACCOUNT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeCreditsExhausted    = "CREDITS_EXHAUSTED"
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
)

func respondError(c *gin.Context, span opentracing.Span, status int, code string, err error) {
	if err != nil {
		tracing.TraceErr(span, err)
	}
	response := dto.ErrorResponse{Error: code}
	if status >= http.StatusInternalServerError && err != nil {
		response.Details = err.Error()
	}
	c.JSON(status, response)
}

// respondServiceError maps the error taxonomy of the service layer to an
// HTTP status and error code.
func respondServiceError(c *gin.Context, span opentracing.Span, err error) {
	switch {
	case mailsync_errors.IsValidation(err):
		respondError(c, span, http.StatusBadRequest, CodeInvalidRequest, err)
	case errors.Is(err, mailsync_errors.ErrUserIDNotSet):
		respondError(c, span, http.StatusUnauthorized, CodeUnauthorized, err)
	case errors.Is(err, mailsync_errors.ErrUnauthorizedAccount):
		respondError(c, span, http.StatusForbidden, CodeUnauthorizedAccount, err)
	case errors.Is(err, mailsync_errors.ErrAccountNotFound):
		respondError(c, span, http.StatusNotFound, CodeAccountNotFound, err)
	case errors.Is(err, mailsync_errors.ErrCreditsExhausted):
		respondError(c, span, http.StatusTooManyRequests, CodeCreditsExhausted, err)
	case errors.Is(err, mailsync_errors.ErrUnsupportedProvider):
		respondError(c, span, http.StatusBadRequest, CodeUnsupportedProvider, err)
	default:
		respondError(c, span, http.StatusInternalServerError, CodeInternalServerError, err)
	}
}
