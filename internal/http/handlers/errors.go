// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package). These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Pipeline failure codes are the classification taxonomy of the generation
//     pipeline (services.ErrorType) passed through verbatim, so a client sees the
//     same code the analytics layer records.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "no_captions",
//	  "message": "no captions available for this video"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-summary-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// statusForErrorType maps a pipeline classification onto the HTTP status the
// client should see. The mapping is intentionally coarse:
//
//   - the video cannot be summarized at all        -> 404 / 422 (client-side facts)
//   - the system is temporarily over capacity      -> 429 (retry later)
//   - the pipeline itself misbehaved               -> 500
func statusForErrorType(t services.ErrorType) int {
	switch t {
	case services.ErrorInvalidVideoID:
		return http.StatusBadRequest
	case services.ErrorVideoUnavailable:
		return http.StatusNotFound
	case services.ErrorNoCaptions, services.ErrorParse,
		services.ErrorUnsupportedLang, services.ErrorContentPolicy,
		services.ErrorTokenLimitExceeded:
		return http.StatusUnprocessableEntity
	case services.ErrorRateLimited, services.ErrorNetworkTimeout:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// messageForErrorType returns the client-safe description for a pipeline
// classification. Raw provider messages never reach the client.
func messageForErrorType(t services.ErrorType) string {
	switch t {
	case services.ErrorInvalidVideoID:
		return "invalid video id"
	case services.ErrorVideoUnavailable:
		return "video is unavailable"
	case services.ErrorNoCaptions:
		return "no captions available for this video"
	case services.ErrorRateLimited:
		return "temporarily over capacity, retry later"
	case services.ErrorNetworkTimeout:
		return "processing timed out, retry later"
	case services.ErrorContentPolicy:
		return "content cannot be summarized"
	case services.ErrorTokenLimitExceeded:
		return "video is too long to summarize"
	case services.ErrorParse:
		return "summary could not be produced for this video"
	case services.ErrorUnsupportedLang:
		return "language is not supported"
	default:
		return "internal server error"
	}
}

// failPipeline writes the error envelope for a generation-pipeline failure.
// The taxonomy member becomes the response code; status and message derive
// from it, so the client always receives a stable code and a safe message.
func failPipeline(c *gin.Context, err error) {
	t := services.ClassifyErr(err)
	fail(c, statusForErrorType(t), string(t), messageForErrorType(t))
}
