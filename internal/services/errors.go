// Package services defines the business logic for summary generation,
// translation, and usage telemetry. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; mapping
// to HTTP status codes is performed at the handler layer together with the
// failure taxonomy (see classify.go).
package services

import "errors"

var (
	// ErrSummaryNotFound indicates that the requested summary does not exist
	// or is not accessible to the current user.
	ErrSummaryNotFound = errors.New("summary not found")

	// ErrUnsupportedLanguage is returned when a translation request carries
	// a language tag that cannot be parsed as BCP-47.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
