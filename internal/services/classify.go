// Package services – error classification
//
// Raw failure messages from transcript sources and the generation provider
// are free text; routing and analytics need a closed taxonomy instead. This
// file maps messages onto that taxonomy by case-insensitive substring
// matching over the known provider vocabularies.
//
// Classify is total: any unmatched message classifies as ErrorUnknown rather
// than failing, because a classification failure must never mask the
// original error.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

// ErrorType is one member of the closed failure taxonomy. The values are
// stable strings: they are persisted in usage records and exposed to clients
// through the error envelope, so they must never be renamed.
type ErrorType string

const (
	ErrorVideoUnavailable   ErrorType = "video_unavailable"
	ErrorNoCaptions         ErrorType = "no_captions"
	ErrorRateLimited        ErrorType = "rate_limited"
	ErrorNetworkTimeout     ErrorType = "network_timeout"
	ErrorContentPolicy      ErrorType = "content_policy"
	ErrorTokenLimitExceeded ErrorType = "token_limit_exceeded"
	ErrorParse              ErrorType = "parse_error"
	ErrorUnsupportedLang    ErrorType = "unsupported_language"
	ErrorUnknown            ErrorType = "unknown"

	// ErrorInvalidVideoID is the dedicated pre-network classification for
	// malformed identifiers. It is distinct from every provider-side class:
	// the request never reached a source.
	ErrorInvalidVideoID ErrorType = "invalid_video_id"
)

// vocab maps taxonomy members to the substrings that identify them. Order
// matters: earlier entries win, so the more specific vocabularies come first.
var vocab = []struct {
	t     ErrorType
	needs []string
}{
	{ErrorVideoUnavailable, []string{"video unavailable", "video is unavailable", "private video", "video is private", "video removed", "video has been removed", "copyright"}},
	{ErrorNoCaptions, []string{"no captions", "captions are disabled", "subtitles are disabled", "no transcript", "transcript unavailable"}},
	{ErrorRateLimited, []string{"rate limit", "too many requests", "quota", "429"}},
	{ErrorNetworkTimeout, []string{"deadline exceeded", "timed out", "timeout"}},
	{ErrorContentPolicy, []string{"content policy", "content_filter", "safety", "refused to", "flagged"}},
	{ErrorTokenLimitExceeded, []string{"token limit", "maximum context", "context length", "prompt is too long", "max_tokens"}},
	{ErrorParse, []string{"malformed provider output", "invalid json", "unexpected end of json", "unmarshal", "parse error", "cannot parse"}},
	{ErrorUnsupportedLang, []string{"unsupported language", "language not supported"}},
}

// Classify maps a raw failure message onto the taxonomy. Pure, total, no
// I/O: every input yields exactly one member, defaulting to ErrorUnknown.
func Classify(rawMessage string) ErrorType {
	m := strings.ToLower(rawMessage)
	for _, v := range vocab {
		for _, needle := range v.needs {
			if strings.Contains(m, needle) {
				return v.t
			}
		}
	}
	return ErrorUnknown
}

// ClassifyErr classifies an error value. Typed sentinels take precedence
// over message matching so that wrapped errors classify deterministically;
// everything else falls back to Classify on the message text.
func ClassifyErr(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorUnknown
	case errors.Is(err, transcript.ErrInvalidVideoID):
		return ErrorInvalidVideoID
	case errors.Is(err, transcript.ErrNoCaptions):
		return ErrorNoCaptions
	case errors.Is(err, transcript.ErrVideoUnavailable):
		return ErrorVideoUnavailable
	case errors.Is(err, transcript.ErrRateLimited):
		return ErrorRateLimited
	case errors.Is(err, llm.ErrMalformedOutput):
		return ErrorParse
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorNetworkTimeout
	case errors.Is(err, ErrUnsupportedLanguage):
		return ErrorUnsupportedLang
	}
	return Classify(err.Error())
}
