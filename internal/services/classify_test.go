package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorType
	}{
		{"Video unavailable", ErrorVideoUnavailable},
		{"this video is private", ErrorVideoUnavailable},
		{"the video has been removed for copyright reasons", ErrorVideoUnavailable},
		{"No captions found for this video", ErrorNoCaptions},
		{"subtitles are disabled by the uploader", ErrorNoCaptions},
		{"Rate limit exceeded, retry later", ErrorRateLimited},
		{"HTTP 429 Too Many Requests", ErrorRateLimited},
		{"context deadline exceeded", ErrorNetworkTimeout},
		{"request timed out after 30s", ErrorNetworkTimeout},
		{"response flagged by content policy", ErrorContentPolicy},
		{"prompt is too long: maximum context exceeded", ErrorTokenLimitExceeded},
		{"invalid JSON in model response", ErrorParse},
		{"unexpected end of JSON input", ErrorParse},
		{"unsupported language: tlh", ErrorUnsupportedLang},
		{"", ErrorUnknown},
		{"something nobody has ever seen before", ErrorUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.msg); got != tc.want {
			t.Errorf("Classify(%q) = %q; want %q", tc.msg, got, tc.want)
		}
	}
}

// Classification must be total: arbitrary garbage never panics and always
// lands inside the taxonomy.
func TestClassifyTotal(t *testing.T) {
	known := map[ErrorType]bool{
		ErrorVideoUnavailable: true, ErrorNoCaptions: true,
		ErrorRateLimited: true, ErrorNetworkTimeout: true,
		ErrorContentPolicy: true, ErrorTokenLimitExceeded: true,
		ErrorParse: true, ErrorUnsupportedLang: true, ErrorUnknown: true,
	}
	for i := 0; i < 256; i++ {
		msg := fmt.Sprintf("garbage-%d-\x00\xff", i)
		if got := Classify(msg); !known[got] {
			t.Fatalf("Classify(%q) = %q; not in taxonomy", msg, got)
		}
	}
}

func TestClassifyErrSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"invalid id", transcript.ErrInvalidVideoID, ErrorInvalidVideoID},
		{"no captions", transcript.ErrNoCaptions, ErrorNoCaptions},
		{"unavailable", transcript.ErrVideoUnavailable, ErrorVideoUnavailable},
		{"rate limited", transcript.ErrRateLimited, ErrorRateLimited},
		{"malformed output", llm.ErrMalformedOutput, ErrorParse},
		{"deadline", context.DeadlineExceeded, ErrorNetworkTimeout},
		{"unsupported lang", ErrUnsupportedLanguage, ErrorUnsupportedLang},
		{"wrapped", fmt.Errorf("fetch: %w", transcript.ErrRateLimited), ErrorRateLimited},
		{"message fallback", errors.New("quota exhausted"), ErrorRateLimited},
		{"unknown", errors.New("boom"), ErrorUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyErr(tc.err); got != tc.want {
				t.Errorf("ClassifyErr(%v) = %q; want %q", tc.err, got, tc.want)
			}
		})
	}
}

// A fallback chain where speech-to-text also failed reports the original
// caption absence, not the secondary failure.
func TestClassifyErrJoinedFallback(t *testing.T) {
	err := errors.Join(transcript.ErrNoCaptions, errors.New("stt: connection refused"))
	if got := ClassifyErr(err); got != ErrorNoCaptions {
		t.Fatalf("ClassifyErr(joined) = %q; want %q", got, ErrorNoCaptions)
	}
}
