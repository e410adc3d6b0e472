// Package llm is the client for the text-generation provider. It turns a
// transcript into a structured long-form summary and translates existing
// summaries, reporting token usage for cost accounting.
//
// The provider is slow, metered, and billed per token; callers are expected
// to bound every call with a deadline and to deduplicate concurrent
// identical requests (see services.SummaryService).
package llm

import (
	"errors"
	"strings"
)

// ErrMalformedOutput marks a provider response whose structured payload could
// not be decoded. This is a hard failure: a guessed summary is worse than
// none, so callers must never substitute a default payload.
var ErrMalformedOutput = errors.New("malformed provider output")

// Section is one contextual part of the summary, anchored to a time range of
// the source video.
type Section struct {
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// Flashcard is a question/answer pair for spaced-repetition review.
type Flashcard struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ActionItem is one actionable takeaway, grouped by category.
type ActionItem struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Reference is one categorized external link mentioned or implied by the
// video.
type Reference struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// SummaryPayload is the structured summary produced by the provider.
//
// Category is a single classification label used elsewhere as a filter key;
// translations copy it verbatim instead of translating it.
type SummaryPayload struct {
	QuickSummary string       `json:"quick_summary"`
	Sections     []Section    `json:"sections"`
	Flashcards   []Flashcard  `json:"flashcards"`
	ActionItems  []ActionItem `json:"action_items"`
	References   []Reference  `json:"references"`
	Category     string       `json:"category"`
}

// WordCount returns the number of whitespace-separated words across the
// natural-language fields of the payload. Used for analytics only.
func (p *SummaryPayload) WordCount() int64 {
	if p == nil {
		return 0
	}
	var n int64
	n += int64(len(strings.Fields(p.QuickSummary)))
	for _, s := range p.Sections {
		n += int64(len(strings.Fields(s.Title)))
		n += int64(len(strings.Fields(s.Content)))
	}
	for _, f := range p.Flashcards {
		n += int64(len(strings.Fields(f.Question)))
		n += int64(len(strings.Fields(f.Answer)))
	}
	for _, a := range p.ActionItems {
		n += int64(len(strings.Fields(a.Text)))
	}
	return n
}

// Usage carries the provider's token accounting for one call. Cache-creation
// and cache-read subtotals are reported when the provider supports prompt
// caching; both are zero otherwise.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
}
