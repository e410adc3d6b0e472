// Provider HTTP client.
//
// The wire protocol is the provider's messages API: a JSON envelope carrying
// the prompt, answered with content blocks plus token-usage counters. The
// summary itself travels as a JSON document inside the first text block and
// is decoded strictly; anything that does not parse is ErrMalformedOutput.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client calls the text-generation provider over HTTP.
//
// The zero value is not usable; construct with the fields set. Client is
// safe for concurrent use.
type Client struct {
	// BaseURL is the provider API root, without trailing slash.
	BaseURL string
	// APIKey authenticates requests.
	APIKey string
	// Model selects the generation model.
	Model string
	// MaxTokens caps the response length per call.
	MaxTokens int
	// HTTPClient performs requests. It should have NO client-side timeout:
	// each call is bounded by the ctx deadline the caller derives from the
	// transcript size.
	HTTPClient *http.Client
}

// SummarizeRequest carries the transcript and metadata for one generation.
type SummarizeRequest struct {
	VideoID         string
	Transcript      string
	Language        string
	DurationSeconds float64
}

// wire types

type messageRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      Usage  `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

const summarizeSystem = "You summarize video transcripts into a structured study guide. " +
	"Respond with a single JSON object with keys quick_summary, sections, flashcards, " +
	"action_items, references and category. Respond with JSON only."

const translateSystem = "You translate the natural-language fields of a video summary JSON " +
	"document into the requested language, preserving its structure exactly. " +
	"Respond with JSON only."

// Summarize generates a structured summary from a transcript. The call is
// bounded solely by ctx; attach the deadline derived from the transcript
// length before calling.
func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (*SummaryPayload, Usage, error) {
	user := fmt.Sprintf(
		"Video %s (%.0f seconds, language %s). Transcript:\n\n%s",
		req.VideoID, req.DurationSeconds, req.Language, req.Transcript,
	)
	return c.complete(ctx, summarizeSystem, user)
}

// Translate renders the natural-language fields of payload into target
// language lang. The category field is stripped from the request; the caller
// copies it verbatim from the source summary.
func (c *Client) Translate(ctx context.Context, payload *SummaryPayload, lang string) (*SummaryPayload, Usage, error) {
	src := *payload
	src.Category = "" // never translated; filter key owned by the source
	doc, err := json.Marshal(&src)
	if err != nil {
		return nil, Usage{}, err
	}
	user := fmt.Sprintf("Target language: %s.\n\n%s", lang, doc)
	return c.complete(ctx, translateSystem, user)
}

// complete performs one provider round trip and decodes the inner payload.
func (c *Client) complete(ctx context.Context, system, user string) (*SummaryPayload, Usage, error) {
	body, err := json.Marshal(messageRequest{
		Model:     c.Model,
		MaxTokens: c.maxTokens(),
		System:    system,
		Messages:  []chatMessage{{Role: "user", Content: user}},
	})
	if err != nil {
		return nil, Usage{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, Usage{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("generation provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var ae apiError
		if jerr := json.Unmarshal(raw, &ae); jerr == nil && ae.Error.Message != "" {
			return nil, Usage{}, fmt.Errorf("generation provider: %s (%s)", ae.Error.Message, ae.Error.Type)
		}
		return nil, Usage{}, fmt.Errorf("generation provider: unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, Usage{}, fmt.Errorf("%w: decode envelope: %v", ErrMalformedOutput, err)
	}

	text := ""
	for _, blk := range mr.Content {
		if blk.Type == "text" {
			text = blk.Text
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, mr.Usage, fmt.Errorf("%w: empty content", ErrMalformedOutput)
	}

	var payload SummaryPayload
	dec := json.NewDecoder(strings.NewReader(stripCodeFence(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, mr.Usage, fmt.Errorf("%w: decode payload: %v", ErrMalformedOutput, err)
	}
	if strings.TrimSpace(payload.QuickSummary) == "" {
		return nil, mr.Usage, fmt.Errorf("%w: missing quick_summary", ErrMalformedOutput)
	}
	return &payload, mr.Usage, nil
}

func (c *Client) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 8192
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// emit despite JSON-only instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
