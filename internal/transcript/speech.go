// Speech-to-text fallback source.
//
// This file implements the fallback transcript source: a speech-to-text
// service that downloads the video's audio and transcribes it. It works for
// any retrievable video but is slow and billed per minute of audio, so the
// orchestrator only reaches for it when captions are genuinely absent.
package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SpeechClient submits transcription jobs to a speech-to-text HTTP service.
type SpeechClient struct {
	// BaseURL is the root of the transcription API, without trailing slash.
	BaseURL string
	// APIKey authenticates requests when non-empty.
	APIKey string
	// Model selects the recognition model (service-specific identifier).
	Model string
	// HTTPClient is used for all requests; the default allows for long
	// synchronous transcriptions.
	HTTPClient *http.Client
}

type speechRequest struct {
	VideoID string `json:"video_id"`
	Model   string `json:"model,omitempty"`
}

type speechResponse struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (c *SpeechClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// Transcription runs synchronously on the remote side and scales with
	// audio length.
	return &http.Client{Timeout: 10 * time.Minute}
}

// Fetch transcribes the audio of videoID. Failure mapping mirrors the
// captions client: 404/410 → ErrVideoUnavailable, 429 → ErrRateLimited.
// An empty transcription is reported as ErrNoCaptions so the orchestrator
// surfaces a single "no transcript obtainable" class.
func (c *SpeechClient) Fetch(ctx context.Context, videoID string) (*Result, error) {
	body, err := json.Marshal(speechRequest{VideoID: videoID, Model: c.Model})
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(c.BaseURL, "/") + "/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech source: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		// fallthrough to decode
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrVideoUnavailable
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("speech source: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var sr speechResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("speech source: decode response: %w", err)
	}
	if strings.TrimSpace(sr.Text) == "" {
		return nil, ErrNoCaptions
	}

	lang := sr.Language
	if lang == "" {
		lang = "en"
	}
	return &Result{
		Text:            strings.TrimSpace(sr.Text),
		Language:        lang,
		DurationSeconds: sr.DurationSeconds,
	}, nil
}
