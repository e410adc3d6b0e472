// Captions source client.
//
// This file implements the primary transcript source: an HTTP timed-text
// endpoint that serves caption tracks as JSON events. It is cheap and often
// instant, but only covers videos whose owners uploaded or auto-generated
// captions.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptionsClient fetches caption tracks from a timed-text HTTP endpoint.
type CaptionsClient struct {
	// BaseURL is the root of the captions API, without trailing slash.
	BaseURL string
	// HTTPClient is used for all requests; a default with a conservative
	// timeout is applied when nil.
	HTTPClient *http.Client
	// PreferredLanguage is requested first when the video carries multiple
	// tracks; the source falls back to its default track when absent.
	PreferredLanguage string
}

// captionsResponse is the wire shape of the timed-text endpoint.
type captionsResponse struct {
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
	Events          []struct {
		StartMs int64  `json:"start_ms"`
		DurMs   int64  `json:"dur_ms"`
		Text    string `json:"text"`
	} `json:"events"`
}

func (c *CaptionsClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Fetch retrieves the caption track for videoID and flattens it to plain
// text. HTTP failure classes map onto the package sentinels:
//
//	404        → ErrVideoUnavailable
//	410        → ErrVideoUnavailable
//	429        → ErrRateLimited
//	204 / empty track → ErrNoCaptions
func (c *CaptionsClient) Fetch(ctx context.Context, videoID string) (*Result, error) {
	u := fmt.Sprintf("%s/videos/%s/captions", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(videoID))
	if c.PreferredLanguage != "" {
		u += "?lang=" + url.QueryEscape(c.PreferredLanguage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("captions source: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode
	case http.StatusNoContent:
		return nil, ErrNoCaptions
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrVideoUnavailable
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("captions source: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cr captionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("captions source: decode response: %w", err)
	}
	if len(cr.Events) == 0 {
		return nil, ErrNoCaptions
	}

	var b strings.Builder
	for _, ev := range cr.Events {
		txt := strings.TrimSpace(ev.Text)
		if txt == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(txt)
	}
	if b.Len() == 0 {
		return nil, ErrNoCaptions
	}

	lang := cr.Language
	if lang == "" {
		lang = "en"
	}
	return &Result{
		Text:            b.String(),
		Language:        lang,
		DurationSeconds: cr.DurationSeconds,
	}, nil
}
