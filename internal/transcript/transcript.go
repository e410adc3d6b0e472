// Package transcript acquires raw timed text for a video through a chain of
// unreliable sources. It exposes a single Provider that tries the fast/free
// captions source first and falls back to the slower speech-to-text source
// only when captions are genuinely absent — other failure classes (video
// unavailable, rate limited) propagate immediately because a different
// source cannot fix them.
//
// This layer performs no caching: a transcript that was fetched successfully
// but whose downstream generation failed must not be remembered as "this
// video has no transcript". Caching is keyed by the summary, one level up.
package transcript

import (
	"context"
	"errors"
	"regexp"
)

// Sentinel failures returned by sources. Callers branch on these with
// errors.Is; anything else is treated as an opaque source error.
var (
	// ErrNoCaptions means the captions source has no track for the video.
	// This is the only failure class that triggers the speech-to-text
	// fallback.
	ErrNoCaptions = errors.New("no captions available")

	// ErrVideoUnavailable means the video is private, removed, or otherwise
	// not retrievable by any source.
	ErrVideoUnavailable = errors.New("video unavailable")

	// ErrRateLimited means the source rejected the request due to quota.
	ErrRateLimited = errors.New("rate limited by transcript source")

	// ErrInvalidVideoID is returned before any network call when the
	// identifier does not match the provider's token format.
	ErrInvalidVideoID = errors.New("invalid video id")
)

// Result is the raw timed text of a video in a single language.
// Results are immutable once returned.
type Result struct {
	// Text is the full transcript with timing markup stripped.
	Text string
	// Language is the detected BCP-47 tag of the transcript.
	Language string
	// DurationSeconds is the source video duration.
	DurationSeconds float64
}

// Source is one external transcript backend.
//
// Implementations must honor ctx for cancellation and map their transport
// failures onto the sentinel errors above where applicable.
type Source interface {
	Fetch(ctx context.Context, videoID string) (*Result, error)
}

// videoIDRE matches the provider's fixed-length video token: exactly eleven
// characters from the URL-safe base64 alphabet. Validating up front keeps
// untrusted identifiers out of request paths and any templated calls.
var videoIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidVideoID reports whether id matches the provider's token format.
func ValidVideoID(id string) bool { return videoIDRE.MatchString(id) }

// Provider orchestrates the fallback chain over the configured sources.
type Provider struct {
	// Captions is the cheap, often-instant primary source.
	Captions Source
	// Speech is the slow, costly, universally available fallback.
	Speech Source
}

// Fetch acquires a transcript for videoID.
//
// The identifier is validated before any network call. The captions source is
// tried first; only ErrNoCaptions triggers the speech-to-text fallback. If
// the fallback fails too, the failure still classifies as "no captions" —
// the video demonstrably has none, whatever went wrong afterwards.
func (p *Provider) Fetch(ctx context.Context, videoID string) (*Result, error) {
	if !ValidVideoID(videoID) {
		return nil, ErrInvalidVideoID
	}

	res, err := p.Captions.Fetch(ctx, videoID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, ErrNoCaptions) {
		return nil, err
	}

	if p.Speech == nil {
		return nil, err
	}
	res, ferr := p.Speech.Fetch(ctx, videoID)
	if ferr != nil {
		return nil, errors.Join(ErrNoCaptions, ferr)
	}
	return res, nil
}
