// Package services – SummaryService
//
// This file implements the generation cache and coalescer, the component
// that guards the expensive text-generation call. Its job: for any video,
// at most one provider call may be outstanding process-wide, every caller
// that asks while one is in flight observes the same outcome, and a
// completed summary is served from the durable cache without touching the
// provider again.
//
// Per-video state machine: Absent → InFlight → {Cached, Absent}. The
// Absent → InFlight transition is atomic (flightGroup); success moves to
// Cached via a durable write before the result is broadcast; failure
// returns to Absent so a later caller can retry — transient provider
// failures never poison the cache. Retries themselves are the HTTP
// boundary's decision, never implicit here, so latency characteristics stay
// visible in analytics.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

// TranscriptProvider acquires transcripts through the fallback chain.
type TranscriptProvider interface {
	Fetch(ctx context.Context, videoID string) (*transcript.Result, error)
}

// Generator is the text-generation provider dependency.
type Generator interface {
	Summarize(ctx context.Context, req llm.SummarizeRequest) (*llm.SummaryPayload, llm.Usage, error)
}

// SummaryRepo defines the persistence contract required by SummaryService.
type SummaryRepo interface {
	// GetByVideoID returns the cached summary for a video or repo.ErrNotFound.
	GetByVideoID(ctx context.Context, db *gorm.DB, videoID string) (*domain.Summary, error)
	// Create persists the result of one successful generation.
	Create(ctx context.Context, db *gorm.DB, s *domain.Summary) error
	// IncrementRequestCount bumps the served counter; relaxed, best-effort.
	IncrementRequestCount(ctx context.Context, db *gorm.DB, id string) error
}

// Recorder is the analytics dependency. Implementations must be
// best-effort: Record never fails the request path.
type Recorder interface {
	Record(ctx context.Context, rec *domain.UsageRecord)
	UsageFromTokens(rec *domain.UsageRecord, u llm.Usage)
}

// SummaryService coordinates transcript acquisition, deadline scaling,
// in-flight coalescing, durable caching, and usage accounting.
type SummaryService struct {
	DB          *gorm.DB
	Repo        SummaryRepo
	Transcripts TranscriptProvider
	Generator   Generator
	Analytics   Recorder
	Scaler      TimeoutScaler

	// CacheTTL bounds the age of a served summary. Zero means cached
	// summaries are permanent; a positive value makes the leader regenerate
	// entries older than the TTL. Surfaced as configuration because no
	// eviction policy is inherent to the domain.
	CacheTTL time.Duration

	flights flightGroup[*domain.Summary]
}

// SummaryOutcome is the result of one Summarize call.
type SummaryOutcome struct {
	Summary *domain.Summary
	// CacheHit is true when the payload came from the durable cache or from
	// joining another caller's in-flight generation.
	CacheHit bool
}

// Summarize returns the structured summary for videoID, generating it at
// most once across all concurrent callers.
//
// The caller's ctx governs the transcript fetch and cache reads. The
// provider call runs on a context detached from the caller and bounded only
// by the scaled deadline: a disconnecting client must not cancel a
// generation that other callers may be waiting on.
func (s *SummaryService) Summarize(ctx context.Context, userID, videoID string) (*SummaryOutcome, error) {
	tr := otel.Tracer("services/SummaryService")
	ctx, span := tr.Start(ctx, "Summarize",
		trace.WithAttributes(
			attribute.String("video.id", videoID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	// Malformed identifiers fail before any network call and before the
	// pipeline counts an attempt.
	if !transcript.ValidVideoID(videoID) {
		return nil, transcript.ErrInvalidVideoID
	}

	start := time.Now()

	// Durable cache first: a hit never touches the transcript sources or
	// the provider.
	cached, err := s.Repo.GetByVideoID(ctx, s.DB, videoID)
	switch {
	case err == nil:
		if s.CacheTTL <= 0 || time.Since(cached.CreatedAt) < s.CacheTTL {
			return s.serveHit(ctx, userID, cached, start), nil
		}
		// Expired: fall through and regenerate. The stale row is replaced
		// in place by the winning leader.
	case !errors.Is(err, repo.ErrNotFound):
		s.recordFailure(ctx, userID, videoID, nil, start, err, llm.Usage{})
		return nil, err
	}

	// The transcript is fetched outside the coalescing section: concurrent
	// first-time callers each carry the same content, and a transcript
	// failure must classify before a provider call is even considered.
	tres, err := s.Transcripts.Fetch(ctx, videoID)
	if err != nil {
		s.recordFailure(ctx, userID, videoID, nil, start, err, llm.Usage{})
		return nil, err
	}

	call, leader := s.flights.join(videoID)
	if !leader {
		sum, werr := call.wait(ctx)
		if werr != nil {
			// A joiner abandoning the wait is a caller disconnect, not a
			// pipeline failure: the generation itself is still running.
			if ctx.Err() != nil {
				return nil, werr
			}
			s.recordFailure(ctx, userID, videoID, tres, start, werr, llm.Usage{})
			return nil, werr
		}
		// Joiners are cache hits in accounting: they consumed no provider
		// budget of their own.
		s.bumpAndRecordHit(ctx, userID, sum, tres.DurationSeconds, start)
		return &SummaryOutcome{Summary: sum, CacheHit: true}, nil
	}

	// Another caller may have completed an entire generation between our
	// cache miss and winning the flight (a slow transcript fetch is enough).
	// Losing that race must not spend a second provider call, so the leader
	// re-reads the durable cache before generating.
	if again, err := s.Repo.GetByVideoID(ctx, s.DB, videoID); err == nil {
		if s.CacheTTL <= 0 || time.Since(again.CreatedAt) < s.CacheTTL {
			s.flights.finish(videoID, call, again, nil)
			return s.serveHit(ctx, userID, again, start), nil
		}
		cached = again
	}

	sum, usage, gerr := s.generate(ctx, userID, videoID, tres, cached)
	s.flights.finish(videoID, call, sum, gerr)
	if gerr != nil {
		s.recordFailure(ctx, userID, videoID, tres, start, gerr, usage)
		return nil, gerr
	}

	rec := &domain.UsageRecord{
		VideoID:         videoID,
		UserID:          userID,
		Kind:            domain.KindGeneration,
		DurationSeconds: tres.DurationSeconds,
		Language:        tres.Language,
		ProcessingMs:    time.Since(start).Milliseconds(),
		OutputWords:     outputWords(sum),
		Status:          domain.StatusSuccess,
		CacheHit:        false,
	}
	s.Analytics.UsageFromTokens(rec, usage)
	s.Analytics.Record(ctx, rec)

	return &SummaryOutcome{Summary: sum, CacheHit: false}, nil
}

// generate runs the provider call under the scaled deadline and persists the
// result. Only the flight leader reaches here.
func (s *SummaryService) generate(ctx context.Context, userID, videoID string, tres *transcript.Result, stale *domain.Summary) (*domain.Summary, llm.Usage, error) {
	deadline := s.Scaler.TimeoutFor(len(tres.Text))
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	payload, usage, err := s.Generator.Summarize(genCtx, llm.SummarizeRequest{
		VideoID:         videoID,
		Transcript:      tres.Text,
		Language:        tres.Language,
		DurationSeconds: tres.DurationSeconds,
	})
	if err != nil {
		return nil, usage, err
	}

	sum, err := buildSummary(videoID, userID, tres, payload)
	if err != nil {
		return nil, usage, err
	}
	if stale != nil {
		// Regeneration after TTL expiry reuses the row identity so the
		// unique video index and foreign keys stay intact.
		sum.ID = stale.ID
		sum.RequestCount = stale.RequestCount
		if err := s.DB.WithContext(genCtx).Save(sum).Error; err != nil {
			return nil, usage, err
		}
		return sum, usage, nil
	}
	if err := s.Repo.Create(genCtx, s.DB, sum); err != nil {
		return nil, usage, err
	}
	return sum, usage, nil
}

// serveHit accounts for a durable-cache hit and returns the stored summary.
func (s *SummaryService) serveHit(ctx context.Context, userID string, sum *domain.Summary, start time.Time) *SummaryOutcome {
	s.bumpAndRecordHit(ctx, userID, sum, sum.DurationSeconds, start)
	return &SummaryOutcome{Summary: sum, CacheHit: true}
}

func (s *SummaryService) bumpAndRecordHit(ctx context.Context, userID string, sum *domain.Summary, duration float64, start time.Time) {
	// Relaxed counter: correctness does not depend on it, so hot-video
	// reads never serialize on the increment.
	_ = s.Repo.IncrementRequestCount(ctx, s.DB, sum.ID)

	s.Analytics.Record(ctx, &domain.UsageRecord{
		VideoID:         sum.VideoID,
		UserID:          userID,
		Kind:            domain.KindGeneration,
		DurationSeconds: duration,
		Language:        sum.Language,
		ProcessingMs:    time.Since(start).Milliseconds(),
		OutputWords:     outputWords(sum),
		Status:          domain.StatusSuccess,
		CacheHit:        true,
	})
}

func (s *SummaryService) recordFailure(ctx context.Context, userID, videoID string, tres *transcript.Result, start time.Time, cause error, usage llm.Usage) {
	rec := &domain.UsageRecord{
		VideoID:      videoID,
		UserID:       userID,
		Kind:         domain.KindGeneration,
		ProcessingMs: time.Since(start).Milliseconds(),
		Status:       domain.StatusFailed,
		ErrorType:    string(ClassifyErr(cause)),
		ErrorMessage: cause.Error(),
	}
	if tres != nil {
		rec.DurationSeconds = tres.DurationSeconds
		rec.Language = tres.Language
	}
	s.Analytics.UsageFromTokens(rec, usage)
	s.Analytics.Record(ctx, rec)
}

// buildSummary freezes a provider payload into its durable form.
func buildSummary(videoID, userID string, tres *transcript.Result, payload *llm.SummaryPayload) (*domain.Summary, error) {
	sections, err := json.Marshal(payload.Sections)
	if err != nil {
		return nil, err
	}
	flashcards, err := json.Marshal(payload.Flashcards)
	if err != nil {
		return nil, err
	}
	actionItems, err := json.Marshal(payload.ActionItems)
	if err != nil {
		return nil, err
	}
	references, err := json.Marshal(payload.References)
	if err != nil {
		return nil, err
	}
	return &domain.Summary{
		ID:              uuid.NewString(),
		VideoID:         videoID,
		UserID:          userID,
		QuickSummary:    payload.QuickSummary,
		SectionsJSON:    string(sections),
		FlashcardsJSON:  string(flashcards),
		ActionItemsJSON: string(actionItems),
		ReferencesJSON:  string(references),
		Category:        payload.Category,
		Language:        tres.Language,
		DurationSeconds: tres.DurationSeconds,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// outputWords counts the words of the stored natural-language fields.
func outputWords(sum *domain.Summary) int64 {
	p, err := DecodePayload(sum)
	if err != nil {
		return 0
	}
	return p.WordCount()
}

// DecodePayload reassembles the structured payload from a summary row.
func DecodePayload(sum *domain.Summary) (*llm.SummaryPayload, error) {
	p := &llm.SummaryPayload{
		QuickSummary: sum.QuickSummary,
		Category:     sum.Category,
	}
	if err := json.Unmarshal([]byte(sum.SectionsJSON), &p.Sections); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sum.FlashcardsJSON), &p.Flashcards); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sum.ActionItemsJSON), &p.ActionItems); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sum.ReferencesJSON), &p.References); err != nil {
		return nil, err
	}
	return p, nil
}
