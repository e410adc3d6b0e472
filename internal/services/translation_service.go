// Package services – TranslationService
//
// Translations mirror the generation cache one level down: keyed by
// (summary, language) instead of video, fronted by the same coalescing
// group, backed by the same durable store. A completed translation is
// terminal — it never expires and never regenerates — so the state machine
// collapses to Absent → InFlight → Cached, with failures returning to
// Absent exactly as for summaries.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
)

// Translator is the provider dependency for payload translation.
type Translator interface {
	Translate(ctx context.Context, payload *llm.SummaryPayload, lang string) (*llm.SummaryPayload, llm.Usage, error)
}

// TranslationRepo defines the persistence contract for translations.
type TranslationRepo interface {
	Get(ctx context.Context, db *gorm.DB, summaryID, lang string) (*domain.Translation, error)
	Create(ctx context.Context, db *gorm.DB, tr *domain.Translation) error
	GetSummary(ctx context.Context, db *gorm.DB, id string) (*domain.Summary, error)
}

// TranslationService serves a summary's payload in a requested language,
// translating it at most once per (summary, language) pair.
type TranslationService struct {
	DB         *gorm.DB
	Repo       TranslationRepo
	Translator Translator
	Analytics  Recorder
	Scaler     TimeoutScaler

	flights flightGroup[*domain.Translation]
}

// Translate returns the translation of summaryID into lang, producing it on
// first request and serving the stored row afterwards. lang must be a valid
// BCP 47 tag; it is canonicalized before use so "EN-us" and "en-US" share a
// cache entry.
func (s *TranslationService) Translate(ctx context.Context, userID, summaryID, lang string) (*domain.Translation, bool, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, false, ErrUnsupportedLanguage
	}
	lang = tag.String()

	start := time.Now()

	sum, err := s.Repo.GetSummary(ctx, s.DB, summaryID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrSummaryNotFound
		}
		return nil, false, err
	}
	if sum.Language == lang {
		// Translating into the source language is a no-op request.
		return nil, false, ErrUnsupportedLanguage
	}

	// Durable cache first: completed translations are terminal.
	if tr, err := s.Repo.Get(ctx, s.DB, summaryID, lang); err == nil {
		s.record(ctx, userID, sum, lang, start, nil, llm.Usage{}, true, tr)
		return tr, true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	key := summaryID + "|" + lang
	call, leader := s.flights.join(key)
	if !leader {
		tr, werr := call.wait(ctx)
		if werr != nil {
			// A joiner abandoning the wait is a caller disconnect, not a
			// pipeline failure: the translation itself is still running.
			if ctx.Err() != nil {
				return nil, false, werr
			}
			s.record(ctx, userID, sum, lang, start, werr, llm.Usage{}, false, nil)
			return nil, false, werr
		}
		s.record(ctx, userID, sum, lang, start, nil, llm.Usage{}, true, tr)
		return tr, true, nil
	}

	tr, usage, terr := s.translate(ctx, sum, lang)
	s.flights.finish(key, call, tr, terr)
	s.record(ctx, userID, sum, lang, start, terr, usage, false, tr)
	if terr != nil {
		return nil, false, terr
	}
	return tr, false, nil
}

// translate runs the provider call and persists the result. Leader only.
func (s *TranslationService) translate(ctx context.Context, sum *domain.Summary, lang string) (*domain.Translation, llm.Usage, error) {
	src, err := DecodePayload(sum)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	// Deadline scales with the source payload, measured the same way the
	// generation path measures transcripts.
	deadline := s.Scaler.TimeoutFor(payloadChars(sum))
	trCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	out, usage, err := s.Translator.Translate(trCtx, src, lang)
	if err != nil {
		return nil, usage, err
	}
	// The category is a filter key owned by the source payload; it crosses
	// languages verbatim.
	out.Category = src.Category

	tr, err := buildTranslation(sum.ID, lang, out)
	if err != nil {
		return nil, usage, err
	}
	if err := s.Repo.Create(trCtx, s.DB, tr); err != nil {
		return nil, usage, err
	}
	return tr, usage, nil
}

func (s *TranslationService) record(ctx context.Context, userID string, sum *domain.Summary, lang string, start time.Time, cause error, usage llm.Usage, cacheHit bool, tr *domain.Translation) {
	rec := &domain.UsageRecord{
		VideoID:         sum.VideoID,
		UserID:          userID,
		Kind:            domain.KindTranslation,
		DurationSeconds: sum.DurationSeconds,
		Language:        lang,
		ProcessingMs:    time.Since(start).Milliseconds(),
		Status:          domain.StatusSuccess,
		CacheHit:        cacheHit,
	}
	if cause != nil {
		rec.Status = domain.StatusFailed
		rec.ErrorType = string(ClassifyErr(cause))
		rec.ErrorMessage = cause.Error()
	} else if tr != nil {
		rec.OutputWords = translationWords(tr)
	}
	s.Analytics.UsageFromTokens(rec, usage)
	s.Analytics.Record(ctx, rec)
}

// translationWords mirrors the generation path's word accounting.
func translationWords(tr *domain.Translation) int64 {
	p := &llm.SummaryPayload{QuickSummary: tr.QuickSummary}
	if err := json.Unmarshal([]byte(tr.SectionsJSON), &p.Sections); err != nil {
		return 0
	}
	if err := json.Unmarshal([]byte(tr.FlashcardsJSON), &p.Flashcards); err != nil {
		return 0
	}
	if err := json.Unmarshal([]byte(tr.ActionItemsJSON), &p.ActionItems); err != nil {
		return 0
	}
	return p.WordCount()
}

// buildTranslation freezes a translated payload into its durable form.
func buildTranslation(summaryID, lang string, payload *llm.SummaryPayload) (*domain.Translation, error) {
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
	return &domain.Translation{
		ID:              uuid.NewString(),
		SummaryID:       summaryID,
		Language:        lang,
		QuickSummary:    payload.QuickSummary,
		SectionsJSON:    string(sections),
		FlashcardsJSON:  string(flashcards),
		ActionItemsJSON: string(actionItems),
		ReferencesJSON:  string(references),
		Category:        payload.Category,
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// payloadChars approximates the translation input size from the stored
// columns; exact tokenization belongs to the provider.
func payloadChars(sum *domain.Summary) int {
	return len(sum.QuickSummary) + len(sum.SectionsJSON) +
		len(sum.FlashcardsJSON) + len(sum.ActionItemsJSON)
}
