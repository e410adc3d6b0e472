// Package domain defines the persistence models for video summaries,
// translations, and usage telemetry. These types are mapped with GORM and
// form the core data layer of the summary backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Summary represents the durable result of one successful generation run for
// a video. There is at most one Summary per VideoID; concurrent requests for
// the same video coalesce into a single provider call before this row exists.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - VideoID: the provider's 11-character video token; unique.
//   - UserID: identity of the caller whose request created the row.
//   - QuickSummary: short free-text overview of the video.
//   - SectionsJSON / FlashcardsJSON / ActionItemsJSON / ReferencesJSON:
//     JSON-encoded payload parts (see llm.SummaryPayload). Stored as opaque
//     text so the payload can evolve without schema migrations.
//   - Category: single classification label; also the filter key used by
//     translations, which copy it verbatim instead of translating it.
//   - Language: detected transcript language (BCP-47).
//   - DurationSeconds: source video duration.
//   - RequestCount: number of times this summary has been served, including
//     the read that created it. Monotonically non-decreasing; updated with a
//     relaxed single-column increment because the exact value is not
//     safety-critical.
//   - IsPublic: publish-visibility flag. Owned by the HTTP layer, never
//     touched by the generation path.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Summary struct {
	ID              string         `json:"id"               gorm:"type:char(36);primaryKey"`
	VideoID         string         `json:"video_id"         gorm:"type:varchar(16);not null;uniqueIndex:ux_summary_video"`
	UserID          string         `json:"user_id"          gorm:"type:varchar(64);not null;index:idx_user_summaries"`
	QuickSummary    string         `json:"quick_summary"    gorm:"type:text;not null"`
	SectionsJSON    string         `json:"-"                gorm:"column:sections_json;type:text;not null"`
	FlashcardsJSON  string         `json:"-"                gorm:"column:flashcards_json;type:text;not null"`
	ActionItemsJSON string         `json:"-"                gorm:"column:action_items_json;type:text;not null"`
	ReferencesJSON  string         `json:"-"                gorm:"column:references_json;type:text;not null"`
	Category        string         `json:"category"         gorm:"type:varchar(64);not null;index"`
	Language        string         `json:"language"         gorm:"type:varchar(16);not null"`
	DurationSeconds float64        `json:"duration_seconds" gorm:"not null;default:0"`
	RequestCount    int64          `json:"request_count"    gorm:"not null;default:0"`
	IsPublic        bool           `json:"is_public"        gorm:"not null;default:false"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for Summary.
func (Summary) TableName() string { return "summaries" }

// Translation is a language-specific copy of a summary payload. A translation
// is immutable once written; a cache hit is a terminal read. The unique index
// over (SummaryID, Language) backs the translation coalescer's durable layer.
//
// Category is deliberately NOT translated: it is copied verbatim from the
// source summary because other layers use it as a filter key.
type Translation struct {
	ID              string         `json:"id"            gorm:"type:char(36);primaryKey"`
	SummaryID       string         `json:"summary_id"    gorm:"type:char(36);not null;index;uniqueIndex:ux_translation_summary_lang"`
	Language        string         `json:"language"      gorm:"type:varchar(16);not null;uniqueIndex:ux_translation_summary_lang"`
	QuickSummary    string         `json:"quick_summary" gorm:"type:text;not null"`
	SectionsJSON    string         `json:"-"             gorm:"column:sections_json;type:text;not null"`
	FlashcardsJSON  string         `json:"-"             gorm:"column:flashcards_json;type:text;not null"`
	ActionItemsJSON string         `json:"-"             gorm:"column:action_items_json;type:text;not null"`
	ReferencesJSON  string         `json:"-"             gorm:"column:references_json;type:text;not null"`
	Category        string         `json:"category"      gorm:"type:varchar(64);not null"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"             gorm:"index"`

	// Summary is the source payload. Translations are cascade-deleted if the
	// underlying summary is removed.
	Summary Summary `json:"-" gorm:"foreignKey:SummaryID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Translation.
func (Translation) TableName() string { return "translations" }

// Usage status values.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Usage kinds. A record is written for summary generation and for
// translation attempts alike; Kind tells them apart in aggregations.
const (
	KindGeneration  = "generation"
	KindTranslation = "translation"
)

// UsageRecord captures the cost and performance telemetry of a single
// generation or translation attempt. Exactly one row is written per attempt:
// cache hit, coalesced join, fresh generation, or failure. Rows are
// append-only and never updated; analytics is observability, not a
// correctness dependency, so writes are best-effort.
//
// Token subtotals mirror the provider's prompt-caching accounting:
// InputTokens covers regular input, CacheCreationTokens the tokens written
// into the provider-side prompt cache, CacheReadTokens the (discounted)
// tokens read back from it.
type UsageRecord struct {
	ID                  string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	VideoID             string    `json:"video_id"              gorm:"type:varchar(16);not null;index"`
	UserID              string    `json:"user_id"               gorm:"type:varchar(64);not null;index"`
	Kind                string    `json:"kind"                  gorm:"type:varchar(16);not null;default:'generation'"`
	DurationSeconds     float64   `json:"duration_seconds"      gorm:"not null;default:0"`
	Language            string    `json:"language"              gorm:"type:varchar(16)"`
	ProcessingMs        int64     `json:"processing_ms"         gorm:"not null;default:0"`
	InputTokens         int64     `json:"input_tokens"          gorm:"not null;default:0"`
	CacheCreationTokens int64     `json:"cache_creation_tokens" gorm:"not null;default:0"`
	CacheReadTokens     int64     `json:"cache_read_tokens"     gorm:"not null;default:0"`
	OutputTokens        int64     `json:"output_tokens"         gorm:"not null;default:0"`
	CostCents           int64     `json:"cost_cents"            gorm:"not null;default:0"`
	OutputWords         int64     `json:"output_words"          gorm:"not null;default:0"`
	Status              string    `json:"status"                gorm:"type:varchar(16);not null;check:status IN ('success','failed');index"`
	ErrorType           string    `json:"error_type"            gorm:"type:varchar(32)"`
	ErrorMessage        string    `json:"error_message"         gorm:"type:text"`
	RetryCount          int       `json:"retry_count"           gorm:"not null;default:0"`
	CacheHit            bool      `json:"cache_hit"             gorm:"not null;default:false"`
	CreatedAt           time.Time `json:"created_at"            gorm:"index"`
}

// TableName returns the database table name for UsageRecord.
func (UsageRecord) TableName() string { return "usage_records" }
