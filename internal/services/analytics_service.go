// Package services – usage analytics
//
// AnalyticsService turns provider token counts into money and persists one
// telemetry row per generation or translation attempt. Recording is
// best-effort by design: a failure to persist telemetry is logged and
// swallowed, never propagated — analytics is observability, not a
// correctness dependency of the request path.
package services

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
)

// Prometheus collectors for the generation pipeline. Label cardinality is
// bounded: kind and status are closed sets, error_type is the taxonomy.
var (
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_attempts_total",
			Help: "Generation and translation attempts by kind, status and cache outcome.",
		},
		[]string{"kind", "status", "cache_hit"},
	)

	attemptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summary_attempt_errors_total",
			Help: "Failed attempts by taxonomy error type.",
		},
		[]string{"kind", "error_type"},
	)

	providerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_tokens_total",
			Help: "Provider token consumption by accounting class.",
		},
		[]string{"class"},
	)

	providerCostCents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "provider_cost_cents_total",
			Help: "Accumulated provider cost in cents.",
		},
	)

	processingSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summary_processing_seconds",
			Help:    "Wall-clock processing time per attempt.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind", "cache_hit"},
	)
)

func init() {
	prometheus.MustRegister(attemptsTotal, attemptErrors, providerTokens, providerCostCents, processingSeconds)
}

// Pricing holds the provider's per-million-token rates in cents. Cache reads
// are billed at a discount; cache creation at a premium over regular input.
type Pricing struct {
	InputCentsPerMTok      float64
	CacheWriteCentsPerMTok float64
	CacheReadCentsPerMTok  float64
	OutputCentsPerMTok     float64
}

// CostCents derives the cost of one call in the smallest currency unit,
// rounded half up so that aggregation over many rows stays consistent.
// Pure function of the usage counters and the configured rates.
func (p Pricing) CostCents(u llm.Usage) int64 {
	const mtok = 1_000_000
	cents := float64(u.InputTokens)*p.InputCentsPerMTok/mtok +
		float64(u.CacheCreationTokens)*p.CacheWriteCentsPerMTok/mtok +
		float64(u.CacheReadTokens)*p.CacheReadCentsPerMTok/mtok +
		float64(u.OutputTokens)*p.OutputCentsPerMTok/mtok
	return int64(math.Round(cents))
}

// UsageRepo is the persistence contract required by AnalyticsService.
type UsageRepo interface {
	Create(ctx context.Context, db *gorm.DB, rec *domain.UsageRecord) error
}

// AnalyticsService persists usage telemetry and exports the related metrics.
type AnalyticsService struct {
	DB      *gorm.DB
	Repo    UsageRepo
	Pricing Pricing
}

// Record fills in derived fields and appends one usage row. It never returns
// an error: persistence failures are logged and swallowed. The write runs on
// a context detached from the caller's so a disconnecting client cannot lose
// the row.
func (a *AnalyticsService) Record(ctx context.Context, rec *domain.UsageRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	attemptsTotal.WithLabelValues(rec.Kind, rec.Status, boolLabel(rec.CacheHit)).Inc()
	processingSeconds.WithLabelValues(rec.Kind, boolLabel(rec.CacheHit)).
		Observe(float64(rec.ProcessingMs) / 1000)
	if rec.Status == domain.StatusFailed {
		attemptErrors.WithLabelValues(rec.Kind, rec.ErrorType).Inc()
	}
	providerTokens.WithLabelValues("input").Add(float64(rec.InputTokens))
	providerTokens.WithLabelValues("cache_creation").Add(float64(rec.CacheCreationTokens))
	providerTokens.WithLabelValues("cache_read").Add(float64(rec.CacheReadTokens))
	providerTokens.WithLabelValues("output").Add(float64(rec.OutputTokens))
	providerCostCents.Add(float64(rec.CostCents))

	if a.Repo == nil || a.DB == nil {
		return
	}
	if err := a.Repo.Create(context.WithoutCancel(ctx), a.DB, rec); err != nil {
		log.Warn().
			Err(err).
			Str("video_id", rec.VideoID).
			Str("kind", rec.Kind).
			Str("status", rec.Status).
			Msg("usage record not persisted")
	}
}

// UsageFromTokens builds the cost fields of a record from provider usage.
func (a *AnalyticsService) UsageFromTokens(rec *domain.UsageRecord, u llm.Usage) {
	rec.InputTokens = u.InputTokens
	rec.CacheCreationTokens = u.CacheCreationTokens
	rec.CacheReadTokens = u.CacheReadTokens
	rec.OutputTokens = u.OutputTokens
	rec.CostCents = a.Pricing.CostCents(u)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
