// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS,
// security headers, compression, and scoped rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/config"
	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/http/handlers"
	"github.com/tbourn/go-summary-backend/internal/http/middleware"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
	"github.com/tbourn/go-summary-backend/internal/services"
	"github.com/tbourn/go-summary-backend/internal/transcript"
)

// summaryRepoShim adapts the repository free functions to the
// services.SummaryRepo interface expected by the SummaryService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type summaryRepoShim struct{}

// GetByVideoID proxies repo.GetSummaryByVideoID.
func (summaryRepoShim) GetByVideoID(ctx context.Context, db *gorm.DB, videoID string) (*domain.Summary, error) {
	return repo.GetSummaryByVideoID(ctx, db, videoID)
}

// Create proxies repo.CreateSummary.
func (summaryRepoShim) Create(ctx context.Context, db *gorm.DB, s *domain.Summary) error {
	return repo.CreateSummary(ctx, db, s)
}

// IncrementRequestCount proxies repo.IncrementRequestCount.
func (summaryRepoShim) IncrementRequestCount(ctx context.Context, db *gorm.DB, id string) error {
	return repo.IncrementRequestCount(ctx, db, id)
}

// translationRepoShim adapts the repository free functions to the
// services.TranslationRepo interface.
type translationRepoShim struct{}

// Get proxies repo.GetTranslation.
func (translationRepoShim) Get(ctx context.Context, db *gorm.DB, summaryID, lang string) (*domain.Translation, error) {
	return repo.GetTranslation(ctx, db, summaryID, lang)
}

// Create proxies repo.CreateTranslation.
func (translationRepoShim) Create(ctx context.Context, db *gorm.DB, tr *domain.Translation) error {
	return repo.CreateTranslation(ctx, db, tr)
}

// GetSummary proxies repo.GetSummary.
func (translationRepoShim) GetSummary(ctx context.Context, db *gorm.DB, id string) (*domain.Summary, error) {
	return repo.GetSummary(ctx, db, id)
}

// usageRepoShim adapts repo.CreateUsageRecord to the services.UsageRepo
// interface.
type usageRepoShim struct{}

// Create proxies repo.CreateUsageRecord.
func (usageRepoShim) Create(ctx context.Context, db *gorm.DB, rec *domain.UsageRecord) error {
	return repo.CreateUsageRecord(ctx, db, rec)
}

// summaryStoreShim adapts the repository free functions to the
// handlers.SummaryStore interface used by read-only endpoints.
type summaryStoreShim struct{}

// Get proxies repo.GetSummary.
func (summaryStoreShim) Get(ctx context.Context, db *gorm.DB, id string) (*domain.Summary, error) {
	return repo.GetSummary(ctx, db, id)
}

// ListPage proxies repo.ListSummariesPage.
func (summaryStoreShim) ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Summary, error) {
	return repo.ListSummariesPage(ctx, db, userID, offset, limit)
}

// Count proxies repo.CountSummaries.
func (summaryStoreShim) Count(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountSummaries(ctx, db, userID)
}

// UpdateVisibility proxies repo.UpdateSummaryVisibility.
func (summaryStoreShim) UpdateVisibility(ctx context.Context, db *gorm.DB, id, userID string, isPublic bool) error {
	return repo.UpdateSummaryVisibility(ctx, db, id, userID, isPublic)
}

// ListLanguages proxies repo.ListTranslationLanguages.
func (summaryStoreShim) ListLanguages(ctx context.Context, db *gorm.DB, summaryID string) ([]string, error) {
	return repo.ListTranslationLanguages(ctx, db, summaryID)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, scoped
// rate limiting, CORS and security headers, health and metrics endpoints, and
// then mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip compression (summary payloads compress well)
//  8. CORS and Security headers
//
// Rate limiting is applied per route group, not globally: generation and
// translation consume provider budget and carry independent token buckets,
// while cached reads stay unthrottled.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; request bodies are tiny JSON)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compress responses; structured summaries are large and repetitive.
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (gated; off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/providers
	generator := &llm.Client{
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	}
	transcripts := &transcript.Provider{
		Captions: &transcript.CaptionsClient{BaseURL: cfg.Transcript.CaptionsURL},
		Speech: &transcript.SpeechClient{
			BaseURL: cfg.Transcript.SpeechURL,
			APIKey:  cfg.Transcript.SpeechAPIKey,
		},
	}
	analytics := &services.AnalyticsService{
		DB:   db,
		Repo: usageRepoShim{},
		Pricing: services.Pricing{
			InputCentsPerMTok:      cfg.Pricing.InputCents,
			CacheWriteCentsPerMTok: cfg.Pricing.CacheWriteCents,
			CacheReadCentsPerMTok:  cfg.Pricing.CacheReadCents,
			OutputCentsPerMTok:     cfg.Pricing.OutputCents,
		},
	}
	scaler := services.TimeoutScaler{
		Floor:        cfg.Scaler.Floor,
		Ceiling:      cfg.Scaler.Ceiling,
		StepChars:    cfg.Scaler.StepChars,
		StepDuration: cfg.Scaler.StepDuration,
	}

	sumSvc := &services.SummaryService{
		DB:          db,
		Repo:        summaryRepoShim{},
		Transcripts: transcripts,
		Generator:   generator,
		Analytics:   analytics,
		Scaler:      scaler,
		CacheTTL:    cfg.CacheTTL,
	}
	trSvc := &services.TranslationService{
		DB:         db,
		Repo:       translationRepoShim{},
		Translator: generator,
		Analytics:  analytics,
		Scaler:     scaler,
	}

	h := handlers.New(db, summaryStoreShim{}, sumSvc, trSvc)

	// Scoped token-bucket limiters; only provider-facing routes pay tokens.
	genLimit := middleware.NewRateLimiter("generate",
		cfg.RateGenerate.RPS, cfg.RateGenerate.Burst, middleware.KeyByUserOrIP())
	trLimit := middleware.NewRateLimiter("translate",
		cfg.RateTranslate.RPS, cfg.RateTranslate.Burst, middleware.KeyByUserOrIP())

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Summaries
		api.POST("/summaries", genLimit.Handler(), h.CreateSummary)
		api.GET("/summaries", h.ListSummaries)
		api.GET("/summaries/:id", h.GetSummary)
		api.PUT("/summaries/:id/visibility", h.UpdateVisibility)

		// Translations
		api.POST("/summaries/:id/translations", trLimit.Handler(), h.Translate)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
