// Summary HTTP handlers.
//
// This file exposes REST endpoints for summary resources:
//   - POST   /summaries                  (generate or serve cached)
//   - GET    /summaries                  (list own, paginated)
//   - GET    /summaries/{id}             (fetch one)
//   - PUT    /summaries/{id}/visibility  (publish / unpublish)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. The expensive generation path is
// entirely owned by services.SummaryService; these handlers never talk to the
// provider directly.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/repo"
	"github.com/tbourn/go-summary-backend/internal/services"
	"github.com/tbourn/go-summary-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SummaryService defines the generation operation consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SummaryService interface {
	// Summarize returns the summary for videoID, generating it at most once
	// across all concurrent callers.
	Summarize(ctx context.Context, userID, videoID string) (*services.SummaryOutcome, error)
}

// TranslationService defines the translation operation consumed by HTTP
// handlers.
type TranslationService interface {
	// Translate returns summaryID's payload in lang, translating on first
	// request and serving the stored row afterwards.
	Translate(ctx context.Context, userID, summaryID, lang string) (*domain.Translation, bool, error)
}

// SummaryStore defines the read-side persistence operations used by handlers
// that never touch the generation pipeline.
type SummaryStore interface {
	Get(ctx context.Context, db *gorm.DB, id string) (*domain.Summary, error)
	ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Summary, error)
	Count(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	UpdateVisibility(ctx context.Context, db *gorm.DB, id, userID string, isPublic bool) error
	ListLanguages(ctx context.Context, db *gorm.DB, summaryID string) ([]string, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for summaries and translations.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	db     *gorm.DB
	store  SummaryStore
	sumSvc SummaryService
	trSvc  TranslationService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(db *gorm.DB, store SummaryStore, sumSvc SummaryService, trSvc TranslationService) *Handlers {
	return &Handlers{db: db, store: store, sumSvc: sumSvc, trSvc: trSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateSummaryRequest is the JSON payload for requesting a summary.
type CreateSummaryRequest struct {
	// VideoID is the eleven-character video token.
	VideoID string `json:"video_id" binding:"required" example:"dQw4w9WgXcQ"`
}

// UpdateVisibilityRequest is the JSON payload for publishing a summary.
type UpdateVisibilityRequest struct {
	IsPublic *bool `json:"is_public" binding:"required" example:"true"`
}

// SummaryResponse is the full summary resource returned to clients. The
// structured payload parts are decoded from their stored JSON columns.
type SummaryResponse struct {
	ID              string           `json:"id"`
	VideoID         string           `json:"video_id"`
	QuickSummary    string           `json:"quick_summary"`
	Sections        []llm.Section    `json:"sections"`
	Flashcards      []llm.Flashcard  `json:"flashcards"`
	ActionItems     []llm.ActionItem `json:"action_items"`
	References      []llm.Reference  `json:"references"`
	Category        string           `json:"category"`
	Language        string           `json:"language"`
	DurationSeconds float64          `json:"duration_seconds"`
	RequestCount    int64            `json:"request_count"`
	IsPublic        bool             `json:"is_public"`
	CreatedAt       string           `json:"created_at"`

	// CacheHit reports whether this response was served without a fresh
	// provider call. Only meaningful on POST.
	CacheHit bool `json:"cache_hit,omitempty"`
	// Translations lists the languages a stored translation exists for.
	// Populated on single-resource reads.
	Translations []string `json:"translations,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListSummariesResponse wraps a page of summaries and pagination information.
type ListSummariesResponse struct {
	Summaries  []SummaryResponse `json:"summaries"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// summaryDTO projects a domain row onto the response shape. A row whose JSON
// columns fail to decode is returned with the quick summary only; the stored
// row is the source of truth and is never mutated here.
func summaryDTO(s *domain.Summary) SummaryResponse {
	out := SummaryResponse{
		ID:              s.ID,
		VideoID:         s.VideoID,
		QuickSummary:    s.QuickSummary,
		Category:        s.Category,
		Language:        s.Language,
		DurationSeconds: s.DurationSeconds,
		RequestCount:    s.RequestCount,
		IsPublic:        s.IsPublic,
		CreatedAt:       s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if p, err := services.DecodePayload(s); err == nil {
		out.Sections = p.Sections
		out.Flashcards = p.Flashcards
		out.ActionItems = p.ActionItems
		out.References = p.References
	}
	return out
}

//
// Handlers
//

// CreateSummary godoc
// @ID          createSummary
// @Summary     Generate or fetch a video summary
// @Description Returns the structured summary for a video, generating it on first request. Concurrent requests for the same video share a single generation.
// @Tags        Summaries
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateSummaryRequest  true  "Video to summarize"
//
// @Success     200  {object}  handlers.SummaryResponse "Served from cache"
// @Success     201  {object}  handlers.SummaryResponse "Freshly generated"
// @Failure     400  {object}  handlers.ErrorResponse   "Invalid video id"
// @Failure     404  {object}  handlers.ErrorResponse   "Video unavailable"
// @Failure     422  {object}  handlers.ErrorResponse   "Video cannot be summarized"
// @Failure     429  {object}  handlers.ErrorResponse   "Over capacity"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /summaries [post]
func (h *Handlers) CreateSummary(c *gin.Context) {
	var req CreateSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	out, err := h.sumSvc.Summarize(c.Request.Context(), userID(c), strings.TrimSpace(req.VideoID))
	if err != nil {
		failPipeline(c, err)
		return
	}

	resp := summaryDTO(out.Summary)
	resp.CacheHit = out.CacheHit
	status := http.StatusCreated
	if out.CacheHit {
		status = http.StatusOK
	}
	ok(c, status, resp)
}

// ListSummaries godoc
// @ID          listSummaries
// @Summary     List summaries (paginated)
// @Description Returns a page of the user's summaries, newest first.
// @Tags        Summaries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListSummariesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /summaries [get]
func (h *Handlers) ListSummaries(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	total, err := h.store.Count(ctx, h.db, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	items, err := h.store.ListPage(ctx, h.db, uid, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resps := make([]SummaryResponse, 0, len(items))
	for i := range items {
		resps = append(resps, summaryDTO(&items[i]))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListSummariesResponse{
		Summaries: resps,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetSummary godoc
// @ID          getSummary
// @Summary     Fetch one summary
// @Description Returns a single summary by id, including the languages stored translations exist for. Private summaries are only visible to their owner.
// @Tags        Summaries
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Summary ID (UUID)"      format(uuid)
//
// @Success     200  {object} handlers.SummaryResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Summary not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /summaries/{id} [get]
func (h *Handlers) GetSummary(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "summary id must be a UUID")
		return
	}

	ctx := c.Request.Context()
	s, err := h.store.Get(ctx, h.db, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "summary not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	// Unpublished summaries are owner-only. Responding 404 (not 403) avoids
	// confirming the resource exists.
	if !s.IsPublic && s.UserID != userID(c) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "summary not found")
		return
	}

	resp := summaryDTO(s)
	if langs, err := h.store.ListLanguages(ctx, h.db, s.ID); err == nil {
		resp.Translations = langs
	}
	ok(c, http.StatusOK, resp)
}

// UpdateVisibility godoc
// @ID          updateSummaryVisibility
// @Summary     Publish or unpublish a summary
// @Description Sets the public flag on a summary owned by the current user.
// @Tags        Summaries
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Summary ID (UUID)"      format(uuid)
// @Param       body       body    handlers.UpdateVisibilityRequest  true  "Visibility flag"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Summary not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /summaries/{id}/visibility [put]
func (h *Handlers) UpdateVisibility(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "summary id must be a UUID")
		return
	}

	var req UpdateVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsPublic == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "is_public required")
		return
	}

	if err := h.store.UpdateVisibility(c.Request.Context(), h.db, id, userID(c), *req.IsPublic); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "summary not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
