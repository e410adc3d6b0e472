// Translation HTTP handlers.
//
// This file exposes the endpoint that serves a summary in another language:
//   - POST /summaries/{id}/translations  (translate or serve stored)
//
// Translation shares the coalescing discipline of generation: concurrent
// requests for the same (summary, language) pair produce a single provider
// call, and a stored translation is terminal.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-summary-backend/internal/domain"
	"github.com/tbourn/go-summary-backend/internal/llm"
	"github.com/tbourn/go-summary-backend/internal/services"
)

// TranslateRequest is the JSON payload for requesting a translation.
type TranslateRequest struct {
	// Language is a BCP 47 tag, e.g. "de" or "pt-BR".
	Language string `json:"language" binding:"required" example:"de"`
}

// TranslationResponse is the translated summary payload returned to clients.
type TranslationResponse struct {
	ID           string           `json:"id"`
	SummaryID    string           `json:"summary_id"`
	Language     string           `json:"language"`
	QuickSummary string           `json:"quick_summary"`
	Sections     []llm.Section    `json:"sections"`
	Flashcards   []llm.Flashcard  `json:"flashcards"`
	ActionItems  []llm.ActionItem `json:"action_items"`
	References   []llm.Reference  `json:"references"`
	Category     string           `json:"category"`
	CreatedAt    string           `json:"created_at"`

	// CacheHit reports whether the translation was served without a fresh
	// provider call.
	CacheHit bool `json:"cache_hit,omitempty"`
}

// translationDTO projects a stored translation onto the response shape.
func translationDTO(tr *domain.Translation) TranslationResponse {
	out := TranslationResponse{
		ID:           tr.ID,
		SummaryID:    tr.SummaryID,
		Language:     tr.Language,
		QuickSummary: tr.QuickSummary,
		Category:     tr.Category,
		CreatedAt:    tr.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	_ = json.Unmarshal([]byte(tr.SectionsJSON), &out.Sections)
	_ = json.Unmarshal([]byte(tr.FlashcardsJSON), &out.Flashcards)
	_ = json.Unmarshal([]byte(tr.ActionItemsJSON), &out.ActionItems)
	_ = json.Unmarshal([]byte(tr.ReferencesJSON), &out.References)
	return out
}

// Translate godoc
// @ID          translateSummary
// @Summary     Translate a summary
// @Description Returns the summary payload in the requested language, translating it on first request. The category filter key is never translated.
// @Tags        Translations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Summary ID (UUID)"      format(uuid)
// @Param       body       body    handlers.TranslateRequest  true  "Target language"
//
// @Success     200  {object} handlers.TranslationResponse "Served from cache"
// @Success     201  {object} handlers.TranslationResponse "Freshly translated"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Summary not found"
// @Failure     422  {object} handlers.ErrorResponse "Unsupported language"
// @Failure     429  {object} handlers.ErrorResponse "Over capacity"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /summaries/{id}/translations [post]
func (h *Handlers) Translate(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "summary id must be a UUID")
		return
	}

	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Language) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "language required")
		return
	}

	tr, hit, err := h.trSvc.Translate(c.Request.Context(), userID(c), id, strings.TrimSpace(req.Language))
	if err != nil {
		if errors.Is(err, services.ErrSummaryNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "summary not found")
			return
		}
		failPipeline(c, err)
		return
	}

	resp := translationDTO(tr)
	resp.CacheHit = hit
	status := http.StatusCreated
	if hit {
		status = http.StatusOK
	}
	ok(c, status, resp)
}
