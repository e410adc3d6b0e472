// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Summary
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The coalescing logic that guards the
// expensive generation call lives one level up in services.SummaryService;
// this layer only provides the durable portion of that cache.
//
// Error semantics:
//   - When a summary is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateSummary inserts the durable result of one successful generation.
// RequestCount starts at 1: the read that created the row counts as the
// first request. CreatedAt is set to UTC.
func CreateSummary(ctx context.Context, db *gorm.DB, s *domain.Summary) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.RequestCount == 0 {
		s.RequestCount = 1
	}
	return db.WithContext(ctx).Create(s).Error
}

// GetSummaryByVideoID fetches the cached summary for a video, or ErrNotFound.
func GetSummaryByVideoID(ctx context.Context, db *gorm.DB, videoID string) (*domain.Summary, error) {
	var s domain.Summary
	err := db.WithContext(ctx).
		Where("video_id = ?", videoID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSummary fetches a summary by primary key, or ErrNotFound.
func GetSummary(ctx context.Context, db *gorm.DB, id string) (*domain.Summary, error) {
	var s domain.Summary
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// IncrementRequestCount bumps the served counter for a summary with a single
// relaxed UPDATE. The counter is observability data, not a safety invariant,
// so callers treat failures as best-effort and hot-video reads never
// serialize on it.
func IncrementRequestCount(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Summary{}).
		Where("id = ?", id).
		UpdateColumn("request_count", gorm.Expr("request_count + 1")).Error
}

// UpdateSummaryVisibility sets the publish flag on a summary owned by userID.
// The flag belongs to the HTTP layer's extension, not the generation path.
// Returns ErrNotFound if the summary does not exist or is not owned.
func UpdateSummaryVisibility(ctx context.Context, db *gorm.DB, id, userID string, isPublic bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Summary{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_public", isPublic)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountSummaries returns the total number of summaries created by userID.
func CountSummaries(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Summary{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListSummariesPage returns a paginated slice of summaries created by userID,
// ordered by creation time descending. The caller computes offset and limit.
func ListSummariesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Summary, error) {
	var out []domain.Summary
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
