// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for usage
// telemetry.
//
// Usage rows are append-only: one per generation or translation attempt,
// never updated. The aggregate helpers exist for operational dashboards and
// are deliberately coarse.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
)

// CreateUsageRecord appends one telemetry row. CreatedAt is set to UTC.
func CreateUsageRecord(ctx context.Context, db *gorm.DB, rec *domain.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(rec).Error
}

// UsageTotals is a coarse aggregate over usage rows.
type UsageTotals struct {
	Attempts     int64
	Failures     int64
	CostCents    int64
	InputTokens  int64
	OutputTokens int64
}

// SumUsageSince aggregates attempts, failures, cost, and token totals for
// records created at or after since.
func SumUsageSince(ctx context.Context, db *gorm.DB, since time.Time) (*UsageTotals, error) {
	var t UsageTotals
	row := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("created_at >= ?", since).
		Select(
			"COUNT(*), "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0), "+
				"COALESCE(SUM(cost_cents), 0), "+
				"COALESCE(SUM(input_tokens + cache_creation_tokens + cache_read_tokens), 0), "+
				"COALESCE(SUM(output_tokens), 0)",
			domain.StatusFailed).
		Row()
	if err := row.Scan(&t.Attempts, &t.Failures, &t.CostCents, &t.InputTokens, &t.OutputTokens); err != nil {
		return nil, err
	}
	return &t, nil
}

// CountUsageByVideo returns the number of usage rows for one video, split by
// status. Useful when reconciling the "exactly one record per attempt"
// invariant in integration checks.
func CountUsageByVideo(ctx context.Context, db *gorm.DB, videoID string) (success, failed int64, err error) {
	if err = db.WithContext(ctx).Model(&domain.UsageRecord{}).
		Where("video_id = ? AND status = ?", videoID, domain.StatusSuccess).
		Count(&success).Error; err != nil {
		return 0, 0, err
	}
	err = db.WithContext(ctx).Model(&domain.UsageRecord{}).
		Where("video_id = ? AND status = ?", videoID, domain.StatusFailed).
		Count(&failed).Error
	return success, failed, err
}
