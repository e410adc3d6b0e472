// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Translation model: the durable half of the translation coalescer.
//
// Translations are immutable once written; there is no update path. The
// unique index over (summary_id, language) makes a concurrent double-insert
// fail loudly rather than silently duplicating provider spend.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-summary-backend/internal/domain"
)

// CreateTranslation inserts a finished translation. CreatedAt is set to UTC.
func CreateTranslation(ctx context.Context, db *gorm.DB, tr *domain.Translation) error {
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(tr).Error
}

// GetTranslation fetches the stored translation for (summaryID, language),
// or ErrNotFound. A hit is a terminal read; nothing is mutated.
func GetTranslation(ctx context.Context, db *gorm.DB, summaryID, language string) (*domain.Translation, error) {
	var tr domain.Translation
	err := db.WithContext(ctx).
		Where("summary_id = ? AND language = ?", summaryID, language).
		First(&tr).Error
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

// ListTranslationLanguages returns the languages a summary has been
// translated into, ordered alphabetically.
func ListTranslationLanguages(ctx context.Context, db *gorm.DB, summaryID string) ([]string, error) {
	var langs []string
	err := db.WithContext(ctx).
		Model(&domain.Translation{}).
		Where("summary_id = ?", summaryID).
		Order("language asc").
		Pluck("language", &langs).Error
	return langs, err
}
