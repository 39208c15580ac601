package indexer

import (
	"fmt"

	"gorm.io/gorm"

	"showcased/internal/models"
)

// RecentRuns returns the latest indexing runs, newest first. Run rows are the
// durable history; Engine.Status only covers the current process.
func RecentRuns(db *gorm.DB, limit int) ([]models.IndexingRun, error) {
	var runs []models.IndexingRun
	if err := db.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load indexing runs: %w", err)
	}
	return runs, nil
}
