package storage

import (
	"context"

	"gorm.io/gorm"

	"patent-sync/models"
)

// RunRepository speichert die Batch-Durchläufe.
type RunRepository struct {
	DB *gorm.DB
}

// NewRunRepository erstellt ein neues Repository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{DB: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.ScrapeRun) error {
	return r.DB.WithContext(ctx).Create(run).Error
}

// Finish schreibt Status, Zähler und Endzeit eines Durchlaufs.
func (r *RunRepository) Finish(ctx context.Context, runID uint, updates map[string]interface{}) error {
	res := r.DB.WithContext(ctx).Model(&models.ScrapeRun{}).Where("id = ?", runID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent gibt die letzten Durchläufe zurück, neueste zuerst.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []models.ScrapeRun
	err := r.DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}
