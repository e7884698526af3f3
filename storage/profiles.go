package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"patent-sync/models"
)

// ProfileRepository liest und schreibt die Scholar-Einstellungen der Nutzer.
type ProfileRepository struct {
	DB *gorm.DB
}

// NewProfileRepository erstellt ein neues Repository.
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{DB: db}
}

// Get lädt das Profil eines Nutzers.
func (r *ProfileRepository) Get(ctx context.Context, userID uint) (*models.ScholarProfile, error) {
	var profile models.ScholarProfile
	if err := r.DB.WithContext(ctx).First(&profile, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// GetScholarProfileURL gibt die hinterlegte Profil-URL zurück; leer, wenn keine gesetzt ist.
func (r *ProfileRepository) GetScholarProfileURL(ctx context.Context, userID uint) (string, error) {
	profile, err := r.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.GoogleScholarProfileURL == nil {
		return "", nil
	}
	return *profile.GoogleScholarProfileURL, nil
}

// Upsert legt das Profil an oder aktualisiert URL und Anzeigeanzahl.
func (r *ProfileRepository) Upsert(ctx context.Context, profile *models.ScholarProfile) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"google_scholar_profile_url", "patents_to_display_count", "updated_at"}),
	}).Create(profile).Error
}

// ListEligible gibt alle Profile mit gesetzter Scholar-URL zurück, sortiert nach Nutzer-ID.
func (r *ProfileRepository) ListEligible(ctx context.Context) ([]models.ScholarProfile, error) {
	var profiles []models.ScholarProfile
	err := r.DB.WithContext(ctx).
		Where("google_scholar_profile_url IS NOT NULL AND google_scholar_profile_url <> ''").
		Order("user_id asc").
		Find(&profiles).Error
	return profiles, err
}
