package storage

import (
	"context"

	"gorm.io/gorm"

	"patent-sync/models"
)

// PatentRepository kapselt den Zugriff auf die patents-Tabelle.
type PatentRepository struct {
	DB *gorm.DB
}

// NewPatentRepository erstellt ein neues Repository.
func NewPatentRepository(db *gorm.DB) *PatentRepository {
	return &PatentRepository{DB: db}
}

// ListForUser gibt alle Patente eines Nutzers in Einfügereihenfolge zurück.
func (r *PatentRepository) ListForUser(ctx context.Context, userID uint) ([]models.Patent, error) {
	var patents []models.Patent
	err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id asc").
		Find(&patents).Error
	return patents, err
}

// DeleteAllForUser löscht alle Patente eines Nutzers.
func (r *PatentRepository) DeleteAllForUser(ctx context.Context, userID uint) (int64, error) {
	res := r.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Patent{})
	return res.RowsAffected, res.Error
}

// InsertMany legt die übergebenen Patente an; die IDs werden von der Datenbank vergeben.
func (r *PatentRepository) InsertMany(ctx context.Context, patents []*models.Patent) error {
	if len(patents) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).CreateInBatches(patents, 100).Error
}

// ReplaceForUser ersetzt den kompletten Bestand eines Nutzers in einer Transaktion.
// Schlägt das Einfügen fehl, bleibt der alte Bestand erhalten.
func (r *PatentRepository) ReplaceForUser(ctx context.Context, userID uint, patents []*models.Patent) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := &PatentRepository{DB: tx}
		if _, err := repo.DeleteAllForUser(ctx, userID); err != nil {
			return err
		}
		for _, p := range patents {
			p.UserID = userID
		}
		return repo.InsertMany(ctx, patents)
	})
}
