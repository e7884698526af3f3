package models

import (
	"time"
)

// Patent ist ein aus dem Google-Scholar-Profil eines Nutzers übernommenes Patent.
// Der komplette Bestand eines Nutzers wird bei jedem erfolgreichen Abgleich ersetzt.
type Patent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint `json:"user_id" gorm:"index;not null"`

	Title   string `json:"title" gorm:"not null;default:''"`
	Authors string `json:"authors"`

	// Scholar liefert meist nur ein Jahr, daher bewusst kein Datumstyp.
	PublicationDate *string `json:"publication_date,omitempty"`
	PatentNumber    *string `json:"patent_number,omitempty"`
	Abstract        *string `json:"abstract,omitempty" gorm:"type:text"`
	URL             *string `json:"url,omitempty" gorm:"type:text"`
	Citations       int     `json:"citations" gorm:"not null;default:0"`
}

// TableName gibt explizit den Tabellennamen an.
func (Patent) TableName() string {
	return "patents"
}
