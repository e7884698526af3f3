package models

import "time"

// ScholarProfile hält die Scholar-Einstellungen eines Nutzers. Der Scraper liest nur die URL.
type ScholarProfile struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GoogleScholarProfileURL *string `json:"google_scholar_profile_url,omitempty" gorm:"type:text"`
	PatentsToDisplayCount   int     `json:"patents_to_display_count" gorm:"not null;default:5"`
}

// TableName gibt explizit den Tabellennamen an.
func (ScholarProfile) TableName() string {
	return "user_scholar_profiles"
}
