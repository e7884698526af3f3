package models

import "time"

const (
	ScrapeRunStatusRunning = "running"
	ScrapeRunStatusSuccess = "success"
	ScrapeRunStatusFailed  = "failed"
)

// ScrapeRun protokolliert einen Batch-Durchlauf über alle Nutzer mit Scholar-Profil.
type ScrapeRun struct {
	ID uint `json:"id" gorm:"primaryKey"`

	TriggerSource string     `json:"trigger_source" gorm:"size:64;not null"`
	Status        string     `json:"status" gorm:"size:16;not null;default:'running';index"`
	ErrorMessage  *string    `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt     time.Time  `json:"started_at" gorm:"autoCreateTime"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`

	UsersProcessed      int `json:"users_processed" gorm:"not null;default:0"`
	UsersSucceeded      int `json:"users_succeeded" gorm:"not null;default:0"`
	UsersFailed         int `json:"users_failed" gorm:"not null;default:0"`
	UsersWithoutPatents int `json:"users_without_patents" gorm:"not null;default:0"`
	PatentsStored       int `json:"patents_stored" gorm:"not null;default:0"`
}

// TableName gibt explizit den Tabellennamen an.
func (ScrapeRun) TableName() string {
	return "scrape_runs"
}
