package providers

import (
	"context"

	"patent-sync/models"
)

// Listing ist das Ergebnis eines Abrufs: die geparsten Patente plus die Rohseite für das Archiv.
type Listing struct {
	ProfileID string
	SourceURL string
	HTML      string
	Patents   []*models.Patent
}

// Provider ist das Interface, das jede Patentquelle (aktuell nur Google Scholar) implementieren muss.
type Provider interface {
	// Scrape lädt die Patentliste zu einer Profil-URL und gibt die extrahierten Datensätze in Dokumentreihenfolge zurück.
	// Eine leere Liste ist kein Fehler.
	Scrape(ctx context.Context, profileURL string) (*Listing, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "scholar").
	Name() string
}
