package scholar

import (
	"context"

	"go.uber.org/zap"

	"patent-sync/config"
	"patent-sync/providers"
)

// Scraper implementiert providers.Provider für Google Scholar.
type Scraper struct {
	Fetcher *Fetcher
	Parser  *PageParser
	Logger  *zap.Logger
}

// NewScraper verdrahtet Fetcher und PageParser aus der Konfiguration.
func NewScraper(cfg *config.Config, logger *zap.Logger) (*Scraper, error) {
	parser, err := NewPageParser(cfg.ScholarBaseURL)
	if err != nil {
		return nil, err
	}
	return &Scraper{
		Fetcher: NewFetcher(cfg, logger),
		Parser:  parser,
		Logger:  logger,
	}, nil
}

// Name gibt den Namen des Providers zurück.
func (s *Scraper) Name() string {
	return "scholar"
}

// Scrape lädt und parst die Patentliste eines Profils.
func (s *Scraper) Scrape(ctx context.Context, profileURL string) (*providers.Listing, error) {
	page, err := s.Fetcher.Fetch(ctx, profileURL)
	if err != nil {
		return nil, err
	}

	patents, err := s.Parser.Parse(page.HTML)
	if err != nil {
		s.Logger.Warn("Could not parse scholar listing", zap.String("profile_id", page.ProfileID), zap.Error(err))
		return nil, err
	}

	s.Logger.Info("Scholar listing parsed",
		zap.String("profile_id", page.ProfileID),
		zap.Int("patents", len(patents)))

	return &providers.Listing{
		ProfileID: page.ProfileID,
		SourceURL: page.URL,
		HTML:      page.HTML,
		Patents:   patents,
	}, nil
}
