package services

import (
	"context"
	"errors"
	"fmt"

	"patent-sync/providers"
)

// Kind klassifiziert das Ergebnis eines fehlgeschlagenen oder leeren Abgleichs.
type Kind string

const (
	KindInvalidProfileURL Kind = "invalid_profile_url"
	KindFetchFailed       Kind = "fetch_failed"
	KindParseError        Kind = "parse_error"
	KindNoPatentsFound    Kind = "no_patents_found"
	KindStorage           Kind = "storage_error"
	KindScrapeFailed      Kind = "scrape_failed"
)

var (
	ErrRefreshAlreadyRunning = errors.New("patent refresh already running")
	ErrProfileNotFound       = errors.New("scholar profile not found")
	ErrNoProfileURL          = errors.New("no google scholar profile url configured")
)

// ScrapeError ist der Sammelfehler an der Grenze eines einzelnen Nutzers.
type ScrapeError struct {
	Kind   Kind
	UserID uint
	Err    error
}

func (e *ScrapeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("scrape failed for user %d (%s): %v", e.UserID, e.Kind, e.Err)
}

func (e *ScrapeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message liefert einen Text für die Oberfläche, ohne Upstream-Inhalte.
func (e *ScrapeError) Message() string {
	switch e.Kind {
	case KindInvalidProfileURL:
		if errors.Is(e.Err, ErrProfileNotFound) || errors.Is(e.Err, ErrNoProfileURL) {
			return "No Google Scholar profile URL is configured for this user."
		}
		return "Check your Google Scholar profile URL; it must contain a user= parameter."
	case KindFetchFailed:
		var fe *providers.FetchError
		if errors.As(e.Err, &fe) && fe.StatusCode != 0 {
			return fmt.Sprintf("Google Scholar answered with status %d. Please try again later.", fe.StatusCode)
		}
		return "Google Scholar could not be reached. Please try again later."
	case KindParseError:
		return "The Google Scholar page could not be read."
	case KindStorage:
		return "The patents could not be saved."
	default:
		return "Refreshing patents failed."
	}
}

func newScrapeError(userID uint, kind Kind, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, UserID: userID, Err: err}
}

// classify ordnet Fehler aus Provider und Transport einer Kind zu.
func classify(err error) Kind {
	var fe *providers.FetchError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, providers.ErrInvalidProfileURL):
		return KindInvalidProfileURL
	case errors.As(err, &fe):
		return KindFetchFailed
	case errors.Is(err, providers.ErrParse):
		return KindParseError
	case errors.Is(err, context.DeadlineExceeded):
		return KindFetchFailed
	default:
		return KindScrapeFailed
	}
}

// KindOf gibt die Kind eines beliebigen Fehlers zurück.
func KindOf(err error) Kind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}
