package providers

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProfileURL: in der Profil-URL steht kein user=<id>.
	ErrInvalidProfileURL = errors.New("invalid profile url: no user identifier found")
	// ErrParse: das HTML ließ sich nicht in einen Dokumentbaum laden.
	ErrParse = errors.New("failed to parse listing page")
)

// FetchError beschreibt einen fehlgeschlagenen Abruf der Listenseite.
// StatusCode ist 0 bei Netzwerkfehlern und Timeouts.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed with status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
