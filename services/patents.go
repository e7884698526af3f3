package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"patent-sync/models"
	"patent-sync/providers"
	"patent-sync/storage"
)

const (
	StatusUpdated        = "updated"
	StatusNoPatentsFound = string(KindNoPatentsFound)
	StatusFailed         = "failed"
)

// PatentStore ist die Persistenz der Patente eines Nutzers.
type PatentStore interface {
	ListForUser(ctx context.Context, userID uint) ([]models.Patent, error)
	// ReplaceForUser löscht und ersetzt den Bestand als eine Einheit.
	ReplaceForUser(ctx context.Context, userID uint, patents []*models.Patent) error
}

// ProfileStore liefert die Scholar-Einstellungen der Nutzer.
type ProfileStore interface {
	Get(ctx context.Context, userID uint) (*models.ScholarProfile, error)
	GetScholarProfileURL(ctx context.Context, userID uint) (string, error)
	ListEligible(ctx context.Context) ([]models.ScholarProfile, error)
	Upsert(ctx context.Context, profile *models.ScholarProfile) error
}

// SnapshotStore archiviert die rohen Listenseiten.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, key string, body []byte) (string, error)
	// Rotate räumt ältere Seiten unter prefix ab und gibt die Anzahl gelöschter zurück.
	Rotate(ctx context.Context, prefix string) (int, error)
}

// RefreshResult ist das Ergebnis eines Abgleichs für einen Nutzer.
type RefreshResult struct {
	UserID uint   `json:"user_id"`
	Count  int    `json:"count"`
	Status string `json:"status"`
}

// UserRefreshResult ist ein Eintrag der Batch-Ergebnisliste.
type UserRefreshResult struct {
	UserID    uint   `json:"user_id"`
	Success   bool   `json:"success"`
	Count     *int   `json:"count,omitempty"`
	Status    string `json:"status"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchSummary fasst einen Batch-Lauf zusammen.
type BatchSummary struct {
	UsersProcessed      int `json:"users_processed"`
	UsersSucceeded      int `json:"users_succeeded"`
	UsersFailed         int `json:"users_failed"`
	UsersWithoutPatents int `json:"users_without_patents"`
	PatentsStored       int `json:"patents_stored"`
}

// PatentService kümmert sich um Abruf und Abgleich der Scholar-Patente.
type PatentService struct {
	Provider  providers.Provider
	Patents   PatentStore
	Profiles  ProfileStore
	Runs      *RunService
	Snapshots SnapshotStore
	Logger    *zap.Logger
	// Workers begrenzt die parallelen Nutzer im Batch; 1 arbeitet streng nacheinander.
	Workers int

	batchMu sync.Mutex
}

// NewPatentService erstellt eine neue Instanz des PatentService.
func NewPatentService(provider providers.Provider, patents PatentStore, profiles ProfileStore, logger *zap.Logger) *PatentService {
	return &PatentService{
		Provider: provider,
		Patents:  patents,
		Profiles: profiles,
		Logger:   logger,
		Workers:  1,
	}
}

// RefreshPatents aktualisiert die Patente eines Nutzers aus seinem Scholar-Profil.
func (s *PatentService) RefreshPatents(ctx context.Context, userID uint) (*RefreshResult, error) {
	profileURL, err := s.Profiles.GetScholarProfileURL(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, s.failed(newScrapeError(userID, KindInvalidProfileURL, ErrProfileNotFound))
		}
		return nil, s.failed(newScrapeError(userID, KindStorage, err))
	}
	return s.refreshProfile(ctx, userID, profileURL)
}

func (s *PatentService) refreshProfile(ctx context.Context, userID uint, profileURL string) (*RefreshResult, error) {
	if strings.TrimSpace(profileURL) == "" {
		return nil, s.failed(newScrapeError(userID, KindInvalidProfileURL, ErrNoProfileURL))
	}

	log := s.Logger.With(zap.Uint("user_id", userID), zap.String("provider", s.Provider.Name()))
	log.Info("Refreshing patents")

	listing, err := s.Provider.Scrape(ctx, profileURL)
	if err != nil {
		return nil, s.failed(newScrapeError(userID, classify(err), err))
	}

	s.archive(ctx, userID, listing)
	return s.Reconcile(ctx, userID, listing.Patents)
}

// Reconcile gleicht den gespeicherten Bestand mit einem frischen Abruf ab.
// Ein leeres Ergebnis lässt den Bestand unangetastet, sonst wird komplett ersetzt.
func (s *PatentService) Reconcile(ctx context.Context, userID uint, patents []*models.Patent) (*RefreshResult, error) {
	log := s.Logger.With(zap.Uint("user_id", userID))

	if len(patents) == 0 {
		log.Info("No patents found, keeping stored patents")
		refreshTotal.WithLabelValues(StatusNoPatentsFound).Inc()
		return &RefreshResult{UserID: userID, Count: 0, Status: StatusNoPatentsFound}, nil
	}

	fresh := make([]*models.Patent, 0, len(patents))
	for _, p := range patents {
		if p == nil {
			continue
		}
		cp := *p
		cp.ID = 0
		cp.UserID = userID
		cp.CreatedAt = time.Time{}
		cp.UpdatedAt = time.Time{}
		if cp.Citations < 0 {
			cp.Citations = 0
		}
		fresh = append(fresh, &cp)
	}
	if len(fresh) == 0 {
		log.Info("No usable patents in result, keeping stored patents")
		refreshTotal.WithLabelValues(StatusNoPatentsFound).Inc()
		return &RefreshResult{UserID: userID, Count: 0, Status: StatusNoPatentsFound}, nil
	}

	if err := s.Patents.ReplaceForUser(ctx, userID, fresh); err != nil {
		return nil, s.failed(newScrapeError(userID, KindStorage, err))
	}

	refreshTotal.WithLabelValues(StatusUpdated).Inc()
	patentsStoredTotal.Add(float64(len(fresh)))
	log.Info("Patents replaced", zap.Int("count", len(fresh)))
	return &RefreshResult{UserID: userID, Count: len(fresh), Status: StatusUpdated}, nil
}

// RefreshAllEligibleUsers aktualisiert alle Nutzer mit hinterlegter Profil-URL.
// Fehler einzelner Nutzer landen in der Ergebnisliste und brechen den Lauf nicht ab.
func (s *PatentService) RefreshAllEligibleUsers(ctx context.Context, trigger string) ([]UserRefreshResult, error) {
	if !s.batchMu.TryLock() {
		return nil, ErrRefreshAlreadyRunning
	}
	defer s.batchMu.Unlock()

	log := s.Logger.With(zap.String("trigger", trigger))

	var run *models.ScrapeRun
	if s.Runs != nil {
		var err error
		run, err = s.Runs.Start(ctx, trigger)
		if err != nil {
			log.Error("Could not record scrape run", zap.Error(err))
			return nil, err
		}
	}

	profiles, err := s.Profiles.ListEligible(ctx)
	if err != nil {
		log.Error("Could not load scholar profiles", zap.Error(err))
		if run != nil {
			if markErr := s.Runs.MarkFailure(context.WithoutCancel(ctx), run.ID, nil, err); markErr != nil {
				log.Error("Could not mark scrape run as failed", zap.Error(markErr))
			}
		}
		return nil, err
	}
	log.Info("Starting batch patent refresh", zap.Int("users", len(profiles)))

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]UserRefreshResult, len(profiles))
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)

	for i, profile := range profiles {
		wg.Add(1)
		semaphore <- struct{}{}

		profileURL := ""
		if profile.GoogleScholarProfileURL != nil {
			profileURL = *profile.GoogleScholarProfileURL
		}

		go func(i int, userID uint, profileURL string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results[i] = s.refreshOne(ctx, userID, profileURL)
		}(i, profile.UserID, profileURL)
	}
	wg.Wait()

	summary := Summarize(results)
	log.Info("Batch patent refresh finished",
		zap.Int("users_succeeded", summary.UsersSucceeded),
		zap.Int("users_failed", summary.UsersFailed),
		zap.Int("users_without_patents", summary.UsersWithoutPatents),
		zap.Int("patents_stored", summary.PatentsStored))

	// Der Lauf wird auch bei abgebrochenem ctx abgeschlossen, sonst bliebe er auf running stehen.
	if run != nil {
		if err := s.Runs.MarkSuccess(context.WithoutCancel(ctx), run.ID, &summary); err != nil {
			log.Error("Could not mark scrape run as finished", zap.Error(err))
		}
	}
	return results, nil
}

func (s *PatentService) refreshOne(ctx context.Context, userID uint, profileURL string) (result UserRefreshResult) {
	result = UserRefreshResult{UserID: userID}

	defer func() {
		if r := recover(); r != nil {
			err := newScrapeError(userID, KindScrapeFailed, fmt.Errorf("panic: %v", r))
			s.Logger.Error("Patent refresh panicked", zap.Uint("user_id", userID), zap.Any("panic", r))
			refreshTotal.WithLabelValues(string(KindScrapeFailed)).Inc()
			result = UserRefreshResult{
				UserID:    userID,
				Status:    StatusFailed,
				ErrorKind: err.Kind,
				Error:     err.Error(),
			}
		}
	}()

	res, err := s.refreshProfile(ctx, userID, profileURL)
	if err != nil {
		result.Status = StatusFailed
		result.ErrorKind = KindOf(err)
		result.Error = err.Error()
		return result
	}

	count := res.Count
	result.Success = true
	result.Count = &count
	result.Status = res.Status
	return result
}

// Summarize zählt die Ergebnisse eines Batch-Laufs.
func Summarize(results []UserRefreshResult) BatchSummary {
	var sum BatchSummary
	for _, r := range results {
		sum.UsersProcessed++
		if !r.Success {
			sum.UsersFailed++
			continue
		}
		sum.UsersSucceeded++
		if r.Status == StatusNoPatentsFound {
			sum.UsersWithoutPatents++
		}
		if r.Count != nil {
			sum.PatentsStored += *r.Count
		}
	}
	return sum
}

// ListPatents gibt die gespeicherten Patente eines Nutzers zurück.
func (s *PatentService) ListPatents(ctx context.Context, userID uint) ([]models.Patent, error) {
	return s.Patents.ListForUser(ctx, userID)
}

// PatentSectionMarkdown rendert die Patente eines Nutzers als Lebenslauf-Abschnitt.
func (s *PatentService) PatentSectionMarkdown(ctx context.Context, userID uint) (string, error) {
	limit := defaultDisplayCount
	profile, err := s.Profiles.Get(ctx, userID)
	switch {
	case err == nil:
		limit = profile.PatentsToDisplayCount
	case !errors.Is(err, storage.ErrNotFound):
		return "", err
	}

	patents, err := s.Patents.ListForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return BuildPatentSection(patents, limit), nil
}

func (s *PatentService) failed(err *ScrapeError) *ScrapeError {
	refreshTotal.WithLabelValues(string(err.Kind)).Inc()
	s.Logger.Warn("Patent refresh failed",
		zap.Uint("user_id", err.UserID),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err))
	return err
}

func (s *PatentService) archive(ctx context.Context, userID uint, listing *providers.Listing) {
	if s.Snapshots == nil || listing == nil || listing.HTML == "" {
		return
	}
	key := SnapshotKey(userID, time.Now())
	link, err := s.Snapshots.PutSnapshot(ctx, key, []byte(listing.HTML))
	if err != nil {
		s.Logger.Warn("Snapshot upload failed", zap.Uint("user_id", userID), zap.String("key", key), zap.Error(err))
		return
	}
	s.Logger.Debug("Snapshot stored", zap.Uint("user_id", userID), zap.String("link", link))

	deleted, err := s.Snapshots.Rotate(ctx, SnapshotPrefix(userID))
	if err != nil {
		s.Logger.Warn("Snapshot rotation failed", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	if deleted > 0 {
		s.Logger.Debug("Old snapshots removed", zap.Uint("user_id", userID), zap.Int("deleted", deleted))
	}
}

// SnapshotPrefix ist das Objektpräfix aller archivierten Seiten eines Nutzers.
func SnapshotPrefix(userID uint) string {
	return fmt.Sprintf("scholar/%d/", userID)
}

// SnapshotKey gibt den Objektschlüssel für eine archivierte Listenseite zurück.
func SnapshotKey(userID uint, at time.Time) string {
	return fmt.Sprintf("%s%s-%s.html", SnapshotPrefix(userID), at.UTC().Format("20060102T150405Z"), uuid.NewString())
}
