package services

import (
	"context"
	"time"
	"unicode/utf8"

	"patent-sync/models"
)

const maxErrorMessageLen = 1000

// RunStore ist die Persistenz für Batch-Durchläufe.
type RunStore interface {
	Create(ctx context.Context, run *models.ScrapeRun) error
	Finish(ctx context.Context, runID uint, updates map[string]interface{}) error
	Recent(ctx context.Context, limit int) ([]models.ScrapeRun, error)
}

// RunService protokolliert Start und Ende der Batch-Läufe.
type RunService struct {
	store RunStore
}

func NewRunService(store RunStore) *RunService {
	return &RunService{store: store}
}

func (s *RunService) Start(ctx context.Context, trigger string) (*models.ScrapeRun, error) {
	if trigger == "" {
		trigger = "unknown"
	}
	run := &models.ScrapeRun{
		TriggerSource: trigger,
		Status:        models.ScrapeRunStatusRunning,
		StartedAt:     time.Now(),
	}
	if err := s.store.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RunService) MarkSuccess(ctx context.Context, runID uint, summary *BatchSummary) error {
	return s.finish(ctx, runID, models.ScrapeRunStatusSuccess, summary, nil)
}

func (s *RunService) MarkFailure(ctx context.Context, runID uint, summary *BatchSummary, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return s.finish(ctx, runID, models.ScrapeRunStatusFailed, summary, &msg)
}

func (s *RunService) Recent(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	return s.store.Recent(ctx, limit)
}

func (s *RunService) finish(ctx context.Context, runID uint, status string, summary *BatchSummary, errMsg *string) error {
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now(),
	}
	if summary != nil {
		updates["users_processed"] = summary.UsersProcessed
		updates["users_succeeded"] = summary.UsersSucceeded
		updates["users_failed"] = summary.UsersFailed
		updates["users_without_patents"] = summary.UsersWithoutPatents
		updates["patents_stored"] = summary.PatentsStored
	}
	if errMsg != nil {
		updates["error_message"] = truncateMessage(*errMsg, maxErrorMessageLen)
	}
	return s.store.Finish(ctx, runID, updates)
}

// truncateMessage kürzt msg auf höchstens max Bytes und schneidet dabei kein Zeichen an.
func truncateMessage(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	const ellipsis = "..."
	cut := max - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + ellipsis
}
