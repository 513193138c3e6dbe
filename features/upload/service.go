package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"finsight/internal/config"
	"finsight/internal/middleware"
)

type Service struct {
	repo Repository
	pub  EventPublisher
}

func NewService(repo Repository, pub EventPublisher) *Service {
	return &Service{repo: repo, pub: pub}
}

// Create persists the upload and hands it to the pipeline. The caller may
// supply the id so it can monitor the job from the first byte; a missing id
// is generated here.
func (s *Service) Create(ctx context.Context, up *Upload) error {
	if up.ID == "" {
		up.ID = uuid.New().String()
	} else if _, err := uuid.Parse(up.ID); err != nil {
		return fmt.Errorf("invalid upload id: %w", err)
	}

	up.Status = StatusProcessing
	if err := s.repo.Save(ctx, up); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"id":             up.ID,
		"path":           up.StoredPath,
		"filename":       up.Filename,
		"company_id":     up.CompanyID,
		"company_name":   up.CompanyName,
		"fiscal_year":    up.FiscalYear,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestFile, payload); err != nil {
		// The row exists and the poller will surface the stall; the task can
		// be re-published by hand.
		slog.Error("failed to publish ingest task", "error", err, "id", up.ID)
	} else {
		slog.Info("published ingest task", "id", up.ID, "filename", up.Filename)
	}

	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Upload, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Upload, error) {
	return s.repo.List(ctx)
}

func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.repo.CountByStatus(ctx)
}
