package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"finsight/internal/middleware"
	"finsight/monitor"
)

type UploadStatusUpdater interface {
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, chunksCreated, chunksStored int) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
}

type FrameBroadcaster interface {
	Publish(ctx context.Context, uploadID string, f monitor.Frame) error
}

// PipelineConsumer drains the pipeline events topic: every frame is fanned
// out to watchers, and status frames additionally update the upload row so
// the pull endpoint stays authoritative.
type PipelineConsumer struct {
	updater     UploadStatusUpdater
	broadcaster FrameBroadcaster
}

func NewPipelineConsumer(u UploadStatusUpdater, b FrameBroadcaster) *PipelineConsumer {
	return &PipelineConsumer{updater: u, broadcaster: b}
}

func (h *PipelineConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload struct {
		monitor.Frame
		CorrelationID string `json:"correlation_id,omitempty"`
	}
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil // Don't retry invalid messages
	}

	if payload.UploadID == "" || payload.Type == "" {
		slog.ErrorContext(ctx, "missing required fields, dropping", "upload_id", payload.UploadID, "type", payload.Type)
		return nil
	}

	// Fan-out failures are durable: requeue so watchers don't silently miss
	// a frame.
	if err := h.broadcaster.Publish(ctx, payload.UploadID, payload.Frame); err != nil {
		slog.ErrorContext(ctx, "failed to broadcast frame", "error", err, "upload_id", payload.UploadID)
		return err
	}

	if payload.Type != monitor.FrameTypeStatus {
		return nil
	}

	var status monitor.StatusFrameData
	if err := json.Unmarshal(payload.Data, &status); err != nil {
		slog.ErrorContext(ctx, "invalid status frame payload, dropping", "error", err, "upload_id", payload.UploadID)
		return nil
	}

	switch status.Status {
	case monitor.StatusProcessing:
		if err := h.updater.MarkProcessing(ctx, payload.UploadID); err != nil {
			slog.ErrorContext(ctx, "failed to mark upload processing", "error", err, "upload_id", payload.UploadID)
			return err
		}
	case monitor.StatusCompleted:
		if err := h.updater.MarkCompleted(ctx, payload.UploadID, status.ChunksCreated, status.ChunksStored); err != nil {
			slog.ErrorContext(ctx, "failed to mark upload completed", "error", err, "upload_id", payload.UploadID)
			return err
		}
		slog.InfoContext(ctx, "upload completed",
			"upload_id", payload.UploadID,
			"chunks_created", status.ChunksCreated,
			"chunks_stored", status.ChunksStored,
		)
	case monitor.StatusFailed:
		if err := h.updater.MarkFailed(ctx, payload.UploadID, status.ErrorMessage); err != nil {
			slog.ErrorContext(ctx, "failed to mark upload failed", "error", err, "upload_id", payload.UploadID)
			return err
		}
		slog.ErrorContext(ctx, "upload failed", "upload_id", payload.UploadID, "error_message", status.ErrorMessage)
	default:
		slog.WarnContext(ctx, "unknown status value, dropping", "status", status.Status, "upload_id", payload.UploadID)
	}

	return nil
}
