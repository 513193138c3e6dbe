package upload

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"finsight/internal/middleware"
)

type Handler struct {
	service   *Service
	uploadDir string
	maxBytes  int64
}

func NewHandler(service *Service, uploadDir string, maxBytes int64) *Handler {
	return &Handler{service: service, uploadDir: uploadDir, maxBytes: maxBytes}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "File too large", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unable to retrieve file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if ext := filepath.Ext(header.Filename); ext != ".pdf" {
		h.writeError(r.Context(), w, "BAD_REQUEST", "Unsupported file type", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.Error("failed to create upload directory", "error", err, "path", filepath.Clean(h.uploadDir))
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to create upload directory", http.StatusInternalServerError)
		return
	}

	up := &Upload{
		ID:          r.FormValue("upload_id"),
		Filename:    filepath.Base(header.Filename),
		CompanyID:   r.FormValue("company_id"),
		CompanyName: r.FormValue("company_name"),
		FiscalYear:  r.FormValue("fiscal_year"),
	}

	// Stored name is server-generated, never the raw client filename.
	filename := fmt.Sprintf("%s_%s", uuid.New().String(), up.Filename)
	path := filepath.Clean(filepath.Join(h.uploadDir, filename))

	dst, err := os.Create(path)
	if err != nil {
		slog.Error("failed to create file", "error", err, "path", path)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to save file", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to write file", http.StatusInternalServerError)
		return
	}
	up.StoredPath = path

	if err := h.service.Create(r.Context(), up); err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.Warn("failed to clean up uploaded file", "error", removeErr, "path", path)
		}
		slog.Error("failed to create upload", "error", err, "filename", up.Filename)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": up}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	up, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Upload not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"status":         up.Status,
		"chunks_created": up.ChunksCreated,
		"chunks_stored":  up.ChunksStored,
	}
	if up.ErrorMessage != "" {
		resp["error_message"] = up.ErrorMessage
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	if uploads == nil {
		uploads = []Upload{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": uploads,
		"meta": map[string]int{"count": len(uploads)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]int{
		"uploads":    0,
		"processing": counts[StatusProcessing],
		"completed":  counts[StatusCompleted],
		"failed":     counts[StatusFailed],
	}
	for _, n := range counts {
		resp["uploads"] += n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
