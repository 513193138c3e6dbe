package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finsight/features/stream"
	"finsight/features/upload"
	"finsight/internal/config"
	"finsight/internal/middleware"
	"finsight/internal/worker"
)

// Database is satisfied by *sql.DB; the interface keeps New mockable with
// sqlmock while repositories still receive the concrete handle.
type Database interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler          http.Handler
	UploadService    *upload.Service
	PipelineConsumer *worker.PipelineConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	broadcaster stream.Broadcaster,
	taskPub TaskPublisher,
	registry *prometheus.Registry,
	logger *slog.Logger,
) (*App, error) {
	sqlDB := db.(*sql.DB)

	// Feature: Upload
	uploadRepo := upload.NewPostgresRepo(sqlDB)
	uploadService := upload.NewService(uploadRepo, taskPub)
	uploadHandler := upload.NewHandler(uploadService, cfg.UploadDir, cfg.MaxUploadSizeMB<<20)

	// Feature: Stream
	streamHandler := stream.NewHandler(broadcaster)

	httpMetrics := middleware.NewHTTPMetrics(registry)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	route := func(name string, h http.HandlerFunc) http.Handler {
		return httpMetrics.Wrap(name, middleware.CorrelationID(enableCORS(h)))
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /uploads", route("/uploads", uploadHandler.Create))
	mux.Handle("GET /uploads", route("/uploads", uploadHandler.List))
	mux.Handle("GET /uploads/{id}/status", route("/uploads/{id}/status", uploadHandler.Status))
	mux.Handle("GET /uploads/{id}/events", route("/uploads/{id}/events", streamHandler.Events))

	mux.Handle("GET /stats", route("/stats", uploadHandler.Stats))

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Pipeline Consumer) Setup
	pipelineConsumer := worker.NewPipelineConsumer(uploadRepo, broadcaster)

	return &App{
		Handler:          mux,
		UploadService:    uploadService,
		PipelineConsumer: pipelineConsumer,
		port:             cfg.ServerPort,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
