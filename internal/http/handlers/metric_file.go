package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/metrics"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// reportIngestor is the slice of the metrics aggregator this handler uses.
type reportIngestor interface {
	Ingest(ctx context.Context, task *models.MetricTask, report *metrics.Report) error
}

// MetricFileHandler handles the streaming metric task routes: the two file
// downloads the worker needs and the report upload it answers with.
type MetricFileHandler struct {
	tasks      repository.MetricTaskRepository
	aggregator reportIngestor
	publisher  broker.Publisher
	baseURL    string
	logger     *slog.Logger
}

// NewMetricFileHandler creates a new metric file handler.
func NewMetricFileHandler(
	tasks repository.MetricTaskRepository,
	aggregator reportIngestor,
	publisher broker.Publisher,
	baseURL string,
	logger *slog.Logger,
) *MetricFileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricFileHandler{
		tasks:      tasks,
		aggregator: aggregator,
		publisher:  publisher,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Register registers the streaming routes on the chi router.
func (h *MetricFileHandler) Register(r chi.Router) {
	r.Get("/api/metrics/tasks/{id}/files/source", h.DownloadSource)
	r.Get("/api/metrics/tasks/{id}/files/compressed", h.DownloadCompressed)
	r.Post("/api/metrics/tasks/{id}/report", h.UploadReport)
}

// DownloadSource streams the reference file. A Worker header adopts the
// worker and marks the task DOWNLOADING; the analyze clock does not start
// until the compressed file is fetched.
func (h *MetricFileHandler) DownloadSource(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, false)
}

// DownloadCompressed streams the compressed file and stamps the analyze
// start time when a Worker header is present.
func (h *MetricFileHandler) DownloadCompressed(w http.ResponseWriter, r *http.Request) {
	h.download(w, r, true)
}

func (h *MetricFileHandler) download(w http.ResponseWriter, r *http.Request, compressed bool) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get metric task")
		return
	}
	if task == nil || task.SourceFile == nil || task.CompressedFile == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("metric task %d not found", id))
		return
	}

	if worker := r.Header.Get("Worker"); worker != "" {
		h.logger.DebugContext(ctx, "worker claiming metric task",
			slog.Uint64("task_id", uint64(id)),
			slog.String("worker", worker),
		)
		if err := h.tasks.MarkDownloading(ctx, id, worker); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to mark task downloading")
			return
		}
		if compressed {
			if err := h.tasks.StampAnalyzeStart(ctx, id); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to stamp analyze start")
				return
			}
		}
	}

	path := task.SourceFile.Path()
	if compressed {
		path = task.CompressedFile.Path()
	}
	if err := serveFile(w, path); err != nil {
		h.logger.ErrorContext(ctx, "failed to stream metric task file",
			slog.Uint64("task_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
}

// UploadReport receives the libvmaf JSON report. The size header is
// mandatory; a byte-count mismatch discards the report and requeues the
// task.
func (h *MetricFileHandler) UploadReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	expected, ok := expectedSize(r)
	if !ok {
		h.logger.ErrorContext(ctx, "report upload missing size header",
			slog.Uint64("task_id", uint64(id)),
		)
		writeError(w, http.StatusBadRequest, "missing size header")
		return
	}

	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get metric task")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("metric task %d not found", id))
		return
	}

	if err := h.tasks.SetStatus(ctx, id, models.StatusUploading); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark task uploading")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || int64(len(body)) != expected {
		h.logger.WarnContext(ctx, "report size mismatch, requeueing task",
			slog.Uint64("task_id", uint64(id)),
			slog.Int64("expected", expected),
			slog.Int("received", len(body)),
		)
		h.requeue(ctx, task)
		writeMessage(w, http.StatusOK, "size mismatch, task requeued")
		return
	}

	report, err := metrics.ParseReport(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid report: %v", err))
		return
	}
	if err := h.aggregator.Ingest(ctx, task, report); err != nil {
		h.logger.ErrorContext(ctx, "failed to aggregate report",
			slog.Uint64("task_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to aggregate report")
		return
	}

	if err := h.tasks.Finalize(ctx, id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to finalize task")
		return
	}

	h.logger.InfoContext(ctx, "metric task completed",
		slog.Uint64("task_id", uint64(id)),
	)
	writeMessage(w, http.StatusOK, "metrics file uploaded successfully")
}

func (h *MetricFileHandler) requeue(ctx context.Context, task *models.MetricTask) {
	envelope := broker.Envelope{
		Type: broker.TaskTypeMetrics,
		ID:   task.ID,
		URL:  metricTaskURL(h.baseURL, task.ID),
	}
	if err := h.publisher.Publish(ctx, envelope); err != nil {
		h.logger.ErrorContext(ctx, "failed to requeue metric task",
			slog.Uint64("task_id", uint64(task.ID)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := h.tasks.SetStatus(ctx, task.ID, models.StatusQueued); err != nil {
		h.logger.ErrorContext(ctx, "failed to mark task queued",
			slog.Uint64("task_id", uint64(task.ID)),
			slog.String("error", err.Error()),
		)
	}
}
