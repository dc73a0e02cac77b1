package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/ffmpeg"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// prober matches ffmpeg.Prober.
type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// statisticsWriter matches ffmpeg.Propedit.
type statisticsWriter interface {
	EnsureTrackStatistics(ctx context.Context, path string, probe *ffmpeg.ProbeResult) (bool, error)
}

// EncodeFileHandler handles the streaming encode file routes. These bypass
// huma: the download is a multi-gigabyte body and the upload arrives as a
// raw byte stream with a size header.
type EncodeFileHandler struct {
	tasks      repository.EncodeTaskRepository
	files      repository.FileRepository
	publisher  broker.Publisher
	prober     prober
	propedit   statisticsWriter
	outputDir  string
	baseURL    string
	autoDelete bool
	logger     *slog.Logger
}

// NewEncodeFileHandler creates a new encode file handler.
func NewEncodeFileHandler(
	tasks repository.EncodeTaskRepository,
	files repository.FileRepository,
	publisher broker.Publisher,
	fileProber prober,
	propedit statisticsWriter,
	outputDir, baseURL string,
	autoDelete bool,
	logger *slog.Logger,
) *EncodeFileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncodeFileHandler{
		tasks:      tasks,
		files:      files,
		publisher:  publisher,
		prober:     fileProber,
		propedit:   propedit,
		outputDir:  outputDir,
		baseURL:    baseURL,
		autoDelete: autoDelete,
		logger:     logger,
	}
}

// Register registers the streaming routes on the chi router.
func (h *EncodeFileHandler) Register(r chi.Router) {
	r.Get("/api/encodes/tasks/{id}/file", h.Download)
	r.Post("/api/encodes/tasks/{id}/file", h.Upload)
}

// Download streams the task's source file to the worker. A Worker header
// marks the task DOWNLOADING and resets its progress fields.
func (h *EncodeFileHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get encode task")
		return
	}
	if task == nil || task.SourceFile == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("encode task %d not found", id))
		return
	}

	if worker := r.Header.Get("Worker"); worker != "" {
		h.logger.DebugContext(ctx, "worker claiming encode task",
			slog.Uint64("task_id", uint64(id)),
			slog.String("worker", worker),
		)
		if err := h.tasks.MarkDownloading(ctx, id, worker); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to mark task downloading")
			return
		}
	}

	if err := serveFile(w, task.SourceFile.Path()); err != nil {
		h.logger.ErrorContext(ctx, "failed to stream source file",
			slog.Uint64("task_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	}
}

// Upload receives the compressed artifact. The size header is mandatory; a
// byte-count mismatch quarantines the artifact and requeues the task rather
// than completing it.
func (h *EncodeFileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := taskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	expected, ok := expectedSize(r)
	if !ok {
		h.logger.ErrorContext(ctx, "upload missing size header",
			slog.Uint64("task_id", uint64(id)),
		)
		writeError(w, http.StatusBadRequest, "missing size header")
		return
	}

	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get encode task")
		return
	}
	if task == nil || task.SourceFile == nil || task.Profile == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("encode task %d not found", id))
		return
	}

	if err := h.tasks.MarkUploading(ctx, id, r.Header.Get("Worker")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark task uploading")
		return
	}

	name := task.SourceFile.Name
	if task.CompressedFile != nil {
		name = task.CompressedFile.Name
	}
	destDir := filepath.Join(h.outputDir, task.Profile.Name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create output directory")
		return
	}
	destPath := filepath.Join(destDir, name)

	written, err := h.receiveFile(destPath, r.Body)
	if err != nil || written != expected {
		h.logger.WarnContext(ctx, "artifact size mismatch, requeueing task",
			slog.Uint64("task_id", uint64(id)),
			slog.Int64("expected", expected),
			slog.Int64("received", written),
		)
		h.quarantineAndRequeue(ctx, task, destPath, name)
		writeMessage(w, http.StatusOK, "size mismatch, task requeued")
		return
	}

	record, err := h.registerArtifact(ctx, task, destPath, name)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to register artifact",
			slog.Uint64("task_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to register artifact")
		return
	}

	if err := h.tasks.Finalize(ctx, id, record.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to finalize task")
		return
	}

	if h.autoDelete {
		if err := os.Remove(task.SourceFile.Path()); err != nil {
			h.logger.WarnContext(ctx, "failed to delete source file",
				slog.String("path", task.SourceFile.Path()),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.InfoContext(ctx, "encode task completed",
		slog.Uint64("task_id", uint64(id)),
		slog.String("artifact", destPath),
	)
	writeMessage(w, http.StatusOK, "file uploaded successfully")
}

func (h *EncodeFileHandler) receiveFile(destPath string, body io.Reader) (int64, error) {
	out, err := os.Create(destPath)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.Copy(out, body)
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return written, copyErr
}

// quarantineAndRequeue moves a bad artifact aside and puts the task back on
// the queue for another worker.
func (h *EncodeFileHandler) quarantineAndRequeue(ctx context.Context, task *models.EncodeTask, destPath, name string) {
	invalidDir := filepath.Join(h.outputDir, "invalid", task.Profile.Name)
	if err := os.MkdirAll(invalidDir, 0o755); err == nil {
		if err := os.Rename(destPath, filepath.Join(invalidDir, name)); err != nil {
			h.logger.WarnContext(ctx, "failed to quarantine artifact",
				slog.String("path", destPath),
				slog.String("error", err.Error()),
			)
		}
	}

	envelope := broker.Envelope{
		Type: broker.TaskTypeEncode,
		ID:   task.ID,
		URL:  encodeTaskURL(h.baseURL, task.ID),
	}
	if err := h.publisher.Publish(ctx, envelope); err != nil {
		h.logger.ErrorContext(ctx, "failed to requeue encode task",
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

// registerArtifact probes the uploaded artifact and fills in the placeholder
// file record created at ingest time.
func (h *EncodeFileHandler) registerArtifact(ctx context.Context, task *models.EncodeTask, destPath, name string) (*models.File, error) {
	probe, err := h.prober.Probe(ctx, destPath)
	if err != nil {
		return nil, fmt.Errorf("probing artifact: %w", err)
	}
	modified, err := h.propedit.EnsureTrackStatistics(ctx, destPath, probe)
	if err != nil {
		return nil, fmt.Errorf("writing statistics tags: %w", err)
	}
	if modified {
		// mkvpropedit rewrote the container; the earlier probe is stale.
		if probe, err = h.prober.Probe(ctx, destPath); err != nil {
			return nil, fmt.Errorf("re-probing artifact: %w", err)
		}
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stating artifact: %w", err)
	}
	duration, err := probe.Duration()
	if err != nil {
		return nil, fmt.Errorf("reading artifact duration: %w", err)
	}
	frames, err := probe.FrameCount()
	if err != nil {
		return nil, fmt.Errorf("reading artifact frame count: %w", err)
	}
	video, err := probe.VideoStream()
	if err != nil {
		return nil, fmt.Errorf("reading artifact video stream: %w", err)
	}
	framerate, err := artifactFramerate(video)
	if err != nil {
		return nil, fmt.Errorf("reading artifact framerate: %w", err)
	}

	record := task.CompressedFile
	if record == nil {
		record, err = h.files.GetOrCreate(ctx, &models.File{
			Name:      name,
			Directory: filepath.Dir(destPath),
		})
		if err != nil {
			return nil, fmt.Errorf("registering artifact record: %w", err)
		}
	}

	record.Size = info.Size()
	record.Duration = duration
	record.FrameRate = framerate
	record.Frames = frames
	record.ProbeInfo = string(probe.RawJSON())
	if err := h.files.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("updating artifact record: %w", err)
	}
	return record, nil
}

func artifactFramerate(video *ffmpeg.ProbeStream) (float64, error) {
	rate, err := ffmpeg.ParseFramerate(video.AvgFrameRate)
	if err != nil {
		if rate, err = video.Framerate(); err != nil {
			return 0, err
		}
	}
	return math.Round(rate*1000) / 1000, nil
}
