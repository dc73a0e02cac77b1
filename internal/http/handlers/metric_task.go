package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// MetricTaskHandler handles the JSON metric task endpoints.
type MetricTaskHandler struct {
	tasks     repository.MetricTaskRepository
	files     repository.FileRepository
	pooled    repository.PooledMetricRepository
	publisher broker.Publisher
	baseURL   string
	logger    *slog.Logger
}

// NewMetricTaskHandler creates a new metric task handler.
func NewMetricTaskHandler(
	tasks repository.MetricTaskRepository,
	files repository.FileRepository,
	pooled repository.PooledMetricRepository,
	publisher broker.Publisher,
	baseURL string,
	logger *slog.Logger,
) *MetricTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricTaskHandler{
		tasks:     tasks,
		files:     files,
		pooled:    pooled,
		publisher: publisher,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// Register registers the metric task routes with the API.
func (h *MetricTaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listMetricTasks",
		Method:      "GET",
		Path:        "/api/metrics/tasks",
		Summary:     "List metric tasks",
		Description: "Returns all metric tasks",
		Tags:        []string{"Metrics"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listMetricTasksInProgress",
		Method:      "GET",
		Path:        "/api/metrics/tasks/in-progress",
		Summary:     "List incomplete metric tasks",
		Description: "Returns metric tasks that have not reached COMPLETE",
		Tags:        []string{"Metrics"},
	}, h.ListInProgress)

	huma.Register(api, huma.Operation{
		OperationID: "getMetricTask",
		Method:      "GET",
		Path:        "/api/metrics/tasks/{id}",
		Summary:     "Get metric task",
		Description: "Returns a metric task with both files",
		Tags:        []string{"Metrics"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "updateMetricTaskProgress",
		Method:      "POST",
		Path:        "/api/metrics/tasks/{id}",
		Summary:     "Update metric task progress",
		Description: "Applies a worker progress update and marks the task IN_PROGRESS",
		Tags:        []string{"Metrics"},
	}, h.UpdateProgress)

	huma.Register(api, huma.Operation{
		OperationID: "getMetricTaskPooled",
		Method:      "GET",
		Path:        "/api/metrics/tasks/{id}/pooled",
		Summary:     "Get pooled metrics",
		Description: "Returns the pooled metric rows aggregated from the task's report",
		Tags:        []string{"Metrics"},
	}, h.GetPooled)

	huma.Register(api, huma.Operation{
		OperationID: "ingestMetricTasks",
		Method:      "POST",
		Path:        "/api/metrics/ingest",
		Summary:     "Create metric tasks",
		Description: "Creates and queues metric tasks comparing compressed files against a reference",
		Tags:        []string{"Metrics"},
	}, h.Ingest)
}

// ListMetricTasksInput is the input for listing metric tasks.
type ListMetricTasksInput struct{}

// ListMetricTasksOutput is the output for listing metric tasks.
type ListMetricTasksOutput struct {
	Body struct {
		Tasks []MetricTaskResponse `json:"tasks"`
	}
}

// List returns all metric tasks.
func (h *MetricTaskHandler) List(ctx context.Context, input *ListMetricTasksInput) (*ListMetricTasksOutput, error) {
	tasks, err := h.tasks.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list metric tasks", err)
	}
	return h.listOutput(tasks), nil
}

// ListInProgress returns metric tasks whose status is not COMPLETE.
func (h *MetricTaskHandler) ListInProgress(ctx context.Context, input *ListMetricTasksInput) (*ListMetricTasksOutput, error) {
	tasks, err := h.tasks.GetIncomplete(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list metric tasks", err)
	}
	return h.listOutput(tasks), nil
}

func (h *MetricTaskHandler) listOutput(tasks []*models.MetricTask) *ListMetricTasksOutput {
	resp := &ListMetricTasksOutput{}
	resp.Body.Tasks = make([]MetricTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, MetricTaskFromModel(t, h.baseURL))
	}
	return resp
}

// GetMetricTaskInput is the input for getting a metric task.
type GetMetricTaskInput struct {
	ID uint `path:"id" doc:"Metric task ID"`
}

// GetMetricTaskOutput is the output for getting a metric task.
type GetMetricTaskOutput struct {
	Body MetricTaskResponse
}

// GetByID returns a metric task by ID.
func (h *MetricTaskHandler) GetByID(ctx context.Context, input *GetMetricTaskInput) (*GetMetricTaskOutput, error) {
	task, err := h.tasks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get metric task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("metric task %d not found", input.ID))
	}
	return &GetMetricTaskOutput{Body: MetricTaskFromModel(task, h.baseURL)}, nil
}

// UpdateMetricProgressInput is the input for a worker progress update.
type UpdateMetricProgressInput struct {
	ID     uint   `path:"id" doc:"Metric task ID"`
	Worker string `header:"Worker" doc:"Worker identity"`
	Body   ProgressRequest
}

// UpdateProgress applies a worker progress update to a metric task.
func (h *MetricTaskHandler) UpdateProgress(ctx context.Context, input *UpdateMetricProgressInput) (*MessageOutput, error) {
	task, err := h.tasks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get metric task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("metric task %d not found", input.ID))
	}

	if input.Body.Progress == nil {
		h.logger.WarnContext(ctx, "progress update missing progress key",
			slog.Uint64("task_id", uint64(input.ID)),
		)
		return nil, huma.Error400BadRequest("missing data key [progress]")
	}

	update := repository.ProgressUpdate{
		Progress: *input.Body.Progress,
		Status:   statusPtr(models.StatusInProgress),
	}

	fps := 0.0
	if input.Body.FPS != nil {
		fps = *input.Body.FPS
	}
	update.FPS = &fps

	eta := int64(-1)
	if input.Body.ETA != nil {
		eta = *input.Body.ETA
	}
	update.ETA = &eta

	if input.Worker != "" {
		if task.Worker != "" && task.Worker != input.Worker {
			h.logger.WarnContext(ctx, "task updated by a different worker than last recorded",
				slog.Uint64("task_id", uint64(input.ID)),
				slog.String("recorded_worker", task.Worker),
				slog.String("updating_worker", input.Worker),
			)
		}
		update.Worker = input.Worker
	}

	if err := h.tasks.UpdateProgress(ctx, input.ID, update); err != nil {
		return nil, huma.Error500InternalServerError("failed to update metric task", err)
	}

	return messageOutput("POST received successfully"), nil
}

// GetPooledOutput is the output for the pooled metrics endpoint.
type GetPooledOutput struct {
	Body repository.PooledSet
}

// GetPooled returns the pooled rows aggregated from the task's report.
func (h *MetricTaskHandler) GetPooled(ctx context.Context, input *GetMetricTaskInput) (*GetPooledOutput, error) {
	task, err := h.tasks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get metric task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("metric task %d not found", input.ID))
	}

	pooled, err := h.pooled.GetPooledForTask(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get pooled metrics", err)
	}
	return &GetPooledOutput{Body: *pooled}, nil
}

// IngestMetricsInput is the input for creating metric tasks.
type IngestMetricsInput struct {
	Body struct {
		SourceFileID      uint   `json:"source_file_id" doc:"Reference file ID"`
		CompressedFileIDs []uint `json:"compressed_file_ids" doc:"Compressed file IDs to score against the reference"`
		PSNR              bool   `json:"psnr"`
		MSSSIM            bool   `json:"ms_ssim"`
		VMAF              bool   `json:"vmaf"`
		NegMode           bool   `json:"neg_mode"`
		SubsampleRate     int    `json:"subsample_rate,omitempty" doc:"Compute metrics on every Nth frame (default 1)"`
	}
}

// IngestMetricsOutput is the output for creating metric tasks.
type IngestMetricsOutput struct {
	Body struct {
		Tasks []MetricTaskResponse `json:"tasks"`
	}
}

// Ingest creates one metric task per compressed file, comparing each against
// the reference, and queues them.
func (h *MetricTaskHandler) Ingest(ctx context.Context, input *IngestMetricsInput) (*IngestMetricsOutput, error) {
	if len(input.Body.CompressedFileIDs) == 0 {
		return nil, huma.Error400BadRequest("compressed_file_ids must not be empty")
	}

	source, err := h.files.GetByID(ctx, input.Body.SourceFileID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get reference file", err)
	}
	if source == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("file %d not found", input.Body.SourceFileID))
	}

	subsampleRate := input.Body.SubsampleRate
	if subsampleRate == 0 {
		subsampleRate = 1
	}

	resp := &IngestMetricsOutput{}
	resp.Body.Tasks = make([]MetricTaskResponse, 0, len(input.Body.CompressedFileIDs))

	for _, fileID := range input.Body.CompressedFileIDs {
		compressed, err := h.files.GetByID(ctx, fileID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get compressed file", err)
		}
		if compressed == nil {
			return nil, huma.Error404NotFound(fmt.Sprintf("file %d not found", fileID))
		}

		task := &models.MetricTask{
			SourceFileID:     source.ID,
			CompressedFileID: compressed.ID,
			PSNR:             input.Body.PSNR,
			MSSSIM:           input.Body.MSSSIM,
			VMAF:             input.Body.VMAF,
			NegMode:          input.Body.NegMode,
			SubsampleRate:    subsampleRate,
			SecondsRemaining: -1,
		}
		if err := h.tasks.Create(ctx, task); err != nil {
			return nil, huma.Error400BadRequest("invalid metric task", err)
		}

		if err := h.queueTask(ctx, task); err != nil {
			h.logger.ErrorContext(ctx, "failed to queue metric task",
				slog.Uint64("task_id", uint64(task.ID)),
				slog.String("error", err.Error()),
			)
			return nil, huma.Error500InternalServerError("failed to queue metric task", err)
		}

		created, err := h.tasks.GetByID(ctx, task.ID)
		if err != nil || created == nil {
			return nil, huma.Error500InternalServerError("failed to reload metric task", err)
		}
		resp.Body.Tasks = append(resp.Body.Tasks, MetricTaskFromModel(created, h.baseURL))
	}

	return resp, nil
}

func (h *MetricTaskHandler) queueTask(ctx context.Context, task *models.MetricTask) error {
	envelope := broker.Envelope{
		Type: broker.TaskTypeMetrics,
		ID:   task.ID,
		URL:  metricTaskURL(h.baseURL, task.ID),
	}
	if err := h.publisher.Publish(ctx, envelope); err != nil {
		return err
	}
	return h.tasks.SetStatus(ctx, task.ID, models.StatusQueued)
}
