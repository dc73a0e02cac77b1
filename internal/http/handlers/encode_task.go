package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// EncodeTaskHandler handles the JSON encode task endpoints.
type EncodeTaskHandler struct {
	tasks   repository.EncodeTaskRepository
	baseURL string
	logger  *slog.Logger
}

// NewEncodeTaskHandler creates a new encode task handler.
func NewEncodeTaskHandler(tasks repository.EncodeTaskRepository, baseURL string, logger *slog.Logger) *EncodeTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncodeTaskHandler{
		tasks:   tasks,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Register registers the encode task routes with the API.
func (h *EncodeTaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listEncodeTasks",
		Method:      "GET",
		Path:        "/api/encodes/tasks",
		Summary:     "List encode tasks",
		Description: "Returns all encode tasks",
		Tags:        []string{"Encodes"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "listEncodeTasksInProgress",
		Method:      "GET",
		Path:        "/api/encodes/tasks/in-progress",
		Summary:     "List incomplete encode tasks",
		Description: "Returns encode tasks that have not reached COMPLETE",
		Tags:        []string{"Encodes"},
	}, h.ListInProgress)

	huma.Register(api, huma.Operation{
		OperationID: "getEncodeTask",
		Method:      "GET",
		Path:        "/api/encodes/tasks/{id}",
		Summary:     "Get encode task",
		Description: "Returns an encode task with its files and profile",
		Tags:        []string{"Encodes"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "updateEncodeTaskProgress",
		Method:      "POST",
		Path:        "/api/encodes/tasks/{id}",
		Summary:     "Update encode task progress",
		Description: "Applies a worker progress update and marks the task IN_PROGRESS",
		Tags:        []string{"Encodes"},
	}, h.UpdateProgress)
}

// ListEncodeTasksInput is the input for listing encode tasks.
type ListEncodeTasksInput struct{}

// ListEncodeTasksOutput is the output for listing encode tasks.
type ListEncodeTasksOutput struct {
	Body struct {
		Tasks []EncodeTaskResponse `json:"tasks"`
	}
}

// List returns all encode tasks.
func (h *EncodeTaskHandler) List(ctx context.Context, input *ListEncodeTasksInput) (*ListEncodeTasksOutput, error) {
	tasks, err := h.tasks.GetAll(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list encode tasks", err)
	}
	return h.listOutput(tasks), nil
}

// ListInProgress returns encode tasks whose status is not COMPLETE.
func (h *EncodeTaskHandler) ListInProgress(ctx context.Context, input *ListEncodeTasksInput) (*ListEncodeTasksOutput, error) {
	tasks, err := h.tasks.GetIncomplete(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list encode tasks", err)
	}
	return h.listOutput(tasks), nil
}

func (h *EncodeTaskHandler) listOutput(tasks []*models.EncodeTask) *ListEncodeTasksOutput {
	resp := &ListEncodeTasksOutput{}
	resp.Body.Tasks = make([]EncodeTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, EncodeTaskFromModel(t, h.baseURL))
	}
	return resp
}

// GetEncodeTaskInput is the input for getting an encode task.
type GetEncodeTaskInput struct {
	ID uint `path:"id" doc:"Encode task ID"`
}

// GetEncodeTaskOutput is the output for getting an encode task.
type GetEncodeTaskOutput struct {
	Body EncodeTaskResponse
}

// GetByID returns an encode task by ID.
func (h *EncodeTaskHandler) GetByID(ctx context.Context, input *GetEncodeTaskInput) (*GetEncodeTaskOutput, error) {
	task, err := h.tasks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get encode task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("encode task %d not found", input.ID))
	}
	return &GetEncodeTaskOutput{Body: EncodeTaskFromModel(task, h.baseURL)}, nil
}

// UpdateEncodeProgressInput is the input for a worker progress update.
type UpdateEncodeProgressInput struct {
	ID     uint   `path:"id" doc:"Encode task ID"`
	Worker string `header:"Worker" doc:"Worker identity"`
	Body   ProgressRequest
}

// UpdateProgress applies a worker progress update to an encode task.
func (h *EncodeTaskHandler) UpdateProgress(ctx context.Context, input *UpdateEncodeProgressInput) (*MessageOutput, error) {
	task, err := h.tasks.GetByID(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get encode task", err)
	}
	if task == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("encode task %d not found", input.ID))
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

	// Absent fps and eta overwrite with their zero values: a fresh encode
	// pass starts its averages over.
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

	if input.Body.EncodeType != "" {
		encodeType := models.EncodeType(input.Body.EncodeType)
		if !encodeType.Valid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid encode_type %q", input.Body.EncodeType))
		}
		update.EncodeType = &encodeType
	}
	update.EncodeValue = input.Body.EncodeValue

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
		return nil, huma.Error500InternalServerError("failed to update encode task", err)
	}

	return messageOutput("POST received successfully"), nil
}

func statusPtr(status models.TaskStatus) *models.TaskStatus {
	return &status
}
