package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/urban-engineer/sved/internal/broker"
	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// sourceRegistrar is the slice of the ingest scanner this handler uses.
type sourceRegistrar interface {
	RegisterFile(ctx context.Context, path string) (*models.File, error)
	PendingSources(ctx context.Context) ([]*models.File, error)
}

// IngestHandler turns input files into queued encode tasks and reports which
// input files are still waiting for one.
type IngestHandler struct {
	scanner   sourceRegistrar
	files     repository.FileRepository
	tasks     repository.EncodeTaskRepository
	profiles  repository.ProfileRepository
	publisher broker.Publisher
	inputDir  string
	outputDir string
	baseURL   string
	logger    *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(
	scanner sourceRegistrar,
	files repository.FileRepository,
	tasks repository.EncodeTaskRepository,
	profiles repository.ProfileRepository,
	publisher broker.Publisher,
	inputDir, outputDir, baseURL string,
	logger *slog.Logger,
) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		scanner:   scanner,
		files:     files,
		tasks:     tasks,
		profiles:  profiles,
		publisher: publisher,
		inputDir:  inputDir,
		outputDir: outputDir,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// Register registers the ingest routes with the API.
func (h *IngestHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ingestEncodeTasks",
		Method:      "POST",
		Path:        "/api/encodes/ingest",
		Summary:     "Create encode tasks",
		Description: "Probes the named input files and queues one encode task per file under the given profile",
		Tags:        []string{"Encodes"},
	}, h.Ingest)

	huma.Register(api, huma.Operation{
		OperationID: "listPendingFiles",
		Method:      "GET",
		Path:        "/api/encodes/files/pending",
		Summary:     "List pending input files",
		Description: "Returns input files not yet owned by a task and not already present in the output tree",
		Tags:        []string{"Encodes"},
	}, h.ListPending)
}

// IngestEncodesInput is the input for creating encode tasks.
type IngestEncodesInput struct {
	Body struct {
		ProfileID uint     `json:"profile_id" doc:"Encoding profile to apply"`
		Files     []string `json:"files" doc:"Input file names, relative to the input directory"`
	}
}

// IngestEncodesOutput is the output for creating encode tasks.
type IngestEncodesOutput struct {
	Body struct {
		Tasks []EncodeTaskResponse `json:"tasks"`
		// Skipped lists files that were not queued, typically because
		// they are still being copied into the input directory.
		Skipped []string `json:"skipped,omitempty"`
	}
}

// Ingest creates and queues one encode task per named input file.
func (h *IngestHandler) Ingest(ctx context.Context, input *IngestEncodesInput) (*IngestEncodesOutput, error) {
	if len(input.Body.Files) == 0 {
		return nil, huma.Error400BadRequest("files must not be empty")
	}

	profile, err := h.profiles.GetByID(ctx, input.Body.ProfileID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get profile", err)
	}
	if profile == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("profile %d not found", input.Body.ProfileID))
	}

	resp := &IngestEncodesOutput{}
	resp.Body.Tasks = make([]EncodeTaskResponse, 0, len(input.Body.Files))

	for _, name := range input.Body.Files {
		source, err := h.scanner.RegisterFile(ctx, filepath.Join(h.inputDir, name))
		if err != nil {
			h.logger.WarnContext(ctx, "skipping unprobeable input file",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
			resp.Body.Skipped = append(resp.Body.Skipped, name)
			continue
		}
		if source == nil {
			// Zero size or duration: the copy into the input tree has
			// not settled yet.
			h.logger.InfoContext(ctx, "skipping in-flight input file",
				slog.String("file", name),
			)
			resp.Body.Skipped = append(resp.Body.Skipped, name)
			continue
		}

		task, err := h.createTask(ctx, source, profile)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to create encode task", err)
		}
		resp.Body.Tasks = append(resp.Body.Tasks, EncodeTaskFromModel(task, h.baseURL))
	}

	return resp, nil
}

// createTask registers the placeholder artifact record, persists the task,
// publishes its envelope, and marks it QUEUED.
func (h *IngestHandler) createTask(ctx context.Context, source *models.File, profile *models.Profile) (*models.EncodeTask, error) {
	compressed, err := h.files.GetOrCreate(ctx, &models.File{
		Name:      source.Name,
		Directory: filepath.Join(h.outputDir, profile.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("registering artifact record: %w", err)
	}

	task := &models.EncodeTask{
		SourceFileID:     source.ID,
		CompressedFileID: &compressed.ID,
		ProfileID:        profile.ID,
		EncodeType:       profile.EncodeType,
		EncodeValue:      profile.EncodeValue,
		SecondsRemaining: -1,
	}
	if err := h.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	envelope := broker.Envelope{
		Type: broker.TaskTypeEncode,
		ID:   task.ID,
		URL:  encodeTaskURL(h.baseURL, task.ID),
	}
	if err := h.publisher.Publish(ctx, envelope); err != nil {
		// The task stays CREATED; a later requeue sweep or manual
		// republish can pick it up.
		return nil, fmt.Errorf("publishing envelope: %w", err)
	}
	if err := h.tasks.SetStatus(ctx, task.ID, models.StatusQueued); err != nil {
		return nil, fmt.Errorf("marking task queued: %w", err)
	}

	h.logger.InfoContext(ctx, "encode task queued",
		slog.Uint64("task_id", uint64(task.ID)),
		slog.String("source", source.Name),
		slog.String("profile", profile.Name),
	)

	created, err := h.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading task: %w", err)
	}
	return created, nil
}

// ListPendingInput is the input for the pending file list.
type ListPendingInput struct{}

// ListPendingOutput is the output for the pending file list.
type ListPendingOutput struct {
	Body struct {
		Files []FileResponse `json:"files"`
	}
}

// ListPending returns input files that have no task yet.
func (h *IngestHandler) ListPending(ctx context.Context, input *ListPendingInput) (*ListPendingOutput, error) {
	files, err := h.scanner.PendingSources(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list pending files", err)
	}

	resp := &ListPendingOutput{}
	resp.Body.Files = make([]FileResponse, 0, len(files))
	for _, f := range files {
		resp.Body.Files = append(resp.Body.Files, *FileFromModel(f))
	}
	return resp, nil
}
