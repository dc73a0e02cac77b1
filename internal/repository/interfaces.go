// Package repository defines data access interfaces for sved entities.
// All database access goes through these interfaces; they are the only
// mutation path to persistent state.
package repository

import (
	"context"

	"github.com/urban-engineer/sved/internal/models"
)

// ProgressUpdate carries the fields a worker progress POST may overwrite.
// Pointer fields are skipped when nil.
type ProgressUpdate struct {
	Progress float64
	FPS      *float64
	ETA      *int64
	// EncodeType and EncodeValue record control-loop escalations
	// (CRF bumps and the ABR switchover).
	EncodeType  *models.EncodeType
	EncodeValue *int
	// Worker is adopted when non-empty.
	Worker string
	Status *models.TaskStatus
}

// FileRepository defines operations for file persistence.
type FileRepository interface {
	// Create creates a new file record.
	Create(ctx context.Context, file *models.File) error
	// GetByID retrieves a file by ID. Returns nil when not found.
	GetByID(ctx context.Context, id uint) (*models.File, error)
	// GetByNameAndDirectory retrieves a file by its unique (name, directory)
	// pair. Returns nil when not found.
	GetByNameAndDirectory(ctx context.Context, name, directory string) (*models.File, error)
	// GetOrCreate returns the existing record for the file's (name,
	// directory) pair or creates one from the given fields.
	GetOrCreate(ctx context.Context, file *models.File) (*models.File, error)
	// GetByDirectory retrieves all files registered under a directory.
	GetByDirectory(ctx context.Context, directory string) ([]*models.File, error)
	// Update updates an existing file record.
	Update(ctx context.Context, file *models.File) error
	// Delete deletes a file record by ID. Dependent tasks cascade.
	Delete(ctx context.Context, id uint) error
}

// ProfileRepository defines operations for encoding profile persistence.
type ProfileRepository interface {
	// Create creates a new profile.
	Create(ctx context.Context, profile *models.Profile) error
	// GetByID retrieves a profile by ID. Returns nil when not found.
	GetByID(ctx context.Context, id uint) (*models.Profile, error)
	// GetByName retrieves a profile by name. Returns nil when not found.
	GetByName(ctx context.Context, name string) (*models.Profile, error)
	// GetAll retrieves all profiles ordered by name.
	GetAll(ctx context.Context) ([]*models.Profile, error)
	// Update updates an existing profile.
	Update(ctx context.Context, profile *models.Profile) error
	// Delete deletes a profile by ID.
	Delete(ctx context.Context, id uint) error
}

// EncodeTaskRepository defines operations for encode task persistence.
type EncodeTaskRepository interface {
	// Create creates a new encode task.
	Create(ctx context.Context, task *models.EncodeTask) error
	// GetByID retrieves a task with source/compressed files and profile
	// preloaded. Returns nil when not found.
	GetByID(ctx context.Context, id uint) (*models.EncodeTask, error)
	// GetAll retrieves all encode tasks with relations preloaded.
	GetAll(ctx context.Context) ([]*models.EncodeTask, error)
	// GetIncomplete retrieves tasks whose status is not COMPLETE.
	GetIncomplete(ctx context.Context) ([]*models.EncodeTask, error)
	// SourceNamesIncomplete returns the source file names of all
	// incomplete tasks, for ingest deduplication.
	SourceNamesIncomplete(ctx context.Context) ([]string, error)
	// UpdateProgress applies a worker progress update.
	UpdateProgress(ctx context.Context, id uint, update ProgressUpdate) error
	// MarkDownloading resets progress fields, adopts the worker, sets
	// DOWNLOADING, and stamps the encode start time.
	MarkDownloading(ctx context.Context, id uint, worker string) error
	// MarkUploading sets the task status to UPLOADING.
	MarkUploading(ctx context.Context, id uint, worker string) error
	// Finalize sets COMPLETE, stamps the encode end time, and records the
	// compressed file. Safe to call repeatedly.
	Finalize(ctx context.Context, id uint, compressedFileID uint) error
	// SetStatus sets the task status.
	SetStatus(ctx context.Context, id uint, status models.TaskStatus) error
}

// MetricTaskRepository defines operations for metric task persistence.
type MetricTaskRepository interface {
	// Create creates a new metric task.
	Create(ctx context.Context, task *models.MetricTask) error
	// GetByID retrieves a task with both files preloaded. Returns nil
	// when not found.
	GetByID(ctx context.Context, id uint) (*models.MetricTask, error)
	// GetAll retrieves all metric tasks with relations preloaded.
	GetAll(ctx context.Context) ([]*models.MetricTask, error)
	// GetIncomplete retrieves tasks whose status is not COMPLETE.
	GetIncomplete(ctx context.Context) ([]*models.MetricTask, error)
	// UpdateProgress applies a worker progress update.
	UpdateProgress(ctx context.Context, id uint, update ProgressUpdate) error
	// MarkDownloading adopts the worker, resets progress fields, and sets
	// DOWNLOADING. The analyze start time is stamped separately.
	MarkDownloading(ctx context.Context, id uint, worker string) error
	// StampAnalyzeStart records the analyze start time.
	StampAnalyzeStart(ctx context.Context, id uint) error
	// Finalize sets COMPLETE and stamps the analyze end time. Safe to
	// call repeatedly.
	Finalize(ctx context.Context, id uint) error
	// SetStatus sets the task status.
	SetStatus(ctx context.Context, id uint, status models.TaskStatus) error
}

// PooledSet bundles the pooled rows of one metric task. Entries are nil
// when the corresponding metric was not computed.
type PooledSet struct {
	PSNR   *models.PooledPSNR   `json:"psnr,omitempty"`
	MSSSIM *models.PooledMSSSIM `json:"ms_ssim,omitempty"`
	VMAF   *models.PooledVMAF   `json:"vmaf,omitempty"`
}

// PooledMetricRepository defines operations for frame and pooled metric
// persistence.
type PooledMetricRepository interface {
	// ReplaceFrames deletes any existing frames for the task and bulk
	// inserts the given rows in one transaction, making repeated report
	// ingestion idempotent.
	ReplaceFrames(ctx context.Context, taskID uint, frames []*models.Frame) error
	// CreatePooledPSNR upserts the task's pooled PSNR row.
	CreatePooledPSNR(ctx context.Context, pooled *models.PooledPSNR) error
	// CreatePooledMSSSIM upserts the task's pooled MS-SSIM row.
	CreatePooledMSSSIM(ctx context.Context, pooled *models.PooledMSSSIM) error
	// CreatePooledVMAF upserts the task's pooled VMAF row.
	CreatePooledVMAF(ctx context.Context, pooled *models.PooledVMAF) error
	// GetPooledForTask retrieves all pooled rows for a task.
	GetPooledForTask(ctx context.Context, taskID uint) (*PooledSet, error)
	// CountFrames returns the number of frame rows for a task.
	CountFrames(ctx context.Context, taskID uint) (int64, error)
}
