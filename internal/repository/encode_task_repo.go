package repository

import (
	"context"
	"errors"

	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
)

// encodeTaskRepository implements EncodeTaskRepository using GORM.
type encodeTaskRepository struct {
	db *gorm.DB
}

// NewEncodeTaskRepository creates a new EncodeTaskRepository.
func NewEncodeTaskRepository(db *gorm.DB) EncodeTaskRepository {
	return &encodeTaskRepository{db: db}
}

func (r *encodeTaskRepository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("SourceFile").
		Preload("CompressedFile").
		Preload("Profile")
}

// Create creates a new encode task.
func (r *encodeTaskRepository) Create(ctx context.Context, task *models.EncodeTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID retrieves a task with its files and profile preloaded.
func (r *encodeTaskRepository) GetByID(ctx context.Context, id uint) (*models.EncodeTask, error) {
	var task models.EncodeTask
	if err := r.withRelations(ctx).First(&task, "encode_tasks.id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetAll retrieves all encode tasks with relations preloaded.
func (r *encodeTaskRepository) GetAll(ctx context.Context) ([]*models.EncodeTask, error) {
	var tasks []*models.EncodeTask
	if err := r.withRelations(ctx).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetIncomplete retrieves tasks whose status is not COMPLETE.
func (r *encodeTaskRepository) GetIncomplete(ctx context.Context) ([]*models.EncodeTask, error) {
	var tasks []*models.EncodeTask
	err := r.withRelations(ctx).
		Where("status <> ?", models.StatusComplete).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// SourceNamesIncomplete returns the source file names of all incomplete tasks.
func (r *encodeTaskRepository) SourceNamesIncomplete(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Joins("JOIN files ON files.id = encode_tasks.source_file_id").
		Where("encode_tasks.status <> ?", models.StatusComplete).
		Pluck("files.name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UpdateProgress applies a worker progress update.
func (r *encodeTaskRepository) UpdateProgress(ctx context.Context, id uint, update ProgressUpdate) error {
	fields := map[string]interface{}{
		"progress": update.Progress,
	}
	if update.FPS != nil {
		fields["encode_framerate"] = *update.FPS
	}
	if update.ETA != nil {
		fields["seconds_remaining"] = *update.ETA
	}
	if update.EncodeType != nil {
		fields["encode_type"] = *update.EncodeType
	}
	if update.EncodeValue != nil {
		fields["encode_value"] = *update.EncodeValue
	}
	if update.Worker != "" {
		fields["worker"] = update.Worker
	}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	return r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// MarkDownloading resets progress fields, adopts the worker, sets
// DOWNLOADING, and stamps the encode start time.
func (r *encodeTaskRepository) MarkDownloading(ctx context.Context, id uint, worker string) error {
	now := models.Now()
	return r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":                models.StatusDownloading,
			"worker":                worker,
			"progress":              0,
			"encode_framerate":      0,
			"seconds_remaining":     0,
			"encode_start_datetime": &now,
		}).Error
}

// MarkUploading sets the task status to UPLOADING.
func (r *encodeTaskRepository) MarkUploading(ctx context.Context, id uint, worker string) error {
	fields := map[string]interface{}{
		"status": models.StatusUploading,
	}
	if worker != "" {
		fields["worker"] = worker
	}
	return r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// Finalize sets COMPLETE, stamps the encode end time, and records the
// compressed file. Repeated calls overwrite with identical values, which
// keeps artifact re-uploads safe.
func (r *encodeTaskRepository) Finalize(ctx context.Context, id uint, compressedFileID uint) error {
	now := models.Now()
	return r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              models.StatusComplete,
			"compressed_file_id":  compressedFileID,
			"progress":            100,
			"seconds_remaining":   0,
			"encode_end_datetime": &now,
		}).Error
}

// SetStatus sets the task status.
func (r *encodeTaskRepository) SetStatus(ctx context.Context, id uint, status models.TaskStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.EncodeTask{}).
		Where("id = ?", id).
		Update("status", status).Error
}
