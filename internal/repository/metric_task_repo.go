package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
)

// metricTaskRepository implements MetricTaskRepository using GORM.
type metricTaskRepository struct {
	db *gorm.DB
}

// NewMetricTaskRepository creates a new MetricTaskRepository.
func NewMetricTaskRepository(db *gorm.DB) MetricTaskRepository {
	return &metricTaskRepository{db: db}
}

func (r *metricTaskRepository) withRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("SourceFile").
		Preload("CompressedFile")
}

// Create creates a new metric task.
func (r *metricTaskRepository) Create(ctx context.Context, task *models.MetricTask) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("validating metric task: %w", err)
	}
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID retrieves a task with both files preloaded.
func (r *metricTaskRepository) GetByID(ctx context.Context, id uint) (*models.MetricTask, error) {
	var task models.MetricTask
	if err := r.withRelations(ctx).First(&task, "metric_tasks.id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetAll retrieves all metric tasks with relations preloaded.
func (r *metricTaskRepository) GetAll(ctx context.Context) ([]*models.MetricTask, error) {
	var tasks []*models.MetricTask
	if err := r.withRelations(ctx).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetIncomplete retrieves tasks whose status is not COMPLETE.
func (r *metricTaskRepository) GetIncomplete(ctx context.Context) ([]*models.MetricTask, error) {
	var tasks []*models.MetricTask
	err := r.withRelations(ctx).
		Where("status <> ?", models.StatusComplete).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateProgress applies a worker progress update.
func (r *metricTaskRepository) UpdateProgress(ctx context.Context, id uint, update ProgressUpdate) error {
	fields := map[string]interface{}{
		"progress": update.Progress,
	}
	if update.FPS != nil {
		fields["encode_framerate"] = *update.FPS
	}
	if update.ETA != nil {
		fields["seconds_remaining"] = *update.ETA
	}
	if update.Worker != "" {
		fields["worker"] = update.Worker
	}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	return r.db.WithContext(ctx).
		Model(&models.MetricTask{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// MarkDownloading adopts the worker, resets progress fields, and sets
// DOWNLOADING. The analyze start time is stamped only when the compressed
// file is fetched.
func (r *metricTaskRepository) MarkDownloading(ctx context.Context, id uint, worker string) error {
	return r.db.WithContext(ctx).
		Model(&models.MetricTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            models.StatusDownloading,
			"worker":            worker,
			"progress":          0,
			"encode_framerate":  0,
			"seconds_remaining": 0,
		}).Error
}

// StampAnalyzeStart records the analyze start time.
func (r *metricTaskRepository) StampAnalyzeStart(ctx context.Context, id uint) error {
	now := models.Now()
	return r.db.WithContext(ctx).
		Model(&models.MetricTask{}).
		Where("id = ?", id).
		Update("analyze_start_datetime", &now).Error
}

// Finalize sets COMPLETE and stamps the analyze end time.
func (r *metricTaskRepository) Finalize(ctx context.Context, id uint) error {
	now := models.Now()
	return r.db.WithContext(ctx).
		Model(&models.MetricTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":               models.StatusComplete,
			"progress":             100,
			"seconds_remaining":    0,
			"analyze_end_datetime": &now,
		}).Error
}

// SetStatus sets the task status.
func (r *metricTaskRepository) SetStatus(ctx context.Context, id uint, status models.TaskStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.MetricTask{}).
		Where("id = ?", id).
		Update("status", status).Error
}
