package repository

import (
	"context"
	"errors"

	"github.com/urban-engineer/sved/internal/models"
	"gorm.io/gorm"
)

// frameInsertBatchSize bounds the parameter count per bulk insert; SQLite
// caps bound variables well below a feature-length frame list.
const frameInsertBatchSize = 500

// pooledMetricRepository implements PooledMetricRepository using GORM.
type pooledMetricRepository struct {
	db *gorm.DB
}

// NewPooledMetricRepository creates a new PooledMetricRepository.
func NewPooledMetricRepository(db *gorm.DB) PooledMetricRepository {
	return &pooledMetricRepository{db: db}
}

// ReplaceFrames deletes any existing frames for the task and bulk inserts
// the given rows in one transaction.
func (r *pooledMetricRepository) ReplaceFrames(ctx context.Context, taskID uint, frames []*models.Frame) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Frame{}, "metric_task_id = ?", taskID).Error; err != nil {
			return err
		}
		if len(frames) == 0 {
			return nil
		}
		return tx.CreateInBatches(frames, frameInsertBatchSize).Error
	})
}

// CreatePooledPSNR upserts the task's pooled PSNR row.
func (r *pooledMetricRepository) CreatePooledPSNR(ctx context.Context, pooled *models.PooledPSNR) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.PooledPSNR{}, "metric_task_id = ?", pooled.MetricTaskID).Error; err != nil {
			return err
		}
		return tx.Create(pooled).Error
	})
}

// CreatePooledMSSSIM upserts the task's pooled MS-SSIM row.
func (r *pooledMetricRepository) CreatePooledMSSSIM(ctx context.Context, pooled *models.PooledMSSSIM) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.PooledMSSSIM{}, "metric_task_id = ?", pooled.MetricTaskID).Error; err != nil {
			return err
		}
		return tx.Create(pooled).Error
	})
}

// CreatePooledVMAF upserts the task's pooled VMAF row.
func (r *pooledMetricRepository) CreatePooledVMAF(ctx context.Context, pooled *models.PooledVMAF) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.PooledVMAF{}, "metric_task_id = ?", pooled.MetricTaskID).Error; err != nil {
			return err
		}
		return tx.Create(pooled).Error
	})
}

// GetPooledForTask retrieves all pooled rows for a task. Missing rows leave
// the corresponding entry nil.
func (r *pooledMetricRepository) GetPooledForTask(ctx context.Context, taskID uint) (*PooledSet, error) {
	set := &PooledSet{}

	var psnr models.PooledPSNR
	err := r.db.WithContext(ctx).First(&psnr, "metric_task_id = ?", taskID).Error
	switch {
	case err == nil:
		set.PSNR = &psnr
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var msssim models.PooledMSSSIM
	err = r.db.WithContext(ctx).First(&msssim, "metric_task_id = ?", taskID).Error
	switch {
	case err == nil:
		set.MSSSIM = &msssim
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	var vmaf models.PooledVMAF
	err = r.db.WithContext(ctx).First(&vmaf, "metric_task_id = ?", taskID).Error
	switch {
	case err == nil:
		set.VMAF = &vmaf
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	return set, nil
}

// CountFrames returns the number of frame rows for a task.
func (r *pooledMetricRepository) CountFrames(ctx context.Context, taskID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Frame{}).
		Where("metric_task_id = ?", taskID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
