package models

import "time"

// Frame holds one sampled frame's scores for a metric task. Per-metric
// values are nil when the corresponding flag was disabled. Rows are
// bulk-created on report ingest and never mutated.
type Frame struct {
	ID uint `gorm:"primarykey" json:"id"`

	MetricTaskID uint        `gorm:"not null;uniqueIndex:idx_frames_task_frame" json:"metric_task_id"`
	MetricTask   *MetricTask `gorm:"foreignKey:MetricTaskID;constraint:OnDelete:CASCADE" json:"-"`

	FrameNumber int64 `gorm:"not null;uniqueIndex:idx_frames_task_frame" json:"frame_number"`

	PSNR   *float64 `json:"psnr,omitempty"`
	MSSSIM *float64 `gorm:"column:ms_ssim" json:"ms_ssim,omitempty"`
	VMAF   *float64 `json:"vmaf,omitempty"`
}

// TableName returns the table name for Frame.
func (Frame) TableName() string {
	return "frames"
}

// PooledStats holds the aggregate statistics shared by the pooled metric
// rows. Min/max/mean/harmonic mean come from the report's pooled_metrics;
// the lows are computed from the per-frame scores.
type PooledStats struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	HarmonicMean float64 `json:"harmonic_mean"`

	// OnePercentLow is the mean of the worst max(1, n/100) scores.
	OnePercentLow float64 `json:"one_percent_low"`
	// PointOnePercentLow is the mean of the worst max(1, n/1000) scores.
	PointOnePercentLow float64 `json:"point_one_percent_low"`
}

// PooledPSNR holds aggregate PSNR statistics for one metric task.
type PooledPSNR struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	MetricTaskID uint        `gorm:"not null;uniqueIndex" json:"metric_task_id"`
	MetricTask   *MetricTask `gorm:"foreignKey:MetricTaskID;constraint:OnDelete:CASCADE" json:"-"`

	PooledStats `gorm:"embedded"`
}

// TableName returns the table name for PooledPSNR.
func (PooledPSNR) TableName() string {
	return "pooled_psnr"
}

// PooledMSSSIM holds aggregate MS-SSIM statistics for one metric task.
type PooledMSSSIM struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	MetricTaskID uint        `gorm:"not null;uniqueIndex" json:"metric_task_id"`
	MetricTask   *MetricTask `gorm:"foreignKey:MetricTaskID;constraint:OnDelete:CASCADE" json:"-"`

	PooledStats `gorm:"embedded"`
}

// TableName returns the table name for PooledMSSSIM.
func (PooledMSSSIM) TableName() string {
	return "pooled_ms_ssim"
}

// PooledVMAF holds aggregate VMAF statistics for one metric task.
type PooledVMAF struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	MetricTaskID uint        `gorm:"not null;uniqueIndex" json:"metric_task_id"`
	MetricTask   *MetricTask `gorm:"foreignKey:MetricTaskID;constraint:OnDelete:CASCADE" json:"-"`

	PooledStats `gorm:"embedded"`
}

// TableName returns the table name for PooledVMAF.
func (PooledVMAF) TableName() string {
	return "pooled_vmaf"
}
