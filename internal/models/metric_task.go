package models

import "gorm.io/gorm"

// MetricTask tracks one quality-measurement run comparing a compressed file
// against its source. Lifecycle mirrors EncodeTask with analyze timestamps.
type MetricTask struct {
	BaseModel

	SourceFileID uint  `gorm:"not null;index" json:"source_file_id"`
	SourceFile   *File `gorm:"foreignKey:SourceFileID;constraint:OnDelete:CASCADE" json:"source_file,omitempty"`

	CompressedFileID uint  `gorm:"not null;index" json:"compressed_file_id"`
	CompressedFile   *File `gorm:"foreignKey:CompressedFileID;constraint:OnDelete:CASCADE" json:"compressed_file,omitempty"`

	// Metric selection flags. At least one must be set.
	PSNR   bool `json:"psnr"`
	MSSSIM bool `gorm:"column:ms_ssim" json:"ms_ssim"`
	VMAF   bool `json:"vmaf"`

	// NegMode selects the vmaf_v0.6.1neg model, which discounts
	// sharpening and other enhancement gains.
	NegMode bool `json:"neg_mode"`

	// SubsampleRate computes metrics on every Nth frame.
	SubsampleRate int `gorm:"not null;default:1" json:"subsample_rate"`

	Worker string `gorm:"size:255" json:"worker,omitempty"`

	Status TaskStatus `gorm:"not null;default:0;index" json:"status"`

	Progress float64 `json:"progress"`

	// EncodeFramerate is the rolling-average processing fps reported by
	// the worker while the metric filter runs.
	EncodeFramerate float64 `json:"encode_framerate"`

	SecondsRemaining int64 `json:"seconds_remaining"`

	AnalyzeStartDatetime *Time `json:"analyze_start_datetime,omitempty"`
	AnalyzeEndDatetime   *Time `json:"analyze_end_datetime,omitempty"`
}

// TableName returns the table name for MetricTask.
func (MetricTask) TableName() string {
	return "metric_tasks"
}

// IsComplete reports whether the task has reached its terminal state.
func (t *MetricTask) IsComplete() bool {
	return t.Status == StatusComplete
}

// Validate performs basic validation on the metric task.
func (t *MetricTask) Validate() error {
	if t.SubsampleRate < 1 {
		return ErrInvalidSubsampleRate
	}
	if !t.PSNR && !t.MSSSIM && !t.VMAF {
		return ErrNoMetricsEnabled
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the metric task.
func (t *MetricTask) BeforeCreate(_ *gorm.DB) error {
	return t.Validate()
}
