package models

// EncodeTask tracks one source file being transcoded under one profile.
// The coordinator creates it, publishes an envelope, and thereafter mutates
// it only in response to worker HTTP traffic.
type EncodeTask struct {
	BaseModel

	SourceFileID uint  `gorm:"not null;index" json:"source_file_id"`
	SourceFile   *File `gorm:"foreignKey:SourceFileID;constraint:OnDelete:CASCADE" json:"source_file,omitempty"`

	// CompressedFileID points at the artifact record. It is created at
	// ingest time with zero size/duration and finalized after upload.
	CompressedFileID *uint `gorm:"index" json:"compressed_file_id,omitempty"`
	CompressedFile   *File `gorm:"foreignKey:CompressedFileID;constraint:OnDelete:CASCADE" json:"compressed_file,omitempty"`

	ProfileID uint     `gorm:"not null;index" json:"profile_id"`
	Profile   *Profile `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE" json:"profile,omitempty"`

	// EncodeType and EncodeValue start as the profile's values; the
	// worker's control loop reports escalations back (CRF bumps, the
	// permanent ABR switchover) so the record shows what actually ran.
	EncodeType  EncodeType `gorm:"not null;size:10" json:"encode_type"`
	EncodeValue int        `gorm:"not null" json:"encode_value"`

	// Worker is the identity of the worker currently driving the task,
	// adopted from the Worker header.
	Worker string `gorm:"size:255" json:"worker,omitempty"`

	Status TaskStatus `gorm:"not null;default:0;index" json:"status"`

	// Progress is 0-100. The coordinator does not enforce monotonicity;
	// a late-arriving lower value overwrites.
	Progress float64 `json:"progress"`

	// EncodeFramerate is the worker's rolling-average encode fps.
	EncodeFramerate float64 `json:"encode_framerate"`

	// SecondsRemaining is the worker's rolling-average ETA.
	SecondsRemaining int64 `json:"seconds_remaining"`

	EncodeStartDatetime *Time `json:"encode_start_datetime,omitempty"`
	EncodeEndDatetime   *Time `json:"encode_end_datetime,omitempty"`
}

// TableName returns the table name for EncodeTask.
func (EncodeTask) TableName() string {
	return "encode_tasks"
}

// IsComplete reports whether the task has reached its terminal state.
func (t *EncodeTask) IsComplete() bool {
	return t.Status == StatusComplete
}
