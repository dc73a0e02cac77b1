package models

import (
	"path/filepath"

	"gorm.io/gorm"
)

// File represents a media file known to the coordinator: a source in the
// input tree or a produced artifact in the output tree. Files are referenced
// by tasks but owned by neither; many tasks may share one File.
type File struct {
	BaseModel

	// Name is the file's base name including extension.
	Name string `gorm:"not null;size:512;uniqueIndex:idx_files_name_directory" json:"name"`

	// Directory is the absolute directory containing the file.
	Directory string `gorm:"not null;size:1024;uniqueIndex:idx_files_name_directory" json:"directory"`

	// Size is the file size in bytes. Zero means the file is still being
	// copied into place and must not be handed to a task.
	Size int64 `json:"size"`

	// Duration is the container duration in seconds, three decimals.
	Duration float64 `json:"duration"`

	// FrameRate is the video stream's average frame rate.
	FrameRate float64 `json:"frame_rate"`

	// Frames is the video stream's total frame count.
	Frames int64 `json:"frames"`

	// ProbeInfo is the raw ffprobe JSON, stored opaquely.
	ProbeInfo string `gorm:"type:text" json:"probe_info,omitempty"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// Path returns the absolute path of the file on disk.
func (f *File) Path() string {
	return filepath.Join(f.Directory, f.Name)
}

// InFlight reports whether the file looks like a partial copy. Files with a
// zero size or zero duration are skipped by ingest until a later scan sees
// them settle.
func (f *File) InFlight() bool {
	return f.Size == 0 || f.Duration == 0
}

// Validate performs basic validation on the file.
func (f *File) Validate() error {
	if f.Name == "" {
		return ErrFileNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the file.
func (f *File) BeforeCreate(_ *gorm.DB) error {
	return f.Validate()
}
