package models

import "fmt"

// TaskStatus represents the lifecycle state of an encode or metric task.
// Values are ordinal and stored as integers; workers drive 2-4 via
// side-effects on file GETs and progress POSTs.
type TaskStatus int

const (
	// StatusCreated is the initial state assigned by the coordinator.
	StatusCreated TaskStatus = iota
	// StatusQueued means an envelope has been published to the broker.
	StatusQueued
	// StatusDownloading means a worker is fetching the task's input files.
	StatusDownloading
	// StatusInProgress means the worker's subprocess is running.
	StatusInProgress
	// StatusUploading means the worker is streaming its result back.
	StatusUploading
	// StatusComplete means the artifact or report has been persisted.
	StatusComplete
)

// String returns the human-readable name of the status.
func (s TaskStatus) String() string {
	switch s {
	case StatusCreated:
		return "CREATED"
	case StatusQueued:
		return "QUEUED"
	case StatusDownloading:
		return "DOWNLOADING"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusUploading:
		return "UPLOADING"
	case StatusComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Valid reports whether the status is one of the defined ordinals.
func (s TaskStatus) Valid() bool {
	return s >= StatusCreated && s <= StatusComplete
}
