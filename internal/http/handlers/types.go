// Package handlers provides HTTP API handlers for the sved coordinator.
package handlers

import (
	"fmt"

	"github.com/urban-engineer/sved/internal/models"
)

// MessageOutput is a simple acknowledgement body.
type MessageOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

func messageOutput(message string) *MessageOutput {
	out := &MessageOutput{}
	out.Body.Message = message
	return out
}

// FileResponse is the API representation of a file record.
type FileResponse struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	Directory string  `json:"directory"`
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration"`
	FrameRate float64 `json:"frame_rate"`
	Frames    int64   `json:"frames"`
}

// FileFromModel converts a file model to its API representation.
func FileFromModel(f *models.File) *FileResponse {
	if f == nil {
		return nil
	}
	return &FileResponse{
		ID:        f.ID,
		Name:      f.Name,
		Directory: f.Directory,
		Size:      f.Size,
		Duration:  f.Duration,
		FrameRate: f.FrameRate,
		Frames:    f.Frames,
	}
}

// ProfileResponse is the API representation of an encoding profile.
type ProfileResponse struct {
	ID                    uint   `json:"id"`
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	Codec                 string `json:"codec"`
	EncodeType            string `json:"encode_type"`
	EncodeValue           int    `json:"encode_value"`
	Preset                string `json:"preset,omitempty"`
	Tune                  string `json:"tune,omitempty"`
	ExtraArgs             string `json:"extra_args,omitempty"`
	KeepOriginalMainAudio bool   `json:"keep_original_main_audio"`
}

// ProfileFromModel converts a profile model to its API representation.
func ProfileFromModel(p *models.Profile) *ProfileResponse {
	if p == nil {
		return nil
	}
	return &ProfileResponse{
		ID:                    p.ID,
		Name:                  p.Name,
		Description:           p.Description,
		Codec:                 string(p.Codec),
		EncodeType:            string(p.EncodeType),
		EncodeValue:           p.EncodeValue,
		Preset:                p.Preset,
		Tune:                  p.Tune,
		ExtraArgs:             p.ExtraArgs,
		KeepOriginalMainAudio: p.KeepOriginalMainAudio,
	}
}

// EncodeTaskResponse is the API representation of an encode task. URLs are
// absolute so a worker can drive the whole task from the envelope alone.
type EncodeTaskResponse struct {
	ID               uint             `json:"id"`
	SourceFile       *FileResponse    `json:"source_file,omitempty"`
	CompressedFile   *FileResponse    `json:"compressed_file,omitempty"`
	Profile          *ProfileResponse `json:"profile,omitempty"`
	EncodeType       string           `json:"encode_type"`
	EncodeValue      int              `json:"encode_value"`
	Worker           string           `json:"worker,omitempty"`
	Status           int              `json:"status"`
	StatusDisplay    string           `json:"status_display"`
	Progress         float64          `json:"progress"`
	EncodeFramerate  float64          `json:"encode_framerate"`
	SecondsRemaining int64            `json:"seconds_remaining"`
	EncodeStart      *models.Time     `json:"encode_start_datetime,omitempty"`
	EncodeEnd        *models.Time     `json:"encode_end_datetime,omitempty"`
	FileURL          string           `json:"file_url"`
}

// EncodeTaskFromModel converts an encode task model to its API
// representation, building absolute URLs from the given base.
func EncodeTaskFromModel(t *models.EncodeTask, baseURL string) EncodeTaskResponse {
	return EncodeTaskResponse{
		ID:               t.ID,
		SourceFile:       FileFromModel(t.SourceFile),
		CompressedFile:   FileFromModel(t.CompressedFile),
		Profile:          ProfileFromModel(t.Profile),
		EncodeType:       string(t.EncodeType),
		EncodeValue:      t.EncodeValue,
		Worker:           t.Worker,
		Status:           int(t.Status),
		StatusDisplay:    t.Status.String(),
		Progress:         t.Progress,
		EncodeFramerate:  t.EncodeFramerate,
		SecondsRemaining: t.SecondsRemaining,
		EncodeStart:      t.EncodeStartDatetime,
		EncodeEnd:        t.EncodeEndDatetime,
		FileURL:          encodeFileURL(baseURL, t.ID),
	}
}

// MetricTaskResponse is the API representation of a metric task.
type MetricTaskResponse struct {
	ID                uint          `json:"id"`
	SourceFile        *FileResponse `json:"source_file,omitempty"`
	CompressedFile    *FileResponse `json:"compressed_file,omitempty"`
	PSNR              bool          `json:"psnr"`
	MSSSIM            bool          `json:"ms_ssim"`
	VMAF              bool          `json:"vmaf"`
	NegMode           bool          `json:"neg_mode"`
	SubsampleRate     int           `json:"subsample_rate"`
	Worker            string        `json:"worker,omitempty"`
	Status            int           `json:"status"`
	StatusDisplay     string        `json:"status_display"`
	Progress          float64       `json:"progress"`
	EncodeFramerate   float64       `json:"encode_framerate"`
	SecondsRemaining  int64         `json:"seconds_remaining"`
	AnalyzeStart      *models.Time  `json:"analyze_start_datetime,omitempty"`
	AnalyzeEnd        *models.Time  `json:"analyze_end_datetime,omitempty"`
	SourceFileURL     string        `json:"source_file_url"`
	CompressedFileURL string        `json:"compressed_file_url"`
	ReportURL         string        `json:"report_url"`
}

// MetricTaskFromModel converts a metric task model to its API representation.
func MetricTaskFromModel(t *models.MetricTask, baseURL string) MetricTaskResponse {
	return MetricTaskResponse{
		ID:                t.ID,
		SourceFile:        FileFromModel(t.SourceFile),
		CompressedFile:    FileFromModel(t.CompressedFile),
		PSNR:              t.PSNR,
		MSSSIM:            t.MSSSIM,
		VMAF:              t.VMAF,
		NegMode:           t.NegMode,
		SubsampleRate:     t.SubsampleRate,
		Worker:            t.Worker,
		Status:            int(t.Status),
		StatusDisplay:     t.Status.String(),
		Progress:          t.Progress,
		EncodeFramerate:   t.EncodeFramerate,
		SecondsRemaining:  t.SecondsRemaining,
		AnalyzeStart:      t.AnalyzeStartDatetime,
		AnalyzeEnd:        t.AnalyzeEndDatetime,
		SourceFileURL:     metricSourceFileURL(baseURL, t.ID),
		CompressedFileURL: metricCompressedFileURL(baseURL, t.ID),
		ReportURL:         metricReportURL(baseURL, t.ID),
	}
}

// ProgressRequest is the body a worker posts against a task while its
// subprocess runs. Only progress is required; fps and eta are wildly
// inaccurate for the first few seconds so workers may omit them, and the
// encode fields arrive only when the control loop (re)starts an encode.
type ProgressRequest struct {
	Progress    *float64 `json:"progress,omitempty" doc:"Completion percentage 0-100"`
	FPS         *float64 `json:"fps,omitempty" doc:"Rolling-average processing framerate"`
	ETA         *int64   `json:"eta,omitempty" doc:"Rolling-average seconds remaining"`
	EncodeType  string   `json:"encode_type,omitempty" doc:"Rate-control mode actually running (crf or abr)"`
	EncodeValue *int     `json:"encode_value,omitempty" doc:"CRF value or bitrate actually running"`
}

func encodeTaskURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/encodes/tasks/%d", base, id)
}

func encodeFileURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/encodes/tasks/%d/file", base, id)
}

func metricTaskURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/metrics/tasks/%d", base, id)
}

func metricSourceFileURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/metrics/tasks/%d/files/source", base, id)
}

func metricCompressedFileURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/metrics/tasks/%d/files/compressed", base, id)
}

func metricReportURL(base string, id uint) string {
	return fmt.Sprintf("%s/api/metrics/tasks/%d/report", base, id)
}
