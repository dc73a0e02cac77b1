package models

import "errors"

// Validation errors returned by model Validate methods and GORM hooks.
var (
	// ErrFileNameRequired indicates a File was created without a name.
	ErrFileNameRequired = errors.New("file name is required")

	// ErrProfileNameRequired indicates a Profile was created without a name.
	ErrProfileNameRequired = errors.New("profile name is required")

	// ErrInvalidCodec indicates a codec outside the supported set.
	ErrInvalidCodec = errors.New("codec must be h264 or h265")

	// ErrInvalidEncodeType indicates an encode type outside the supported set.
	ErrInvalidEncodeType = errors.New("encode type must be crf or abr")

	// ErrInvalidSubsampleRate indicates a metric subsample rate below 1.
	ErrInvalidSubsampleRate = errors.New("subsample rate must be at least 1")

	// ErrNoMetricsEnabled indicates a metric task with every metric flag off.
	ErrNoMetricsEnabled = errors.New("at least one of psnr, ms_ssim, vmaf must be enabled")
)
