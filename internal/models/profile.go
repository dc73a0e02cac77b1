package models

import "gorm.io/gorm"

// Codec is the video codec a profile encodes with.
type Codec string

const (
	// CodecH264 encodes with libx264.
	CodecH264 Codec = "h264"
	// CodecH265 encodes with libx265.
	CodecH265 Codec = "h265"
)

// Valid reports whether the codec is one of the supported values.
func (c Codec) Valid() bool {
	return c == CodecH264 || c == CodecH265
}

// EncodeType is the rate-control mode a profile starts with.
type EncodeType string

const (
	// EncodeTypeCRF is constant-rate-factor single-pass encoding.
	EncodeTypeCRF EncodeType = "crf"
	// EncodeTypeABR is two-pass average-bitrate encoding.
	EncodeTypeABR EncodeType = "abr"
)

// Valid reports whether the encode type is one of the supported values.
func (e EncodeType) Valid() bool {
	return e == EncodeTypeCRF || e == EncodeTypeABR
}

// Profile is an administratively created encoding recipe. Profiles are
// immutable while a task referencing them is in flight.
type Profile struct {
	BaseModel

	Name        string `gorm:"not null;size:255;uniqueIndex" json:"name"`
	Description string `gorm:"size:1024" json:"description,omitempty"`

	Codec Codec `gorm:"not null;size:10" json:"codec"`

	// EncodeType and EncodeValue seed each task's control loop; the loop
	// may escalate the value or switch the type on its own copy.
	EncodeType  EncodeType `gorm:"not null;size:10" json:"encode_type"`
	EncodeValue int        `gorm:"not null" json:"encode_value"`

	Preset string `gorm:"size:50" json:"preset,omitempty"`
	Tune   string `gorm:"size:50" json:"tune,omitempty"`

	// ExtraArgs are appended verbatim to the encode command line.
	ExtraArgs string `gorm:"size:1024" json:"extra_args,omitempty"`

	// KeepOriginalMainAudio copies the main audio track verbatim instead
	// of applying the audio transcode rules.
	KeepOriginalMainAudio bool `json:"keep_original_main_audio"`
}

// TableName returns the table name for Profile.
func (Profile) TableName() string {
	return "profiles"
}

// Validate performs basic validation on the profile.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return ErrProfileNameRequired
	}
	if !p.Codec.Valid() {
		return ErrInvalidCodec
	}
	if !p.EncodeType.Valid() {
		return ErrInvalidEncodeType
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the profile.
func (p *Profile) BeforeCreate(_ *gorm.DB) error {
	return p.Validate()
}

// BeforeUpdate is a GORM hook that validates the profile before update.
func (p *Profile) BeforeUpdate(_ *gorm.DB) error {
	return p.Validate()
}
