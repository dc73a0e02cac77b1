// Package ffmpeg wraps the ffprobe, ffmpeg, and mkvpropedit binaries:
// container probing, encode command construction under scene rules, progress
// stream parsing, and quality metric runs.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// Tag keys written by mkvpropedit --add-track-statistics-tags.
const (
	tagBPS            = "BPS"
	tagNumberOfBytes  = "NUMBER_OF_BYTES"
	tagNumberOfFrames = "NUMBER_OF_FRAMES"
	tagStatisticsApp  = "_STATISTICS_WRITING_APP"
)

// ProbeResult holds parsed ffprobe output for a media file. The raw JSON is
// retained so callers can persist it verbatim.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`

	raw []byte
}

// ProbeFormat holds container-level metadata.
type ProbeFormat struct {
	Filename       string            `json:"filename"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ProbeStream holds per-stream metadata.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	CodecType     string            `json:"codec_type"`
	Profile       string            `json:"profile"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	PixFmt        string            `json:"pix_fmt"`
	FieldOrder    string            `json:"field_order"`
	RFrameRate    string            `json:"r_frame_rate"`
	AvgFrameRate  string            `json:"avg_frame_rate"`
	NumFrames     string            `json:"nb_frames"`
	Channels      int               `json:"channels"`
	ChannelLayout string            `json:"channel_layout"`
	SampleRate    string            `json:"sample_rate"`
	Tags          map[string]string `json:"tags"`
}

// Prober runs ffprobe against media files.
type Prober struct {
	binary string
}

// NewProber creates a prober. An empty path falls back to "ffprobe" on PATH.
func NewProber(binary string) *Prober {
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Probe runs ffprobe on the given file and parses its JSON output.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, msg)
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	return ParseProbeOutput(stdout.Bytes())
}

// ParseProbeOutput parses raw ffprobe JSON into a ProbeResult.
func ParseProbeOutput(raw []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	result.raw = raw
	return &result, nil
}

// RawJSON returns the unmodified ffprobe output.
func (r *ProbeResult) RawJSON() []byte {
	return r.raw
}

// VideoStream returns the single real video stream. Streams carrying embedded
// cover art (an image mimetype tag) do not count.
func (r *ProbeResult) VideoStream() (*ProbeStream, error) {
	var video []*ProbeStream
	for i := range r.Streams {
		s := &r.Streams[i]
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}
		if s.isAttachedImage() {
			continue
		}
		video = append(video, s)
	}
	if len(video) != 1 {
		return nil, fmt.Errorf("expected 1 video stream, got %d", len(video))
	}
	return video[0], nil
}

func (s *ProbeStream) isAttachedImage() bool {
	for _, key := range []string{"mimetype", "MIMETYPE"} {
		if strings.Contains(strings.ToLower(s.Tags[key]), "image") {
			return true
		}
	}
	return false
}

// AudioStreams returns the audio streams ordered by stream index.
func (r *ProbeResult) AudioStreams() []ProbeStream {
	var audio []ProbeStream
	for _, s := range r.Streams {
		if s.CodecType == "audio" {
			audio = append(audio, s)
		}
	}
	sort.Slice(audio, func(i, j int) bool { return audio[i].Index < audio[j].Index })
	return audio
}

// SubtitleStreams returns the subtitle streams.
func (r *ProbeResult) SubtitleStreams() []ProbeStream {
	var subs []ProbeStream
	for _, s := range r.Streams {
		if s.CodecType == "subtitle" {
			subs = append(subs, s)
		}
	}
	return subs
}

// Duration returns the container duration in seconds.
func (r *ProbeResult) Duration() (float64, error) {
	if r.Format.Duration == "" {
		return 0, fmt.Errorf("no duration in format section")
	}
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", r.Format.Duration, err)
	}
	return d, nil
}

// FrameCount returns the video frame count, preferring nb_frames and falling
// back to the NUMBER_OF_FRAMES statistics tag.
func (r *ProbeResult) FrameCount() (int64, error) {
	video, err := r.VideoStream()
	if err != nil {
		return 0, err
	}
	if video.NumFrames != "" {
		return strconv.ParseInt(video.NumFrames, 10, 64)
	}
	if raw, ok := video.Tags[tagNumberOfFrames]; ok {
		return strconv.ParseInt(raw, 10, 64)
	}
	return 0, fmt.Errorf("stream %d has no frame count", video.Index)
}

// HasStatisticsTags reports whether mkvpropedit track statistics are present
// on the video stream.
func (r *ProbeResult) HasStatisticsTags() bool {
	video, err := r.VideoStream()
	if err != nil {
		return false
	}
	_, ok := video.Tags[tagStatisticsApp]
	return ok
}

// Framerate parses the stream's r_frame_rate ("num/den" or a plain number).
func (s *ProbeStream) Framerate() (float64, error) {
	return ParseFramerate(s.RFrameRate)
}

// Interlaced reports whether the stream's field order marks it as anything
// other than progressive. A missing field order counts as progressive.
func (s *ProbeStream) Interlaced() bool {
	return s.FieldOrder != "" && s.FieldOrder != "progressive"
}

// StreamBytes returns the stream size in bytes from the NUMBER_OF_BYTES
// statistics tag.
func (s *ProbeStream) StreamBytes() (float64, error) {
	raw, ok := s.Tags[tagNumberOfBytes]
	if !ok {
		return 0, fmt.Errorf("stream %d has no %s tag", s.Index, tagNumberOfBytes)
	}
	size, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", tagNumberOfBytes, raw, err)
	}
	return size, nil
}

// BitrateKilobits returns the stream bitrate in kb/s from the BPS statistics
// tag, truncated the way integer division truncates.
func (s *ProbeStream) BitrateKilobits() (int, error) {
	raw, ok := s.Tags[tagBPS]
	if !ok {
		return 0, fmt.Errorf("stream %d has no %s tag", s.Index, tagBPS)
	}
	bps, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", tagBPS, raw, err)
	}
	return int(bps / 1000), nil
}

// ParseFramerate parses an ffprobe rate string, either "num/den" or a plain
// number.
func ParseFramerate(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty framerate")
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing framerate %q: %w", raw, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing framerate %q: %w", raw, err)
		}
		if d == 0 {
			return 0, fmt.Errorf("framerate %q has zero denominator", raw)
		}
		return n / d, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing framerate %q: %w", raw, err)
	}
	return f, nil
}
