package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ratePass int

const (
	rateCRF ratePass = iota
	rateABRFirstPass
	rateABRSecondPass
)

// Tunes the encoders accept for this material; anything else is dropped.
var allowedTunes = map[string]bool{
	"film":      true,
	"grain":     true,
	"animation": true,
}

// EncodeSettings carries the profile knobs for a single encode.
type EncodeSettings struct {
	Codec  string // h264 or h265
	Preset string
	Tune   string

	// KeepMainAudio copies the main audio track verbatim instead of
	// applying the re-encode rules.
	KeepMainAudio bool
}

// BaseArgs returns the leading arguments shared by every ffmpeg invocation:
// machine-readable progress on stdout, one update per second, no interactive
// stats, overwrite without prompting.
func BaseArgs() []string {
	return []string{"-progress", "-", "-nostats", "-hide_banner", "-y", "-stats_period", "1"}
}

func encoderFor(codec string) (string, error) {
	switch codec {
	case "h264":
		return "libx264", nil
	case "h265":
		return "libx265", nil
	default:
		return "", fmt.Errorf("unknown codec %q, expected h264 or h265", codec)
	}
}

// CRFCommand builds the ffmpeg arguments for a single-pass CRF encode of
// input into output.
func CRFCommand(probe *ProbeResult, input, output string, settings EncodeSettings, crf int) ([]string, error) {
	video, err := videoArgs(probe, input, settings, rateCRF, crf)
	if err != nil {
		return nil, err
	}
	return assembleEncode(probe, input, output, settings, video)
}

// TwoPassCommands builds both passes of an average-bitrate encode. The first
// pass writes only the rate-control log; the second produces output.
func TwoPassCommands(probe *ProbeResult, input, output string, settings EncodeSettings, bitrate int) (firstPass, secondPass []string, err error) {
	first, err := videoArgs(probe, input, settings, rateABRFirstPass, bitrate)
	if err != nil {
		return nil, nil, err
	}
	firstPass = append(BaseArgs(), "-i", input)
	firstPass = append(firstPass, first...)
	firstPass = append(firstPass, "-f", "null", os.DevNull)

	second, err := videoArgs(probe, input, settings, rateABRSecondPass, bitrate)
	if err != nil {
		return nil, nil, err
	}
	secondPass, err = assembleEncode(probe, input, output, settings, second)
	if err != nil {
		return nil, nil, err
	}
	return firstPass, secondPass, nil
}

// assembleEncode puts a full output-producing command together: video
// settings, then filters, then subtitles, then audio.
func assembleEncode(probe *ProbeResult, input, output string, settings EncodeSettings, video []string) ([]string, error) {
	args := append(BaseArgs(), "-i", input, "-movflags", "use_metadata_tags")
	args = append(args, video...)
	args = append(args, deinterlaceArgs(probe)...)

	if len(probe.SubtitleStreams()) > 0 {
		args = append(args, "-map", "0:s", "-c:s", "copy")
	}

	audio, err := audioStreamArgs(probe.AudioStreams(), settings.KeepMainAudio)
	if err != nil {
		return nil, err
	}
	args = append(args, audio...)

	return append(args, output), nil
}

// deinterlaceArgs returns the bwdif filter when the source is flagged as
// interlaced. Malformed metadata means malformed output; that is on the file.
func deinterlaceArgs(probe *ProbeResult) []string {
	video, err := probe.VideoStream()
	if err != nil || !video.Interlaced() {
		return nil
	}
	return []string{"-vf", "bwdif=0"}
}

func videoArgs(probe *ProbeResult, input string, settings EncodeSettings, pass ratePass, value int) ([]string, error) {
	encoder, err := encoderFor(settings.Codec)
	if err != nil {
		return nil, err
	}
	video, err := probe.VideoStream()
	if err != nil {
		return nil, err
	}
	framerate, err := video.Framerate()
	if err != nil {
		return nil, err
	}

	args := []string{"-map", "0:v:0", "-c:v:0", encoder, "-preset", settings.Preset}
	if allowedTunes[settings.Tune] {
		args = append(args, "-tune", settings.Tune)
	}

	stem := inputStem(input)
	var x265Params []string

	switch pass {
	case rateCRF:
		args = append(args, "-crf", strconv.Itoa(value))
	case rateABRFirstPass:
		args = append(args, "-b:v", strconv.Itoa(value)+"k")
		if encoder == "libx264" {
			args = append(args, "-pass", "1", "-passlogfile", stem)
		} else {
			x265Params = append(x265Params, "pass=1", "stats="+stem+".log")
		}
	case rateABRSecondPass:
		args = append(args, "-b:v", strconv.Itoa(value)+"k")
		if encoder == "libx264" {
			args = append(args, "-pass", "2", "-passlogfile", stem)
		} else {
			x265Params = append(x265Params, "pass=2", "stats="+stem+".log")
		}
	}

	level := sceneLevel(video.Height, framerate)
	if encoder == "libx264" {
		args = append(args, "-level:v", level)
	} else {
		// x265 has no 4.2; fold down to 4.1.
		if level == "4.2" {
			level = "4.1"
		}
		args = append(args, "-pix_fmt", "yuv420p10le")
		x265Params = append(x265Params, "high-tier=1", "level="+level)
		args = append(args, "-x265-params", strings.Join(x265Params, ":"))
	}

	return args, nil
}

func inputStem(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
