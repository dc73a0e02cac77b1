package ffmpeg

import (
	"strconv"
	"strings"
)

// Progress is one complete progress block from ffmpeg's -progress output.
// Fields ffmpeg reports as N/A carry -1.
type Progress struct {
	Frame      int64
	FPS        float64
	Bitrate    float64 // kb/s
	TotalSize  int64
	OutTimeUS  int64
	OutTimeMS  int64
	OutTime    string
	DupFrames  int64
	DropFrames int64
	Speed      float64
	End        bool // progress=end
}

// FramePercentage returns the frame counter as a percentage of frameCount.
func (p Progress) FramePercentage(frameCount int64) float64 {
	if frameCount <= 0 {
		return 0
	}
	return float64(p.Frame) / float64(frameCount) * 100
}

// SecondsRemaining estimates the time left from the instantaneous fps.
// Returns -1 when fps is unusable.
func (p Progress) SecondsRemaining(frameCount int64) int64 {
	if p.FPS <= 0 {
		return -1
	}
	remaining := frameCount - p.Frame
	if remaining < 0 {
		remaining = 0
	}
	return int64(float64(remaining) / p.FPS)
}

// ProgressParser accumulates -progress key=value lines into blocks. ffmpeg
// emits one metric per line and closes each block with a progress= line.
type ProgressParser struct {
	// SourceFramerate, when set, substitutes fps/framerate for the speed
	// field while ffmpeg still reports it as N/A.
	SourceFramerate float64

	current Progress
}

// ParseLine feeds one line of progress output. When the line completes a
// block, the assembled Progress is returned with ok set.
func (p *ProgressParser) ParseLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)

	// Warnings sometimes land on stdout glued to a progress key, as in
	// "[matroska @ 0x...] something] frame=12". Recover the trailing pair.
	if strings.HasPrefix(line, "[") {
		if idx := strings.LastIndex(line, "] "); idx >= 0 {
			line = line[idx+2:]
		}
	}

	key, value, found := strings.Cut(line, "=")
	if !found || strings.Contains(key, " ") {
		return Progress{}, false
	}
	// Per-stream quality lines like stream_0_0_q=23.0 are noise here.
	if strings.Contains(key, "stream_") {
		return Progress{}, false
	}

	switch key {
	case "frame":
		p.current.Frame = parseProgressInt(value)
	case "fps":
		p.current.FPS = parseProgressFloat(value)
	case "bitrate":
		p.current.Bitrate = parseProgressFloat(strings.TrimSuffix(value, "kbits/s"))
	case "total_size":
		p.current.TotalSize = parseProgressInt(value)
	case "out_time_us":
		p.current.OutTimeUS = parseProgressInt(value)
	case "out_time_ms":
		p.current.OutTimeMS = parseProgressInt(value)
	case "out_time":
		if value == "N/A" {
			value = "-1"
		}
		p.current.OutTime = value
	case "dup_frames":
		p.current.DupFrames = parseProgressInt(value)
	case "drop_frames":
		p.current.DropFrames = parseProgressInt(value)
	case "speed":
		p.current.Speed = parseProgressFloat(strings.TrimSuffix(value, "x"))
	case "progress":
		block := p.current
		block.End = value == "end"
		if block.Speed == -1 && block.FPS > 0 && p.SourceFramerate > 0 {
			block.Speed = block.FPS / p.SourceFramerate
		}
		p.current = Progress{}
		return block, true
	}

	return Progress{}, false
}

func parseProgressInt(value string) int64 {
	if value == "N/A" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func parseProgressFloat(value string) float64 {
	if value == "N/A" {
		return -1
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return -1
	}
	return f
}
