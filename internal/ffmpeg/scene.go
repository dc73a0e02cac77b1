package ffmpeg

import (
	"fmt"
	"math"
)

// SceneCategory is the resolution class a file is judged against.
// See https://scenerules.org/t.html?id=2020_X265.nfo sections 4.1-4.3 and 7.6.
type SceneCategory string

const (
	Scene720p  SceneCategory = "720p"
	Scene1080p SceneCategory = "1080p"
	Scene2160p SceneCategory = "2160p"
)

// Rule 7.6: maximum compressed video stream size relative to the source.
var sceneSizeRatio = map[SceneCategory]float64{
	Scene720p:  0.3,
	Scene1080p: 0.6,
	Scene2160p: 0.7,
}

// CategoryFor classifies a video by resolution. Widescreen material (aspect
// ratio at or above 1.78 after rounding to two places) is judged by width,
// everything else by height.
func CategoryFor(width, height int) (SceneCategory, error) {
	if height == 0 {
		return "", fmt.Errorf("video has zero height")
	}
	aspectRatio := math.Round(float64(width)/float64(height)*100) / 100

	if aspectRatio >= 1.78 {
		switch {
		case width <= 1280:
			return Scene720p, nil
		case width == 1920:
			return Scene1080p, nil
		case width == 3840:
			return Scene2160p, nil
		default:
			return "", fmt.Errorf("unexpected video width %d", width)
		}
	}

	switch {
	case height <= 720:
		return Scene720p, nil
	case height == 1080:
		return Scene1080p, nil
	case height == 2160:
		return Scene2160p, nil
	default:
		return "", fmt.Errorf("unexpected video height %d", height)
	}
}

// MaxVideoStreamSize returns the largest compressed video stream size, in
// bytes, allowed for the given source file.
func MaxVideoStreamSize(probe *ProbeResult) (int64, error) {
	video, err := probe.VideoStream()
	if err != nil {
		return 0, err
	}
	category, err := CategoryFor(video.Width, video.Height)
	if err != nil {
		return 0, err
	}
	size, err := video.StreamBytes()
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(size * sceneSizeRatio[category])), nil
}

// SceneBitrate returns the average video bitrate, in kb/s, that fills the
// size budget over the file's duration.
func SceneBitrate(probe *ProbeResult) (int, error) {
	maxSize, err := MaxVideoStreamSize(probe)
	if err != nil {
		return 0, err
	}
	duration, err := probe.Duration()
	if err != nil {
		return 0, err
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %f", duration)
	}
	maxKilobits := float64(maxSize) / 1000 * 8
	return int(math.Floor(maxKilobits / duration)), nil
}

// PassesSceneRules reports whether the compressed file's video stream fits
// within the size budget derived from the reference file.
func PassesSceneRules(reference, compressed *ProbeResult) (bool, error) {
	maxSize, err := MaxVideoStreamSize(reference)
	if err != nil {
		return false, err
	}
	video, err := compressed.VideoStream()
	if err != nil {
		return false, err
	}
	size, err := video.StreamBytes()
	if err != nil {
		return false, err
	}
	return size <= float64(maxSize), nil
}

// sceneLevel picks the encoder level for a video. 720p gets 4.1, 1080p gets
// 4.2 above 30 fps, 2160p gets 5.2 above 30 fps and 5.1 otherwise.
func sceneLevel(height int, framerate float64) string {
	switch {
	case height > 1080:
		if framerate > 30 {
			return "5.2"
		}
		return "5.1"
	case height > 720 && framerate > 30:
		return "4.2"
	default:
		return "4.1"
	}
}
