package ffmpeg

import (
	"fmt"
	"strconv"
)

// Audio is always re-encoded to AAC at 96 kb/s per channel; keeping the
// source track is rarely worth the size. Opus would beat AAC at these rates
// but direct-plays far less reliably.
const audioKilobitsPerChannel = 96

// audioStreamArgs builds the output arguments for every audio track.
//
// Main track: anything 5.1 or wider above 576 kb/s is downmixed to 5.1 at
// 576 kb/s; 5.1 at or below that goes straight to gained stereo. Stereo and
// mono above 192 kb/s re-encode to 192 kb/s; AAC at or under that is copied.
// A main track wider than stereo also gets a +2dB stereo compatibility track.
// Secondary tracks follow the same shape without the 5.1 target.
//
// keepMain short-circuits the main-track rules and copies it verbatim; the
// compatibility downmix still applies so stereo gear can play the result.
func audioStreamArgs(streams []ProbeStream, keepMain bool) ([]string, error) {
	if len(streams) == 0 {
		return nil, nil
	}

	mainBitrate, err := streams[0].BitrateKilobits()
	if err != nil {
		return nil, fmt.Errorf("main audio track: %w", err)
	}
	mainChannels := streams[0].Channels
	mainCodec := streams[0].CodecName

	var args []string
	out := 0

	appendTrack := func(track []string) {
		args = append(args, track...)
		out++
	}

	if keepMain {
		appendTrack(copyTrack(0, out))
	} else if mainChannels >= 6 {
		if mainBitrate > 576 {
			appendTrack(fivePointOneTrack(0, out))
		} else {
			appendTrack(stereoGainTrack(0, out))
		}
	} else if mainBitrate > 192 {
		appendTrack(stereoTrack(0, out))
	} else if mainCodec == "aac" {
		appendTrack(copyTrack(0, out))
	} else {
		appendTrack(stereoTrack(0, out))
	}

	// Compatibility downmix for surround mains.
	if mainChannels > 2 {
		appendTrack(stereoGainTrack(0, out))
	}

	for i := 1; i < len(streams); i++ {
		bitrate, err := streams[i].BitrateKilobits()
		if err != nil {
			return nil, fmt.Errorf("audio track %d: %w", i, err)
		}

		switch {
		case streams[i].Channels >= 6:
			appendTrack(stereoGainTrack(i, out))
		case bitrate >= 192:
			appendTrack(stereoTrack(i, out))
		case streams[i].CodecName == "aac":
			appendTrack(copyTrack(i, out))
		default:
			appendTrack(stereoTrack(i, out))
		}
	}

	return args, nil
}

func copyTrack(src, out int) []string {
	return []string{
		"-map", "0:a:" + strconv.Itoa(src),
		"-c:a:" + strconv.Itoa(out), "copy",
	}
}

func fivePointOneTrack(src, out int) []string {
	o := strconv.Itoa(out)
	return []string{
		"-map", "0:a:" + strconv.Itoa(src),
		"-c:a:" + o, "aac",
		"-b:a:" + o, strconv.Itoa(audioKilobitsPerChannel*6) + "k",
		"-ac:a:" + o, "6",
	}
}

func stereoTrack(src, out int) []string {
	o := strconv.Itoa(out)
	return []string{
		"-map", "0:a:" + strconv.Itoa(src),
		"-c:a:" + o, "aac",
		"-b:a:" + o, strconv.Itoa(audioKilobitsPerChannel*2) + "k",
		"-ac:a:" + o, "2",
	}
}

func stereoGainTrack(src, out int) []string {
	o := strconv.Itoa(out)
	return []string{
		"-map", "0:a:" + strconv.Itoa(src),
		"-c:a:" + o, "aac",
		"-b:a:" + o, strconv.Itoa(audioKilobitsPerChannel*2) + "k",
		"-filter:a:" + o, "volume=2dB",
		"-ac:a:" + o, "2",
	}
}
