package ffmpeg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// probeFixture builds a ProbeResult the way ffprobe would report a typical
// matroska file after mkvpropedit has written statistics tags.
func probeFixture() *ProbeResult {
	return &ProbeResult{
		Format: ProbeFormat{
			Filename: "/srv/media/input/movie.mkv",
			Duration: "4741.375000",
			Size:     "17179869184",
		},
		Streams: []ProbeStream{
			{
				Index:      0,
				CodecType:  "video",
				CodecName:  "h264",
				Width:      1920,
				Height:     1080,
				FieldOrder: "progressive",
				RFrameRate: "24000/1001",
				Tags: map[string]string{
					"BPS":                     "24000000",
					"NUMBER_OF_BYTES":         "14224896000",
					"NUMBER_OF_FRAMES":        "113680",
					"_STATISTICS_WRITING_APP": "mkvpropedit v68.0.0",
				},
			},
			{
				Index:     1,
				CodecType: "audio",
				CodecName: "dts",
				Channels:  6,
				Tags: map[string]string{
					"BPS": "1509000",
				},
			},
			{
				Index:     2,
				CodecType: "subtitle",
				CodecName: "subrip",
			},
		},
	}
}

func TestParseProbeOutput(t *testing.T) {
	raw := []byte(`{
		"format": {"filename": "movie.mkv", "duration": "120.5", "size": "1000"},
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "25/1"}
		]
	}`)

	probe, err := ParseProbeOutput(raw)
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", probe.Format.Filename)
	assert.Equal(t, raw, probe.RawJSON())

	duration, err := probe.Duration()
	require.NoError(t, err)
	assert.InDelta(t, 120.5, duration, 0.001)
}

func TestParseProbeOutput_Malformed(t *testing.T) {
	_, err := ParseProbeOutput([]byte(`{"format":`))
	assert.Error(t, err)
}

func TestProbeResult_VideoStream(t *testing.T) {
	probe := probeFixture()

	video, err := probe.VideoStream()
	require.NoError(t, err)
	assert.Equal(t, 1920, video.Width)
	assert.Equal(t, 1080, video.Height)
}

func TestProbeResult_VideoStream_SkipsCoverArt(t *testing.T) {
	probe := probeFixture()
	probe.Streams = append(probe.Streams, ProbeStream{
		Index:     3,
		CodecType: "video",
		CodecName: "mjpeg",
		Tags:      map[string]string{"mimetype": "image/jpeg"},
	})

	video, err := probe.VideoStream()
	require.NoError(t, err)
	assert.Equal(t, 0, video.Index)
}

func TestProbeResult_VideoStream_None(t *testing.T) {
	probe := &ProbeResult{}
	_, err := probe.VideoStream()
	assert.Error(t, err)
}

func TestProbeResult_AudioStreams_Sorted(t *testing.T) {
	probe := &ProbeResult{
		Streams: []ProbeStream{
			{Index: 3, CodecType: "audio"},
			{Index: 1, CodecType: "audio"},
			{Index: 0, CodecType: "video"},
		},
	}

	audio := probe.AudioStreams()
	require.Len(t, audio, 2)
	assert.Equal(t, 1, audio[0].Index)
	assert.Equal(t, 3, audio[1].Index)
}

func TestProbeResult_FrameCount(t *testing.T) {
	probe := probeFixture()

	// Statistics tag fallback.
	count, err := probe.FrameCount()
	require.NoError(t, err)
	assert.Equal(t, int64(113680), count)

	// nb_frames wins when present.
	probe.Streams[0].NumFrames = "500"
	count, err = probe.FrameCount()
	require.NoError(t, err)
	assert.Equal(t, int64(500), count)
}

func TestProbeResult_HasStatisticsTags(t *testing.T) {
	probe := probeFixture()
	assert.True(t, probe.HasStatisticsTags())

	delete(probe.Streams[0].Tags, "_STATISTICS_WRITING_APP")
	assert.False(t, probe.HasStatisticsTags())
}

func TestProbeStream_Framerate(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{"24000/1001", 23.976, false},
		{"25/1", 25, false},
		{"30", 30, false},
		{"25/0", 0, true},
		{"", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("rate %q", tt.raw), func(t *testing.T) {
			s := ProbeStream{RFrameRate: tt.raw}
			got, err := s.Framerate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestProbeStream_Interlaced(t *testing.T) {
	assert.False(t, (&ProbeStream{FieldOrder: "progressive"}).Interlaced())
	assert.False(t, (&ProbeStream{}).Interlaced())
	assert.True(t, (&ProbeStream{FieldOrder: "tt"}).Interlaced())
	assert.True(t, (&ProbeStream{FieldOrder: "bb"}).Interlaced())
}

func TestProbeStream_BitrateKilobits(t *testing.T) {
	s := ProbeStream{Tags: map[string]string{"BPS": "1509999"}}
	kb, err := s.BitrateKilobits()
	require.NoError(t, err)
	assert.Equal(t, 1509, kb)

	_, err = (&ProbeStream{}).BitrateKilobits()
	assert.Error(t, err)
}

func TestProbeStream_StreamBytes(t *testing.T) {
	s := ProbeStream{Tags: map[string]string{"NUMBER_OF_BYTES": "14224896000"}}
	size, err := s.StreamBytes()
	require.NoError(t, err)
	assert.InDelta(t, 14224896000, size, 0.1)
}
