package worker

import (
	"context"

	"github.com/urban-engineer/sved/internal/ffmpeg"
)

// progressPoster is the slice of Client the reporter needs.
type progressPoster interface {
	PostProgress(ctx context.Context, url string, payload ProgressPayload)
}

// progressReporter turns ffmpeg progress blocks into coordinator updates.
// FPS and ETA are rolling averages over every block seen so far; the
// instantaneous values swing wildly for the first seconds of an encode.
type progressReporter struct {
	ctx        context.Context
	client     progressPoster
	url        string
	frameCount int64

	fpsSum  float64
	samples int
	anyFPS  bool
}

func newProgressReporter(ctx context.Context, client progressPoster, url string, frameCount int64) *progressReporter {
	return &progressReporter{
		ctx:        ctx,
		client:     client,
		url:        url,
		frameCount: frameCount,
	}
}

// averageFPS returns the rolling average, or 0 before any block reported a
// positive rate.
func (r *progressReporter) averageFPS() float64 {
	if !r.anyFPS || r.samples == 0 {
		return 0
	}
	return r.fpsSum / float64(r.samples)
}

// observe consumes one progress block and posts an update.
func (r *progressReporter) observe(p ffmpeg.Progress) {
	if p.FPS >= 0 {
		r.fpsSum += p.FPS
		r.samples++
	}
	if p.FPS > 0 {
		r.anyFPS = true
	}

	fps := r.averageFPS()
	eta := int64(-1)
	if fps > 0 {
		remaining := r.frameCount - p.Frame
		if remaining < 0 {
			remaining = 0
		}
		eta = int64(float64(remaining) / fps)
	}

	r.client.PostProgress(r.ctx, r.url, ProgressPayload{
		Progress: p.FramePercentage(r.frameCount),
		FPS:      floatPtr(fps),
		ETA:      int64Ptr(eta),
	})
}

// finish posts the terminal update after the subprocess exits cleanly.
func (r *progressReporter) finish() {
	r.client.PostProgress(r.ctx, r.url, ProgressPayload{
		Progress: 100,
		FPS:      floatPtr(r.averageFPS()),
		ETA:      int64Ptr(0),
	})
}
