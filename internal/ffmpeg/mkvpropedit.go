package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Propedit runs mkvpropedit to write track statistics tags. The BPS and
// NUMBER_OF_BYTES tags those passes add drive the audio rules and the size
// budget checks.
type Propedit struct {
	binary string
}

// NewPropedit creates a wrapper. An empty path falls back to "mkvpropedit"
// on PATH.
func NewPropedit(binary string) *Propedit {
	if binary == "" {
		binary = "mkvpropedit"
	}
	return &Propedit{binary: binary}
}

// AddTrackStatistics writes track statistics tags into the file in place.
func (p *Propedit) AddTrackStatistics(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, p.binary, "--add-track-statistics-tags", path)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(output.String())
		if msg != "" {
			return fmt.Errorf("mkvpropedit %s: %w: %s", path, err, msg)
		}
		return fmt.Errorf("mkvpropedit %s: %w", path, err)
	}
	return nil
}

// EnsureTrackStatistics adds statistics tags only when the probe shows they
// are missing. Returns whether the file was modified; callers re-probe after
// a rewrite.
func (p *Propedit) EnsureTrackStatistics(ctx context.Context, path string, probe *ProbeResult) (bool, error) {
	if probe.HasStatisticsTags() {
		return false, nil
	}
	if err := p.AddTrackStatistics(ctx, path); err != nil {
		return false, err
	}
	return true, nil
}
