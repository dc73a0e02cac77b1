package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urban-engineer/sved/internal/ffmpeg"
)

// maxCRF is the last CRF value worth trying before giving up on constant
// quality. Past 24 the output looks worse than an average-bitrate encode
// that fills the same size budget.
const maxCRF = 24

type prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type statisticsWriter interface {
	EnsureTrackStatistics(ctx context.Context, path string, probe *ffmpeg.ProbeResult) (bool, error)
}

// EncodeRunner drives one encode task end to end: download the source,
// encode until the size budget is satisfied, upload the artifact.
type EncodeRunner struct {
	binary   string
	workDir  string
	client   *Client
	prober   prober
	propedit statisticsWriter
	logger   *slog.Logger
}

// NewEncodeRunner builds an encode runner. Empty binary falls back to
// "ffmpeg" on PATH.
func NewEncodeRunner(client *Client, fileProber prober, propedit statisticsWriter, binary, workDir string, logger *slog.Logger) *EncodeRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &EncodeRunner{
		binary:   binary,
		workDir:  workDir,
		client:   client,
		prober:   fileProber,
		propedit: propedit,
		logger:   logger,
	}
}

// Process executes the claimed task. taskURL is the envelope URL progress
// updates post against.
func (r *EncodeRunner) Process(ctx context.Context, run commandRunner, task *EncodeTask, taskURL string) error {
	if task.SourceFile == nil || task.Profile == nil {
		return errors.New("task record is missing its source file or profile")
	}

	input := filepath.Join(r.workDir, task.SourceFile.Name)
	if err := r.client.Download(ctx, task.FileURL, input); err != nil {
		return err
	}

	output, err := r.encode(ctx, run, task, input, taskURL)
	if err != nil {
		return err
	}

	return r.client.Upload(ctx, task.FileURL, output)
}

// encode runs the control loop. CRF tasks escalate by one on every scene-rule
// failure; at maxCRF the encode switches permanently to two-pass ABR at the
// bitrate that exactly fills the size budget.
func (r *EncodeRunner) encode(ctx context.Context, run commandRunner, task *EncodeTask, input, taskURL string) (string, error) {
	source, err := r.prober.Probe(ctx, input)
	if err != nil {
		return "", fmt.Errorf("probing %s: %w", input, err)
	}

	settings := ffmpeg.EncodeSettings{
		Codec:         task.Profile.Codec,
		Preset:        task.Profile.Preset,
		Tune:          task.Profile.Tune,
		KeepMainAudio: task.Profile.KeepOriginalMainAudio,
	}
	output := strings.TrimSuffix(input, filepath.Ext(input)) + "_compressed.mkv"

	if task.EncodeType == "abr" {
		if err := r.twoPass(ctx, run, source, input, output, settings, taskURL); err != nil {
			return "", err
		}
	} else {
		crf := task.EncodeValue
		for {
			if err := r.singlePass(ctx, run, source, input, output, settings, crf, taskURL); err != nil {
				return "", err
			}
			passes, err := r.passesSceneRules(ctx, source, output)
			if err != nil {
				return "", err
			}
			if passes {
				break
			}
			r.logger.Warn("output does not fit the size budget", slog.Int("crf", crf))
			if crf >= maxCRF {
				if err := r.twoPass(ctx, run, source, input, output, settings, taskURL); err != nil {
					return "", err
				}
				break
			}
			crf++
		}
	}

	if err := ffmpeg.DeleteTwoPassLogs(r.workDir); err != nil {
		r.logger.Warn("could not remove two-pass logs", slog.String("error", err.Error()))
	}
	return output, nil
}

func (r *EncodeRunner) singlePass(ctx context.Context, run commandRunner, source *ffmpeg.ProbeResult, input, output string, settings ffmpeg.EncodeSettings, crf int, taskURL string) error {
	args, err := ffmpeg.CRFCommand(source, input, output, settings, crf)
	if err != nil {
		return err
	}

	r.client.PostProgress(ctx, taskURL, ProgressPayload{
		EncodeType:  "crf",
		EncodeValue: intPtr(crf),
	})
	r.logger.Info("starting encode",
		slog.String("file", filepath.Base(input)),
		slog.String("rate_control", "crf"),
		slog.Int("crf", crf),
	)

	return r.runEncode(ctx, run, source, args, input, output, taskURL)
}

func (r *EncodeRunner) twoPass(ctx context.Context, run commandRunner, source *ffmpeg.ProbeResult, input, output string, settings ffmpeg.EncodeSettings, taskURL string) error {
	bitrate, err := ffmpeg.SceneBitrate(source)
	if err != nil {
		return fmt.Errorf("deriving bitrate: %w", err)
	}
	firstPass, secondPass, err := ffmpeg.TwoPassCommands(source, input, output, settings, bitrate)
	if err != nil {
		return err
	}

	r.client.PostProgress(ctx, taskURL, ProgressPayload{
		EncodeType:  "abr",
		EncodeValue: intPtr(bitrate),
	})
	r.logger.Info("starting encode",
		slog.String("file", filepath.Base(input)),
		slog.String("rate_control", "abr"),
		slog.Int("bitrate_kbps", bitrate),
	)

	// The analysis pass writes only the rate-control log; its progress is
	// not the task's progress.
	if err := r.runCommand(ctx, run, source, firstPass, input, output, nil); err != nil {
		return err
	}
	return r.runEncode(ctx, run, source, secondPass, input, output, taskURL)
}

// runEncode runs an output-producing command with progress reporting.
func (r *EncodeRunner) runEncode(ctx context.Context, run commandRunner, source *ffmpeg.ProbeResult, args []string, input, output, taskURL string) error {
	frames := sourceFrameCount(source)
	reporter := newProgressReporter(ctx, r.client, taskURL, frames)

	if err := r.runCommand(ctx, run, source, args, input, output, reporter.observe); err != nil {
		return err
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("encode finished but %s does not exist", output)
	}
	reporter.finish()
	return nil
}

// runCommand executes one ffmpeg invocation. Partial files cannot be resumed,
// so a failure removes both input and output before propagating; the broker
// redelivers and the next attempt stages from scratch.
func (r *EncodeRunner) runCommand(ctx context.Context, run commandRunner, source *ffmpeg.ProbeResult, args []string, input, output string, onProgress func(ffmpeg.Progress)) error {
	cmd := ffmpeg.NewCommand(r.binary, args)
	cmd.Dir = r.workDir

	if err := run.run(ctx, cmd, sourceFramerate(source), onProgress); err != nil {
		os.Remove(input)
		os.Remove(output)
		return fmt.Errorf("encoding %s: %w", filepath.Base(input), err)
	}
	return nil
}

// passesSceneRules checks the fresh artifact against the source's size
// budget. The byte counts live in mkvmerge statistics tags, so they are
// written first and the file re-probed when that rewrites it.
func (r *EncodeRunner) passesSceneRules(ctx context.Context, source *ffmpeg.ProbeResult, output string) (bool, error) {
	probe, err := r.prober.Probe(ctx, output)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", output, err)
	}
	modified, err := r.propedit.EnsureTrackStatistics(ctx, output, probe)
	if err != nil {
		return false, err
	}
	if modified {
		probe, err = r.prober.Probe(ctx, output)
		if err != nil {
			return false, fmt.Errorf("re-probing %s: %w", output, err)
		}
	}
	return ffmpeg.PassesSceneRules(source, probe)
}

func sourceFrameCount(probe *ffmpeg.ProbeResult) int64 {
	frames, err := probe.FrameCount()
	if err != nil {
		return 0
	}
	return frames
}

func sourceFramerate(probe *ffmpeg.ProbeResult) float64 {
	video, err := probe.VideoStream()
	if err != nil {
		return 0
	}
	framerate, err := video.Framerate()
	if err != nil {
		return 0
	}
	return framerate
}
