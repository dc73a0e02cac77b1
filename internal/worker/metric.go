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
	"github.com/urban-engineer/sved/internal/metrics"
)

// MetricRunner drives one metric task: download both files, run the libvmaf
// comparison, upload the JSON report.
type MetricRunner struct {
	binary  string
	workDir string
	client  *Client
	prober  prober
	logger  *slog.Logger
}

// NewMetricRunner builds a metric runner. Empty binary falls back to
// "ffmpeg" on PATH.
func NewMetricRunner(client *Client, fileProber prober, binary, workDir string, logger *slog.Logger) *MetricRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricRunner{
		binary:  binary,
		workDir: workDir,
		client:  client,
		prober:  fileProber,
		logger:  logger,
	}
}

// Process executes the claimed task. taskURL is the envelope URL progress
// updates post against.
func (r *MetricRunner) Process(ctx context.Context, run commandRunner, task *MetricTask, taskURL string) error {
	if task.SourceFile == nil {
		return errors.New("task record is missing its source file")
	}

	stem := strings.TrimSuffix(task.SourceFile.Name, filepath.Ext(task.SourceFile.Name))
	reference := filepath.Join(r.workDir, stem+"_reference.mkv")
	compressed := filepath.Join(r.workDir, stem+"_compressed.mkv")

	if err := r.client.Download(ctx, task.SourceFileURL, reference); err != nil {
		return err
	}
	if err := r.client.Download(ctx, task.CompressedFileURL, compressed); err != nil {
		return err
	}

	report, err := r.analyze(ctx, run, task, reference, compressed, taskURL)
	if err != nil {
		return err
	}

	return r.client.Upload(ctx, task.ReportURL, report)
}

func (r *MetricRunner) analyze(ctx context.Context, run commandRunner, task *MetricTask, reference, compressed, taskURL string) (string, error) {
	model, err := metrics.EnsureModel(r.client.Retry(), r.workDir, task.NegMode)
	if err != nil {
		return "", err
	}

	refProbe, err := r.prober.Probe(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("probing %s: %w", reference, err)
	}
	compProbe, err := r.prober.Probe(ctx, compressed)
	if err != nil {
		return "", fmt.Errorf("probing %s: %w", compressed, err)
	}

	subsample := task.SubsampleRate
	if subsample < 1 {
		subsample = 1
	}
	args, err := ffmpeg.QualityCommand(refProbe, compProbe, reference, compressed, ffmpeg.QualityOptions{
		PSNR:          task.PSNR,
		MSSSIM:        task.MSSSIM,
		SubsampleRate: subsample,
		ModelName:     model,
	})
	if err != nil {
		return "", err
	}

	// A stale report from an earlier attempt would mask a failed run.
	report := filepath.Join(r.workDir, ffmpeg.QualityReportName)
	os.Remove(report)

	r.logger.Info("starting quality analysis",
		slog.String("reference", filepath.Base(reference)),
		slog.Uint64("task_id", uint64(task.ID)),
	)

	reporter := newProgressReporter(ctx, r.client, taskURL, sourceFrameCount(refProbe))
	cmd := ffmpeg.NewCommand(r.binary, args)
	cmd.Dir = r.workDir
	if err := run.run(ctx, cmd, sourceFramerate(refProbe), reporter.observe); err != nil {
		return "", fmt.Errorf("analyzing %s: %w", filepath.Base(reference), err)
	}

	if _, err := os.Stat(report); err != nil {
		return "", fmt.Errorf("analysis finished but %s does not exist", report)
	}
	reporter.finish()
	return report, nil
}
