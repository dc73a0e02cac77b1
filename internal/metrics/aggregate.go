package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urban-engineer/sved/internal/models"
	"github.com/urban-engineer/sved/internal/repository"
)

// Aggregator turns an uploaded libvmaf report into persisted frame rows and
// pooled summaries for a metric task.
type Aggregator struct {
	pooled repository.PooledMetricRepository
	logger *slog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(pooled repository.PooledMetricRepository, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{pooled: pooled, logger: logger}
}

// Ingest persists the report for the given task. Frame rows replace any prior
// upload. VMAF pooled rows are always written; PSNR and MS-SSIM follow the
// task's flags.
func (a *Aggregator) Ingest(ctx context.Context, task *models.MetricTask, report *Report) error {
	frames := make([]*models.Frame, 0, len(report.Frames))
	for _, rf := range report.Frames {
		frame := &models.Frame{
			MetricTaskID: task.ID,
			FrameNumber:  rf.FrameNum,
		}
		if value, ok := rf.Metrics[KeyPSNR]; ok {
			v := value
			frame.PSNR = &v
		}
		if value, ok := rf.Metrics[KeyMSSSIM]; ok {
			v := value
			frame.MSSSIM = &v
		}
		if value, ok := rf.Metrics[KeyVMAF]; ok {
			v := value
			frame.VMAF = &v
		}
		frames = append(frames, frame)
	}

	if err := a.pooled.ReplaceFrames(ctx, task.ID, frames); err != nil {
		return fmt.Errorf("storing frames: %w", err)
	}

	vmafSummary, ok := report.Pooled(KeyVMAF)
	if !ok {
		return fmt.Errorf("report has no pooled vmaf block")
	}
	vmafScores := report.Scores(KeyVMAF)
	if err := a.pooled.CreatePooledVMAF(ctx, &models.PooledVMAF{
		MetricTaskID: task.ID,
		PooledStats:  pooledStats(vmafSummary, vmafScores),
	}); err != nil {
		return fmt.Errorf("storing pooled vmaf: %w", err)
	}

	if task.PSNR {
		summary, ok := report.Pooled("psnr", KeyPSNR)
		if !ok {
			return fmt.Errorf("task wants psnr but report has no pooled psnr block")
		}
		if err := a.pooled.CreatePooledPSNR(ctx, &models.PooledPSNR{
			MetricTaskID: task.ID,
			PooledStats:  pooledStats(summary, report.Scores(KeyPSNR)),
		}); err != nil {
			return fmt.Errorf("storing pooled psnr: %w", err)
		}
	}

	if task.MSSSIM {
		summary, ok := report.Pooled("ms_ssim", KeyMSSSIM)
		if !ok {
			return fmt.Errorf("task wants ms-ssim but report has no pooled ms-ssim block")
		}
		if err := a.pooled.CreatePooledMSSSIM(ctx, &models.PooledMSSSIM{
			MetricTaskID: task.ID,
			PooledStats:  pooledStats(summary, report.Scores(KeyMSSSIM)),
		}); err != nil {
			return fmt.Errorf("storing pooled ms-ssim: %w", err)
		}
	}

	a.logger.Info("metrics report ingested",
		slog.Uint64("task_id", uint64(task.ID)),
		slog.Int("frames", len(frames)),
	)
	return nil
}

func pooledStats(summary PooledSummary, scores []float64) models.PooledStats {
	return models.PooledStats{
		Min:                summary.Min,
		Max:                summary.Max,
		Mean:               summary.Mean,
		HarmonicMean:       summary.HarmonicMean,
		OnePercentLow:      OnePercentLow(scores),
		PointOnePercentLow: PointOnePercentLow(scores),
	}
}
